package approval

import (
	"regexp"
	"strings"
	"time"
)

var placeholder = regexp.MustCompile(`\{([0-9a-zA-Z_]+)\}`)

// Format substitutes {Name} placeholders from params. Unknown names become
// empty. A doubled brace pair, {{Name}}, yields the literal {Name}.
func Format(tmpl string, params map[string]string) string {
	matches := placeholder.FindAllStringSubmatchIndex(tmpl, -1)
	if len(matches) == 0 {
		return tmpl
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		name := tmpl[m[2]:m[3]]
		b.WriteString(tmpl[last:start])
		if start > 0 && end < len(tmpl) && tmpl[start-1] == '{' && tmpl[end] == '}' {
			b.WriteString(name)
		} else {
			b.WriteString(params[name])
		}
		last = end
	}
	b.WriteString(tmpl[last:])
	return b.String()
}

// AppName is the last hyphen-delimited segment of a pipeline name.
func AppName(pipelineName string) string {
	parts := strings.Split(pipelineName, "-")
	return parts[len(parts)-1]
}

func templateParams(appEnv, pipelineName string, now time.Time) map[string]string {
	return map[string]string{
		"AppEnv":         appEnv,
		"AppName":        AppName(pipelineName),
		"PipeName":       pipelineName,
		"ActionDate":     now.Format("2006/01/02"),
		"ActionDateHour": now.Format("2006-01-02 15:04:05"),
	}
}

// HeaderText renders the prompt header.
func HeaderText(req Request, now time.Time) string {
	if req.CustomData.RequestMessage == "" {
		return "Approve the latest changes for " + req.PipelineName
	}
	return Format(req.CustomData.RequestMessage, templateParams(req.CustomData.AppEnv, req.PipelineName, now))
}

func responseParams(v ActionValue, username string, now time.Time) map[string]string {
	params := templateParams(v.AppEnv, v.PipelineName, now)
	params["ActingUser"] = username
	params["ActionStatus"] = string(v.ResultStatus())
	return params
}

// SummaryText is the summary recorded with the pipeline result.
func SummaryText(v ActionValue, username string, now time.Time) string {
	if v.ResponseMessage == "" {
		return string(v.ResultStatus()) + " by @" + username
	}
	return Format(v.ResponseMessage, responseParams(v, username, now))
}

// ResponseText replaces the buttons once the approval is resolved.
func ResponseText(v ActionValue, userID, username string, now time.Time) string {
	if v.ResponseMessage == "" {
		return string(v.ResultStatus()) + " by <@" + userID + ">"
	}
	return Format(v.ResponseMessage, responseParams(v, username, now))
}
