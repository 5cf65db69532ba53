// Package classify maps decoded payloads to route identifiers. Every function
// here is total and never mutates its input.
package classify

import (
	"fmt"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/envelope"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/jira"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
)

// Designations names the bot user and the channels with special commands.
type Designations struct {
	BotUserID         string
	PlaygroundChannel string
	NetSuiteChannel   string
}

func (d Designations) mention(command string) string {
	return fmt.Sprintf("<@%s> %s", d.BotUserID, command)
}

type eventRule struct {
	route route.ID
	match func(e *envelope.Event, d Designations) bool
}

// eventRules is evaluated top to bottom; the first match wins.
var eventRules = []eventRule{
	{route.SlackURLValidation, func(e *envelope.Event, _ Designations) bool {
		return e.Type == "url_validation"
	}},
	{route.PlaygroundBusyboxJob, func(e *envelope.Event, d Designations) bool {
		return e.FromGroup() && e.Channel == d.PlaygroundChannel && e.Text == d.mention("run busybox")
	}},
	{route.MessageWithJiraTicket, func(e *envelope.Event, _ Designations) bool {
		return jira.HasTicket(e.Text)
	}},
	{route.NetSuiteJob, func(e *envelope.Event, d Designations) bool {
		return e.Channel == d.NetSuiteChannel && e.FromGroup() && e.Text == d.mention("run netsuite")
	}},
	{route.FromBot, func(e *envelope.Event, _ Designations) bool {
		return e.FromBot()
	}},
	{route.AppMention, func(e *envelope.Event, _ Designations) bool {
		return e.IsAppMention()
	}},
	{route.RegularMessage, func(e *envelope.Event, _ Designations) bool {
		return e.FromChannel() || e.FromGroup() || e.IsUpdate()
	}},
}

// ClassifyEvent returns the route for a chat event.
func ClassifyEvent(e *envelope.Event, d Designations) route.ID {
	if e == nil {
		return route.Unknown
	}
	for _, rule := range eventRules {
		if rule.match(e, d) {
			return rule.route
		}
	}
	return route.Unknown
}

// ClassifyEnvelope classifies a full event hook body, including the outer
// url_verification handshake that carries no inner event.
func ClassifyEnvelope(env *envelope.ChatEventEnvelope, d Designations) route.ID {
	if env == nil {
		return route.Unknown
	}
	if env.Type == "url_verification" {
		return route.SlackURLValidation
	}
	return ClassifyEvent(env.Event, d)
}
