package classify

import (
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/envelope"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
)

type triggerRule struct {
	route route.ID
	match func(m envelope.TriggerMessage) bool
}

// triggerRules is the priority list for trigger messages. Each rule reads only
// its own keys.
var triggerRules = []triggerRule{
	{route.CICDApprovalRequest, func(m envelope.TriggerMessage) bool {
		return envelope.Truthy(m.Fields["approval"])
	}},
	{route.SlackSendMessageRequest, func(m envelope.TriggerMessage) bool {
		return envelope.Truthy(m.Fields["slack"]) && m.StringField("type") == "slack"
	}},
	{route.SSMSendCommandStatusRequest, func(m envelope.TriggerMessage) bool {
		return m.StringField("type") == "ssm" && m.StringField("commandId") != ""
	}},
}

// DecodeTrigger decodes the first record's message once and tags it with the
// matching route. The returned Kind is route.Unknown when nothing matches.
func DecodeTrigger(records []envelope.TriggerRecord) envelope.TriggerMessage {
	if len(records) == 0 {
		return envelope.TriggerMessage{Kind: route.Unknown}
	}
	msg, ok := envelope.DecodeTriggerMessage(records[0])
	if !ok {
		return envelope.TriggerMessage{Kind: route.Unknown}
	}
	msg.Kind = route.Unknown
	for _, rule := range triggerRules {
		if rule.match(msg) {
			msg.Kind = rule.route
			break
		}
	}
	return msg
}

// ClassifyTrigger returns the route for a batch of trigger records. Only the
// first record is inspected.
func ClassifyTrigger(records []envelope.TriggerRecord) route.ID {
	return DecodeTrigger(records).Kind
}
