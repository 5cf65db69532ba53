package classify

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/envelope"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
)

var testDesignations = Designations{
	BotUserID:         "UKBFRLR9T",
	PlaygroundChannel: "GKBPB3H5W",
	NetSuiteChannel:   "GKM5U2XU4",
}

func groupMessage(channel, text string) *envelope.Event {
	return &envelope.Event{
		Type:        "message",
		Channel:     channel,
		Text:        text,
		ClientMsgID: "c1",
		ChannelType: "group",
	}
}

func TestClassifyEvent(t *testing.T) {
	cases := []struct {
		name  string
		event *envelope.Event
		want  route.ID
	}{
		{"nil event", nil, route.Unknown},
		{"url validation", &envelope.Event{Type: "url_validation", Text: "TECH-1", Subtype: "bot_message"}, route.SlackURLValidation},
		{"playground busybox", groupMessage("GKBPB3H5W", "<@UKBFRLR9T> run busybox"), route.PlaygroundBusyboxJob},
		{"playground trailing space", groupMessage("GKBPB3H5W", "<@UKBFRLR9T> run busybox "), route.RegularMessage},
		{"playground wrong channel", groupMessage("GKM5U2XU4", "<@UKBFRLR9T> run busybox"), route.RegularMessage},
		{"playground wrong case", groupMessage("GKBPB3H5W", "<@UKBFRLR9T> Run busybox"), route.RegularMessage},
		{"playground not group", &envelope.Event{Channel: "GKBPB3H5W", Text: "<@UKBFRLR9T> run busybox", ClientMsgID: "c1", ChannelType: "channel"}, route.RegularMessage},
		{"jira ticket", &envelope.Event{Text: "deploying TECH-42 now", ClientMsgID: "c1", ChannelType: "channel"}, route.MessageWithJiraTicket},
		{"jira beats bot", &envelope.Event{Text: "TECH-42 done", Subtype: "bot_message"}, route.MessageWithJiraTicket},
		{"netsuite", groupMessage("GKM5U2XU4", "<@UKBFRLR9T> run netsuite"), route.NetSuiteJob},
		{"netsuite wrong channel", groupMessage("GKBPB3H5W", "<@UKBFRLR9T> run netsuite"), route.RegularMessage},
		{"from bot", &envelope.Event{Type: "message", Subtype: "bot_message", Text: "hi"}, route.FromBot},
		{"app mention", &envelope.Event{Type: "app_mention", Text: "<@UKBFRLR9T> hello"}, route.AppMention},
		{"channel message", &envelope.Event{Type: "message", ClientMsgID: "c1", ChannelType: "channel"}, route.RegularMessage},
		{"edited message", &envelope.Event{Type: "message", Subtype: "message_changed"}, route.RegularMessage},
		{"direct message", &envelope.Event{Type: "message", ClientMsgID: "c1", ChannelType: "im"}, route.Unknown},
		{"no client msg id", &envelope.Event{Type: "message", ChannelType: "channel"}, route.Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyEvent(tc.event, testDesignations); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClassifyEventDoesNotMutate(t *testing.T) {
	e := groupMessage("GKBPB3H5W", "<@UKBFRLR9T> run busybox")
	before := *e
	ClassifyEvent(e, testDesignations)
	if *e != before {
		t.Fatalf("event mutated: %+v", *e)
	}
}

func TestClassifyEnvelope(t *testing.T) {
	if got := ClassifyEnvelope(&envelope.ChatEventEnvelope{Type: "url_verification", Challenge: "abc"}, testDesignations); got != route.SlackURLValidation {
		t.Fatalf("expected handshake to classify as url validation, got %s", got)
	}
	if got := ClassifyEnvelope(&envelope.ChatEventEnvelope{Type: "event_callback"}, testDesignations); got != route.Unknown {
		t.Fatalf("expected missing event to be unknown, got %s", got)
	}
	if got := ClassifyEnvelope(nil, testDesignations); got != route.Unknown {
		t.Fatalf("expected nil envelope to be unknown, got %s", got)
	}
	env := &envelope.ChatEventEnvelope{Type: "event_callback", Event: &envelope.Event{Type: "app_mention"}}
	if got := ClassifyEnvelope(env, testDesignations); got != route.AppMention {
		t.Fatalf("expected app mention, got %s", got)
	}
}

func snsRecord(source string, message any) envelope.TriggerRecord {
	var body string
	switch m := message.(type) {
	case string:
		body = m
	default:
		data, _ := json.Marshal(m)
		body = string(data)
	}
	return envelope.TriggerRecord{EventSource: source, SNS: events.SNSEntity{Message: body}}
}

func TestClassifyTrigger(t *testing.T) {
	cases := []struct {
		name    string
		records []envelope.TriggerRecord
		want    route.ID
	}{
		{"no records", nil, route.Unknown},
		{"approval", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"approval": map[string]any{"token": "t"}})}, route.CICDApprovalRequest},
		{"approval wrong source", []envelope.TriggerRecord{snsRecord("aws:sqs", map[string]any{"approval": map[string]any{"token": "t"}})}, route.Unknown},
		{"approval null", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"approval": nil})}, route.Unknown},
		{"send message", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"slack": true, "type": "slack", "channel": "C1", "message": "hi"})}, route.SlackSendMessageRequest},
		{"send message falsy flag", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"slack": false, "type": "slack"})}, route.Unknown},
		{"send message wrong type", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"slack": true, "type": "email"})}, route.Unknown},
		{"ssm status", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"type": "ssm", "commandId": "cmd-1"})}, route.SSMSendCommandStatusRequest},
		{"ssm without id", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"type": "ssm"})}, route.Unknown},
		{"approval has priority", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"approval": map[string]any{}, "slack": true, "type": "slack"})}, route.CICDApprovalRequest},
		{"approval beside numeric type", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"approval": map[string]any{"token": "t"}, "type": 7})}, route.CICDApprovalRequest},
		{"ssm beside numeric channel", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"type": "ssm", "commandId": "c-1", "channel": 42})}, route.SSMSendCommandStatusRequest},
		{"send message beside object commandId", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"slack": true, "type": "slack", "commandId": map[string]any{}})}, route.SlackSendMessageRequest},
		{"numeric commandId", []envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"type": "ssm", "commandId": 5})}, route.Unknown},
		{"json null message", []envelope.TriggerRecord{snsRecord("aws:sns", "null")}, route.Unknown},
		{"not json", []envelope.TriggerRecord{snsRecord("aws:sns", "not json")}, route.Unknown},
		{"empty message", []envelope.TriggerRecord{snsRecord("aws:sns", "")}, route.Unknown},
		{"only first record", []envelope.TriggerRecord{
			snsRecord("aws:sns", "garbage"),
			snsRecord("aws:sns", map[string]any{"approval": map[string]any{"token": "t"}}),
		}, route.Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyTrigger(tc.records); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDecodeTriggerCarriesFields(t *testing.T) {
	msg := DecodeTrigger([]envelope.TriggerRecord{snsRecord("aws:sns", map[string]any{"type": "ssm", "commandId": "cmd-9", "channel": "C5"})})
	if msg.Kind != route.SSMSendCommandStatusRequest || msg.CommandID != "cmd-9" || msg.Channel != "C5" {
		t.Fatalf("unexpected decoded trigger: %+v", msg)
	}
}

func TestClassifyInteraction(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    route.ID
	}{
		{"approval response", `{"type":"block_actions","actions":[{"value":"{\"type\":\"approval_response\",\"status\":\"approve\"}"}]}`, route.CICDApprovalResponse},
		{"other value type", `{"type":"block_actions","actions":[{"value":"{\"type\":\"other\"}"}]}`, route.Unknown},
		{"value not json", `{"type":"block_actions","actions":[{"value":"approve"}]}`, route.Unknown},
		{"no actions", `{"type":"block_actions","actions":[]}`, route.Unknown},
		{"wrong type", `{"type":"view_submission","actions":[{"value":"{\"type\":\"approval_response\"}"}]}`, route.Unknown},
		{"not json", `payload=`, route.Unknown},
		{"empty", ``, route.Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyInteraction(tc.payload); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
