package envelope

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

func TestDecodeBodyBase64(t *testing.T) {
	raw := `{"type":"event_callback"}`
	got, err := DecodeBody(base64.StdEncoding.EncodeToString([]byte(raw)), true)
	if err != nil {
		t.Fatalf("DecodeBody error: %v", err)
	}
	if string(got) != raw {
		t.Fatalf("expected %q, got %q", raw, got)
	}

	plain, err := DecodeBody(raw, false)
	if err != nil || string(plain) != raw {
		t.Fatalf("expected plain body passthrough, got %q err=%v", plain, err)
	}

	if _, err := DecodeBody("%%%not-base64", true); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestParseChatEvent(t *testing.T) {
	body := []byte(`{"type":"event_callback","event":{"type":"message","channel":"GKBPB3H5W","text":"hi","client_msg_id":"abc","channel_type":"group","user":"U1","ts":"1.2"}}`)
	env, err := ParseChatEvent(body)
	if err != nil {
		t.Fatalf("ParseChatEvent error: %v", err)
	}
	if env.Event == nil || env.Event.Channel != "GKBPB3H5W" {
		t.Fatalf("unexpected event: %+v", env.Event)
	}
	if !env.Event.FromGroup() || env.Event.FromChannel() {
		t.Fatalf("expected group message, got %+v", env.Event)
	}

	if _, err := ParseChatEvent([]byte(`{"type":`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseCommandForm(t *testing.T) {
	form := url.Values{}
	form.Set("command", "/bss")
	form.Set("text", "Deploy  Staging now")
	form.Set("channel_id", "C1")
	form.Set("user_name", "dana")
	form.Set("response_url", "https://hooks.slack.com/commands/1")

	cmd, err := ParseCommandForm([]byte(form.Encode()))
	if err != nil {
		t.Fatalf("ParseCommandForm error: %v", err)
	}
	if cmd.Command != "/bss" || cmd.Text != "Deploy  Staging now" {
		t.Fatalf("unexpected form: %+v", cmd)
	}
	if cmd.ChannelID != "C1" || cmd.UserName != "dana" {
		t.Fatalf("unexpected form: %+v", cmd)
	}
}

func TestPayloadFieldAndInteraction(t *testing.T) {
	payload := `{"type":"block_actions","actions":[{"action_id":"approval_approve","value":"{\"type\":\"approval_response\"}"}],"channel":{"id":"C9"},"user":{"id":"U7","username":"sam"},"message":{"ts":"171.1","blocks":[{"type":"divider"},{"type":"mystery","x":1}]}}`
	form := url.Values{}
	form.Set("payload", payload)

	got, err := PayloadField([]byte(form.Encode()))
	if err != nil {
		t.Fatalf("PayloadField error: %v", err)
	}
	if got != payload {
		t.Fatalf("payload not preserved verbatim: %q", got)
	}

	p, err := ParseInteraction(got)
	if err != nil {
		t.Fatalf("ParseInteraction error: %v", err)
	}
	action, ok := p.FirstAction()
	if !ok || action.ActionID != "approval_approve" {
		t.Fatalf("unexpected first action: %+v ok=%v", action, ok)
	}
	if p.Channel.ID != "C9" || p.User.Username != "sam" || p.Message.TS != "171.1" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if len(p.Message.Blocks) != 2 {
		t.Fatalf("expected unknown block types to survive, got %d blocks", len(p.Message.Blocks))
	}
}

func TestFirstActionEmpty(t *testing.T) {
	p := &InteractionPayload{}
	if _, ok := p.FirstAction(); ok {
		t.Fatal("expected no action")
	}
	var nilPayload *InteractionPayload
	if _, ok := nilPayload.FirstAction(); ok {
		t.Fatal("expected no action for nil payload")
	}
}

func TestParseTriggerAndDecodeMessage(t *testing.T) {
	body := []byte(`{"Records":[{"EventSource":"aws:sns","Sns":{"Message":"{\"type\":\"slack\",\"slack\":true,\"channel\":\"C1\",\"message\":\"hello\"}"}}]}`)
	records, err := ParseTrigger(body)
	if err != nil {
		t.Fatalf("ParseTrigger error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	msg, ok := DecodeTriggerMessage(records[0])
	if !ok {
		t.Fatal("expected message to decode")
	}
	if msg.Type != "slack" || msg.Channel != "C1" || msg.Text() != "hello" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !Truthy(msg.Slack) {
		t.Fatal("expected slack flag truthy")
	}
}

func TestDecodeTriggerMessageRejects(t *testing.T) {
	cases := map[string]TriggerRecord{
		"wrong source":  {EventSource: "aws:sqs", SNS: events.SNSEntity{Message: `{"approval":{}}`}},
		"empty message": {EventSource: "aws:sns"},
		"not json":      {EventSource: "aws:sns", SNS: events.SNSEntity{Message: "plain text"}},
		"array":         {EventSource: "aws:sns", SNS: events.SNSEntity{Message: `[1,2]`}},
	}
	for name, rec := range cases {
		if _, ok := DecodeTriggerMessage(rec); ok {
			t.Fatalf("%s: expected decode to fail", name)
		}
	}
}

func TestTriggerMessageTextNonString(t *testing.T) {
	msg := TriggerMessage{Message: json.RawMessage(`{"a":1}`)}
	if msg.Text() != `{"a":1}` {
		t.Fatalf("expected raw JSON text, got %q", msg.Text())
	}
	if (TriggerMessage{}).Text() != "" {
		t.Fatal("expected empty text")
	}
}

func TestTruthy(t *testing.T) {
	falsy := []string{"", "null", "false", "0", `""`, "0.0"}
	for _, v := range falsy {
		if Truthy(json.RawMessage(v)) {
			t.Fatalf("expected %q to be falsy", v)
		}
	}
	truthy := []string{"true", "1", `"x"`, "{}", "[]"}
	for _, v := range truthy {
		if !Truthy(json.RawMessage(v)) {
			t.Fatalf("expected %q to be truthy", v)
		}
	}
}

func TestDecodeTriggerMessageToleratesMistypedFields(t *testing.T) {
	rec := TriggerRecord{EventSource: "aws:sns", SNS: events.SNSEntity{Message: `{"type":"ssm","commandId":"c-1","channel":42,"message":"done"}`}}
	msg, ok := DecodeTriggerMessage(rec)
	if !ok {
		t.Fatal("expected message to decode")
	}
	if msg.Type != "ssm" || msg.CommandID != "c-1" || msg.Text() != "done" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Channel != "" || msg.StringField("channel") != "" {
		t.Fatalf("expected mistyped channel to be empty, got %q", msg.Channel)
	}
	if string(msg.Fields["channel"]) != "42" {
		t.Fatalf("expected raw channel kept, got %s", msg.Fields["channel"])
	}
}
