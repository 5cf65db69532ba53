// Package envelope decodes inbound deliveries into typed payloads.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
)

// Kind tags which payload an Envelope carries.
type Kind string

const (
	KindChatEvent   Kind = "chat_event"
	KindInteraction Kind = "interaction"
	KindCommand     Kind = "command"
	KindTrigger     Kind = "trigger"
)

// Envelope is one decoded inbound delivery. Only the field matching Kind is set.
type Envelope struct {
	Kind        Kind
	ChatEvent   *ChatEventEnvelope
	Interaction *InteractionPayload
	Command     *CommandForm
	Trigger     []TriggerRecord

	// Payload is the interaction form field verbatim, forwarded as-is on delegation.
	Payload string
}

// ChatEventEnvelope is the Events API body.
type ChatEventEnvelope struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	Challenge string `json:"challenge,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	Event     *Event `json:"event,omitempty"`
}

// Event is the inner chat event.
type Event struct {
	Type        string `json:"type"`
	Channel     string `json:"channel,omitempty"`
	Text        string `json:"text,omitempty"`
	Subtype     string `json:"subtype,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	User        string `json:"user,omitempty"`
	TS          string `json:"ts,omitempty"`
}

// FromGroup reports a user message in a private channel.
func (e *Event) FromGroup() bool {
	return e != nil && e.ClientMsgID != "" && e.ChannelType == "group"
}

// FromChannel reports a user message in a public channel.
func (e *Event) FromChannel() bool {
	return e != nil && e.ClientMsgID != "" && e.ChannelType == "channel"
}

// FromBot reports a message posted by a bot integration.
func (e *Event) FromBot() bool {
	return e != nil && e.Subtype == "bot_message"
}

// IsAppMention reports an app_mention event.
func (e *Event) IsAppMention() bool {
	return e != nil && e.Type == "app_mention"
}

// IsUpdate reports an edited message.
func (e *Event) IsUpdate() bool {
	return e != nil && e.Subtype == "message_changed"
}

// InteractionPayload is the block_actions body posted when a button is clicked.
type InteractionPayload struct {
	Type        string   `json:"type"`
	Actions     []Action `json:"actions"`
	Channel     Channel  `json:"channel"`
	User        User     `json:"user"`
	Message     Message  `json:"message"`
	ResponseURL string   `json:"response_url,omitempty"`
	TriggerID   string   `json:"trigger_id,omitempty"`
}

// Action is one clicked element.
type Action struct {
	ActionID string `json:"action_id,omitempty"`
	BlockID  string `json:"block_id,omitempty"`
	Type     string `json:"type,omitempty"`
	Value    string `json:"value"`
}

type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	TeamID   string `json:"team_id,omitempty"`
}

// Message is the chat message the clicked element belongs to. Blocks stay raw
// so unrecognized block types survive a round trip.
type Message struct {
	TS     string            `json:"ts"`
	Text   string            `json:"text,omitempty"`
	Blocks []json.RawMessage `json:"blocks,omitempty"`
}

// FirstAction returns the first clicked element.
func (p *InteractionPayload) FirstAction() (Action, bool) {
	if p == nil || len(p.Actions) == 0 {
		return Action{}, false
	}
	return p.Actions[0], true
}

// CommandForm is a slash command submission.
type CommandForm struct {
	Command     string `json:"command"`
	Text        string `json:"text"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	TeamID      string `json:"team_id"`
	TeamDomain  string `json:"team_domain"`
	ResponseURL string `json:"response_url"`
	TriggerID   string `json:"trigger_id"`
}

// TriggerRecord is one notification record.
type TriggerRecord = events.SNSEventRecord

// TriggerMessage is the decoded record message. Kind is assigned by the
// trigger classifier. Fields holds every top-level key undecoded; the typed
// fields are filled from it one by one and left zero when a value has another
// JSON type, so one odd field never hides the rest.
type TriggerMessage struct {
	Kind   route.ID                   `json:"-"`
	Fields map[string]json.RawMessage `json:"-"`

	Approval  json.RawMessage `json:"approval,omitempty"`
	Slack     json.RawMessage `json:"slack,omitempty"`
	Type      string          `json:"type,omitempty"`
	CommandID string          `json:"commandId,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
}

// StringField returns the named top-level field when it is a JSON string.
func (m TriggerMessage) StringField(key string) string {
	raw, ok := m.Fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Text returns the message field as chat text. Non-string values are
// rendered as their JSON encoding.
func (m TriggerMessage) Text() string {
	if len(m.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Message, &s); err == nil {
		return s
	}
	return string(m.Message)
}

// Truthy reports whether raw holds a JSON value other than null, false, 0 or "".
func Truthy(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	switch v {
	case "", "null", "false", "0", `""`, "-0":
		return false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f != 0
	}
	return true
}

// DecodeBody undoes the transport's base64 encoding when flagged.
func DecodeBody(body string, base64Encoded bool) ([]byte, error) {
	if !base64Encoded {
		return []byte(body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode base64 body: %w", err)
	}
	return decoded, nil
}

// ParseChatEvent decodes a JSON event hook body.
func ParseChatEvent(body []byte) (*ChatEventEnvelope, error) {
	var env ChatEventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse chat event: %w", err)
	}
	return &env, nil
}

// ParseCommandForm decodes a URL-encoded slash command body.
func ParseCommandForm(body []byte) (*CommandForm, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse command form: %w", err)
	}
	return &CommandForm{
		Command:     values.Get("command"),
		Text:        values.Get("text"),
		ChannelID:   values.Get("channel_id"),
		ChannelName: values.Get("channel_name"),
		UserID:      values.Get("user_id"),
		UserName:    values.Get("user_name"),
		TeamID:      values.Get("team_id"),
		TeamDomain:  values.Get("team_domain"),
		ResponseURL: values.Get("response_url"),
		TriggerID:   values.Get("trigger_id"),
	}, nil
}

// PayloadField extracts the `payload` field of a URL-encoded interactive body.
func PayloadField(body []byte) (string, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", fmt.Errorf("parse interactive form: %w", err)
	}
	return values.Get("payload"), nil
}

// ParseInteraction decodes a block_actions payload.
func ParseInteraction(payload string) (*InteractionPayload, error) {
	var p InteractionPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("parse interaction payload: %w", err)
	}
	return &p, nil
}

type triggerEvent struct {
	Records []TriggerRecord `json:"Records"`
}

// ParseTrigger decodes a notification event body into its records.
func ParseTrigger(body []byte) ([]TriggerRecord, error) {
	var ev triggerEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("parse trigger event: %w", err)
	}
	return ev.Records, nil
}

// DecodeTriggerMessage parses the record's message. It reports false when the
// record is not from the notification service, has no message, or the message
// is not a JSON object.
func DecodeTriggerMessage(record TriggerRecord) (TriggerMessage, bool) {
	if record.EventSource != "aws:sns" || record.SNS.Message == "" {
		return TriggerMessage{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(record.SNS.Message), &fields); err != nil || fields == nil {
		return TriggerMessage{}, false
	}
	msg := TriggerMessage{
		Fields:   fields,
		Approval: fields["approval"],
		Slack:    fields["slack"],
		Message:  fields["message"],
	}
	msg.Type = msg.StringField("type")
	msg.CommandID = msg.StringField("commandId")
	msg.Channel = msg.StringField("channel")
	return msg, true
}
