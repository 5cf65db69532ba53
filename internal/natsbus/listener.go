// Package natsbus consumes trigger notifications from a NATS subject, for
// deployments that fan pipeline events out over NATS instead of SNS.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/dispatch"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/envelope"
)

// TriggerHandler acts on decoded trigger records.
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, requestID string, records []envelope.TriggerRecord) dispatch.Response
}

// Config configures the subscription.
type Config struct {
	URL           string
	Subject       string
	Queue         string // optional queue group, so replicas share the stream
	Name          string
	Token         string
	ReconnectWait time.Duration
	MaxBackoff    time.Duration
}

// Listener subscribes to the trigger subject and feeds each message to the
// handler, one at a time.
type Listener struct {
	cfg     Config
	handler TriggerHandler
}

func NewListener(cfg Config, handler TriggerHandler) *Listener {
	if cfg.Subject == "" {
		cfg.Subject = "slackhooks.triggers"
	}
	if cfg.Name == "" {
		cfg.Name = "slackhooks"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxBackoff < cfg.ReconnectWait {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Listener{cfg: cfg, handler: handler}
}

// Run blocks until ctx is canceled, reconnecting with exponential backoff.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.cfg.ReconnectWait

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := l.connectAndConsume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			backoff = l.cfg.ReconnectWait
			continue
		}
		slog.Warn("trigger listener disconnected", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, l.cfg.MaxBackoff)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

func (l *Listener) connectAndConsume(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(l.cfg.Name),
		nats.ReconnectWait(l.cfg.ReconnectWait),
		nats.MaxReconnects(-1),
	}
	if l.cfg.Token != "" {
		opts = append(opts, nats.Token(l.cfg.Token))
	}

	nc, err := nats.Connect(l.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	msgCh := make(chan *nats.Msg, 64)
	var sub *nats.Subscription
	if l.cfg.Queue != "" {
		sub, err = nc.ChanQueueSubscribe(l.cfg.Subject, l.cfg.Queue, msgCh)
	} else {
		sub, err = nc.ChanSubscribe(l.cfg.Subject, msgCh)
	}
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", l.cfg.Subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	closed := make(chan struct{})
	nc.SetClosedHandler(func(*nats.Conn) { close(closed) })

	slog.Info("trigger listener subscribed", "url", nc.ConnectedUrl(), "subject", l.cfg.Subject, "queue", l.cfg.Queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return fmt.Errorf("nats connection closed")
		case msg := <-msgCh:
			resp := l.handleMessage(ctx, msg)
			if msg.Reply != "" {
				if err := respond(msg, resp); err != nil {
					slog.Warn("reply to trigger failed", "subject", msg.Subject, "error", err)
				}
			}
		}
	}
}

func respond(msg *nats.Msg, resp dispatch.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return msg.Respond(data)
}

// handleMessage accepts either a full notification event ({"Records": [...]})
// or a bare trigger message, which is wrapped as a single notification record.
func (l *Listener) handleMessage(ctx context.Context, msg *nats.Msg) dispatch.Response {
	requestID := messageID(msg)

	records, err := DecodeRecords(msg.Data)
	if err != nil {
		slog.Warn("ignoring undecodable trigger", "subject", msg.Subject, "request_id", requestID, "error", err)
	}
	return l.handler.HandleTrigger(ctx, requestID, records)
}

// DecodeRecords turns a message body into notification records.
func DecodeRecords(data []byte) ([]envelope.TriggerRecord, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty message")
	}

	var shape struct {
		Records json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal([]byte(trimmed), &shape); err != nil {
		return nil, fmt.Errorf("decode trigger message: %w", err)
	}
	if len(shape.Records) > 0 {
		return envelope.ParseTrigger([]byte(trimmed))
	}
	return []envelope.TriggerRecord{{
		EventSource: "aws:sns",
		SNS:         events.SNSEntity{Message: trimmed},
	}}, nil
}

func messageID(msg *nats.Msg) string {
	if msg.Header != nil {
		for _, key := range []string{nats.MsgIdHdr, "X-Request-ID"} {
			if v := strings.TrimSpace(msg.Header.Get(key)); v != "" {
				return v
			}
		}
	}
	return uuid.NewString()
}

// Publish sends one trigger message to subject and waits for the flush.
func Publish(ctx context.Context, url, subject string, data []byte) error {
	nc, err := nats.Connect(url, nats.Name("slackhooks-publish"))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nc.FlushWithContext(ctx)
}
