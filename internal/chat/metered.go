package chat

import (
	"context"
	"log/slog"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/metrics"
)

// Metered counts every post and update in a metrics recorder.
type Metered struct {
	next     Messenger
	recorder *metrics.Recorder
}

// WithMetrics wraps next. A nil recorder returns next unchanged.
func WithMetrics(next Messenger, recorder *metrics.Recorder) Messenger {
	if recorder == nil {
		return next
	}
	return &Metered{next: next, recorder: recorder}
}

func (m *Metered) Post(ctx context.Context, msg Message) (PostResult, error) {
	res, err := m.next.Post(ctx, msg)
	m.record(err == nil)
	return res, err
}

func (m *Metered) Update(ctx context.Context, msg Message) error {
	err := m.next.Update(ctx, msg)
	m.record(err == nil)
	return err
}

func (m *Metered) record(success bool) {
	if _, err := m.recorder.RecordChatSend(success); err != nil {
		slog.Warn("record chat send failed", "error", err)
	}
}
