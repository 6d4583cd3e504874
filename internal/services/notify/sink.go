package notify

import (
	"context"

	logx "choreboard/pkg/logx"
)

// Sink delivers a notification to its destination. Implementations must be
// safe for concurrent use.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the application log. It is the default
// delivery channel when no external transport is configured.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log.With(logx.String("comp", "notify.sink"))}
}

func (s *LogSink) Deliver(ctx context.Context, n Notification) error {
	_ = ctx
	s.log.Info("notification",
		logx.String("household", n.HouseholdID),
		logx.String("user", n.UserID),
		logx.String("kind", n.Kind),
		logx.String("text", n.Text),
	)
	return nil
}
