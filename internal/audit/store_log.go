package audit

import (
	"context"
	"log/slog"
)

// LogStore writes each event as one structured log line. It keeps nothing,
// so ListByVisitor always returns an empty result.
type LogStore struct {
	logger *slog.Logger
}

func NewLogStore(logger *slog.Logger) *LogStore {
	return &LogStore{logger: logger}
}

func (s *LogStore) Append(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "audit",
		"action", event.Action,
		"decision", event.Decision,
		"reason", event.Reason,
		"granted", event.Granted,
		"visitor_id", event.VisitorID,
		"browser", event.Browser,
		"platform", event.Platform,
		"request_id", event.RequestID,
		"at", event.Timestamp,
	)
	return nil
}

func (s *LogStore) ListByVisitor(context.Context, string) ([]Event, error) {
	return nil, nil
}
