package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey/workauth-assistant/internal/core"
	"go.uber.org/zap"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// EventLog is the append-only audit trail backed by the event_logs table
type EventLog struct {
	store  *Store
	logger *zap.Logger
	now    func() time.Time
}

// NewEventLog creates an event log on top of an open store
func NewEventLog(store *Store, logger *zap.Logger) *EventLog {
	return &EventLog{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Log appends an event. Failures are logged and never returned.
func (l *EventLog) Log(ctx context.Context, eventType, message, details string) {
	var detailsArg any
	if details != "" {
		detailsArg = details
	}

	_, err := l.store.db.ExecContext(ctx, `
		INSERT INTO event_logs (timestamp, event_type, message, details)
		VALUES (?, ?, ?, ?)`,
		l.now().UTC(), eventType, message, detailsArg)
	if err != nil {
		l.logger.Error("Failed to write event log",
			zap.String("event_type", eventType),
			zap.String("message", message),
			zap.Error(err))
	}
}

// List returns events newest first. limit is clamped to 1..MaxListLimit and
// a negative offset is treated as zero.
func (l *EventLog) List(ctx context.Context, limit, offset int) ([]core.EventLogEntry, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	entries := []core.EventLogEntry{}
	err := l.store.db.SelectContext(ctx, &entries, `
		SELECT id, timestamp, event_type, message, details
		FROM event_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list event logs: %w", err)
	}
	return entries, nil
}

var _ core.EventLogger = (*EventLog)(nil)
