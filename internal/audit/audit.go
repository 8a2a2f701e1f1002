// Package audit provides the fire-and-forget audit sink.
//
// Audit writes happen synchronously at defined points in the request
// state machine, but their failures are absorbed: the caller's result
// must never depend on an audit write landing.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Audit event names.
const (
	EventRequest  = "request"
	EventSuccess  = "success"
	EventError    = "error"
	EventBatch    = "batch"
	EventFallback = "fallback"
	EventFeedback = "feedback"
)

// Logger records audit entries to the event bus and the store. Both
// destinations are optional; a nil one is skipped.
type Logger struct {
	bus   domain.EventBus
	store domain.Store
}

// NewLogger creates an audit logger.
func NewLogger(bus domain.EventBus, store domain.Store) *Logger {
	return &Logger{bus: bus, store: store}
}

// Log records one audit entry. Errors are logged and ignored.
func (l *Logger) Log(ctx context.Context, userID, event string, detail map[string]any) {
	entry := &domain.AuditEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}

	if l.bus != nil {
		payload, err := json.Marshal(entry)
		if err == nil {
			if err := l.bus.Publish(ctx, domain.TopicAudit, payload); err != nil {
				slog.Debug("audit publish failed", "event", event, "error", err)
			}
		}
	}

	if l.store != nil {
		if err := l.store.SaveAuditEntry(ctx, entry); err != nil {
			slog.Debug("audit save failed", "event", event, "error", err)
		}
	}
}
