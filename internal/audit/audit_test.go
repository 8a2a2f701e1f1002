package audit

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestStore(t *testing.T) domain.Store {
	t.Helper()

	f, err := os.CreateTemp("", "kestrel-audit-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: f.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestLogger(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishesAndPersists", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()

		received := make(chan []byte, 1)
		_, err := eventBus.Subscribe(ctx, domain.TopicAudit, func(ctx context.Context, msg *domain.Message) error {
			received <- msg.Payload
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		logger := NewLogger(eventBus, newTestStore(t))
		logger.Log(ctx, "user-001", EventRequest, map[string]any{"type": "homepage"})

		select {
		case payload := <-received:
			var entry domain.AuditEntry
			if err := json.Unmarshal(payload, &entry); err != nil {
				t.Fatalf("failed to unmarshal audit payload: %v", err)
			}
			if entry.UserID != "user-001" || entry.Event != EventRequest {
				t.Errorf("unexpected entry: user=%s event=%s", entry.UserID, entry.Event)
			}
			if entry.ID == "" {
				t.Error("expected a generated entry ID")
			}
		case <-time.After(time.Second):
			t.Fatal("expected an audit message on the bus")
		}
	})

	t.Run("NilDestinationsSkipped", func(t *testing.T) {
		logger := NewLogger(nil, nil)
		// Must not panic or error; audit is best effort.
		logger.Log(ctx, "user-002", EventError, map[string]any{"error": "boom"})
	})
}
