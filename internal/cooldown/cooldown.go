// Package cooldown suppresses repeat transaction-triggered
// recommendations inside a per-user window.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultWindow is how long a user stays on cooldown after a
// transaction-triggered recommendation is delivered.
const DefaultWindow = 60 * time.Minute

// Tracker records recommendation deliveries and answers whether a user
// is currently on cooldown. Backed by the shared cache so all instances
// agree.
type Tracker struct {
	cache  domain.Cache
	window time.Duration
}

// NewTracker creates a cooldown tracker over the given cache.
func NewTracker(cache domain.Cache, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{cache: cache, window: window}
}

// Window returns the configured cooldown duration.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// OnCooldown reports whether the user received a transaction-triggered
// recommendation inside the window. Cache errors fail open: a broken
// cache must not block recommendations.
func (t *Tracker) OnCooldown(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	val, err := t.cache.Get(ctx, t.key(userID))
	if err != nil {
		return false
	}
	return val != nil
}

// Mark starts or extends the user's cooldown window. Called after a
// transaction-triggered recommendation is delivered.
func (t *Tracker) Mark(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("userID is required")
	}
	if err := t.cache.Set(ctx, t.key(userID), []byte("1"), t.window); err != nil {
		return fmt.Errorf("failed to mark cooldown: %w", err)
	}
	return nil
}

// Clear lifts the user's cooldown early. Operator/testing affordance.
func (t *Tracker) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("userID is required")
	}
	return t.cache.Delete(ctx, t.key(userID))
}

func (t *Tracker) key(userID string) string {
	return "cooldown:txn:" + userID
}
