package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store defines read access to users, cards, and transactions, plus
// persistence for results, feedback, and eligibility rules. Rows are
// assumed pre-validated; callers only null-check.
type Store interface {
	// User/card/transaction accessors
	FindUserByID(ctx context.Context, userID string) (*User, error)
	SaveUser(ctx context.Context, user *User) error
	FindUserCardsWithDetails(ctx context.Context, userID string) ([]*UserCard, error)
	AddUserCard(ctx context.Context, userID, cardID string, addedAt time.Time) error
	FindTransactionsByUserAndDateRange(ctx context.Context, userID string, from, to time.Time) ([]*Transaction, error)
	SaveTransaction(ctx context.Context, tx *Transaction) error
	FindActiveCards(ctx context.Context) ([]*CreditCard, error)
	FindCardByID(ctx context.Context, cardID string) (*CreditCard, error)
	SaveCard(ctx context.Context, card *CreditCard) error

	// Preference profiles
	GetPreferenceProfile(ctx context.Context, userID string) (*UserPreferenceProfile, error)
	SavePreferenceProfile(ctx context.Context, profile *UserPreferenceProfile) error

	// Recommendation results (history surface)
	SaveRecommendationResult(ctx context.Context, result *RecommendationResult) error
	GetRecommendationResult(ctx context.Context, resultID string) (*RecommendationResult, error)
	ListRecommendationResultsByUser(ctx context.Context, userID string, limit int) ([]*RecommendationResult, error)

	// Feedback
	SaveFeedback(ctx context.Context, fb *Feedback) error

	// Eligibility rules (CEL expressions applied to candidate cards)
	ListEligibilityRules(ctx context.Context) ([]*EligibilityRule, error)
	SaveEligibilityRule(ctx context.Context, rule *EligibilityRule) error

	// Audit log
	SaveAuditEntry(ctx context.Context, entry *AuditEntry) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// EligibilityRule is an operator-configured CEL expression that every
// candidate card must satisfy to be recommended.
type EligibilityRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Enabled     bool   `json:"enabled"`
}

// AuditEntry is one fire-and-forget audit record.
type AuditEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	Event     string         `json:"event"` // "request", "success", "error", "batch"
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RepositoryConfig holds configuration for store initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
