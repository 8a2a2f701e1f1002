// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrNotFound aliases the domain sentinel so callers on either side
	// of the interface can errors.Is against it.
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// FindUserByID retrieves a user by ID.
func (r *SQLRepository) FindUserByID(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `SELECT id, email, created_at FROM users WHERE id = ?`

	var u domain.User
	var email sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&u.ID, &email, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String

	return &u, nil
}

// SaveUser stores or updates a user record.
func (r *SQLRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user with ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO users (id, email, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		user.ID, user.Email, user.CreatedAt,
	)
	return err
}

// FindUserCardsWithDetails retrieves the cards a user holds, joined with
// their catalog rows.
func (r *SQLRepository) FindUserCardsWithDetails(ctx context.Context, userID string) ([]*domain.UserCard, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT uc.user_id, uc.card_id, uc.added_at,
			   c.id, c.name, c.issuer, c.card_type, c.annual_fee,
			   c.base_rate_pct, c.bonus_categories, c.reward_type,
			   c.point_value_cent, c.signup_bonus_value, c.min_credit_score, c.active
		FROM user_cards uc
		JOIN cards c ON c.id = uc.card_id
		WHERE uc.user_id = ?
		ORDER BY uc.added_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.UserCard
	for rows.Next() {
		var uc domain.UserCard
		var card domain.CreditCard
		var issuer, bonus, rewardType sql.NullString
		var active int

		if err := rows.Scan(
			&uc.UserID, &uc.CardID, &uc.AddedAt,
			&card.ID, &card.Name, &issuer, &card.CardType, &card.AnnualFee,
			&card.BaseRatePct, &bonus, &rewardType,
			&card.PointValueCent, &card.SignupBonusValue, &card.MinCreditScore, &active,
		); err != nil {
			return nil, err
		}

		card.Issuer = issuer.String
		card.RewardType = rewardType.String
		card.Active = active == 1
		if bonus.String != "" {
			json.Unmarshal([]byte(bonus.String), &card.BonusCategories)
		}
		uc.Card = &card
		result = append(result, &uc)
	}

	return result, rows.Err()
}

// AddUserCard links a card to a user's portfolio.
func (r *SQLRepository) AddUserCard(ctx context.Context, userID, cardID string, addedAt time.Time) error {
	if userID == "" || cardID == "" {
		return fmt.Errorf("%w: userID and cardID are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO user_cards (user_id, card_id, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, card_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), userID, cardID, addedAt)
	return err
}

// FindTransactionsByUserAndDateRange retrieves a user's transactions posted
// within [from, to], newest first.
func (r *SQLRepository) FindTransactionsByUserAndDateRange(ctx context.Context, userID string, from, to time.Time) ([]*domain.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, card_id, amount, category, merchant, posted_at
		FROM transactions
		WHERE user_id = ?
		  AND posted_at >= ?
		  AND posted_at <= ?
		ORDER BY posted_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var cardID, merchant sql.NullString

		if err := rows.Scan(
			&tx.ID, &tx.UserID, &cardID, &tx.Amount,
			&tx.Category, &merchant, &tx.PostedAt,
		); err != nil {
			return nil, err
		}
		tx.CardID = cardID.String
		tx.Merchant = merchant.String
		result = append(result, &tx)
	}

	return result, rows.Err()
}

// SaveTransaction stores a purchase record.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" || tx.UserID == "" {
		return fmt.Errorf("%w: transaction with ID and userID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (id, user_id, card_id, amount, category, merchant, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.CardID, tx.Amount, tx.Category, tx.Merchant, tx.PostedAt,
	)
	return err
}

// FindActiveCards retrieves all catalog cards marked active.
func (r *SQLRepository) FindActiveCards(ctx context.Context) ([]*domain.CreditCard, error) {
	query := `
		SELECT id, name, issuer, card_type, annual_fee, base_rate_pct,
			   bonus_categories, reward_type, point_value_cent,
			   signup_bonus_value, min_credit_score, active
		FROM cards
		WHERE active = 1
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.CreditCard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, card)
	}

	return result, rows.Err()
}

// FindCardByID retrieves one catalog card.
func (r *SQLRepository) FindCardByID(ctx context.Context, cardID string) (*domain.CreditCard, error) {
	if cardID == "" {
		return nil, fmt.Errorf("%w: cardID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, issuer, card_type, annual_fee, base_rate_pct,
			   bonus_categories, reward_type, point_value_cent,
			   signup_bonus_value, min_credit_score, active
		FROM cards
		WHERE id = ?
	`

	card, err := scanCard(r.db.QueryRowContext(ctx, r.rebind(query), cardID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return card, nil
}

// SaveCard stores or updates a catalog card.
func (r *SQLRepository) SaveCard(ctx context.Context, card *domain.CreditCard) error {
	if card == nil || card.ID == "" {
		return fmt.Errorf("%w: card with ID is required", ErrInvalidInput)
	}

	bonus, _ := json.Marshal(card.BonusCategories)
	active := 0
	if card.Active {
		active = 1
	}

	query := `
		INSERT INTO cards (
			id, name, issuer, card_type, annual_fee, base_rate_pct,
			bonus_categories, reward_type, point_value_cent,
			signup_bonus_value, min_credit_score, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			issuer = excluded.issuer,
			card_type = excluded.card_type,
			annual_fee = excluded.annual_fee,
			base_rate_pct = excluded.base_rate_pct,
			bonus_categories = excluded.bonus_categories,
			reward_type = excluded.reward_type,
			point_value_cent = excluded.point_value_cent,
			signup_bonus_value = excluded.signup_bonus_value,
			min_credit_score = excluded.min_credit_score,
			active = excluded.active
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		card.ID, card.Name, card.Issuer, card.CardType, card.AnnualFee,
		card.BaseRatePct, string(bonus), card.RewardType, card.PointValueCent,
		card.SignupBonusValue, card.MinCreditScore, active,
	)
	return err
}

// GetPreferenceProfile retrieves a user's stored preference profile.
func (r *SQLRepository) GetPreferenceProfile(ctx context.Context, userID string) (*domain.UserPreferenceProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `SELECT profile FROM preference_profiles WHERE user_id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var profile domain.UserPreferenceProfile
	if err := json.Unmarshal([]byte(payload), &profile); err != nil {
		return nil, fmt.Errorf("corrupt profile for user %s: %w", userID, err)
	}
	profile.UserID = userID

	return &profile, nil
}

// SavePreferenceProfile stores or replaces a user's preference profile.
func (r *SQLRepository) SavePreferenceProfile(ctx context.Context, profile *domain.UserPreferenceProfile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("%w: profile with userID is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(profile)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO preference_profiles (user_id, profile, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			profile = excluded.profile,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		profile.UserID, string(payload), time.Now().UTC(),
	)
	return err
}

// SaveRecommendationResult stores a delivered result for the history surface.
func (r *SQLRepository) SaveRecommendationResult(ctx context.Context, result *domain.RecommendationResult) error {
	if result == nil || result.ID == "" || result.UserID == "" {
		return fmt.Errorf("%w: result with ID and userID is required", ErrInvalidInput)
	}

	recommendations, err := json.Marshal(result.Recommendations)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO recommendation_results (
			id, user_id, rec_type, recommendations, metadata, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.ID, result.UserID, string(result.Type),
		string(recommendations), string(metadata),
		result.CreatedAt, result.ExpiresAt,
	)
	return err
}

// GetRecommendationResult retrieves a stored result by ID.
func (r *SQLRepository) GetRecommendationResult(ctx context.Context, resultID string) (*domain.RecommendationResult, error) {
	if resultID == "" {
		return nil, fmt.Errorf("%w: resultID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, rec_type, recommendations, metadata, created_at, expires_at
		FROM recommendation_results
		WHERE id = ?
	`

	var result domain.RecommendationResult
	var recType, recommendations, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), resultID).Scan(
		&result.ID, &result.UserID, &recType,
		&recommendations, &metadata,
		&result.CreatedAt, &result.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	result.Type = domain.RecommendationType(recType)
	if err := json.Unmarshal([]byte(recommendations), &result.Recommendations); err != nil {
		return nil, fmt.Errorf("corrupt result %s: %w", resultID, err)
	}
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &result.Metadata)
	}

	return &result, nil
}

// ListRecommendationResultsByUser retrieves a user's stored results,
// newest first, up to limit.
func (r *SQLRepository) ListRecommendationResultsByUser(ctx context.Context, userID string, limit int) ([]*domain.RecommendationResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, user_id, rec_type, recommendations, metadata, created_at, expires_at
		FROM recommendation_results
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.RecommendationResult
	for rows.Next() {
		var result domain.RecommendationResult
		var recType, recommendations, metadata string

		if err := rows.Scan(
			&result.ID, &result.UserID, &recType,
			&recommendations, &metadata,
			&result.CreatedAt, &result.ExpiresAt,
		); err != nil {
			return nil, err
		}

		result.Type = domain.RecommendationType(recType)
		json.Unmarshal([]byte(recommendations), &result.Recommendations)
		if metadata != "" {
			json.Unmarshal([]byte(metadata), &result.Metadata)
		}
		results = append(results, &result)
	}

	return results, rows.Err()
}

// SaveFeedback stores a user's reaction to a recommendation.
func (r *SQLRepository) SaveFeedback(ctx context.Context, fb *domain.Feedback) error {
	if fb == nil || fb.ID == "" || fb.UserID == "" || fb.RecommendationID == "" {
		return fmt.Errorf("%w: feedback with ID, userID, and recommendationID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO feedback (id, user_id, recommendation_id, action, card_id, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		fb.ID, fb.UserID, fb.RecommendationID, fb.Action,
		fb.CardID, fb.Comment, fb.CreatedAt,
	)
	return err
}

// ListEligibilityRules retrieves all configured rules, enabled or not.
func (r *SQLRepository) ListEligibilityRules(ctx context.Context) ([]*domain.EligibilityRule, error) {
	query := `
		SELECT id, name, description, expression, enabled
		FROM eligibility_rules
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.EligibilityRule
	for rows.Next() {
		var rule domain.EligibilityRule
		var description sql.NullString
		var enabled int

		if err := rows.Scan(&rule.ID, &rule.Name, &description, &rule.Expression, &enabled); err != nil {
			return nil, err
		}
		rule.Description = description.String
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveEligibilityRule stores or updates a rule.
func (r *SQLRepository) SaveEligibilityRule(ctx context.Context, rule *domain.EligibilityRule) error {
	if rule == nil || rule.ID == "" || rule.Expression == "" {
		return fmt.Errorf("%w: rule with ID and expression is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	query := `
		INSERT INTO eligibility_rules (id, name, description, expression, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			enabled = excluded.enabled
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression, enabled,
	)
	return err
}

// SaveAuditEntry stores one audit record.
func (r *SQLRepository) SaveAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	if entry == nil || entry.ID == "" || entry.Event == "" {
		return fmt.Errorf("%w: entry with ID and event is required", ErrInvalidInput)
	}

	detail, _ := json.Marshal(entry.Detail)

	query := `
		INSERT INTO audit_log (id, user_id, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, entry.UserID, entry.Event, string(detail), entry.CreatedAt,
	)
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*domain.CreditCard, error) {
	var card domain.CreditCard
	var issuer, bonus, rewardType sql.NullString
	var active int

	err := row.Scan(
		&card.ID, &card.Name, &issuer, &card.CardType, &card.AnnualFee,
		&card.BaseRatePct, &bonus, &rewardType, &card.PointValueCent,
		&card.SignupBonusValue, &card.MinCreditScore, &active,
	)
	if err != nil {
		return nil, err
	}

	card.Issuer = issuer.String
	card.RewardType = rewardType.String
	card.Active = active == 1
	if bonus.String != "" {
		json.Unmarshal([]byte(bonus.String), &card.BonusCategories)
	}

	return &card, nil
}

func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
