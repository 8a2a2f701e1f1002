package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndFindCard", func(t *testing.T) {
		card := &domain.CreditCard{
			ID:               "travel_elite",
			Name:             "Travel Elite",
			Issuer:           "Meridian Bank",
			CardType:         "travel",
			AnnualFee:        95,
			BaseRatePct:      1.0,
			BonusCategories:  map[string]float64{"travel": 3.0, "dining": 2.0},
			RewardType:       "points",
			PointValueCent:   1.25,
			SignupBonusValue: 600,
			MinCreditScore:   720,
			Active:           true,
		}

		if err := repo.SaveCard(ctx, card); err != nil {
			t.Fatalf("SaveCard failed: %v", err)
		}

		retrieved, err := repo.FindCardByID(ctx, card.ID)
		if err != nil {
			t.Fatalf("FindCardByID failed: %v", err)
		}
		if retrieved.Name != card.Name {
			t.Errorf("expected Name %s, got %s", card.Name, retrieved.Name)
		}
		if retrieved.BonusCategories["travel"] != 3.0 {
			t.Errorf("expected travel bonus 3.0, got %f", retrieved.BonusCategories["travel"])
		}
		if !retrieved.Active {
			t.Error("expected card to be active")
		}
	})

	t.Run("SaveCardUpsert", func(t *testing.T) {
		card := &domain.CreditCard{ID: "travel_elite", Name: "Travel Elite Plus", CardType: "travel", AnnualFee: 150, Active: true}
		if err := repo.SaveCard(ctx, card); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		retrieved, err := repo.FindCardByID(ctx, "travel_elite")
		if err != nil {
			t.Fatalf("FindCardByID failed: %v", err)
		}
		if retrieved.Name != "Travel Elite Plus" || retrieved.AnnualFee != 150 {
			t.Errorf("upsert did not update fields: %+v", retrieved)
		}
	})

	t.Run("FindActiveCardsExcludesInactive", func(t *testing.T) {
		inactive := &domain.CreditCard{ID: "retired_card", Name: "Retired", CardType: "cashback", Active: false}
		if err := repo.SaveCard(ctx, inactive); err != nil {
			t.Fatalf("SaveCard failed: %v", err)
		}

		cards, err := repo.FindActiveCards(ctx)
		if err != nil {
			t.Fatalf("FindActiveCards failed: %v", err)
		}
		for _, c := range cards {
			if c.ID == "retired_card" {
				t.Error("inactive card returned by FindActiveCards")
			}
		}
	})

	t.Run("CardNotFound", func(t *testing.T) {
		_, err := repo.FindCardByID(ctx, "no-such-card")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UserAndUserCards", func(t *testing.T) {
		user := &domain.User{ID: "user-001", Email: "u1@example.com", CreatedAt: time.Now().UTC()}
		if err := repo.SaveUser(ctx, user); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}

		retrieved, err := repo.FindUserByID(ctx, "user-001")
		if err != nil {
			t.Fatalf("FindUserByID failed: %v", err)
		}
		if retrieved.Email != user.Email {
			t.Errorf("expected email %s, got %s", user.Email, retrieved.Email)
		}

		if err := repo.AddUserCard(ctx, "user-001", "travel_elite", time.Now().UTC()); err != nil {
			t.Fatalf("AddUserCard failed: %v", err)
		}
		// Adding the same card twice is a no-op.
		if err := repo.AddUserCard(ctx, "user-001", "travel_elite", time.Now().UTC()); err != nil {
			t.Fatalf("duplicate AddUserCard failed: %v", err)
		}

		owned, err := repo.FindUserCardsWithDetails(ctx, "user-001")
		if err != nil {
			t.Fatalf("FindUserCardsWithDetails failed: %v", err)
		}
		if len(owned) != 1 {
			t.Fatalf("expected 1 owned card, got %d", len(owned))
		}
		if owned[0].Card == nil || owned[0].Card.Name != "Travel Elite Plus" {
			t.Errorf("expected joined catalog details, got %+v", owned[0].Card)
		}
	})

	t.Run("UserNotFound", func(t *testing.T) {
		_, err := repo.FindUserByID(ctx, "ghost")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TransactionsByDateRange", func(t *testing.T) {
		now := time.Now().UTC()
		txns := []*domain.Transaction{
			{ID: "t1", UserID: "user-001", Amount: 50, Category: "dining", PostedAt: now.AddDate(0, 0, -1)},
			{ID: "t2", UserID: "user-001", Amount: 120, Category: "travel", Merchant: "Skyways", PostedAt: now.AddDate(0, 0, -10)},
			{ID: "t3", UserID: "user-001", Amount: 30, Category: "groceries", PostedAt: now.AddDate(0, -6, 0)},
			{ID: "t4", UserID: "other-user", Amount: 99, Category: "dining", PostedAt: now},
		}
		for _, tx := range txns {
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		got, err := repo.FindTransactionsByUserAndDateRange(ctx, "user-001", now.AddDate(0, -3, 0), now)
		if err != nil {
			t.Fatalf("FindTransactionsByUserAndDateRange failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 transactions in window, got %d", len(got))
		}
		// Newest first.
		if got[0].ID != "t1" || got[1].ID != "t2" {
			t.Errorf("expected newest-first order t1,t2, got %s,%s", got[0].ID, got[1].ID)
		}
		if got[1].Merchant != "Skyways" {
			t.Errorf("expected merchant Skyways, got %q", got[1].Merchant)
		}
	})

	t.Run("PreferenceProfileRoundTrip", func(t *testing.T) {
		profile := &domain.UserPreferenceProfile{
			UserID: "user-001",
			CardTypePreferences: []domain.CardTypePreference{
				{CardType: "travel", Preference: domain.PrefPrefer},
			},
			SpendingCategoryPriorities: []domain.CategoryPriority{
				{Category: "dining", Priority: 8},
			},
			FinancialConstraints: domain.FinancialConstraints{MaxAnnualFee: 150, MinCreditScore: 720},
			RiskProfile:          domain.RiskProfile{FeeTolerance: "medium"},
			Goals:                domain.Goals{Primary: "maximize_rewards"},
			Inferred:             true,
		}

		if err := repo.SavePreferenceProfile(ctx, profile); err != nil {
			t.Fatalf("SavePreferenceProfile failed: %v", err)
		}

		retrieved, err := repo.GetPreferenceProfile(ctx, "user-001")
		if err != nil {
			t.Fatalf("GetPreferenceProfile failed: %v", err)
		}
		if !retrieved.Inferred {
			t.Error("expected inferred flag to survive round trip")
		}
		if retrieved.FinancialConstraints.MaxAnnualFee != 150 {
			t.Errorf("expected MaxAnnualFee 150, got %f", retrieved.FinancialConstraints.MaxAnnualFee)
		}
		if len(retrieved.CardTypePreferences) != 1 || retrieved.CardTypePreferences[0].Preference != domain.PrefPrefer {
			t.Errorf("card type preferences not preserved: %+v", retrieved.CardTypePreferences)
		}

		// Replacing is an upsert, not an insert.
		profile.Goals.Primary = "minimize_fees"
		if err := repo.SavePreferenceProfile(ctx, profile); err != nil {
			t.Fatalf("profile upsert failed: %v", err)
		}
		updated, err := repo.GetPreferenceProfile(ctx, "user-001")
		if err != nil {
			t.Fatalf("GetPreferenceProfile failed: %v", err)
		}
		if updated.Goals.Primary != "minimize_fees" {
			t.Errorf("expected updated goal, got %s", updated.Goals.Primary)
		}
	})

	t.Run("ProfileNotFound", func(t *testing.T) {
		_, err := repo.GetPreferenceProfile(ctx, "ghost")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RecommendationResultRoundTrip", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		result := &domain.RecommendationResult{
			ID:     "rec-001",
			Type:   domain.TypeHomepage,
			UserID: "user-001",
			Recommendations: []domain.RecommendationItem{
				{
					CardID:           "travel_elite",
					CardName:         "Travel Elite Plus",
					Score:            0.87,
					Reasoning:        "Strong travel rewards for your spending",
					EstimatedBenefit: 320,
					Confidence:       0.8,
					Priority:         domain.PriorityHigh,
					Tags:             []string{"travel", "points"},
				},
			},
			Metadata: domain.ResultMetadata{
				Strategy:       "homepage",
				CandidateCount: 5,
				FilteredCount:  2,
				EngineVersion:  "1.0",
			},
			CreatedAt: now,
			ExpiresAt: now.Add(24 * time.Hour),
		}

		if err := repo.SaveRecommendationResult(ctx, result); err != nil {
			t.Fatalf("SaveRecommendationResult failed: %v", err)
		}

		retrieved, err := repo.GetRecommendationResult(ctx, "rec-001")
		if err != nil {
			t.Fatalf("GetRecommendationResult failed: %v", err)
		}
		if retrieved.Type != domain.TypeHomepage {
			t.Errorf("expected type homepage, got %s", retrieved.Type)
		}
		if len(retrieved.Recommendations) != 1 {
			t.Fatalf("expected 1 item, got %d", len(retrieved.Recommendations))
		}
		item := retrieved.Recommendations[0]
		if item.Score != 0.87 || item.Priority != domain.PriorityHigh {
			t.Errorf("item fields not preserved: %+v", item)
		}
		if retrieved.Metadata.Strategy != "homepage" || retrieved.Metadata.CandidateCount != 5 {
			t.Errorf("metadata not preserved: %+v", retrieved.Metadata)
		}
	})

	t.Run("ListResultsByUser", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Second)
		for i, id := range []string{"rec-a", "rec-b", "rec-c"} {
			result := &domain.RecommendationResult{
				ID:        id,
				Type:      domain.TypeSeasonal,
				UserID:    "history-user",
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
				ExpiresAt: base.Add(6 * time.Hour),
			}
			if err := repo.SaveRecommendationResult(ctx, result); err != nil {
				t.Fatalf("SaveRecommendationResult failed: %v", err)
			}
		}

		results, err := repo.ListRecommendationResultsByUser(ctx, "history-user", 2)
		if err != nil {
			t.Fatalf("ListRecommendationResultsByUser failed: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("expected limit of 2, got %d", len(results))
		}
		if results[0].ID != "rec-c" {
			t.Errorf("expected newest first, got %s", results[0].ID)
		}
	})

	t.Run("ResultNotFound", func(t *testing.T) {
		_, err := repo.GetRecommendationResult(ctx, "no-such-result")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveFeedback", func(t *testing.T) {
		fb := &domain.Feedback{
			ID:               "fb-001",
			UserID:           "user-001",
			RecommendationID: "rec-001",
			Action:           "clicked",
			CardID:           "travel_elite",
			CreatedAt:        time.Now().UTC(),
		}
		if err := repo.SaveFeedback(ctx, fb); err != nil {
			t.Fatalf("SaveFeedback failed: %v", err)
		}

		incomplete := &domain.Feedback{ID: "fb-002"}
		if err := repo.SaveFeedback(ctx, incomplete); err == nil {
			t.Error("expected error for feedback missing userID and recommendationID")
		}
	})

	t.Run("EligibilityRules", func(t *testing.T) {
		rules := []*domain.EligibilityRule{
			{ID: "r1", Name: "fee cap", Expression: "annual_fee < 500.0", Enabled: true},
			{ID: "r2", Name: "no student cards", Description: "catalog hygiene", Expression: "card_type != 'student'", Enabled: false},
		}
		for _, rule := range rules {
			if err := repo.SaveEligibilityRule(ctx, rule); err != nil {
				t.Fatalf("SaveEligibilityRule failed: %v", err)
			}
		}

		listed, err := repo.ListEligibilityRules(ctx)
		if err != nil {
			t.Fatalf("ListEligibilityRules failed: %v", err)
		}
		if len(listed) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(listed))
		}
		if !listed[0].Enabled || listed[1].Enabled {
			t.Error("enabled flags not preserved")
		}
		if listed[1].Description != "catalog hygiene" {
			t.Errorf("expected description preserved, got %q", listed[1].Description)
		}

		// Update in place.
		rules[0].Expression = "annual_fee < 250.0"
		if err := repo.SaveEligibilityRule(ctx, rules[0]); err != nil {
			t.Fatalf("rule upsert failed: %v", err)
		}
		listed, err = repo.ListEligibilityRules(ctx)
		if err != nil {
			t.Fatalf("ListEligibilityRules failed: %v", err)
		}
		if listed[0].Expression != "annual_fee < 250.0" {
			t.Errorf("expected updated expression, got %q", listed[0].Expression)
		}

		if err := repo.SaveEligibilityRule(ctx, &domain.EligibilityRule{ID: "r3"}); err == nil {
			t.Error("expected error for rule without expression")
		}
	})

	t.Run("SaveAuditEntry", func(t *testing.T) {
		entry := &domain.AuditEntry{
			ID:        "audit-001",
			UserID:    "user-001",
			Event:     "request",
			Detail:    map[string]any{"type": "homepage"},
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.SaveAuditEntry(ctx, entry); err != nil {
			t.Fatalf("SaveAuditEntry failed: %v", err)
		}

		if err := repo.SaveAuditEntry(ctx, &domain.AuditEntry{ID: "audit-002"}); err == nil {
			t.Error("expected error for entry without event")
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind should be a no-op, got %q", got)
	}

	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("INSERT INTO t VALUES (?, ?, ?)"); got != "INSERT INTO t VALUES ($1, $2, $3)" {
		t.Errorf("unexpected postgres rebind: %q", got)
	}
}
