package scoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testConfig(url string) domain.ScoringConfig {
	return domain.ScoringConfig{
		BaseURL:                 url,
		Timeout:                 2 * time.Second,
		MaxAttempts:             3,
		BreakerFailureThreshold: 100, // keep the breaker out of the way
		BreakerOpenTimeout:      time.Second,
	}
}

func TestTriggerClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trigger-classify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"recommend_flag": true,
			"confidence_score": 0.8,
			"suggested_card_id": "travel_elite",
			"extra_reward": 12.5,
			"reasoning": "Found 15.0% better reward rate"
		}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	resp, err := client.TriggerClassify(context.Background(), &TriggerClassifyRequest{
		UserID:   "user-001",
		Amount:   120,
		Category: "dining",
	})
	if err != nil {
		t.Fatalf("TriggerClassify failed: %v", err)
	}

	if !resp.RecommendFlag {
		t.Error("expected recommend_flag true")
	}
	if resp.SuggestedCardID != "travel_elite" {
		t.Errorf("expected suggested card travel_elite, got %s", resp.SuggestedCardID)
	}
	if resp.ConfidenceScore != 0.8 {
		t.Errorf("expected confidence 0.8, got %f", resp.ConfidenceScore)
	}
}

func TestTriggerClassifyDefaultReasoning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"recommend_flag": false, "confidence_score": 0.0, "suggested_card_id": "", "extra_reward": 0}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	resp, err := client.TriggerClassify(context.Background(), &TriggerClassifyRequest{UserID: "u", Amount: 10, Category: "gas"})
	if err != nil {
		t.Fatalf("TriggerClassify failed: %v", err)
	}
	if resp.Reasoning == "" {
		t.Error("expected default reasoning for missing field")
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"detail":"boom"}`, http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ranked_cards": [], "user_id": "u", "ranking_score": 0}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	_, err := client.PersonalizedRanking(context.Background(), &RankingRequest{UserID: "u"})
	if err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"detail":"card not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	_, err := client.EstimateRewards(context.Background(), &RewardEstimateRequest{
		UserID:            "u",
		CardID:            "missing",
		ProjectedSpending: map[string]float64{"dining": 500},
	})
	if err == nil {
		t.Fatal("expected error for 404")
	}

	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if provErr.Code != "http_404" {
		t.Errorf("expected code http_404, got %s", provErr.Code)
	}
	if provErr.Retryable() {
		t.Error("404 must not be retryable")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 call, got %d", got)
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 2
	client := NewClient(cfg)

	_, err := client.OptimizePortfolio(context.Background(), &PortfolioRequest{
		UserID:       "u",
		CurrentCards: []string{"basic_cash"},
	})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestNetworkErrorNormalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 1
	client := NewClient(cfg)

	_, err := client.Health(context.Background())
	if err == nil {
		t.Fatal("expected network error")
	}

	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if provErr.Code != "network" {
		t.Errorf("expected code network, got %s", provErr.Code)
	}
	if !provErr.Retryable() {
		t.Error("network errors must be retryable")
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 1
	cfg.BreakerFailureThreshold = 2
	client := NewClient(cfg)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		client.Health(ctx)
	}

	_, err := client.Health(ctx)
	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if provErr.Code != "circuit_open" {
		t.Errorf("expected circuit_open after repeated failures, got %s", provErr.Code)
	}
}

func TestRankingDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"ranked_cards": [{"card_id": "cash_plus", "ranking_score": 0.7}],
			"user_id": "u",
			"ranking_score": 0.7
		}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	resp, err := client.PersonalizedRanking(context.Background(), &RankingRequest{UserID: "u"})
	if err != nil {
		t.Fatalf("PersonalizedRanking failed: %v", err)
	}
	if len(resp.RankedCards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(resp.RankedCards))
	}
	if resp.RankedCards[0].CardName != "cash_plus" {
		t.Errorf("expected card name defaulted to id, got %q", resp.RankedCards[0].CardName)
	}
	if resp.RankedCards[0].Reason == "" {
		t.Error("expected default reason")
	}
}
