//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel
// recommendation orchestrator.
//
// These tests verify the COMPLETE recommendation pipeline:
//
//	Request → Health Gate → Strategy → Scoring Provider → Post-Process → Result
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. REQUEST: A user asks for card recommendations of a given type
//    (homepage, transaction_triggered, portfolio_optimization, ...)
//
// 2. STRATEGY: Each type maps to one generation strategy. Strategies
//    call the external scoring provider through the resilience layer.
//
// 3. FALLBACK: When the provider is down and includeFallbacks is set,
//    rule-based generation serves a degraded result instead of an error.
//
// 4. COOLDOWN: transaction_triggered recommendations are suppressed for
//    60 minutes after one is delivered to a user.
//
// 5. RESULT: Every successful generation is persisted and retrievable
//    by ID until it expires.
//
// PREREQUISITES:
//
// | Component        | Requirement                                     |
// |------------------|-------------------------------------------------|
// | kestrel          | Running at KESTREL_TEST_URL (default :8080)     |
// | scoring provider | Running at the configured KESTREL_SCORING_URL,  |
// |                  | OR absent (tests pass includeFallbacks)         |
// | card catalog     | At least one active card (seed via POST /cards) |
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// RecommendationRequest is the body sent to POST /recommendations
type RecommendationRequest struct {
	UserID  string          `json:"userId"`
	Type    string          `json:"type"`
	Context *RequestContext `json:"context,omitempty"`
	Options *RequestOptions `json:"options,omitempty"`
}

type RequestContext struct {
	Amount   float64 `json:"amount,omitempty"`
	Category string  `json:"category,omitempty"`
	Merchant string  `json:"merchant,omitempty"`
}

type RequestOptions struct {
	MaxResults       int  `json:"maxResults,omitempty"`
	IncludeFallbacks bool `json:"includeFallbacks,omitempty"`
}

// RecommendationResponse is what POST /recommendations returns
type RecommendationResponse struct {
	ID              string               `json:"id"`
	Type            string               `json:"type"`
	UserID          string               `json:"userId"`
	Recommendations []RecommendationItem `json:"recommendations"`
	Metadata        ResponseMetadata     `json:"metadata"`
	CreatedAt       time.Time            `json:"createdAt"`
	ExpiresAt       time.Time            `json:"expiresAt"`
}

type RecommendationItem struct {
	CardID           string  `json:"cardId"`
	CardName         string  `json:"cardName"`
	Score            float64 `json:"score"`
	EstimatedBenefit float64 `json:"estimatedBenefit"`
	Confidence       float64 `json:"confidence"`
	Priority         string  `json:"priority"`
}

type ResponseMetadata struct {
	Strategy  string `json:"strategy"`
	Fallback  bool   `json:"fallback"`
	ProcessMs int64  `json:"processMs"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func postJSON(t *testing.T, config TestConfig, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp, respBody
}

func getJSON(t *testing.T, config TestConfig, path string, out any) int {
	t.Helper()

	resp, err := http.Get(config.BaseURL + path)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
	return resp.StatusCode
}

func recommend(t *testing.T, config TestConfig, req RecommendationRequest) RecommendationResponse {
	t.Helper()

	resp, body := postJSON(t, config, "/recommendations", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(body))
	}

	var result RecommendationResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

// ============================================================================
// SCENARIO 1: Homepage Recommendations
// ============================================================================

func TestHomepageRecommendations(t *testing.T) {
	/*
	   SCENARIO: A user loads the app homepage

	   EXPECTED BEHAVIOR:
	   - 200 with a persisted result (non-empty ID, expiry in the future)
	   - Items sorted by score descending
	   - Items never exceed maxResults
	   - With a healthy provider: metadata.fallback is false
	   - With the provider down: fallback result (includeFallbacks is set)
	*/
	config := getTestConfig()

	result := recommend(t, config, RecommendationRequest{
		UserID: "itest-homepage-001",
		Type:   "homepage",
		Options: &RequestOptions{
			MaxResults:       5,
			IncludeFallbacks: true,
		},
	})

	if result.ID == "" {
		t.Error("Expected a persisted result ID")
	}
	if !result.ExpiresAt.After(time.Now()) {
		t.Errorf("Expected expiry in the future, got %v", result.ExpiresAt)
	}
	if len(result.Recommendations) > 5 {
		t.Errorf("Expected at most 5 items, got %d", len(result.Recommendations))
	}
	for i := 1; i < len(result.Recommendations); i++ {
		if result.Recommendations[i].Score > result.Recommendations[i-1].Score {
			t.Errorf("Items not sorted by score: %.3f after %.3f",
				result.Recommendations[i].Score, result.Recommendations[i-1].Score)
		}
	}

	t.Logf("✓ Homepage served: items=%d, strategy=%s, fallback=%v",
		len(result.Recommendations), result.Metadata.Strategy, result.Metadata.Fallback)
}

// ============================================================================
// SCENARIO 2: Result Retrieval
// ============================================================================

func TestResultRetrieval(t *testing.T) {
	/*
	   SCENARIO: A client generates recommendations and fetches them later

	   EXPECTED BEHAVIOR:
	   - GET /recommendations/{id} returns the stored result unchanged
	   - GET /users/{id}/recommendations lists it
	   - An unknown ID returns 404
	*/
	config := getTestConfig()
	userID := fmt.Sprintf("itest-retrieve-%d", time.Now().UnixNano())

	created := recommend(t, config, RecommendationRequest{
		UserID:  userID,
		Type:    "homepage",
		Options: &RequestOptions{IncludeFallbacks: true},
	})

	var fetched RecommendationResponse
	if status := getJSON(t, config, "/recommendations/"+created.ID, &fetched); status != http.StatusOK {
		t.Fatalf("Expected 200 fetching result, got %d", status)
	}
	if fetched.ID != created.ID || fetched.UserID != userID {
		t.Errorf("Fetched result mismatch: id=%s user=%s", fetched.ID, fetched.UserID)
	}

	var listing struct {
		Results []RecommendationResponse `json:"results"`
	}
	if status := getJSON(t, config, "/users/"+userID+"/recommendations", &listing); status != http.StatusOK {
		t.Fatalf("Expected 200 listing results, got %d", status)
	}
	if len(listing.Results) == 0 {
		t.Error("Expected the user listing to include the stored result")
	}

	if status := getJSON(t, config, "/recommendations/no-such-result", nil); status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown result, got %d", status)
	}

	t.Logf("✓ Result %s retrievable by ID and user listing", created.ID)
}

// ============================================================================
// SCENARIO 3: Transaction-Triggered Cooldown
// ============================================================================

func TestTransactionTriggeredCooldown(t *testing.T) {
	/*
	   SCENARIO: Two purchases by the same user within seconds

	   EXPECTED BEHAVIOR:
	   - Both requests return 200 (cooldown is not an error)
	   - If the first delivered a suggestion, the second returns zero
	     items: the 60-minute window suppresses repeat nudges
	   - A provider that declines the first purchase yields zero items
	     on both, which also satisfies the suppression property
	*/
	config := getTestConfig()
	userID := fmt.Sprintf("itest-cooldown-%d", time.Now().UnixNano())

	trigger := RecommendationRequest{
		UserID: userID,
		Type:   "transaction_triggered",
		Context: &RequestContext{
			Amount:   420.00,
			Category: "travel",
			Merchant: "Skyways",
		},
		Options: &RequestOptions{IncludeFallbacks: true},
	}

	first := recommend(t, config, trigger)
	second := recommend(t, config, trigger)

	if len(first.Recommendations) > 0 && len(second.Recommendations) > 0 {
		t.Errorf("Expected cooldown to suppress the second suggestion, got %d items",
			len(second.Recommendations))
	}

	t.Logf("✓ Cooldown honored: first=%d items, second=%d items",
		len(first.Recommendations), len(second.Recommendations))
}

// ============================================================================
// SCENARIO 4: Realtime Never Fails
// ============================================================================

func TestRealtimeAlwaysServes(t *testing.T) {
	/*
	   SCENARIO: A checkout surface needs an answer RIGHT NOW

	   EXPECTED BEHAVIOR:
	   - POST /recommendations/realtime returns 200 no matter what
	   - Unknown users get generic fallback items, never an error
	*/
	config := getTestConfig()

	resp, body := postJSON(t, config, "/recommendations/realtime", map[string]any{
		"userId": "itest-nobody-knows-this-user",
		"context": map[string]any{
			"category": "dining",
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from realtime, got %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Recommendations []RecommendationItem `json:"recommendations"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal realtime response: %v", err)
	}
	if len(result.Recommendations) == 0 {
		t.Error("Expected realtime to serve fallback items for an unknown user")
	}

	t.Logf("✓ Realtime served %d items for an unknown user", len(result.Recommendations))
}

// ============================================================================
// SCENARIO 5: Feedback Loop
// ============================================================================

func TestFeedbackAccepted(t *testing.T) {
	/*
	   SCENARIO: A user dismisses a recommendation

	   EXPECTED BEHAVIOR:
	   - POST /feedback returns 202 (processing is asynchronous)
	   - An invalid action is rejected with 400
	*/
	config := getTestConfig()
	userID := fmt.Sprintf("itest-feedback-%d", time.Now().UnixNano())

	created := recommend(t, config, RecommendationRequest{
		UserID:  userID,
		Type:    "homepage",
		Options: &RequestOptions{IncludeFallbacks: true},
	})

	resp, body := postJSON(t, config, "/feedback", map[string]any{
		"userId":           userID,
		"recommendationId": created.ID,
		"action":           "dismissed",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("Expected 202 for feedback, got %d: %s", resp.StatusCode, string(body))
	}

	resp, _ = postJSON(t, config, "/feedback", map[string]any{
		"userId":           userID,
		"recommendationId": created.ID,
		"action":           "shrugged",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid action, got %d", resp.StatusCode)
	}

	t.Logf("✓ Feedback accepted for result %s", created.ID)
}

// ============================================================================
// SCENARIO 6: Eligibility Rule Lifecycle
// ============================================================================

func TestEligibilityRuleLifecycle(t *testing.T) {
	/*
	   SCENARIO: An operator adds a CEL eligibility rule and hot-reloads

	   EXPECTED BEHAVIOR:
	   - POST /rules validates the expression and persists the rule
	   - POST /rules/reload loads it into the live engine
	   - A malformed expression is rejected before persisting
	*/
	config := getTestConfig()
	ruleID := fmt.Sprintf("itest-rule-%d", time.Now().UnixNano())

	resp, body := postJSON(t, config, "/rules", map[string]any{
		"id":          ruleID,
		"name":        "Integration test rule",
		"expression":  `min_credit_score <= 700`,
		"enabled":     true,
		"description": "created by integration test",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 creating rule, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = postJSON(t, config, "/rules/reload", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 reloading rules, got %d: %s", resp.StatusCode, string(body))
	}

	resp, _ = postJSON(t, config, "/rules", map[string]any{
		"id":         ruleID + "-bad",
		"name":       "Broken rule",
		"expression": `min_credit_score <=`,
		"enabled":    true,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed expression, got %d", resp.StatusCode)
	}

	t.Logf("✓ Rule %s created and reloaded", ruleID)
}

// ============================================================================
// SCENARIO 7: Observability Surface
// ============================================================================

func TestObservabilityEndpoints(t *testing.T) {
	/*
	   SCENARIO: A load balancer and an operator poll the service

	   EXPECTED BEHAVIOR:
	   - GET /health returns 200 with a status field
	   - GET /status exposes the health snapshot and call metrics
	   - GET /metrics serves Prometheus text format
	*/
	config := getTestConfig()

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if status := getJSON(t, config, "/health", &health); status != http.StatusOK {
		t.Fatalf("Expected 200 from /health, got %d", status)
	}
	if health.Status == "" {
		t.Error("Expected a status field in the health response")
	}

	var statusBody map[string]any
	if status := getJSON(t, config, "/status", &statusBody); status != http.StatusOK {
		t.Fatalf("Expected 200 from /status, got %d", status)
	}
	if _, ok := statusBody["health"]; !ok {
		t.Error("Expected /status to include the health snapshot")
	}
	if _, ok := statusBody["metrics"]; !ok {
		t.Error("Expected /status to include call metrics")
	}

	resp, err := http.Get(config.BaseURL + "/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /metrics, got %d", resp.StatusCode)
	}

	t.Logf("✓ Observability surface healthy: status=%s version=%s", health.Status, health.Version)
}
