// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// RecommendationType identifies the generation strategy for a request.
type RecommendationType string

const (
	TypeHomepage             RecommendationType = "homepage"
	TypeTransactionTriggered RecommendationType = "transaction_triggered"
	TypePortfolioOptimization RecommendationType = "portfolio_optimization"
	TypeCategorySpecific     RecommendationType = "category_specific"
	TypeSeasonal             RecommendationType = "seasonal"
	TypeLifecycle            RecommendationType = "lifecycle"
)

// Valid reports whether t is a recognized recommendation type.
func (t RecommendationType) Valid() bool {
	switch t {
	case TypeHomepage, TypeTransactionTriggered, TypePortfolioOptimization,
		TypeCategorySpecific, TypeSeasonal, TypeLifecycle:
		return true
	}
	return false
}

// Priority buckets an item by how prominently it should be surfaced.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// RequestContext carries the signal that prompted a recommendation request.
type RequestContext struct {
	TransactionID string  `json:"transactionId,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	Category      string  `json:"category,omitempty"`
	Merchant      string  `json:"merchant,omitempty"`
	UserIntent    string  `json:"userIntent,omitempty"`
}

// RequestFilters narrows the candidate card set before scoring.
type RequestFilters struct {
	MaxAnnualFee  *float64 `json:"maxAnnualFee,omitempty"`
	CardTypes     []string `json:"cardTypes,omitempty"`
	ExcludeOwned  bool     `json:"excludeOwned,omitempty"`

	// Expression is an optional CEL eligibility expression evaluated
	// against each candidate card (e.g. "annual_fee < 100.0").
	Expression string `json:"expression,omitempty"`
}

// RequestOptions tunes orchestration behavior for a single request.
type RequestOptions struct {
	MaxResults       int  `json:"maxResults,omitempty"`
	IncludeFallbacks bool `json:"includeFallbacks,omitempty"`
}

// RecommendationRequest is a single recommendation query. Immutable once
// created; the orchestrator never mutates it.
type RecommendationRequest struct {
	UserID  string             `json:"userId"`
	Type    RecommendationType `json:"type"`
	Context *RequestContext    `json:"context,omitempty"`
	Filters *RequestFilters    `json:"filters,omitempty"`
	Options *RequestOptions    `json:"options,omitempty"`
}

// RecommendationItem is one scored candidate card. Items are produced fresh
// per request and never mutated after creation.
type RecommendationItem struct {
	CardID             string   `json:"cardId"`
	CardName           string   `json:"cardName"`
	Score              float64  `json:"score"`
	Reasoning          string   `json:"reasoning"`
	EstimatedBenefit   float64  `json:"estimatedBenefit"`
	Confidence         float64  `json:"confidence"`
	Priority           Priority `json:"priority"`
	CTAText            string   `json:"ctaText"`
	MessageTitle       string   `json:"messageTitle"`
	MessageDescription string   `json:"messageDescription"`
	Tags               []string `json:"tags,omitempty"`
}

// ResultMetadata describes how a result was produced.
type ResultMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	Strategy       string `json:"strategy"`
	Fallback       bool   `json:"fallback,omitempty"`
	CandidateCount int    `json:"candidateCount"`
	FilteredCount  int    `json:"filteredCount"`
	ProcessMs      int64  `json:"processMs"`
	EngineVersion  string `json:"engineVersion"`
}

// RecommendationResult is the fully post-processed output of one request.
type RecommendationResult struct {
	ID              string               `json:"id"`
	Type            RecommendationType   `json:"type"`
	UserID          string               `json:"userId"`
	Recommendations []RecommendationItem `json:"recommendations"`
	Metadata        ResultMetadata       `json:"metadata"`
	CreatedAt       time.Time            `json:"createdAt"`
	ExpiresAt       time.Time            `json:"expiresAt"`
}

// Result TTLs, enforced by consumers rather than this layer.
const (
	TTLHomepage             = 24 * time.Hour
	TTLTransactionTriggered = time.Hour
	TTLDefault              = 6 * time.Hour
)

// TTLFor returns the result lifetime for a recommendation type.
func TTLFor(t RecommendationType) time.Duration {
	switch t {
	case TypeHomepage:
		return TTLHomepage
	case TypeTransactionTriggered:
		return TTLTransactionTriggered
	default:
		return TTLDefault
	}
}

// Feedback is a user's reaction to a delivered recommendation.
type Feedback struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	RecommendationID string    `json:"recommendationId"`
	Action           string    `json:"action"` // "clicked", "dismissed", "applied"
	CardID           string    `json:"cardId,omitempty"`
	Comment          string    `json:"comment,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// BatchStats summarizes a batch submission for audit logging.
type BatchStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
