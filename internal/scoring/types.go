package scoring

// Request/response shapes for the RecEngine scoring provider. Field names
// follow the provider's JSON contract; optional response fields get
// explicit defaults at decode time so nothing downstream handles nulls.

// TriggerClassifyRequest asks whether a transaction should trigger a
// card recommendation.
type TriggerClassifyRequest struct {
	UserID        string  `json:"user_id"`
	Amount        float64 `json:"amount"`
	Category      string  `json:"category"`
	CurrentCardID string  `json:"current_card_id,omitempty"`
	Merchant      string  `json:"merchant,omitempty"`
	Timestamp     string  `json:"timestamp,omitempty"`
}

// TriggerClassifyResponse is the provider's trigger decision.
type TriggerClassifyResponse struct {
	RecommendFlag   bool    `json:"recommend_flag"`
	ConfidenceScore float64 `json:"confidence_score"`
	SuggestedCardID string  `json:"suggested_card_id"`
	ExtraReward     float64 `json:"extra_reward"`
	Reasoning       string  `json:"reasoning"`
}

// RankingRequest asks for a personalized card ranking.
type RankingRequest struct {
	UserID          string             `json:"user_id"`
	UserCards       []string           `json:"user_cards,omitempty"`
	SpendingPattern map[string]float64 `json:"spending_pattern,omitempty"`
	Preferences     map[string]any     `json:"preferences,omitempty"`
}

// RankedCard is one entry in a provider ranking.
type RankedCard struct {
	CardID       string  `json:"card_id"`
	Issuer       string  `json:"issuer"`
	CardName     string  `json:"card_name"`
	RankingScore float64 `json:"ranking_score"`
	AnnualFee    float64 `json:"annual_fee"`
	SignupBonus  float64 `json:"signup_bonus"`
	AnnualReward float64 `json:"annual_reward"`
	NetBenefit   float64 `json:"net_benefit"`
	Reason       string  `json:"reason"`
}

// RankingResponse is the provider's ranked card list.
type RankingResponse struct {
	RankedCards  []RankedCard `json:"ranked_cards"`
	UserID       string       `json:"user_id"`
	RankingScore float64      `json:"ranking_score"`
}

// RewardEstimateRequest asks for projected rewards on one card.
type RewardEstimateRequest struct {
	UserID            string             `json:"user_id"`
	CardID            string             `json:"card_id"`
	ProjectedSpending map[string]float64 `json:"projected_spending"`
	TimeHorizonMonths int                `json:"time_horizon_months,omitempty"`
}

// RewardEstimateResponse is the provider's reward projection.
type RewardEstimateResponse struct {
	EstimatedAnnualReward float64            `json:"estimated_annual_reward"`
	CategoryBreakdown     map[string]float64 `json:"category_breakdown"`
	ComparedToCurrent     float64            `json:"compared_to_current"`
}

// PortfolioRequest asks for portfolio optimization advice.
type PortfolioRequest struct {
	UserID             string             `json:"user_id"`
	CurrentCards       []string           `json:"current_cards"`
	SpendingPattern    map[string]float64 `json:"spending_pattern"`
	MaxCards           int                `json:"max_cards,omitempty"`
	ConsiderAnnualFees bool               `json:"consider_annual_fees"`
}

// PortfolioAction is one suggested portfolio change.
type PortfolioAction struct {
	Action           string  `json:"action"` // "add", "switch", "drop"
	CardID           string  `json:"card_id"`
	CardName         string  `json:"card_name"`
	Reasoning        string  `json:"reasoning"`
	ImpactScore      float64 `json:"impact_score"`
	AnnualFee        float64 `json:"annual_fee"`
	AnnualFeeSavings float64 `json:"annual_fee_savings"`
}

// PortfolioResponse is the provider's optimization result.
type PortfolioResponse struct {
	Recommendations         []PortfolioAction `json:"recommendations"`
	CurrentPortfolioScore   float64           `json:"current_portfolio_score"`
	OptimizedPortfolioScore float64           `json:"optimized_portfolio_score"`
}

// HealthStatus is the provider's health report.
type HealthStatus struct {
	Status        string  `json:"status"`
	Timestamp     string  `json:"timestamp"`
	ModelsLoaded  bool    `json:"models_loaded"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}
