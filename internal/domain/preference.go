package domain

// Preference levels for card types, on a five-point scale.
const (
	PrefStronglyPrefer = "strongly_prefer"
	PrefPrefer         = "prefer"
	PrefNeutral        = "neutral"
	PrefAvoid          = "avoid"
	PrefStronglyAvoid  = "strongly_avoid"
)

// CardTypePreference is the user's stated stance toward a card type.
type CardTypePreference struct {
	CardType   string `json:"cardType"`
	Preference string `json:"preference"`
}

// CategoryPriority ranks a spending category from 1 (lowest) to 10.
type CategoryPriority struct {
	Category string `json:"category"`
	Priority int    `json:"priority"`
}

// FinancialConstraints bound what the user will accept.
type FinancialConstraints struct {
	MaxAnnualFee   float64 `json:"maxAnnualFee"`
	MinCreditScore int     `json:"minCreditScore"` // highest requirement the user can meet
	MaxTotalCards  int     `json:"maxTotalCards,omitempty"`
}

// BehavioralPreferences capture how the user manages their cards.
type BehavioralPreferences struct {
	ManagementStyle string `json:"managementStyle"` // "simple" or "active"
	PrefersAutopay  bool   `json:"prefersAutopay,omitempty"`
}

// RiskProfile captures fee and complexity tolerance.
type RiskProfile struct {
	FeeTolerance string `json:"feeTolerance"` // "none", "low", "medium", "high"
}

// Goals names the user's primary financial objective.
type Goals struct {
	Primary string `json:"primary"` // "maximize_rewards", "minimize_fees", "build_credit"
}

// UserPreferenceProfile is either loaded from storage or inferred
// deterministically from card/transaction history. Read-only within the
// recommendation layer.
type UserPreferenceProfile struct {
	UserID                     string                 `json:"userId"`
	CardTypePreferences        []CardTypePreference   `json:"cardTypePreferences"`
	SpendingCategoryPriorities []CategoryPriority     `json:"spendingCategoryPriorities"`
	FinancialConstraints       FinancialConstraints   `json:"financialConstraints"`
	BehavioralPreferences      BehavioralPreferences  `json:"behavioralPreferences"`
	RiskProfile                RiskProfile            `json:"riskProfile"`
	Goals                      Goals                  `json:"goals"`
	Inferred                   bool                   `json:"inferred,omitempty"`
}

// ComponentScores holds the six sub-scores of a preference evaluation,
// each clamped to [0,1].
type ComponentScores struct {
	CardTypeMatch        float64 `json:"cardTypeMatch"`
	CategoryAlignment    float64 `json:"categoryAlignment"`
	ConstraintCompliance float64 `json:"constraintCompliance"`
	BehavioralFit        float64 `json:"behavioralFit"`
	RiskAlignment        float64 `json:"riskAlignment"`
	GoalAlignment        float64 `json:"goalAlignment"`
}

// PreferenceScore is the pure output of scoring one card against one
// profile. No identity, no persistence; recomputed on every query.
type PreferenceScore struct {
	TotalScore      float64         `json:"totalScore"`
	ComponentScores ComponentScores `json:"componentScores"`
	Explanation     []string        `json:"explanation,omitempty"`
	Confidence      float64         `json:"confidence"`
}
