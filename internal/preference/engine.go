// Package preference implements the multi-factor preference scoring
// engine used to filter and rank candidate cards.
package preference

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Fixed component weights. Sum to 1.0 and are never adjusted inside a
// single request.
const (
	weightCardType   = 0.15
	weightCategory   = 0.25
	weightConstraint = 0.20
	weightBehavior   = 0.15
	weightRisk       = 0.10
	weightGoal       = 0.15
)

// Tunable scoring parameters.
const (
	// categoryRateScale maps a weighted reward rate (pct) onto [0,1].
	categoryRateScale = 5.0

	// Constraint penalties.
	annualFeePenalty   = 0.5
	creditScorePenalty = 0.3

	// Cards below this compliance are dropped by filtering.
	minCompliance = 0.5

	// Confidence is capped so a purely local score never claims
	// model-grade certainty.
	maxConfidence = 0.9

	// Explanation thresholds.
	strongComponent = 0.7
	weakComponent   = 0.5
)

var preferenceValues = map[string]float64{
	domain.PrefStronglyPrefer: 1.0,
	domain.PrefPrefer:         0.8,
	domain.PrefNeutral:        0.5,
	domain.PrefAvoid:          0.2,
	domain.PrefStronglyAvoid:  0.0,
}

// Engine scores cards against preference profiles. Stateless; safe for
// concurrent use.
type Engine struct{}

// NewEngine creates a preference scoring engine.
func NewEngine() *Engine {
	return &Engine{}
}

// ScoredCard pairs a candidate with its preference evaluation.
type ScoredCard struct {
	Card  *domain.CreditCard
	Score domain.PreferenceScore
}

// Score evaluates one card against one profile. Pure function: same
// inputs always produce the same output.
func (e *Engine) Score(card *domain.CreditCard, profile *domain.UserPreferenceProfile) domain.PreferenceScore {
	components := domain.ComponentScores{
		CardTypeMatch:        e.cardTypeMatch(card, profile),
		CategoryAlignment:    e.categoryAlignment(card, profile),
		ConstraintCompliance: e.constraintCompliance(card, profile),
		BehavioralFit:        e.behavioralFit(card, profile),
		RiskAlignment:        e.riskAlignment(card, profile),
		GoalAlignment:        e.goalAlignment(card, profile),
	}

	total := components.CardTypeMatch*weightCardType +
		components.CategoryAlignment*weightCategory +
		components.ConstraintCompliance*weightConstraint +
		components.BehavioralFit*weightBehavior +
		components.RiskAlignment*weightRisk +
		components.GoalAlignment*weightGoal

	return domain.PreferenceScore{
		TotalScore:      clamp01(total),
		ComponentScores: components,
		Explanation:     explain(components),
		Confidence:      confidence(components),
	}
}

// FilterCardsByPreferences drops cards that violate the user's hard
// constraints. Total over its input: an internal error never removes a
// card, it passes through instead.
func (e *Engine) FilterCardsByPreferences(cards []*domain.CreditCard, profile *domain.UserPreferenceProfile) []*domain.CreditCard {
	if profile == nil {
		return cards
	}

	kept := make([]*domain.CreditCard, 0, len(cards))
	for _, card := range cards {
		if card == nil {
			continue
		}
		if e.compliesSafely(card, profile) {
			kept = append(kept, card)
		}
	}
	return kept
}

// compliesSafely evaluates constraint compliance, treating any panic in
// scoring as a pass so filtering stays total.
func (e *Engine) compliesSafely(card *domain.CreditCard, profile *domain.UserPreferenceProfile) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = true
		}
	}()
	return e.constraintCompliance(card, profile) >= minCompliance
}

// ScoreCardsByPreferences scores every candidate and returns them
// sorted descending by total score with stable ties.
func (e *Engine) ScoreCardsByPreferences(cards []*domain.CreditCard, profile *domain.UserPreferenceProfile) []ScoredCard {
	scored := make([]ScoredCard, 0, len(cards))
	for _, card := range cards {
		if card == nil {
			continue
		}
		scored = append(scored, ScoredCard{Card: card, Score: e.Score(card, profile)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score.TotalScore > scored[j].Score.TotalScore
	})
	return scored
}

func (e *Engine) cardTypeMatch(card *domain.CreditCard, profile *domain.UserPreferenceProfile) float64 {
	for _, pref := range profile.CardTypePreferences {
		if pref.CardType == card.CardType {
			if v, ok := preferenceValues[pref.Preference]; ok {
				return v
			}
			return 0.5
		}
	}
	return 0.5
}

func (e *Engine) categoryAlignment(card *domain.CreditCard, profile *domain.UserPreferenceProfile) float64 {
	var weightedSum, totalWeight float64
	for _, cp := range profile.SpendingCategoryPriorities {
		if cp.Priority <= 0 {
			continue
		}
		weight := float64(cp.Priority) / 10.0
		weightedSum += card.RewardRate(cp.Category) * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0.5
	}
	return clamp01(weightedSum / totalWeight / categoryRateScale)
}

func (e *Engine) constraintCompliance(card *domain.CreditCard, profile *domain.UserPreferenceProfile) float64 {
	score := 1.0
	constraints := profile.FinancialConstraints

	if constraints.MaxAnnualFee > 0 && card.AnnualFee > constraints.MaxAnnualFee {
		score -= annualFeePenalty
	}
	if constraints.MinCreditScore > 0 && card.MinCreditScore > constraints.MinCreditScore {
		score -= creditScorePenalty
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (e *Engine) behavioralFit(card *domain.CreditCard, profile *domain.UserPreferenceProfile) float64 {
	if profile.BehavioralPreferences.ManagementStyle != "simple" {
		return 0.5
	}

	score := 0.5
	if card.AnnualFee == 0 {
		score += 0.3
	}
	if len(card.BonusCategories) <= 2 {
		score += 0.2
	}
	return clamp01(score)
}

func (e *Engine) riskAlignment(card *domain.CreditCard, profile *domain.UserPreferenceProfile) float64 {
	switch profile.RiskProfile.FeeTolerance {
	case "none":
		if card.AnnualFee == 0 {
			return 1.0
		}
		return 0.1
	case "low":
		if card.AnnualFee <= 100 {
			return 0.8
		}
		return 0.3
	case "medium":
		return 0.6
	case "high":
		if card.AnnualFee > 0 {
			return 0.8
		}
		return 0.5
	default:
		return 0.5
	}
}

func (e *Engine) goalAlignment(card *domain.CreditCard, profile *domain.UserPreferenceProfile) float64 {
	switch profile.Goals.Primary {
	case "maximize_rewards":
		best := card.BaseRatePct
		for _, rate := range card.BonusCategories {
			if rate > best {
				best = rate
			}
		}
		return clamp01(best / categoryRateScale)
	case "minimize_fees":
		if card.AnnualFee == 0 {
			return 1.0
		}
		return clamp01(1.0 - card.AnnualFee/500.0)
	case "build_credit":
		switch {
		case card.MinCreditScore <= 600:
			return 1.0
		case card.MinCreditScore <= 650:
			return 0.7
		default:
			return 0.4
		}
	default:
		return 0.5
	}
}

// confidence grows with the spread of component scores around 0.5: a
// uniformly mediocre evaluation says little, a polarized one says a lot.
func confidence(c domain.ComponentScores) float64 {
	values := componentValues(c)
	var sumSq float64
	for _, v := range values {
		d := v - 0.5
		sumSq += d * d
	}
	spread := math.Sqrt(sumSq / float64(len(values)))
	return math.Min(maxConfidence, 2*spread)
}

func explain(c domain.ComponentScores) []string {
	var out []string
	if c.CardTypeMatch > strongComponent {
		out = append(out, "matches your preferred card type")
	}
	if c.CategoryAlignment > strongComponent {
		out = append(out, "strong category match with your spending")
	}
	if c.ConstraintCompliance < weakComponent {
		out = append(out, "may violate your constraints")
	}
	if c.BehavioralFit > strongComponent {
		out = append(out, "fits your card management style")
	}
	if c.RiskAlignment > strongComponent {
		out = append(out, "fits your fee tolerance")
	}
	if c.GoalAlignment > strongComponent {
		out = append(out, "well aligned with your primary goal")
	}
	return out
}

func componentValues(c domain.ComponentScores) [6]float64 {
	return [6]float64{
		c.CardTypeMatch,
		c.CategoryAlignment,
		c.ConstraintCompliance,
		c.BehavioralFit,
		c.RiskAlignment,
		c.GoalAlignment,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
