package preference

import (
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Inference window and defaults.
const (
	inferenceWindowDays = 90
	defaultMaxAnnualFee = 100.0
	feeHeadroom         = 1.5
)

// AnalyzeSpending aggregates transactions in the trailing window into
// average monthly spend per category. Transactions outside the window
// are ignored.
func AnalyzeSpending(txns []*domain.Transaction, asOf time.Time) domain.SpendingPattern {
	cutoff := asOf.AddDate(0, 0, -inferenceWindowDays)
	months := float64(inferenceWindowDays) / 30.0

	pattern := make(domain.SpendingPattern)
	for _, tx := range txns {
		if tx == nil || tx.Amount <= 0 {
			continue
		}
		if tx.PostedAt.Before(cutoff) || tx.PostedAt.After(asOf) {
			continue
		}
		pattern[tx.Category] += tx.Amount
	}
	for category, total := range pattern {
		pattern[category] = total / months
	}
	return pattern
}

// InferProfile derives a preference profile from a user's cards and
// recent transactions. Deterministic: identical inputs (including asOf)
// always yield an identical profile, so inference can run on every
// request without flapping.
func InferProfile(user *domain.User, cards []*domain.UserCard, txns []*domain.Transaction, asOf time.Time) *domain.UserPreferenceProfile {
	profile := &domain.UserPreferenceProfile{
		Inferred: true,
	}
	if user != nil {
		profile.UserID = user.ID
	}

	held := heldCards(cards)
	profile.CardTypePreferences = inferCardTypePreferences(held)
	profile.SpendingCategoryPriorities = inferCategoryPriorities(txns, asOf)
	profile.FinancialConstraints = inferConstraints(held)
	profile.BehavioralPreferences = inferBehavior(held)
	profile.RiskProfile = inferRisk(held)
	profile.Goals = inferGoals(held)

	return profile
}

func heldCards(cards []*domain.UserCard) []*domain.CreditCard {
	out := make([]*domain.CreditCard, 0, len(cards))
	for _, uc := range cards {
		if uc != nil && uc.Card != nil {
			out = append(out, uc.Card)
		}
	}
	return out
}

// inferCardTypePreferences reads repeat card types as preference. One
// card of a type is neutral, two or more is a stated preference. Output
// is sorted by card type for stable serialization.
func inferCardTypePreferences(held []*domain.CreditCard) []domain.CardTypePreference {
	counts := make(map[string]int)
	for _, card := range held {
		counts[card.CardType]++
	}

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	out := make([]domain.CardTypePreference, 0, len(types))
	for _, t := range types {
		pref := domain.PrefNeutral
		if counts[t] >= 2 {
			pref = domain.PrefPrefer
		}
		out = append(out, domain.CardTypePreference{CardType: t, Preference: pref})
	}
	return out
}

// inferCategoryPriorities converts the trailing spend distribution into
// 1-10 priorities proportional to each category's share of total spend.
// Sorted by priority descending, then category ascending, for stable
// output.
func inferCategoryPriorities(txns []*domain.Transaction, asOf time.Time) []domain.CategoryPriority {
	pattern := AnalyzeSpending(txns, asOf)
	total := pattern.Total()
	if total <= 0 {
		return nil
	}

	out := make([]domain.CategoryPriority, 0, len(pattern))
	for category, monthly := range pattern {
		share := monthly / total
		priority := int(math.Round(share * 10))
		if priority < 1 {
			priority = 1
		}
		if priority > 10 {
			priority = 10
		}
		out = append(out, domain.CategoryPriority{Category: category, Priority: priority})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// inferConstraints assumes the user tolerates fees up to 1.5x the
// highest fee they already pay. A user with no cards gets a modest
// default ceiling.
func inferConstraints(held []*domain.CreditCard) domain.FinancialConstraints {
	if len(held) == 0 {
		return domain.FinancialConstraints{
			MaxAnnualFee:  defaultMaxAnnualFee,
			MaxTotalCards: 3,
		}
	}

	var maxFee float64
	minScore := 0
	for _, card := range held {
		if card.AnnualFee > maxFee {
			maxFee = card.AnnualFee
		}
		if card.MinCreditScore > minScore {
			minScore = card.MinCreditScore
		}
	}

	maxAnnualFee := maxFee * feeHeadroom
	if maxAnnualFee < defaultMaxAnnualFee {
		maxAnnualFee = defaultMaxAnnualFee
	}

	return domain.FinancialConstraints{
		MaxAnnualFee:   maxAnnualFee,
		MinCreditScore: minScore,
		MaxTotalCards:  len(held) + 2,
	}
}

func inferBehavior(held []*domain.CreditCard) domain.BehavioralPreferences {
	style := "active"
	if len(held) <= 2 {
		style = "simple"
	}
	return domain.BehavioralPreferences{ManagementStyle: style}
}

func inferRisk(held []*domain.CreditCard) domain.RiskProfile {
	var maxFee float64
	for _, card := range held {
		if card.AnnualFee > maxFee {
			maxFee = card.AnnualFee
		}
	}

	tolerance := "low"
	switch {
	case len(held) > 0 && maxFee == 0:
		tolerance = "none"
	case maxFee >= 300:
		tolerance = "high"
	case maxFee >= 100:
		tolerance = "medium"
	}
	return domain.RiskProfile{FeeTolerance: tolerance}
}

func inferGoals(held []*domain.CreditCard) domain.Goals {
	if len(held) == 0 {
		return domain.Goals{Primary: "build_credit"}
	}
	allFree := true
	for _, card := range held {
		if card.AnnualFee > 0 {
			allFree = false
			break
		}
	}
	if allFree {
		return domain.Goals{Primary: "minimize_fees"}
	}
	return domain.Goals{Primary: "maximize_rewards"}
}
