package recommend

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Priority thresholds.
const (
	highScoreThreshold    = 0.8
	highBenefitThreshold  = 500.0
	mediumScoreThreshold  = 0.5
	mediumBenefitThreshold = 100.0
)

// defaultMaxResults bounds a result when the request does not set one.
const defaultMaxResults = 10

// postProcess deduplicates, clamps, prioritizes, sorts, and truncates a
// generated item list. Pure function: it never fails and never mutates
// its input slice's items.
func postProcess(items []domain.RecommendationItem, maxResults int) []domain.RecommendationItem {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	seen := make(map[string]bool, len(items))
	out := make([]domain.RecommendationItem, 0, len(items))
	for _, item := range items {
		if item.CardID == "" || seen[item.CardID] {
			continue
		}
		seen[item.CardID] = true

		item.Score = clamp01(item.Score)
		item.Confidence = clamp01(item.Confidence)
		if item.Priority == "" {
			item.Priority = derivePriority(item.Score, item.EstimatedBenefit)
		}
		out = append(out, item)
	}

	// Deterministic order: score, then benefit, then card id.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].EstimatedBenefit != out[j].EstimatedBenefit {
			return out[i].EstimatedBenefit > out[j].EstimatedBenefit
		}
		return out[i].CardID < out[j].CardID
	})

	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

func derivePriority(score, benefit float64) domain.Priority {
	switch {
	case score > highScoreThreshold || benefit > highBenefitThreshold:
		return domain.PriorityHigh
	case score > mediumScoreThreshold || benefit > mediumBenefitThreshold:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// fallbackItems is the minimal type-agnostic recommendation set served
// when generation fails but the caller asked for best-effort output.
// Deterministic so degraded behavior is reproducible.
func fallbackItems() []domain.RecommendationItem {
	return []domain.RecommendationItem{
		{
			CardID:             "basic_cash",
			CardName:           "Basic Cash Rewards",
			Score:              0.5,
			Reasoning:          "Reliable flat-rate cash back with no annual fee",
			EstimatedBenefit:   150,
			Confidence:         0.3,
			Priority:           domain.PriorityMedium,
			CTAText:            "Learn more",
			MessageTitle:       "A dependable everyday card",
			MessageDescription: "Earn consistent cash back on every purchase with no annual fee.",
			Tags:               []string{"fallback", "no_annual_fee"},
		},
		{
			CardID:             "everyday_points",
			CardName:           "Everyday Points",
			Score:              0.4,
			Reasoning:          "Broad category coverage for common spending",
			EstimatedBenefit:   100,
			Confidence:         0.3,
			Priority:           domain.PriorityLow,
			CTAText:            "See details",
			MessageTitle:       "Points on the essentials",
			MessageDescription: "Collect points on groceries, gas, and dining with simple redemption.",
			Tags:               []string{"fallback"},
		},
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
