// Package ranking partitions provider-ranked candidates into the three
// display buckets used by consuming surfaces.
package ranking

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// featuredThreshold is the minimum score for the featured bucket.
const featuredThreshold = 0.8

// Buckets holds the three disjoint output groups. A card id never
// appears in more than one bucket.
type Buckets struct {
	Featured     []domain.RecommendationItem `json:"featured"`
	Trending     []domain.RecommendationItem `json:"trending"`
	Personalized []domain.RecommendationItem `json:"personalized"`
}

// Categorizer splits ranked candidates into featured, trending and
// personalized buckets. Stateless; safe for concurrent use.
type Categorizer struct{}

// NewCategorizer creates a ranking categorizer.
func NewCategorizer() *Categorizer {
	return &Categorizer{}
}

// Categorize partitions items, assumed pre-sorted descending by score,
// into three disjoint buckets of at most maxPerCategory entries each.
//
// Featured takes scores above 0.8. Trending takes items whose reasoning
// mentions trending or popularity, skipping anything already featured.
// Personalized takes the best of the rest. Input order is preserved
// within each bucket, so descending score order carries through.
func (c *Categorizer) Categorize(items []domain.RecommendationItem, maxPerCategory int) Buckets {
	if maxPerCategory <= 0 {
		return Buckets{}
	}

	placed := make(map[string]bool, len(items))
	var out Buckets

	for _, item := range items {
		if len(out.Featured) >= maxPerCategory {
			break
		}
		if item.Score > featuredThreshold && !placed[item.CardID] {
			out.Featured = append(out.Featured, item)
			placed[item.CardID] = true
		}
	}

	for _, item := range items {
		if len(out.Trending) >= maxPerCategory {
			break
		}
		if placed[item.CardID] {
			continue
		}
		if isTrending(item.Reasoning) {
			out.Trending = append(out.Trending, item)
			placed[item.CardID] = true
		}
	}

	for _, item := range items {
		if len(out.Personalized) >= maxPerCategory {
			break
		}
		if placed[item.CardID] {
			continue
		}
		out.Personalized = append(out.Personalized, item)
		placed[item.CardID] = true
	}

	return out
}

func isTrending(reasoning string) bool {
	lower := strings.ToLower(reasoning)
	return strings.Contains(lower, "trending") || strings.Contains(lower, "popular")
}
