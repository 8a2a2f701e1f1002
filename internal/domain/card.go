package domain

import (
	"time"
)

// CreditCard is one catalog entry. Catalog rows arrive pre-validated from
// the store; this layer only null-checks them.
type CreditCard struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Issuer           string             `json:"issuer"`
	CardType         string             `json:"cardType"` // "cashback", "travel", "business", "student"
	AnnualFee        float64            `json:"annualFee"`
	BaseRatePct      float64            `json:"baseRatePct"`
	BonusCategories  map[string]float64 `json:"bonusCategories,omitempty"` // category -> reward rate pct
	RewardType       string             `json:"rewardType"`                // "cashback", "points", "miles"
	PointValueCent   float64            `json:"pointValueCent"`
	SignupBonusValue float64            `json:"signupBonusValue"`
	MinCreditScore   int                `json:"minCreditScore"`
	Active           bool               `json:"active"`
}

// RewardRate returns the card's reward rate for a spending category,
// falling back to the base rate when no bonus applies.
func (c *CreditCard) RewardRate(category string) float64 {
	if rate, ok := c.BonusCategories[category]; ok {
		return rate
	}
	return c.BaseRatePct
}

// User is a minimal account view needed for recommendation generation.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserCard links a user to a card they hold.
type UserCard struct {
	UserID   string    `json:"userId"`
	CardID   string    `json:"cardId"`
	Card     *CreditCard `json:"card,omitempty"`
	AddedAt  time.Time `json:"addedAt"`
}

// Transaction is one user purchase used for spending-pattern analysis.
type Transaction struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	CardID   string    `json:"cardId,omitempty"`
	Amount   float64   `json:"amount"`
	Category string    `json:"category"`
	Merchant string    `json:"merchant,omitempty"`
	PostedAt time.Time `json:"postedAt"`
}

// SpendingPattern is average monthly spend by category.
type SpendingPattern map[string]float64

// Total returns the summed monthly spend across categories.
func (p SpendingPattern) Total() float64 {
	var total float64
	for _, v := range p {
		total += v
	}
	return total
}
