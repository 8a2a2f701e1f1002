package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/preference"
	"github.com/opensource-finance/kestrel/internal/resilience"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Blend weights for strategies that combine provider ranking with local
// preference scoring.
const (
	providerWeight = 0.6
	localWeight    = 0.4
)

// generation is one strategy's raw output before post-processing.
type generation struct {
	strategy       string
	items          []domain.RecommendationItem
	candidateCount int
	filteredCount  int
}

// generate routes a validated request to its type-specific strategy.
func (o *Orchestrator) generate(ctx context.Context, req *domain.RecommendationRequest) (*generation, error) {
	switch req.Type {
	case domain.TypeHomepage:
		return o.generateHomepage(ctx, req)
	case domain.TypeTransactionTriggered:
		return o.generateTransactionTriggered(ctx, req)
	case domain.TypePortfolioOptimization:
		return o.generatePortfolio(ctx, req)
	case domain.TypeCategorySpecific:
		return o.generateCategorySpecific(ctx, req)
	case domain.TypeSeasonal:
		return o.generateSeasonal(ctx, req)
	case domain.TypeLifecycle:
		return o.generateLifecycle(ctx, req)
	default:
		return nil, &domain.InvalidRequestError{Reason: "unrecognized recommendation type: " + string(req.Type)}
	}
}

// userState is the per-request view of a user's cards and spending,
// loaded once and shared by a strategy's steps.
type userState struct {
	profile  *domain.UserPreferenceProfile
	owned    map[string]bool
	ownedIDs []string
	spending domain.SpendingPattern
}

func (o *Orchestrator) loadUserState(ctx context.Context, userID string) *userState {
	state := &userState{
		profile: o.loadProfile(ctx, userID),
		owned:   make(map[string]bool),
	}

	if cards, err := o.store.FindUserCardsWithDetails(ctx, userID); err == nil {
		for _, uc := range cards {
			if uc != nil {
				state.owned[uc.CardID] = true
				state.ownedIDs = append(state.ownedIDs, uc.CardID)
			}
		}
	}

	now := time.Now().UTC()
	if txns, err := o.store.FindTransactionsByUserAndDateRange(ctx, userID, now.AddDate(0, 0, -90), now); err == nil {
		state.spending = preference.AnalyzeSpending(txns, now)
	} else {
		state.spending = domain.SpendingPattern{}
	}

	return state
}

// candidates loads the active catalog and narrows it through eligibility
// rules, request filters, and preference constraints.
func (o *Orchestrator) candidates(ctx context.Context, req *domain.RecommendationRequest, state *userState) ([]*domain.CreditCard, int, int, error) {
	active, err := o.store.FindActiveCards(ctx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("loading card catalog: %w", err)
	}
	total := len(active)

	cards := o.rules.EligibleCards(active, state.owned)

	if f := req.Filters; f != nil {
		filtered := make([]*domain.CreditCard, 0, len(cards))

		var exprFilter interface {
			Matches(card *domain.CreditCard, owned bool) bool
		}
		if f.Expression != "" {
			compiled, err := o.rules.CompileFilter(f.Expression)
			if err != nil {
				return nil, 0, 0, &domain.InvalidRequestError{Reason: "bad filter expression: " + err.Error()}
			}
			exprFilter = compiled
		}

		for _, card := range cards {
			if f.MaxAnnualFee != nil && card.AnnualFee > *f.MaxAnnualFee {
				continue
			}
			if len(f.CardTypes) > 0 && !containsString(f.CardTypes, card.CardType) {
				continue
			}
			if f.ExcludeOwned && state.owned[card.ID] {
				continue
			}
			if exprFilter != nil && !exprFilter.Matches(card, state.owned[card.ID]) {
				continue
			}
			filtered = append(filtered, card)
		}
		cards = filtered
	}

	cards = o.prefs.FilterCardsByPreferences(cards, state.profile)
	return cards, total, len(cards), nil
}

// generateHomepage blends the provider's personalized ranking with local
// preference scores over the filtered catalog.
func (o *Orchestrator) generateHomepage(ctx context.Context, req *domain.RecommendationRequest) (*generation, error) {
	state := o.loadUserState(ctx, req.UserID)

	cards, total, filtered, err := o.candidates(ctx, req, state)
	if err != nil {
		return nil, err
	}

	ranked, err := resilience.ExecuteWithRetry(ctx, o.manager, domain.ServiceRanking, 0, 0,
		func(ctx context.Context) (*scoring.RankingResponse, error) {
			return o.client.PersonalizedRanking(ctx, &scoring.RankingRequest{
				UserID:          req.UserID,
				UserCards:       state.ownedIDs,
				SpendingPattern: state.spending,
			})
		})
	if err != nil {
		return nil, err
	}

	providerScores := make(map[string]scoring.RankedCard, len(ranked.RankedCards))
	for _, rc := range ranked.RankedCards {
		providerScores[rc.CardID] = rc
	}

	items := make([]domain.RecommendationItem, 0, len(cards))
	for _, card := range cards {
		pref := o.prefs.Score(card, state.profile)

		score := pref.TotalScore
		reasoning := strings.Join(pref.Explanation, "; ")
		benefit := estimateAnnualBenefit(card, state.spending)

		if rc, ok := providerScores[card.ID]; ok {
			score = providerWeight*clamp01(rc.RankingScore) + localWeight*pref.TotalScore
			if rc.Reason != "" {
				reasoning = rc.Reason
			}
			if rc.NetBenefit != 0 {
				benefit = rc.NetBenefit
			} else if rc.AnnualReward != 0 {
				benefit = rc.AnnualReward
			}
		}
		if reasoning == "" {
			reasoning = "Good fit for your spending pattern"
		}

		items = append(items, domain.RecommendationItem{
			CardID:             card.ID,
			CardName:           card.Name,
			Score:              score,
			Reasoning:          reasoning,
			EstimatedBenefit:   benefit,
			Confidence:         pref.Confidence,
			CTAText:            "See if you qualify",
			MessageTitle:       fmt.Sprintf("%s could earn you more", card.Name),
			MessageDescription: reasoning,
			Tags:               cardTags(card),
		})
	}

	return &generation{
		strategy:       "homepage",
		items:          items,
		candidateCount: total,
		filteredCount:  filtered,
	}, nil
}

// generateTransactionTriggered asks the provider whether this purchase
// warranted a better card, honoring the per-user cooldown window.
func (o *Orchestrator) generateTransactionTriggered(ctx context.Context, req *domain.RecommendationRequest) (*generation, error) {
	gen := &generation{strategy: "transaction_triggered"}

	if o.cooldown.OnCooldown(ctx, req.UserID) {
		return gen, nil
	}

	currentCard := ""
	if len(req.Context.TransactionID) > 0 {
		if tx := o.findTransaction(ctx, req.UserID, req.Context.TransactionID); tx != nil {
			currentCard = tx.CardID
		}
	}

	resp, err := resilience.ExecuteWithRetry(ctx, o.manager, domain.ServiceTriggerClassify, 0, 0,
		func(ctx context.Context) (*scoring.TriggerClassifyResponse, error) {
			return o.client.TriggerClassify(ctx, &scoring.TriggerClassifyRequest{
				UserID:        req.UserID,
				Amount:        req.Context.Amount,
				Category:      req.Context.Category,
				Merchant:      req.Context.Merchant,
				CurrentCardID: currentCard,
				Timestamp:     time.Now().UTC().Format(time.RFC3339),
			})
		})
	if err != nil {
		return nil, err
	}

	if !resp.RecommendFlag || resp.SuggestedCardID == "" {
		return gen, nil
	}

	name := resp.SuggestedCardID
	var tags []string
	if card, err := o.store.FindCardByID(ctx, resp.SuggestedCardID); err == nil && card != nil {
		name = card.Name
		tags = cardTags(card)
	}

	gen.items = []domain.RecommendationItem{{
		CardID:             resp.SuggestedCardID,
		CardName:           name,
		Score:              resp.ConfidenceScore,
		Reasoning:          resp.Reasoning,
		EstimatedBenefit:   resp.ExtraReward * 12,
		Confidence:         resp.ConfidenceScore,
		CTAText:            fmt.Sprintf("Pay with %s next time", name),
		MessageTitle:       "A better card for this purchase",
		MessageDescription: resp.Reasoning,
		Tags:               tags,
	}}
	gen.candidateCount = 1
	gen.filteredCount = 1

	// Cooldown bookkeeping must not block delivery.
	if err := o.cooldown.Mark(ctx, req.UserID); err != nil {
		slog.Debug("cooldown mark failed", "user_id", req.UserID, "error", err)
	}

	return gen, nil
}

// generatePortfolio converts the provider's optimization advice into
// actionable items.
func (o *Orchestrator) generatePortfolio(ctx context.Context, req *domain.RecommendationRequest) (*generation, error) {
	state := o.loadUserState(ctx, req.UserID)

	maxCards := 0
	if state.profile != nil {
		maxCards = state.profile.FinancialConstraints.MaxTotalCards
	}

	resp, err := resilience.ExecuteWithRetry(ctx, o.manager, domain.ServicePortfolioOptimize, 0, 0,
		func(ctx context.Context) (*scoring.PortfolioResponse, error) {
			return o.client.OptimizePortfolio(ctx, &scoring.PortfolioRequest{
				UserID:             req.UserID,
				CurrentCards:       state.ownedIDs,
				SpendingPattern:    state.spending,
				MaxCards:           maxCards,
				ConsiderAnnualFees: true,
			})
		})
	if err != nil {
		return nil, err
	}

	items := make([]domain.RecommendationItem, 0, len(resp.Recommendations))
	for _, action := range resp.Recommendations {
		benefit := action.AnnualFeeSavings
		if benefit == 0 {
			benefit = action.ImpactScore * 100
		}

		items = append(items, domain.RecommendationItem{
			CardID:             action.CardID,
			CardName:           action.CardName,
			Score:              clamp01(action.ImpactScore),
			Reasoning:          action.Reasoning,
			EstimatedBenefit:   benefit,
			Confidence:         clamp01(resp.OptimizedPortfolioScore - resp.CurrentPortfolioScore),
			CTAText:            portfolioCTA(action.Action, action.CardName),
			MessageTitle:       "Optimize your card portfolio",
			MessageDescription: action.Reasoning,
			Tags:               []string{"portfolio", action.Action},
		})
	}

	return &generation{
		strategy:       "portfolio_optimization",
		items:          items,
		candidateCount: len(resp.Recommendations),
		filteredCount:  len(items),
	}, nil
}

// generateCategorySpecific ranks cards by their reward rate in one
// spending category, with provider reward estimates for the leaders.
func (o *Orchestrator) generateCategorySpecific(ctx context.Context, req *domain.RecommendationRequest) (*generation, error) {
	state := o.loadUserState(ctx, req.UserID)

	category := ""
	if req.Context != nil {
		category = req.Context.Category
	}
	if category == "" && len(state.profile.SpendingCategoryPriorities) > 0 {
		category = state.profile.SpendingCategoryPriorities[0].Category
	}
	if category == "" {
		return nil, &domain.InvalidRequestError{Reason: "category_specific requires a category in context or profile"}
	}

	cards, total, filtered, err := o.candidates(ctx, req, state)
	if err != nil {
		return nil, err
	}

	items := make([]domain.RecommendationItem, 0, len(cards))
	for i, card := range cards {
		rate := card.RewardRate(category)
		pref := o.prefs.Score(card, state.profile)
		score := clamp01(providerWeight*(rate/5.0) + localWeight*pref.TotalScore)

		benefit := estimateAnnualBenefit(card, state.spending)
		// Ask the provider for a precise projection on the leaders; a
		// per-card estimate failure falls back to the local number.
		if i < 3 {
			if est := o.estimateRewards(ctx, req.UserID, card.ID, state.spending); est > 0 {
				benefit = est
			}
		}

		reasoning := fmt.Sprintf("Earns %.1f%% on %s", rate, category)
		items = append(items, domain.RecommendationItem{
			CardID:             card.ID,
			CardName:           card.Name,
			Score:              score,
			Reasoning:          reasoning,
			EstimatedBenefit:   benefit,
			Confidence:         pref.Confidence,
			CTAText:            "Compare rates",
			MessageTitle:       fmt.Sprintf("Top card for %s", category),
			MessageDescription: reasoning,
			Tags:               append(cardTags(card), category),
		})
	}

	return &generation{
		strategy:       "category_specific",
		items:          items,
		candidateCount: total,
		filteredCount:  filtered,
	}, nil
}

// generateSeasonal boosts cards aligned with the current season's
// spending focus. Entirely local; the season is derived from the clock.
func (o *Orchestrator) generateSeasonal(ctx context.Context, req *domain.RecommendationRequest) (*generation, error) {
	state := o.loadUserState(ctx, req.UserID)

	cards, total, filtered, err := o.candidates(ctx, req, state)
	if err != nil {
		return nil, err
	}

	label, focus := currentSeason(time.Now().UTC())

	items := make([]domain.RecommendationItem, 0, len(cards))
	for _, card := range cards {
		var bestRate float64
		var bestCategory string
		for _, cat := range focus {
			if rate := card.RewardRate(cat); rate > bestRate {
				bestRate = rate
				bestCategory = cat
			}
		}

		pref := o.prefs.Score(card, state.profile)
		score := clamp01(providerWeight*(bestRate/5.0) + localWeight*pref.TotalScore)

		reasoning := fmt.Sprintf("Earns %.1f%% on %s during %s", bestRate, bestCategory, label)
		items = append(items, domain.RecommendationItem{
			CardID:             card.ID,
			CardName:           card.Name,
			Score:              score,
			Reasoning:          reasoning,
			EstimatedBenefit:   estimateAnnualBenefit(card, state.spending),
			Confidence:         pref.Confidence,
			CTAText:            "See seasonal offers",
			MessageTitle:       fmt.Sprintf("Make the most of %s spending", label),
			MessageDescription: reasoning,
			Tags:               append(cardTags(card), "seasonal", label),
		})
	}

	return &generation{
		strategy:       "seasonal",
		items:          items,
		candidateCount: total,
		filteredCount:  filtered,
	}, nil
}

// generateLifecycle recommends by account maturity: starter cards for
// new users, upgrades for established ones.
func (o *Orchestrator) generateLifecycle(ctx context.Context, req *domain.RecommendationRequest) (*generation, error) {
	state := o.loadUserState(ctx, req.UserID)

	cards, total, filtered, err := o.candidates(ctx, req, state)
	if err != nil {
		return nil, err
	}

	user, err := o.store.FindUserByID(ctx, req.UserID)
	if err != nil || user == nil {
		user = &domain.User{ID: req.UserID, CreatedAt: time.Now().UTC()}
	}
	established := len(state.ownedIDs) > 0 && time.Since(user.CreatedAt) > 365*24*time.Hour

	items := make([]domain.RecommendationItem, 0, len(cards))
	for _, card := range cards {
		pref := o.prefs.Score(card, state.profile)

		var stageBoost float64
		var reasoning, title string
		if established {
			// Upgrades: reward strong signup bonuses and rates.
			stageBoost = clamp01((card.BaseRatePct + card.SignupBonusValue/500.0) / 5.0)
			reasoning = "Your account history may qualify you for an upgrade"
			title = "Ready for your next card"
		} else {
			// Starters: reward accessible requirements and no fee.
			stageBoost = 0.3
			if card.MinCreditScore <= 650 {
				stageBoost += 0.4
			}
			if card.AnnualFee == 0 {
				stageBoost += 0.3
			}
			reasoning = "A good first step for building your credit history"
			title = "Start building your credit"
		}

		items = append(items, domain.RecommendationItem{
			CardID:             card.ID,
			CardName:           card.Name,
			Score:              clamp01(providerWeight*stageBoost + localWeight*pref.TotalScore),
			Reasoning:          reasoning,
			EstimatedBenefit:   estimateAnnualBenefit(card, state.spending),
			Confidence:         pref.Confidence,
			CTAText:            "Check eligibility",
			MessageTitle:       title,
			MessageDescription: reasoning,
			Tags:               append(cardTags(card), "lifecycle"),
		})
	}

	return &generation{
		strategy:       "lifecycle",
		items:          items,
		candidateCount: total,
		filteredCount:  filtered,
	}, nil
}

// estimateRewards asks the provider for an annual reward projection.
// Best-effort: any failure returns 0 and the caller keeps its local
// estimate.
func (o *Orchestrator) estimateRewards(ctx context.Context, userID, cardID string, spending domain.SpendingPattern) float64 {
	resp, err := resilience.ExecuteWithRetry(ctx, o.manager, domain.ServiceRewardEstimation, 1, 0,
		func(ctx context.Context) (*scoring.RewardEstimateResponse, error) {
			return o.client.EstimateRewards(ctx, &scoring.RewardEstimateRequest{
				UserID:            userID,
				CardID:            cardID,
				ProjectedSpending: spending,
				TimeHorizonMonths: 12,
			})
		})
	if err != nil {
		return resilience.Degraded(o.manager, domain.ServiceRewardEstimation, 0.0)
	}
	return resp.EstimatedAnnualReward
}

func (o *Orchestrator) findTransaction(ctx context.Context, userID, txID string) *domain.Transaction {
	now := time.Now().UTC()
	txns, err := o.store.FindTransactionsByUserAndDateRange(ctx, userID, now.AddDate(0, 0, -7), now)
	if err != nil {
		return nil
	}
	for _, tx := range txns {
		if tx != nil && tx.ID == txID {
			return tx
		}
	}
	return nil
}

// estimateAnnualBenefit projects a card's yearly net reward under the
// user's observed monthly spending.
func estimateAnnualBenefit(card *domain.CreditCard, spending domain.SpendingPattern) float64 {
	var reward float64
	for category, monthly := range spending {
		reward += monthly * 12 * card.RewardRate(category) / 100
	}
	benefit := reward - card.AnnualFee
	if benefit < 0 {
		return 0
	}
	return benefit
}

// currentSeason maps a month to a label and its focus categories.
func currentSeason(now time.Time) (string, []string) {
	switch now.Month() {
	case time.December, time.January, time.February:
		return "winter", []string{"shopping", "online", "groceries"}
	case time.March, time.April, time.May:
		return "spring", []string{"home_improvement", "groceries", "gas"}
	case time.June, time.July, time.August:
		return "summer", []string{"travel", "gas", "dining"}
	default:
		return "fall", []string{"dining", "shopping", "groceries"}
	}
}

func portfolioCTA(action, cardName string) string {
	switch action {
	case "add":
		return fmt.Sprintf("Add %s", cardName)
	case "switch":
		return fmt.Sprintf("Switch to %s", cardName)
	case "drop":
		return fmt.Sprintf("Consider dropping %s", cardName)
	default:
		return "Review your portfolio"
	}
}

func cardTags(card *domain.CreditCard) []string {
	tags := []string{card.CardType}
	if card.AnnualFee == 0 {
		tags = append(tags, "no_annual_fee")
	}
	if card.SignupBonusValue > 0 {
		tags = append(tags, "signup_bonus")
	}
	return tags
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
