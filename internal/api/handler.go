package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/eligibility"
	"github.com/opensource-finance/kestrel/internal/recommend"
	"github.com/opensource-finance/kestrel/internal/resilience"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	orch        *recommend.Orchestrator
	store       domain.Store
	cache       domain.Cache
	bus         domain.EventBus
	manager     *resilience.Manager
	eligibility *eligibility.Engine
	worker      *worker.Worker
	validate    *validator.Validate
	version     string
}

// NewHandler creates a new API handler.
func NewHandler(orch *recommend.Orchestrator, store domain.Store, cache domain.Cache, bus domain.EventBus, manager *resilience.Manager, elig *eligibility.Engine, wrk *worker.Worker, version string) *Handler {
	return &Handler{
		orch:        orch,
		store:       store,
		cache:       cache,
		bus:         bus,
		manager:     manager,
		eligibility: elig,
		worker:      wrk,
		validate:    validator.New(),
		version:     version,
	}
}

// RecommendationPayload is the request body for POST /recommendations.
type RecommendationPayload struct {
	UserID  string                 `json:"userId" validate:"required"`
	Type    string                 `json:"type" validate:"required"`
	Context *domain.RequestContext `json:"context,omitempty"`
	Filters *domain.RequestFilters `json:"filters,omitempty"`
	Options *domain.RequestOptions `json:"options,omitempty"`
}

func (p *RecommendationPayload) toDomain() *domain.RecommendationRequest {
	return &domain.RecommendationRequest{
		UserID:  p.UserID,
		Type:    domain.RecommendationType(p.Type),
		Context: p.Context,
		Filters: p.Filters,
		Options: p.Options,
	}
}

// Recommend handles POST /recommendations.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var payload RecommendationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	result, err := h.orch.GetRecommendations(r.Context(), payload.toDomain())
	if err != nil {
		writeRecommendationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// BatchPayload is the request body for POST /recommendations/batch.
type BatchPayload struct {
	Requests []RecommendationPayload `json:"requests" validate:"required,min=1,dive"`
}

// RecommendBatch handles POST /recommendations/batch.
func (h *Handler) RecommendBatch(w http.ResponseWriter, r *http.Request) {
	var payload BatchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	reqs := make([]*domain.RecommendationRequest, len(payload.Requests))
	for i := range payload.Requests {
		reqs[i] = payload.Requests[i].toDomain()
	}

	results, err := h.orch.GetBatchRecommendations(r.Context(), reqs)
	if err != nil {
		var batchErr *domain.BatchFailedError
		if errors.As(err, &batchErr) {
			samples := make([]string, 0, len(batchErr.Samples))
			for _, s := range batchErr.Samples {
				samples = append(samples, s.Error())
			}
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   "all batch requests failed",
				"total":   batchErr.Total,
				"samples": samples,
			})
			return
		}
		writeRecommendationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"succeeded": len(results),
		"total":     len(reqs),
	})
}

// RealtimePayload is the request body for POST /recommendations/realtime.
type RealtimePayload struct {
	UserID  string                 `json:"userId" validate:"required"`
	Context *domain.RequestContext `json:"context,omitempty"`
}

// RecommendRealtime handles POST /recommendations/realtime. It always
// returns 200 with a list; degraded paths yield the fallback items.
func (h *Handler) RecommendRealtime(w http.ResponseWriter, r *http.Request) {
	var payload RealtimePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	items := h.orch.GetRealtimeRecommendations(r.Context(), payload.UserID, payload.Context)
	writeJSON(w, http.StatusOK, map[string]any{
		"recommendations": items,
	})
}

// FeedbackPayload is the request body for POST /feedback.
type FeedbackPayload struct {
	UserID           string `json:"userId" validate:"required"`
	RecommendationID string `json:"recommendationId" validate:"required"`
	Action           string `json:"action" validate:"required,oneof=clicked dismissed applied"`
	CardID           string `json:"cardId,omitempty"`
	Comment          string `json:"comment,omitempty"`
}

// Feedback handles POST /feedback. Acknowledged with 202; persistence
// is best-effort by contract.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	var payload FeedbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	h.orch.UpdateUserFeedback(r.Context(), payload.UserID, payload.RecommendationID, &domain.Feedback{
		Action:  payload.Action,
		CardID:  payload.CardID,
		Comment: payload.Comment,
	})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

// GetRecommendation handles GET /recommendations/{id}.
func (h *Handler) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "id")
	if resultID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "recommendation id is required",
		})
		return
	}

	result, err := h.orch.GetRecommendationResult(r.Context(), resultID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "recommendation not found",
			})
			return
		}
		slog.Error("failed to get recommendation", "id", resultID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load recommendation",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListUserRecommendations handles GET /users/{id}/recommendations.
func (h *Handler) ListUserRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be an integer between 1 and 100",
			})
			return
		}
		limit = parsed
	}

	results, err := h.store.ListRecommendationResultsByUser(r.Context(), userID, limit)
	if err != nil {
		slog.Error("failed to list recommendations", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load recommendation history",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// ListCards handles GET /cards.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.store.FindActiveCards(r.Context())
	if err != nil {
		slog.Error("failed to list cards", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load card catalog",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cards": cards,
		"count": len(cards),
	})
}

// CardPayload is the request body for POST /cards.
type CardPayload struct {
	ID               string             `json:"id" validate:"required"`
	Name             string             `json:"name" validate:"required"`
	Issuer           string             `json:"issuer,omitempty"`
	CardType         string             `json:"cardType" validate:"required,oneof=cashback travel business student"`
	AnnualFee        float64            `json:"annualFee" validate:"gte=0"`
	BaseRatePct      float64            `json:"baseRatePct" validate:"gte=0"`
	BonusCategories  map[string]float64 `json:"bonusCategories,omitempty"`
	RewardType       string             `json:"rewardType,omitempty"`
	PointValueCent   float64            `json:"pointValueCent,omitempty"`
	SignupBonusValue float64            `json:"signupBonusValue,omitempty"`
	MinCreditScore   int                `json:"minCreditScore" validate:"gte=0,lte=850"`
	Active           bool               `json:"active"`
}

// CreateCard handles POST /cards: catalog management.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var payload CardPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	card := &domain.CreditCard{
		ID:               payload.ID,
		Name:             payload.Name,
		Issuer:           payload.Issuer,
		CardType:         payload.CardType,
		AnnualFee:        payload.AnnualFee,
		BaseRatePct:      payload.BaseRatePct,
		BonusCategories:  payload.BonusCategories,
		RewardType:       payload.RewardType,
		PointValueCent:   payload.PointValueCent,
		SignupBonusValue: payload.SignupBonusValue,
		MinCreditScore:   payload.MinCreditScore,
		Active:           payload.Active,
	}

	if err := h.store.SaveCard(r.Context(), card); err != nil {
		slog.Error("failed to save card", "id", card.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save card",
		})
		return
	}

	slog.Info("card saved", "id", card.ID, "name", card.Name)
	writeJSON(w, http.StatusCreated, card)
}

// ListRules handles GET /rules: the eligibility rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListEligibilityRules(r.Context())
	if err != nil {
		slog.Error("failed to list eligibility rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  rules,
		"count":  len(rules),
		"loaded": h.eligibility.RulesCount(),
	})
}

// RulePayload is the request body for POST /rules.
type RulePayload struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression" validate:"required"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule handles POST /rules. The CEL expression is validated
// before the rule is persisted.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var payload RulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	rule := &domain.EligibilityRule{
		ID:          payload.ID,
		Name:        payload.Name,
		Description: payload.Description,
		Expression:  payload.Expression,
		Enabled:     payload.Enabled,
	}

	if err := h.eligibility.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.store.SaveEligibilityRule(r.Context(), rule); err != nil {
		slog.Error("failed to save eligibility rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("eligibility rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules handles POST /rules/reload: hot-reloads eligibility rules
// from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListEligibilityRules(r.Context())
	if err != nil {
		slog.Error("failed to list eligibility rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.eligibility.ReloadRules(rules); err != nil {
		slog.Error("failed to reload eligibility rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("eligibility rules reloaded", "count", len(rules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(rules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Status handles GET /status: the provider health snapshot plus call
// metrics and worker stats.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"version":   h.version,
		"checkedAt": time.Now().UTC(),
	}
	if h.manager != nil {
		resp["health"] = h.manager.HealthStatus()
		resp["metrics"] = h.manager.Metrics()
	}
	if h.worker != nil {
		resp["worker"] = h.worker.GetStats()
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeRecommendationError maps orchestrator errors to HTTP statuses.
func writeRecommendationError(w http.ResponseWriter, err error) {
	var invalid *domain.InvalidRequestError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": invalid.Error(),
		})
		return
	}

	var unavailable *domain.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": unavailable.Error(),
		})
		return
	}

	var retries *domain.MaxRetriesExceededError
	if errors.As(err, &retries) {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": retries.Error(),
		})
		return
	}

	slog.Error("recommendation request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
