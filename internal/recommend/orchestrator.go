// Package recommend implements the recommendation orchestrator: request
// validation, the provider health gate, type-specific generation
// strategies, post-processing, and batch/realtime/feedback surfaces.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/cooldown"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/eligibility"
	"github.com/opensource-finance/kestrel/internal/preference"
	"github.com/opensource-finance/kestrel/internal/ranking"
	"github.com/opensource-finance/kestrel/internal/resilience"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// EngineVersion is stamped into result metadata.
const EngineVersion = "1.0"

// profileCacheTTL bounds how long an inferred or stored profile is
// served from cache before re-deriving.
const profileCacheTTL = time.Hour

// batchErrorSamples caps how many member errors a batch failure carries.
const batchErrorSamples = 3

// Deps wires the orchestrator's collaborators. All are constructed by
// the entry point and injected; the orchestrator owns none of their
// lifecycles.
type Deps struct {
	Store       domain.Store
	Cache       domain.Cache
	Bus         domain.EventBus
	Client      *scoring.Client
	Manager     *resilience.Manager
	Preferences *preference.Engine
	Categorizer *ranking.Categorizer
	Eligibility *eligibility.Engine
	Cooldown    *cooldown.Tracker
	Audit       *audit.Logger
}

// Orchestrator is the entry point for all recommendation generation.
type Orchestrator struct {
	store       domain.Store
	cache       domain.Cache
	bus         domain.EventBus
	client      *scoring.Client
	manager     *resilience.Manager
	prefs       *preference.Engine
	categorizer *ranking.Categorizer
	rules       *eligibility.Engine
	cooldown    *cooldown.Tracker
	audit       *audit.Logger
}

// New creates a recommendation orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		store:       d.Store,
		cache:       d.Cache,
		bus:         d.Bus,
		client:      d.Client,
		manager:     d.Manager,
		prefs:       d.Preferences,
		categorizer: d.Categorizer,
		rules:       d.Eligibility,
		cooldown:    d.Cooldown,
		audit:       d.Audit,
	}
}

// GetRecommendations runs one request through the full pipeline:
// validate, health gate, route to strategy, post-process, log. A caller
// either gets a populated deduplicated result or a typed error; never a
// partial result.
func (o *Orchestrator) GetRecommendations(ctx context.Context, req *domain.RecommendationRequest) (*domain.RecommendationResult, error) {
	start := time.Now()

	if err := validate(req); err != nil {
		return nil, err
	}

	o.audit.Log(ctx, req.UserID, audit.EventRequest, map[string]any{"type": string(req.Type)})

	includeFallbacks := req.Options != nil && req.Options.IncludeFallbacks

	if status := o.manager.OverallStatus(); status == domain.StatusUnhealthy {
		if includeFallbacks {
			return o.fallbackResult(ctx, req, start), nil
		}
		return nil, &domain.ServiceUnavailableError{Status: status}
	}

	gen, err := o.generate(ctx, req)
	if err != nil {
		o.audit.Log(ctx, req.UserID, audit.EventError, map[string]any{
			"type":  string(req.Type),
			"error": err.Error(),
		})
		if includeFallbacks {
			return o.fallbackResult(ctx, req, start), nil
		}
		return nil, err
	}

	maxResults := 0
	if req.Options != nil {
		maxResults = req.Options.MaxResults
	}
	items := postProcess(gen.items, maxResults)

	result := o.buildResult(ctx, req, items, domain.ResultMetadata{
		Strategy:       gen.strategy,
		CandidateCount: gen.candidateCount,
		FilteredCount:  gen.filteredCount,
		ProcessMs:      time.Since(start).Milliseconds(),
		EngineVersion:  EngineVersion,
	})

	o.record(ctx, result, domain.TopicRecommendationGenerated, audit.EventSuccess)
	return result, nil
}

// GetBatchRecommendations issues all requests concurrently with per-item
// isolation. Successes preserve input order; failures are dropped unless
// everything failed, in which case a BatchFailedError carries up to
// three samples.
func (o *Orchestrator) GetBatchRecommendations(ctx context.Context, reqs []*domain.RecommendationRequest) ([]*domain.RecommendationResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	results := make([]*domain.RecommendationResult, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, r *domain.RecommendationRequest) {
			defer wg.Done()
			results[idx], errs[idx] = o.GetRecommendations(ctx, r)
		}(i, req)
	}
	wg.Wait()

	out := make([]*domain.RecommendationResult, 0, len(reqs))
	var samples []error
	failed := 0
	for i := range reqs {
		if errs[i] != nil {
			failed++
			if len(samples) < batchErrorSamples {
				samples = append(samples, errs[i])
			}
			continue
		}
		out = append(out, results[i])
	}

	o.audit.Log(ctx, "", audit.EventBatch, map[string]any{
		"total":     len(reqs),
		"succeeded": len(out),
		"failed":    failed,
	})

	if len(out) == 0 {
		return nil, &domain.BatchFailedError{Total: len(reqs), Samples: samples}
	}
	return out, nil
}

// GetRealtimeRecommendations derives a request type from the context and
// delegates to GetRecommendations. Best-effort and UI-facing: any error
// becomes the deterministic fallback list, never a failure.
func (o *Orchestrator) GetRealtimeRecommendations(ctx context.Context, userID string, reqCtx *domain.RequestContext) []domain.RecommendationItem {
	req := &domain.RecommendationRequest{
		UserID:  userID,
		Type:    deriveType(reqCtx),
		Context: reqCtx,
	}

	result, err := o.GetRecommendations(ctx, req)
	if err != nil {
		slog.Info("realtime request degraded to fallback",
			"user_id", userID,
			"type", string(req.Type),
			"error", err,
		)
		return fallbackItems()
	}
	return result.Recommendations
}

// UpdateUserFeedback records a user's reaction to a recommendation.
// Recording failures are swallowed; feedback must never affect the
// calling flow.
func (o *Orchestrator) UpdateUserFeedback(ctx context.Context, userID, recommendationID string, fb *domain.Feedback) {
	if fb == nil || userID == "" || recommendationID == "" {
		return
	}

	entry := &domain.Feedback{
		ID:               uuid.NewString(),
		UserID:           userID,
		RecommendationID: recommendationID,
		Action:           fb.Action,
		CardID:           fb.CardID,
		Comment:          fb.Comment,
		CreatedAt:        time.Now().UTC(),
	}

	if err := o.store.SaveFeedback(ctx, entry); err != nil {
		slog.Debug("feedback save failed", "user_id", userID, "error", err)
	}
	if o.bus != nil {
		if payload, err := marshalEvent(entry); err == nil {
			if err := o.bus.Publish(ctx, domain.TopicFeedbackReceived, payload); err != nil {
				slog.Debug("feedback publish failed", "user_id", userID, "error", err)
			}
		}
	}
	o.audit.Log(ctx, userID, audit.EventFeedback, map[string]any{
		"recommendation_id": recommendationID,
		"action":            fb.Action,
	})
}

// GetRecommendationResult looks up a persisted result by id.
func (o *Orchestrator) GetRecommendationResult(ctx context.Context, resultID string) (*domain.RecommendationResult, error) {
	if resultID == "" {
		return nil, &domain.InvalidRequestError{Reason: "resultId is required"}
	}
	return o.store.GetRecommendationResult(ctx, resultID)
}

// CategorizeItems splits a post-processed item list into display
// buckets. Exposed for the homepage surface.
func (o *Orchestrator) CategorizeItems(items []domain.RecommendationItem, maxPerCategory int) ranking.Buckets {
	return o.categorizer.Categorize(items, maxPerCategory)
}

func validate(req *domain.RecommendationRequest) error {
	if req == nil {
		return &domain.InvalidRequestError{Reason: "request is required"}
	}
	if req.UserID == "" {
		return &domain.InvalidRequestError{Reason: "userId is required"}
	}
	if !req.Type.Valid() {
		return &domain.InvalidRequestError{Reason: "unrecognized recommendation type: " + string(req.Type)}
	}
	if req.Type == domain.TypeTransactionTriggered {
		if req.Context == nil || (req.Context.TransactionID == "" && req.Context.Amount <= 0) {
			return &domain.InvalidRequestError{Reason: "transaction_triggered requires context.transactionId or context.amount"}
		}
	}
	return nil
}

// deriveType maps a realtime context onto a request type.
func deriveType(reqCtx *domain.RequestContext) domain.RecommendationType {
	if reqCtx == nil {
		return domain.TypeHomepage
	}
	switch {
	case reqCtx.TransactionID != "" || reqCtx.Amount > 0:
		return domain.TypeTransactionTriggered
	case reqCtx.Category != "":
		return domain.TypeCategorySpecific
	case reqCtx.UserIntent == "optimize":
		return domain.TypePortfolioOptimization
	default:
		return domain.TypeHomepage
	}
}

// loadProfile returns the user's preference profile: cache, then store,
// then deterministic inference from card/transaction history.
func (o *Orchestrator) loadProfile(ctx context.Context, userID string) *domain.UserPreferenceProfile {
	if profile, err := o.cache.GetProfile(ctx, userID); err == nil && profile != nil {
		return profile
	}

	profile, err := o.store.GetPreferenceProfile(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		slog.Debug("profile load failed, falling back to inference", "user_id", userID, "error", err)
	}
	if profile == nil {
		profile = o.inferProfile(ctx, userID)
	}

	if err := o.cache.SetProfile(ctx, userID, profile, profileCacheTTL); err != nil {
		slog.Debug("profile cache write failed", "user_id", userID, "error", err)
	}
	return profile
}

func (o *Orchestrator) inferProfile(ctx context.Context, userID string) *domain.UserPreferenceProfile {
	now := time.Now().UTC()

	user, err := o.store.FindUserByID(ctx, userID)
	if err != nil {
		user = &domain.User{ID: userID}
	}
	cards, err := o.store.FindUserCardsWithDetails(ctx, userID)
	if err != nil {
		cards = nil
	}
	txns, err := o.store.FindTransactionsByUserAndDateRange(ctx, userID, now.AddDate(0, 0, -90), now)
	if err != nil {
		txns = nil
	}

	return preference.InferProfile(user, cards, txns, now)
}

// fallbackResult packages the deterministic fallback list as a full
// result, flagged in metadata and published on the fallback topic.
func (o *Orchestrator) fallbackResult(ctx context.Context, req *domain.RecommendationRequest, start time.Time) *domain.RecommendationResult {
	items := fallbackItems()
	result := o.buildResult(ctx, req, items, domain.ResultMetadata{
		Strategy:      "fallback",
		Fallback:      true,
		ProcessMs:     time.Since(start).Milliseconds(),
		EngineVersion: EngineVersion,
	})

	o.record(ctx, result, domain.TopicRecommendationFallback, audit.EventFallback)
	return result
}

func (o *Orchestrator) buildResult(ctx context.Context, req *domain.RecommendationRequest, items []domain.RecommendationItem, meta domain.ResultMetadata) *domain.RecommendationResult {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasTraceID() {
		meta.TraceID = sc.TraceID().String()
	}

	now := time.Now().UTC()
	return &domain.RecommendationResult{
		ID:              uuid.NewString(),
		Type:            req.Type,
		UserID:          req.UserID,
		Recommendations: items,
		Metadata:        meta,
		CreatedAt:       now,
		ExpiresAt:       now.Add(domain.TTLFor(req.Type)),
	}
}

// record persists and publishes a finished result. Failures here are
/// non-fatal: an already-computed result is never discarded because a
// log write failed.
func (o *Orchestrator) record(ctx context.Context, result *domain.RecommendationResult, topic, event string) {
	if err := o.store.SaveRecommendationResult(ctx, result); err != nil {
		slog.Debug("result save failed", "result_id", result.ID, "error", err)
	}
	if o.bus != nil {
		if payload, err := marshalEvent(result); err == nil {
			if err := o.bus.Publish(ctx, topic, payload); err != nil {
				slog.Debug("result publish failed", "result_id", result.ID, "error", err)
			}
		}
	}
	o.audit.Log(ctx, result.UserID, event, map[string]any{
		"result_id": result.ID,
		"type":      string(result.Type),
		"items":     len(result.Recommendations),
	})
}

func marshalEvent(v any) ([]byte, error) {
	return json.Marshal(v)
}
