// Package worker provides async event processing behind the orchestrator.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Worker consumes pipeline events from the EventBus. It keeps delivery
// side effects out of the request path: feedback invalidates cached
// profiles so the next request re-infers, and fallback events are
// counted for operators.
type Worker struct {
	bus   domain.EventBus
	store domain.Store
	cache domain.Cache

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	feedbackProcessed atomic.Int64
	fallbacksObserved atomic.Int64
	resultsObserved   atomic.Int64
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, store domain.Store, cache domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		store:  store,
		cache:  cache,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the pipeline topics.
func (w *Worker) Start() error {
	topics := map[string]domain.MessageHandler{
		domain.TopicFeedbackReceived:        w.handleFeedback,
		domain.TopicRecommendationFallback:  w.handleFallback,
		domain.TopicRecommendationGenerated: w.handleGenerated,
	}

	for topic, handler := range topics {
		sub, err := w.bus.Subscribe(w.ctx, topic, handler)
		if err != nil {
			slog.Error("failed to subscribe",
				"topic", topic,
				"error", err,
			)
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("worker started",
		"subscription_count", len(w.subscriptions),
	)

	return nil
}

// handleFeedback invalidates the cached preference profile for the
// user so the next request re-infers with the new signal.
func (w *Worker) handleFeedback(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var fb domain.Feedback
	if err := json.Unmarshal(msg.Payload, &fb); err != nil {
		slog.Error("failed to parse feedback message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if w.cache != nil && fb.UserID != "" {
		if err := w.cache.Delete(ctx, "profile:"+fb.UserID); err != nil {
			slog.Debug("profile invalidation failed",
				"user_id", fb.UserID,
				"error", err,
			)
		}
	}

	w.feedbackProcessed.Add(1)

	slog.Debug("feedback processed",
		"user_id", fb.UserID,
		"action", fb.Action,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// handleFallback counts degraded deliveries.
func (w *Worker) handleFallback(ctx context.Context, msg *domain.Message) error {
	var result domain.RecommendationResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		slog.Error("failed to parse fallback message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	total := w.fallbacksObserved.Add(1)

	slog.Warn("fallback recommendation delivered",
		"user_id", result.UserID,
		"type", string(result.Type),
		"fallbacks_total", total,
	)

	return nil
}

// handleGenerated counts normal deliveries.
func (w *Worker) handleGenerated(ctx context.Context, msg *domain.Message) error {
	var result domain.RecommendationResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return err
	}

	w.resultsObserved.Add(1)

	slog.Debug("recommendation delivered",
		"user_id", result.UserID,
		"type", string(result.Type),
		"items", len(result.Recommendations),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	FeedbackProcessed int64    `json:"feedbackProcessed"`
	FallbacksObserved int64    `json:"fallbacksObserved"`
	ResultsObserved   int64    `json:"resultsObserved"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		FeedbackProcessed: w.feedbackProcessed.Load(),
		FallbacksObserved: w.fallbacksObserved.Load(),
		ResultsObserved:   w.resultsObserved.Load(),
	}
}
