// Package scoring provides the typed HTTP client for the RecEngine
// scoring provider.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Provider endpoint paths.
const (
	pathTriggerClassify   = "/trigger-classify"
	pathPersonalizedRank  = "/personalized-ranking"
	pathEstimateRewards   = "/estimate-rewards"
	pathOptimizePortfolio = "/optimize-portfolio"
	pathHealth            = "/health"
)

// Client is the typed wrapper around the scoring provider's endpoints.
// Every call carries a per-call timeout, retries transient failures up
// to the configured attempt count, and passes through a shared circuit
// breaker so a dead provider sheds load quickly.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	breaker     *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a scoring provider client.
func NewClient(cfg domain.ScoringConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 2
	}
	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "scoring-provider",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("scoring breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: attempts,
		breaker:     breaker,
	}
}

// TriggerClassify asks whether a transaction warrants a recommendation.
func (c *Client) TriggerClassify(ctx context.Context, req *TriggerClassifyRequest) (*TriggerClassifyResponse, error) {
	body, err := c.post(ctx, pathTriggerClassify, req)
	if err != nil {
		return nil, err
	}

	resp := &TriggerClassifyResponse{}
	if err := decodeBody(body, resp); err != nil {
		return nil, err
	}
	if resp.Reasoning == "" {
		resp.Reasoning = "No significant benefit found"
	}
	return resp, nil
}

// PersonalizedRanking returns the provider's ranked card list for a user.
func (c *Client) PersonalizedRanking(ctx context.Context, req *RankingRequest) (*RankingResponse, error) {
	body, err := c.post(ctx, pathPersonalizedRank, req)
	if err != nil {
		return nil, err
	}

	resp := &RankingResponse{}
	if err := decodeBody(body, resp); err != nil {
		return nil, err
	}
	for i := range resp.RankedCards {
		card := &resp.RankedCards[i]
		if card.CardName == "" {
			card.CardName = card.CardID
		}
		if card.Reason == "" {
			card.Reason = "Good fit for your spending pattern"
		}
	}
	return resp, nil
}

// EstimateRewards projects rewards for one card under a spending pattern.
func (c *Client) EstimateRewards(ctx context.Context, req *RewardEstimateRequest) (*RewardEstimateResponse, error) {
	if req.TimeHorizonMonths <= 0 {
		req = &RewardEstimateRequest{
			UserID:            req.UserID,
			CardID:            req.CardID,
			ProjectedSpending: req.ProjectedSpending,
			TimeHorizonMonths: 12,
		}
	}

	body, err := c.post(ctx, pathEstimateRewards, req)
	if err != nil {
		return nil, err
	}

	resp := &RewardEstimateResponse{}
	if err := decodeBody(body, resp); err != nil {
		return nil, err
	}
	if resp.CategoryBreakdown == nil {
		resp.CategoryBreakdown = map[string]float64{}
	}
	return resp, nil
}

// OptimizePortfolio returns portfolio change advice for a user's cards.
func (c *Client) OptimizePortfolio(ctx context.Context, req *PortfolioRequest) (*PortfolioResponse, error) {
	body, err := c.post(ctx, pathOptimizePortfolio, req)
	if err != nil {
		return nil, err
	}

	resp := &PortfolioResponse{}
	if err := decodeBody(body, resp); err != nil {
		return nil, err
	}
	for i := range resp.Recommendations {
		if resp.Recommendations[i].CardName == "" {
			resp.Recommendations[i].CardName = resp.Recommendations[i].CardID
		}
	}
	return resp, nil
}

// Health probes the provider's health endpoint. Not retried: health
// checks want the current answer, not the best possible one.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathHealth, nil)
	if err != nil {
		return nil, &domain.ProviderError{Code: "request", Message: err.Error(), Err: err}
	}

	body, err := c.execute(httpReq)
	if err != nil {
		return nil, err
	}

	status := &HealthStatus{}
	if err := decodeBody(body, status); err != nil {
		return nil, err
	}
	return status, nil
}

// post sends a JSON request, retrying transient failures with fresh
// request bodies. The last error is returned when attempts run out.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.ProviderError{Code: "encode", Message: err.Error(), Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, &domain.ProviderError{Code: "request", Message: err.Error(), Err: err}
		}
		httpReq.Header.Set("Content-Type", "application/json")

		body, err := c.execute(httpReq)
		if err == nil {
			return body, nil
		}

		lastErr = err

		var provErr *domain.ProviderError
		if !errors.As(err, &provErr) || !provErr.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}

		slog.Debug("scoring call retrying",
			"path", path,
			"attempt", attempt,
			"error", err,
		)
	}

	return nil, lastErr
}

// execute runs one HTTP exchange through the circuit breaker and
// normalizes every failure mode into a ProviderError.
func (c *Client) execute(req *http.Request) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &domain.ProviderError{
				Code:    "network",
				Message: err.Error(),
				Err:     err,
			}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, &domain.ProviderError{
				Code:    "network",
				Message: "reading response body: " + err.Error(),
				Err:     err,
			}
		}

		if resp.StatusCode != http.StatusOK {
			return nil, &domain.ProviderError{
				Code:    fmt.Sprintf("http_%d", resp.StatusCode),
				Message: fmt.Sprintf("%s %s returned %d", req.Method, req.URL.Path, resp.StatusCode),
				Details: map[string]any{"body": string(data)},
			}
		}

		return data, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.ProviderError{
				Code:    "circuit_open",
				Message: "scoring provider circuit breaker open",
				Err:     err,
			}
		}
		return nil, err
	}

	return body, nil
}

func decodeBody(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ProviderError{
			Code:    "decode",
			Message: "malformed provider response: " + err.Error(),
			Err:     err,
		}
	}
	return nil
}
