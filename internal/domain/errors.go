package domain

import (
	"fmt"
	"strings"
)

// InvalidRequestError reports a malformed recommendation request.
// Never retried.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// ServiceUnavailableError reports that the health gate is tripped.
// Never retried; callers must wait for the next health cycle.
type ServiceUnavailableError struct {
	Status ServiceStatus
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("scoring service unavailable (status=%s)", e.Status)
}

// MaxRetriesExceededError wraps the last underlying error after
// ExecuteWithRetry exhausts its attempts.
type MaxRetriesExceededError struct {
	Service  string
	Attempts int
	Last     error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("max retries exceeded for %s after %d attempts: %v", e.Service, e.Attempts, e.Last)
}

func (e *MaxRetriesExceededError) Unwrap() error {
	return e.Last
}

// BatchFailedError reports that every request in a batch failed. It
// carries at most three sample errors.
type BatchFailedError struct {
	Total   int
	Samples []error
}

func (e *BatchFailedError) Error() string {
	msgs := make([]string, 0, len(e.Samples))
	for _, err := range e.Samples {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("all %d batch requests failed: %s", e.Total, strings.Join(msgs, "; "))
}

// ProviderError is the normalized form of any scoring-provider failure,
// whether a network error or an HTTP status response.
type ProviderError struct {
	Code    string         `json:"code"` // e.g. "network", "http_500", "decode"
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error [%s]: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient (network or 5xx).
func (e *ProviderError) Retryable() bool {
	return e.Code == "network" || strings.HasPrefix(e.Code, "http_5")
}
