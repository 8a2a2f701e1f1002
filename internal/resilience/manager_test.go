package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestManager(probes map[string]Probe) *Manager {
	m := NewManager(domain.ResilienceConfig{
		HealthInterval:    time.Minute,
		MaxRetries:        3,
		BackoffMultiplier: 2.0,
	}, probes, nil)

	// No real waiting in tests.
	m.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return m
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	m := newTestManager(nil)

	var calls atomic.Int32
	result, err := ExecuteWithRetry(context.Background(), m, "scoring.personalized_ranking", 3, 2.0,
		func(ctx context.Context) (string, error) {
			if calls.Add(1) < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if result != "ok" {
		t.Errorf("expected result ok, got %q", result)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}

	metrics := m.Metrics()
	stats := metrics.PerService["scoring.personalized_ranking"]
	if stats.FailedRequests != 2 {
		t.Errorf("expected 2 recorded failures, got %d", stats.FailedRequests)
	}
	if stats.SuccessfulRequests != 1 {
		t.Errorf("expected 1 recorded success, got %d", stats.SuccessfulRequests)
	}
	if stats.TotalRequests != 3 {
		t.Errorf("expected 3 total requests, got %d", stats.TotalRequests)
	}
}

func TestRetryExhaustion(t *testing.T) {
	m := newTestManager(nil)

	var calls atomic.Int32
	_, err := ExecuteWithRetry(context.Background(), m, "scoring.trigger_classify", 4, 2.0,
		func(ctx context.Context) (int, error) {
			calls.Add(1)
			return 0, errors.New("down")
		})
	if err == nil {
		t.Fatal("expected MaxRetriesExceeded")
	}

	var maxErr *domain.MaxRetriesExceededError
	if !errors.As(err, &maxErr) {
		t.Fatalf("expected MaxRetriesExceededError, got %T", err)
	}
	if maxErr.Service != "scoring.trigger_classify" {
		t.Errorf("unexpected service name %q", maxErr.Service)
	}
	if maxErr.Attempts != 4 {
		t.Errorf("expected 4 attempts in error, got %d", maxErr.Attempts)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("expected exactly 4 calls, got %d", got)
	}
	if maxErr.Last == nil || maxErr.Last.Error() != "down" {
		t.Errorf("expected last error carried, got %v", maxErr.Last)
	}
}

func TestRetryBackoffSchedule(t *testing.T) {
	m := newTestManager(nil)

	var waits []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	ExecuteWithRetry(context.Background(), m, "svc", 3, 2.0,
		func(ctx context.Context) (int, error) { return 0, errors.New("nope") })

	want := []time.Duration{time.Second, 2 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("expected %d waits, got %d", len(want), len(waits))
	}
	for i, w := range want {
		if waits[i] != w {
			t.Errorf("wait %d: expected %v, got %v", i, w, waits[i])
		}
	}
}

func TestDegradedRecordsFailure(t *testing.T) {
	m := newTestManager(nil)

	fallback := []string{"basic_cash"}
	got := Degraded(m, "scoring.personalized_ranking", fallback)
	if len(got) != 1 || got[0] != "basic_cash" {
		t.Errorf("expected fallback value back, got %v", got)
	}

	metrics := m.Metrics()
	stats := metrics.PerService["scoring.personalized_ranking"]
	if stats.FailedRequests != 1 {
		t.Errorf("degraded response must record a failure, got %d", stats.FailedRequests)
	}
}

func TestHealthCheckAggregation(t *testing.T) {
	t.Run("AllHealthy", func(t *testing.T) {
		m := newTestManager(map[string]Probe{
			"a": func(ctx context.Context) error { return nil },
			"b": func(ctx context.Context) error { return nil },
		})
		m.PerformHealthCheck(context.Background())

		if m.OverallStatus() != domain.StatusHealthy {
			t.Errorf("expected healthy, got %s", m.OverallStatus())
		}
		if !m.IsServiceAvailable("a") || !m.IsServiceAvailable("b") {
			t.Error("expected both services available")
		}
	})

	t.Run("Partial", func(t *testing.T) {
		m := newTestManager(map[string]Probe{
			"a": func(ctx context.Context) error { return nil },
			"b": func(ctx context.Context) error { return errors.New("refused") },
		})
		m.PerformHealthCheck(context.Background())

		if m.OverallStatus() != domain.StatusDegraded {
			t.Errorf("expected degraded, got %s", m.OverallStatus())
		}
		snap := m.HealthStatus()
		if snap.Services["b"].LastError == "" {
			t.Error("expected last error recorded for failing service")
		}
		if snap.Services["b"].ErrorCount != 1 {
			t.Errorf("expected error count 1, got %d", snap.Services["b"].ErrorCount)
		}
	})

	t.Run("AllDown", func(t *testing.T) {
		m := newTestManager(map[string]Probe{
			"a": func(ctx context.Context) error { return errors.New("refused") },
			"b": func(ctx context.Context) error { return errors.New("refused") },
		})
		m.PerformHealthCheck(context.Background())

		if m.OverallStatus() != domain.StatusUnhealthy {
			t.Errorf("expected unhealthy, got %s", m.OverallStatus())
		}
	})
}

func TestHealthCheckNoOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var checks atomic.Int32

	m := newTestManager(map[string]Probe{
		"slow": func(ctx context.Context) error {
			checks.Add(1)
			close(started)
			<-release
			return nil
		},
	})

	go m.PerformHealthCheck(context.Background())
	<-started

	// Second check while the first is still in flight must be a no-op.
	m.PerformHealthCheck(context.Background())
	if got := checks.Load(); got != 1 {
		t.Errorf("expected overlapping check suppressed, got %d probe calls", got)
	}
	close(release)
}

func TestMetricsConcurrentAccess(t *testing.T) {
	m := newTestManager(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			service := fmt.Sprintf("svc-%d", n%4)
			ExecuteWithRetry(context.Background(), m, service, 1, 2.0,
				func(ctx context.Context) (int, error) { return n, nil })
			m.Metrics()
		}(i)
	}
	wg.Wait()

	metrics := m.Metrics()
	if metrics.TotalRequests != 20 {
		t.Errorf("expected 20 total requests, got %d", metrics.TotalRequests)
	}
	if metrics.ErrorRate != 0 {
		t.Errorf("expected zero error rate, got %f", metrics.ErrorRate)
	}
}

func TestResetMetrics(t *testing.T) {
	m := newTestManager(nil)

	ExecuteWithRetry(context.Background(), m, "svc", 1, 2.0,
		func(ctx context.Context) (int, error) { return 1, nil })
	m.ResetMetrics()

	if got := m.Metrics().TotalRequests; got != 0 {
		t.Errorf("expected ledger cleared, got %d requests", got)
	}
}
