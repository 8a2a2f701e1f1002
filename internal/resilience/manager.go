// Package resilience tracks scoring-provider health and wraps provider
// calls with bounded retry and metrics accounting.
package resilience

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Probe performs one lightweight reachability check of a named service.
type Probe func(ctx context.Context) error

// Manager owns the health snapshot and the call-metrics ledger.
//
// The two are deliberately decoupled: health reflects current
// reachability (written only by the check loop, read by the gate),
// metrics reflect historical reliability (written by every retry
// wrapper, read by dashboards). Both are safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	health    map[string]domain.ServiceHealth
	overall   domain.ServiceStatus
	checkedAt time.Time

	statsMu sync.Mutex
	stats   map[string]*serviceStats

	probes     map[string]Probe
	interval   time.Duration
	maxRetries int
	backoff    float64

	// sleep is injectable so retry tests run without wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error

	checking atomic.Bool

	callsTotal *prometheus.CounterVec
	callMs     *prometheus.HistogramVec
}

type serviceStats struct {
	total    int64
	success  int64
	failed   int64
	avgMs    float64
}

// NewManager creates a resilience manager for the given probes.
// A nil registerer skips Prometheus registration (used in tests).
func NewManager(cfg domain.ResilienceConfig, probes map[string]Probe, reg prometheus.Registerer) *Manager {
	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := cfg.BackoffMultiplier
	if backoff <= 0 {
		backoff = 2.0
	}

	m := &Manager{
		health:     make(map[string]domain.ServiceHealth, len(probes)),
		stats:      make(map[string]*serviceStats),
		probes:     probes,
		interval:   interval,
		maxRetries: maxRetries,
		backoff:    backoff,
		overall:    domain.StatusUnhealthy,
		sleep:      sleepContext,
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_scoring_calls_total",
			Help: "Scoring provider calls by service and outcome.",
		}, []string{"service", "outcome"}),
		callMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_scoring_call_duration_ms",
			Help:    "Scoring provider call latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"service"}),
	}

	if reg != nil {
		reg.MustRegister(m.callsTotal, m.callMs)
	}

	return m
}

// Start runs one immediate health check and then the periodic loop
// until ctx is canceled. Checks never overlap: a check still in flight
// suppresses the next tick.
func (m *Manager) Start(ctx context.Context) {
	m.PerformHealthCheck(ctx)

	ticker := time.NewTicker(m.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.PerformHealthCheck(ctx)
			}
		}
	}()
}

// PerformHealthCheck probes every named service concurrently and writes
// a fresh health snapshot. Returns immediately if a check is already
// in flight.
func (m *Manager) PerformHealthCheck(ctx context.Context) {
	if !m.checking.CompareAndSwap(false, true) {
		slog.Debug("health check already in progress, skipping tick")
		return
	}
	defer m.checking.Store(false)

	type probeResult struct {
		name    string
		err     error
		elapsed time.Duration
	}

	results := make([]probeResult, len(m.probes))
	var wg sync.WaitGroup
	i := 0
	for name, probe := range m.probes {
		wg.Add(1)
		go func(idx int, name string, probe Probe) {
			defer wg.Done()
			start := time.Now()
			err := probe(ctx)
			results[idx] = probeResult{name: name, err: err, elapsed: time.Since(start)}
		}(i, name, probe)
		i++
	}
	wg.Wait()

	now := time.Now().UTC()

	m.mu.Lock()
	available := 0
	for _, res := range results {
		prev := m.health[res.name]
		health := domain.ServiceHealth{
			Available:      res.err == nil,
			ResponseTimeMs: res.elapsed.Milliseconds(),
			ErrorCount:     prev.ErrorCount,
			LastSuccess:    prev.LastSuccess,
			CheckedAt:      now,
		}
		if res.err != nil {
			health.LastError = res.err.Error()
			health.ErrorCount++
		} else {
			health.LastSuccess = now
			available++
		}
		m.health[res.name] = health
	}

	switch {
	case len(results) == 0 || available == len(results):
		m.overall = domain.StatusHealthy
	case available == 0:
		m.overall = domain.StatusUnhealthy
	default:
		m.overall = domain.StatusDegraded
	}
	m.checkedAt = now
	overall := m.overall
	m.mu.Unlock()

	slog.Debug("health check complete",
		"status", overall,
		"services", len(results),
		"available", available,
	)
}

// IsServiceAvailable reports the latest snapshot for one service.
// Pure read; never triggers a new check.
func (m *Manager) IsServiceAvailable(service string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health[service].Available
}

// OverallStatus returns the aggregated tri-state status.
func (m *Manager) OverallStatus() domain.ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overall
}

// HealthStatus returns a copy of the full health snapshot.
func (m *Manager) HealthStatus() domain.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	services := make(map[string]domain.ServiceHealth, len(m.health))
	for name, h := range m.health {
		services[name] = h
	}
	return domain.HealthSnapshot{
		Status:    m.overall,
		Services:  services,
		CheckedAt: m.checkedAt,
	}
}

// Metrics returns the cumulative call ledger.
func (m *Manager) Metrics() domain.ServiceMetrics {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	out := domain.ServiceMetrics{
		PerService: make(map[string]domain.ServiceCallStats, len(m.stats)),
	}
	var weightedMs float64
	for name, s := range m.stats {
		out.TotalRequests += s.total
		out.SuccessfulRequests += s.success
		out.FailedRequests += s.failed
		weightedMs += s.avgMs * float64(s.success)
		out.PerService[name] = domain.ServiceCallStats{
			TotalRequests:         s.total,
			SuccessfulRequests:    s.success,
			FailedRequests:        s.failed,
			AverageResponseTimeMs: s.avgMs,
		}
	}
	if out.SuccessfulRequests > 0 {
		out.AverageResponseTimeMs = weightedMs / float64(out.SuccessfulRequests)
	}
	if out.TotalRequests > 0 {
		out.ErrorRate = float64(out.FailedRequests) / float64(out.TotalRequests)
	}
	return out
}

// ResetMetrics clears the ledger. Explicit operator action only.
func (m *Manager) ResetMetrics() {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats = make(map[string]*serviceStats)
}

func (m *Manager) recordSuccess(service string, elapsed time.Duration) {
	ms := float64(elapsed.Milliseconds())

	m.statsMu.Lock()
	s := m.statsFor(service)
	s.total++
	s.success++
	// Fold latency into a running average over successes.
	s.avgMs += (ms - s.avgMs) / float64(s.success)
	m.statsMu.Unlock()

	m.callsTotal.WithLabelValues(service, "success").Inc()
	m.callMs.WithLabelValues(service).Observe(ms)
}

func (m *Manager) recordFailure(service string) {
	m.statsMu.Lock()
	s := m.statsFor(service)
	s.total++
	s.failed++
	m.statsMu.Unlock()

	m.callsTotal.WithLabelValues(service, "failure").Inc()
}

func (m *Manager) statsFor(service string) *serviceStats {
	s, ok := m.stats[service]
	if !ok {
		s = &serviceStats{}
		m.stats[service] = s
	}
	return s
}

// ExecuteWithRetry invokes op up to maxRetries times against the named
// service, backing off backoff^(attempt-1) seconds between attempts
// (the first attempt waits nothing). Every attempt lands in the
// metrics ledger. Exhaustion fails with MaxRetriesExceededError
// carrying the last underlying error.
//
// Zero maxRetries or backoff fall back to the manager's configuration.
func ExecuteWithRetry[T any](ctx context.Context, m *Manager, service string, maxRetries int, backoff float64, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if maxRetries <= 0 {
		maxRetries = m.maxRetries
	}
	if backoff <= 0 {
		backoff = m.backoff
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		start := time.Now()
		result, err := op(ctx)
		if err == nil {
			m.recordSuccess(service, time.Since(start))
			return result, nil
		}

		m.recordFailure(service)
		lastErr = err

		slog.Warn("service call failed",
			"service", service,
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", err,
		)

		if attempt < maxRetries {
			wait := time.Duration(math.Pow(backoff, float64(attempt-1)) * float64(time.Second))
			if err := m.sleep(ctx, wait); err != nil {
				return zero, &domain.MaxRetriesExceededError{Service: service, Attempts: attempt, Last: lastErr}
			}
		}
	}

	return zero, &domain.MaxRetriesExceededError{Service: service, Attempts: maxRetries, Last: lastErr}
}

// Degraded returns fallback immediately, recording a failure against
// the service so degraded paths stay visible in monitoring.
func Degraded[T any](m *Manager, service string, fallback T) T {
	m.recordFailure(service)
	slog.Info("serving degraded response", "service", service)
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
