package domain

import (
	"time"
)

// ServiceStatus is the aggregated availability of all monitored services.
type ServiceStatus string

const (
	StatusHealthy   ServiceStatus = "healthy"   // all sub-services available
	StatusDegraded  ServiceStatus = "degraded"  // some sub-services available
	StatusUnhealthy ServiceStatus = "unhealthy" // no sub-services available
)

// Logical service names tracked by the resilience manager.
const (
	ServiceTriggerClassify   = "scoring.trigger_classify"
	ServiceRewardEstimation  = "scoring.estimate_rewards"
	ServicePortfolioOptimize = "scoring.optimize_portfolio"
	ServiceRanking           = "scoring.personalized_ranking"
)

// ServiceHealth is the latest reachability snapshot for one service.
// Health reflects current reachability and is used for gating; it is
// written only by the health-check loop.
type ServiceHealth struct {
	Available      bool      `json:"available"`
	ResponseTimeMs int64     `json:"responseTimeMs,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
	ErrorCount     int64     `json:"errorCount"`
	LastSuccess    time.Time `json:"lastSuccess,omitzero"`
	CheckedAt      time.Time `json:"checkedAt"`
}

// ServiceCallStats is the per-service slice of the metrics ledger.
type ServiceCallStats struct {
	TotalRequests         int64   `json:"totalRequests"`
	SuccessfulRequests    int64   `json:"successfulRequests"`
	FailedRequests        int64   `json:"failedRequests"`
	AverageResponseTimeMs float64 `json:"averageResponseTimeMs"`
}

// ServiceMetrics is the cumulative call ledger across all services.
// Metrics reflect historical reliability and are never reset except by
// explicit operator action.
type ServiceMetrics struct {
	TotalRequests         int64                       `json:"totalRequests"`
	SuccessfulRequests    int64                       `json:"successfulRequests"`
	FailedRequests        int64                       `json:"failedRequests"`
	AverageResponseTimeMs float64                     `json:"averageResponseTimeMs"`
	ErrorRate             float64                     `json:"errorRate"`
	PerService            map[string]ServiceCallStats `json:"perService"`
}

// HealthSnapshot is the full health view exposed to dashboards.
type HealthSnapshot struct {
	Status    ServiceStatus            `json:"status"`
	Services  map[string]ServiceHealth `json:"services"`
	CheckedAt time.Time                `json:"checkedAt"`
}
