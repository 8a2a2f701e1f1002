// Kestrel load generator - drive a running instance with synthetic
// recommendation traffic and report latency and fallback behavior.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// recommendationTypes is the rotation used in mixed mode.
var recommendationTypes = []string{
	"homepage",
	"transaction_triggered",
	"portfolio_optimization",
	"category_specific",
	"seasonal",
	"lifecycle",
}

var categories = []string{"dining", "travel", "groceries", "gas", "streaming", "online_shopping"}

var merchants = []string{"Skyways", "Maple Diner", "GreenGrocer", "PetroMax", "StreamBox", "Cartful"}

// RecommendationRequest matches the POST /recommendations body.
type RecommendationRequest struct {
	UserID  string          `json:"userId"`
	Type    string          `json:"type"`
	Context *RequestContext `json:"context,omitempty"`
	Options *RequestOptions `json:"options,omitempty"`
}

// RequestContext carries the triggering transaction for trigger-based requests.
type RequestContext struct {
	Amount   float64 `json:"amount,omitempty"`
	Category string  `json:"category,omitempty"`
	Merchant string  `json:"merchant,omitempty"`
}

// RequestOptions mirrors the API's per-request options.
type RequestOptions struct {
	MaxResults       int  `json:"maxResults,omitempty"`
	IncludeFallbacks bool `json:"includeFallbacks,omitempty"`
}

// RecommendationResponse is the subset of the API response we inspect.
type RecommendationResponse struct {
	ID              string `json:"id"`
	Recommendations []struct {
		CardID   string  `json:"cardId"`
		Score    float64 `json:"score"`
		Priority string  `json:"priority"`
	} `json:"recommendations"`
	Metadata struct {
		Strategy string `json:"strategy"`
		Fallback bool   `json:"fallback"`
	} `json:"metadata"`
}

// Metrics tracks load-test results.
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64

	PrimaryResults  int64 // served by the scoring provider path
	FallbackResults int64 // served by rule-based fallback
	EmptyResults    int64 // 200 with zero recommendations

	Unavailable int64 // 503 from the health gate
	RateLimited int64 // 429

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) record(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	users := flag.Int("users", 100, "Number of synthetic users to rotate through")
	requests := flag.Int("requests", 1000, "Total requests to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	recType := flag.String("type", "mixed", "Recommendation type (or 'mixed')")
	fallbacks := flag.Bool("fallbacks", true, "Set includeFallbacks on every request")
	verbose := flag.Bool("verbose", false, "Print each request result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL LOADGEN - Recommendation Traffic           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Users:       %d\n", *users)
	fmt.Printf("Requests:    %d\n", *requests)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Type:        %s\n", *recType)
	fmt.Printf("Fallbacks:   %v\n", *fallbacks)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nRunning load test with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runLoad(*baseURL, *users, *requests, *workers, *recType, *fallbacks, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func runLoad(baseURL string, users, total, numWorkers int, recType string, fallbacks, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan RecommendationRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for req := range work {
				start := time.Now()
				resp, status, err := sendRequest(client, baseURL, req)
				elapsed := time.Since(start)

				metrics.record(elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", req.UserID, err)
					}
					continue
				}

				switch status {
				case http.StatusOK:
					switch {
					case len(resp.Recommendations) == 0:
						atomic.AddInt64(&metrics.EmptyResults, 1)
					case resp.Metadata.Fallback:
						atomic.AddInt64(&metrics.FallbackResults, 1)
					default:
						atomic.AddInt64(&metrics.PrimaryResults, 1)
					}
				case http.StatusServiceUnavailable:
					atomic.AddInt64(&metrics.Unavailable, 1)
				case http.StatusTooManyRequests:
					atomic.AddInt64(&metrics.RateLimited, 1)
				default:
					atomic.AddInt64(&metrics.TotalErrors, 1)
				}

				if verbose {
					marker := "✓"
					if status != http.StatusOK {
						marker = "✗"
					}
					fmt.Printf("%s %-12s | Type: %-24s | Status: %d | Items: %2d | Strategy: %-16s | %v\n",
						marker,
						req.UserID,
						req.Type,
						status,
						len(resp.Recommendations),
						resp.Metadata.Strategy,
						elapsed.Round(time.Millisecond),
					)
				}
			}
		}()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < total; i++ {
		work <- buildRequest(rng, users, recType, fallbacks)
	}
	close(work)

	wg.Wait()
	return metrics
}

func buildRequest(rng *rand.Rand, users int, recType string, fallbacks bool) RecommendationRequest {
	t := recType
	if t == "mixed" {
		t = recommendationTypes[rng.Intn(len(recommendationTypes))]
	}

	req := RecommendationRequest{
		UserID: fmt.Sprintf("load-user-%03d", rng.Intn(users)),
		Type:   t,
		Options: &RequestOptions{
			MaxResults:       5,
			IncludeFallbacks: fallbacks,
		},
	}

	// Trigger-based and category requests need transaction context
	switch t {
	case "transaction_triggered":
		req.Context = &RequestContext{
			Amount:   10 + rng.Float64()*990,
			Category: categories[rng.Intn(len(categories))],
			Merchant: merchants[rng.Intn(len(merchants))],
		}
	case "category_specific":
		req.Context = &RequestContext{
			Category: categories[rng.Intn(len(categories))],
		}
	}

	return req
}

func sendRequest(client *http.Client, baseURL string, req RecommendationRequest) (*RecommendationResponse, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/recommendations", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	result := &RecommendationResponse{}
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return nil, resp.StatusCode, err
		}
	}

	return result, resp.StatusCode, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       LOADGEN RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 TRAFFIC\n")
	fmt.Printf("   Total Requests:   %d\n", m.TotalProcessed)
	fmt.Printf("   Primary Results:  %d\n", m.PrimaryResults)
	fmt.Printf("   Fallback Results: %d\n", m.FallbackResults)
	fmt.Printf("   Empty Results:    %d\n", m.EmptyResults)
	fmt.Printf("   Unavailable:      %d\n", m.Unavailable)
	fmt.Printf("   Rate Limited:     %d\n", m.RateLimited)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	served := m.PrimaryResults + m.FallbackResults + m.EmptyResults
	if m.TotalProcessed > 0 {
		fmt.Printf("\n🎯 AVAILABILITY\n")
		fmt.Printf("   Served:           %d / %d (%.2f%%)\n", served, m.TotalProcessed,
			100*float64(served)/float64(m.TotalProcessed))
		if served > 0 {
			fmt.Printf("   Fallback Share:   %.2f%%\n", 100*float64(m.FallbackResults)/float64(served))
		}
	}

	m.mu.Lock()
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	m.mu.Unlock()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if len(sorted) > 0 {
		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		fmt.Printf("   Avg Latency:      %v\n", (sum / time.Duration(len(sorted))).Round(time.Millisecond))
		fmt.Printf("   p50 Latency:      %v\n", percentile(sorted, 0.50).Round(time.Millisecond))
		fmt.Printf("   p95 Latency:      %v\n", percentile(sorted, 0.95).Round(time.Millisecond))
		fmt.Printf("   p99 Latency:      %v\n", percentile(sorted, 0.99).Round(time.Millisecond))
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	switch {
	case m.TotalProcessed == 0:
		fmt.Println("   ❌ No requests completed")
	case m.Unavailable > 0 && m.FallbackResults == 0:
		fmt.Println("   ⚠️  Requests rejected while fallbacks were off - pass -fallbacks to absorb outages")
	case served == m.TotalProcessed-m.RateLimited:
		fmt.Println("   ✅ Every admitted request was served")
	default:
		fmt.Println("   ⚠️  Some requests failed outright - check kestrel logs")
	}

	fmt.Println()
}
