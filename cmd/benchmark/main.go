// Benchmark tool for load-testing Heron's calculation endpoint.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -n 10000
//
// This tool:
//   1. Generates synthetic marketplace transactions across service types,
//      roles, zones and amounts
//   2. Sends each to Heron's POST /commissions/calculate endpoint
//   3. Reports match rate, clamp frequency, latency and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// CalculateRequest is the Heron API request format.
type CalculateRequest struct {
	ServiceType    string  `json:"serviceType"`
	ActorRole      string  `json:"actorRole"`
	Amount         float64 `json:"amount"`
	GeographicZone string  `json:"geographicZone,omitempty"`
}

// CalculateResponse is the Heron API response format.
type CalculateResponse struct {
	CommissionAmount string `json:"commissionAmount"`
	EffectiveRate    string `json:"effectiveRate"`
	MatchedRuleID    string `json:"matchedRuleId"`
	ClampApplied     string `json:"clampApplied"`
	Matched          bool   `json:"matched"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalProcessed int64
	TotalMatched   int64
	TotalUnmatched int64
	TotalClamped   int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

var serviceTypes = []string{"DELIVERY", "RIDE", "FREIGHT", "COURIER", "STORAGE"}
var actorRoles = []string{"CLIENT", "DELIVERER", "MERCHANT", "PROVIDER"}
var zones = []string{"", "paris", "lyon", "marseille", "bordeaux"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Heron base URL")
	count := flag.Int("n", 10000, "Number of transactions to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Int64("seed", 42, "Random seed for transaction generation")
	maxAmount := flag.Float64("max-amount", 500, "Maximum transaction amount")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            HERON BENCHMARK - Commission Calculation           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHeron URL:   %s\n", *baseURL)
	fmt.Printf("Count:       %d\n", *count)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Printf("Max Amount:  %.2f\n", *maxAmount)
	fmt.Println()

	// Check Heron is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Heron not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Heron is running:")
		fmt.Println("  go run cmd/heron/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Heron is healthy")

	// Generate transactions up front so the run is reproducible per seed
	rng := rand.New(rand.NewSource(*seed))
	transactions := make([]CalculateRequest, *count)
	for i := range transactions {
		transactions[i] = CalculateRequest{
			ServiceType:    serviceTypes[rng.Intn(len(serviceTypes))],
			ActorRole:      actorRoles[rng.Intn(len(actorRoles))],
			Amount:         float64(int(rng.Float64()*(*maxAmount)*100)) / 100,
			GeographicZone: zones[rng.Intn(len(zones))],
		}
	}
	fmt.Printf("✓ Generated %d transactions\n", len(transactions))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *workers, *verbose)
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

func runBenchmark(transactions []CalculateRequest, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan CalculateRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := calculate(client, baseURL, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s/%s -> %v\n", tx.ServiceType, tx.ActorRole, err)
					}
					continue
				}

				if result.Matched {
					atomic.AddInt64(&metrics.TotalMatched, 1)
				} else {
					atomic.AddInt64(&metrics.TotalUnmatched, 1)
				}
				if result.ClampApplied != "" {
					atomic.AddInt64(&metrics.TotalClamped, 1)
				}

				if verbose {
					fmt.Printf("  %-8s | %-9s | %-10s | Amount: %10.2f | Commission: %8s | Rule: %s\n",
						tx.ServiceType,
						tx.ActorRole,
						tx.GeographicZone,
						tx.Amount,
						result.CommissionAmount,
						result.MatchedRuleID,
					)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func calculate(client *http.Client, baseURL string, tx CalculateRequest) (*CalculateResponse, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/commissions/calculate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result CalculateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 TRAFFIC\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n🎯 RESOLUTION\n")
	handled := m.TotalMatched + m.TotalUnmatched
	if handled > 0 {
		fmt.Printf("   Matched:          %d (%.2f%%)\n", m.TotalMatched, 100*float64(m.TotalMatched)/float64(handled))
		fmt.Printf("   Unmatched:        %d (%.2f%%)\n", m.TotalUnmatched, 100*float64(m.TotalUnmatched)/float64(handled))
		fmt.Printf("   Clamped:          %d (%.2f%%)\n", m.TotalClamped, 100*float64(m.TotalClamped)/float64(handled))
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
