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

	"github.com/punchamoorthee/starledger/internal/models"
	log "github.com/sirupsen/logrus"
)

var (
	targetURL   string
	apiKey      string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
	amount      int64
)

var (
	totalRequests uint64
	success200    uint64
	rejected400   uint64 // insufficient_balance
	failOther     uint64
	debitedStars  int64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&apiKey, "key", os.Getenv("INTERNAL_STARS_API_KEY"), "Operator API key")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "pool", "Workload type: pool | uniform | hotspot")
	flag.IntVar(&accounts, "accounts", 1000, "Seeded account ids 1..n")
	flag.Int64Var(&amount, "amount", 1, "Stars debited per request")
}

func main() {
	flag.Parse()
	log.Infof("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	client := &http.Client{Timeout: 5 * time.Second}
	poolBefore, err := poolBalance(client)
	if err != nil {
		log.Fatalf("Unable to read pool balance: %v", err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, client, start)
	}
	wg.Wait()
	elapsed := time.Since(start)

	poolAfter, err := poolBalance(client)
	if err != nil {
		log.Fatalf("Unable to read pool balance: %v", err)
	}
	ok := printResults(elapsed, poolBefore, poolAfter)
	if !ok {
		os.Exit(1)
	}
}

func worker(wg *sync.WaitGroup, client *http.Client, start time.Time) {
	defer wg.Done()
	body, _ := json.Marshal(models.StarAmountRequest{Amount: amount, Reference: "benchmark"})

	for time.Since(start) < duration {
		req, _ := http.NewRequest(http.MethodPost, targetURL+path(), bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", apiKey)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
			if workload == "pool" {
				atomic.AddInt64(&debitedStars, amount)
			}
		case http.StatusBadRequest:
			atomic.AddUint64(&rejected400, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func path() string {
	switch workload {
	case "pool":
		return "/api/v1/pool/debit"
	case "hotspot":
		// 90% of traffic drains account 1
		if rand.Float32() < 0.90 {
			return "/api/v1/accounts/1/stars/debit"
		}
	}
	return fmt.Sprintf("/api/v1/accounts/%d/stars/debit", rand.Intn(accounts)+1)
}

func poolBalance(client *http.Client) (int64, error) {
	req, _ := http.NewRequest(http.MethodGet, targetURL+"/api/v1/pool", nil)
	req.Header.Set("X-API-Key", apiKey)
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out models.PoolResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// printResults reports throughput and checks that the pool never went
// negative and moved by exactly the stars that were acknowledged.
func printResults(d time.Duration, poolBefore, poolAfter int64) bool {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	r400 := atomic.LoadUint64(&rejected400)
	fErr := atomic.LoadUint64(&failOther)
	debited := atomic.LoadInt64(&debitedStars)

	consistent := poolAfter >= 0
	if workload == "pool" {
		consistent = consistent && poolBefore-poolAfter == debited
	}

	var rejectRate float64
	if total > 0 {
		rejectRate = float64(r400) / float64(total) * 100
	}

	results := map[string]any{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  float64(total) / d.Seconds(),
		"success":         s200,
		"rejected":        r400,
		"reject_rate_pct": rejectRate,
		"errors":          fErr,
		"pool_before":     poolBefore,
		"pool_after":      poolAfter,
		"pool_consistent": consistent,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.WithError(err).Warn("Unable to write results file")
		return consistent
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
	return consistent
}
