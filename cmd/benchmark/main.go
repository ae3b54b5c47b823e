package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/bookpay/internal/models"
	"golang.org/x/sync/errgroup"
)

var (
	targetURL   string
	userHash    string
	concurrency int
	rounds      int
	workload    string
)

var (
	totalRequests uint64
	success200    uint64
	fail4xx       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&userHash, "user", "", "User hash to act as")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent requests per round")
	flag.IntVar(&rounds, "rounds", 5, "Number of rounds")
	flag.StringVar(&workload, "workload", "topup", "Workload type: topup | checkout")
}

func main() {
	flag.Parse()
	if userHash == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "Starting Benchmark: %s | Workers: %d | Rounds: %d\n", workload, concurrency, rounds)

	client := &http.Client{Timeout: 30 * time.Second}
	var (
		mu   sync.Mutex
		uris = make(map[string]int)
	)

	start := time.Now()
	for round := range rounds {
		// Every worker in a round sends the same payload so the server should
		// answer all of them from one gateway call.
		payload := models.TopUpRequest{
			Hash: userHash,
			Sum:  fmt.Sprintf("%d.00", 100+round),
			Time: time.Now().UnixMilli(),
		}

		g, ctx := errgroup.WithContext(context.Background())
		for range concurrency {
			g.Go(func() error {
				uri, err := send(ctx, client, payload)
				if err != nil {
					return nil
				}
				if uri != "" {
					mu.Lock()
					uris[uri]++
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	printResults(time.Since(start), uris)
}

func send(ctx context.Context, client *http.Client, payload models.TopUpRequest) (string, error) {
	path := "/api/v1/payment"
	var body []byte
	if workload == "checkout" {
		path = "/api/v1/cart/checkout"
	} else {
		body, _ = json.Marshal(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Hash", userHash)

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return "", err
	}
	defer resp.Body.Close()

	atomic.AddUint64(&totalRequests, 1)
	switch {
	case resp.StatusCode == http.StatusOK:
		atomic.AddUint64(&success200, 1)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		atomic.AddUint64(&fail4xx, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}

	var env models.ResultResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", err
	}
	return env.RedirectURI, nil
}

func printResults(d time.Duration, uris map[string]int) {
	total := atomic.LoadUint64(&totalRequests)

	results := map[string]any{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_rps":    float64(total) / d.Seconds(),
		"success":           atomic.LoadUint64(&success200),
		"client_errors":     atomic.LoadUint64(&fail4xx),
		"errors":            atomic.LoadUint64(&failOther),
		"distinct_payments": len(uris),
		"expected_payments": rounds,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
