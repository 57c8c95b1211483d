// Package main provides a benchmark tool that measures message correlation
// throughput against an engine. It publishes claim events concurrently and
// reports latency and results by error kind.
//
// Usage:
//
//	go run ./benchmark -url http://localhost:8080/engine-rest -messages 10000
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/claimworker/pkg/correlation"
	"github.com/guido-cesarano/claimworker/pkg/engine"
	"github.com/guido-cesarano/claimworker/pkg/logger"
)

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:9090/engine-rest", "Engine REST base URL")
	numMessages := flag.Int("messages", 10000, "Number of messages to correlate")
	numWorkers := flag.Int("workers", 10, "Number of concurrent publishers")
	keys := flag.Int("keys", 0, "Reuse CLAIM-1..CLAIM-n as business keys (0 = random keys)")
	flag.Parse()

	logger.Configure("error", "")

	client, err := engine.NewClient(engine.Options{BaseURL: *baseURL})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	svc := correlation.NewService(client, nil)
	events := svc.Events()
	ctx := context.Background()

	fmt.Printf("Correlation Benchmark\n")
	fmt.Printf("=====================\n")
	fmt.Printf("Messages to send: %d\n", *numMessages)
	fmt.Printf("Concurrent publishers: %d\n\n", *numWorkers)

	var (
		wg        sync.WaitGroup
		sent      atomic.Int64
		succeeded atomic.Int64
		mu        sync.Mutex
		failures  = map[string]int{}
		latencies = make([]time.Duration, 0, *numMessages)
	)
	perWorker := *numMessages / *numWorkers

	start := time.Now()
	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				key := "CLAIM-" + uuid.NewString()
				if *keys > 0 {
					key = fmt.Sprintf("CLAIM-%d", (workerID*perWorker+j)%*keys+1)
				}
				event := events[(workerID+j)%len(events)]

				t0 := time.Now()
				err := svc.Publish(ctx, key, event, fmt.Sprintf("https://bench/%s/%d", key, j))
				elapsed := time.Since(t0)
				sent.Add(1)

				mu.Lock()
				latencies = append(latencies, elapsed)
				if err != nil {
					failures[kindOf(err)]++
				}
				mu.Unlock()
				if err == nil {
					succeeded.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()
	total := time.Since(start)

	fmt.Printf("✓ Sent %d messages in %s\n", sent.Load(), total)
	fmt.Printf("  Throughput: %.2f msg/sec\n", float64(sent.Load())/total.Seconds())
	fmt.Printf("  Correlated: %d\n", succeeded.Load())

	if len(failures) > 0 {
		fmt.Printf("\nFailures by kind:\n")
		for kind, n := range failures {
			fmt.Printf("  %-24s %d\n", kind, n)
		}
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(a, b int) bool { return latencies[a] < latencies[b] })
		fmt.Printf("\nLatency P50: %s  P95: %s  P99: %s\n",
			percentile(latencies, 50), percentile(latencies, 95), percentile(latencies, 99))
	}
}

func kindOf(err error) string {
	var appErr *engine.ApplicationError
	switch {
	case engine.IsConnectionError(err):
		return "connection"
	case errors.As(err, &appErr):
		return string(appErr.Kind)
	default:
		return "other"
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
