// Command loadtest drives POST /query with a fixed question set and reports
// latency percentiles and the status-code mix. 429s show the per-key token
// bucket at work; 200s after the first round are mostly answer-cache hits
// when Redis is enabled.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8000 -key demo-key-123 -concurrency 4 -duration 30s
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"
)

var questions = []string{
	"What is the main contribution of this document?",
	"Which methods are compared?",
	"What dataset is used?",
	"What are the limitations?",
	"Summarize the conclusion.",
	"Who are the authors?",
	"What results are reported?",
	"How is the evaluation set up?",
}

type sample struct {
	latency time.Duration
	status  int // 0 on transport error
}

type recorder struct {
	mu      sync.Mutex
	samples []sample
}

func (r *recorder) add(s sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "base URL of the q&a service")
	apiKey := flag.String("key", "demo-key-123", "value sent in X-API-Key")
	concurrency := flag.Int("concurrency", 4, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	topK := flag.Int("top-k", 4, "top_k sent with every question")
	flag.Parse()

	fmt.Println("=== PDF Q&A Load Test ===")
	fmt.Printf("Target:      %s/query\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n\n", *duration)

	client := &http.Client{
		Timeout: 2 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: *concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	rec := &recorder{}
	var wg sync.WaitGroup
	for w := range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; ctx.Err() == nil; i++ {
				q := questions[i%len(questions)]
				start := time.Now()
				status, err := ask(ctx, client, *baseURL, *apiKey, q, *topK)
				if err != nil && ctx.Err() != nil {
					return
				}
				rec.add(sample{latency: time.Since(start), status: status})
			}
		}()
	}
	wg.Wait()

	if !report(rec.samples, *duration) {
		fmt.Println("\nWARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func ask(ctx context.Context, client *http.Client, baseURL, key, question string, topK int) (int, error) {
	body, _ := json.Marshal(map[string]any{"question": question, "top_k": topK})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", key)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// report prints the summary and returns false when nothing completed.
func report(samples []sample, duration time.Duration) bool {
	codes := make(map[int]int)
	var ok []time.Duration
	for _, s := range samples {
		codes[s.status]++
		if s.status == http.StatusOK {
			ok = append(ok, s.latency)
		}
	}

	fmt.Println("=== Results ===")
	fmt.Printf("Requests:     %d\n", len(samples))
	fmt.Printf("Answered:     %d\n", len(ok))
	if len(samples) == 0 {
		return false
	}
	fmt.Printf("Requests/sec: %.2f\n", float64(len(samples))/duration.Seconds())

	if len(ok) > 0 {
		slices.Sort(ok)
		var sum time.Duration
		for _, l := range ok {
			sum += l
		}
		fmt.Println("\n=== Latency (200 only) ===")
		fmt.Printf("Min: %s\n", ok[0])
		fmt.Printf("Avg: %s\n", sum/time.Duration(len(ok)))
		for _, p := range []int{50, 90, 95, 99} {
			fmt.Printf("P%d: %s\n", p, percentile(ok, p))
		}
		fmt.Printf("Max: %s\n", ok[len(ok)-1])
	}

	fmt.Println("\n=== Status Codes ===")
	keys := make([]int, 0, len(codes))
	for c := range codes {
		keys = append(keys, c)
	}
	slices.Sort(keys)
	for _, c := range keys {
		label := http.StatusText(c)
		if c == 0 {
			label = "transport error"
		}
		fmt.Printf("  %3d %-22s %d\n", c, label, codes[c])
	}
	if codes[http.StatusTooManyRequests] > 0 {
		fmt.Println("\n429s mean the key's token bucket ran dry; raise rateLimit.capacity or lower -concurrency.")
	}
	return true
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := (p*len(sorted)+99)/100 - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
