package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/kafka"
)

const (
	maxLatencySamples   = 10000
	maxTrackedQuestions = 10000

	DefaultTopQuestions = 10
	MaxTopQuestions     = 100
)

type Stats struct {
	TotalQueries     int64           `json:"total_queries"`
	TotalIngests     int64           `json:"total_ingests"`
	CacheHits        int64           `json:"cache_hits"`
	CacheHitRate     float64         `json:"cache_hit_rate"`
	NoResultCount    int64           `json:"no_result_count"`
	ErrorCount       int64           `json:"error_count"`
	NotFoundRate     float64         `json:"not_found_rate"`
	AvgLatencyMs     float64         `json:"avg_latency_ms"`
	P50LatencyMs     int64           `json:"p50_latency_ms"`
	P95LatencyMs     int64           `json:"p95_latency_ms"`
	P99LatencyMs     int64           `json:"p99_latency_ms"`
	TopQuestions     []QuestionCount `json:"top_questions"`
	QueriesPerMinute float64         `json:"queries_per_minute"`
	LastIngest       *IngestEvent    `json:"last_ingest,omitempty"`
}

type QuestionCount struct {
	Question string `json:"question"`
	Count    int64  `json:"count"`
}

// Aggregator keeps running totals over query and ingest events. Latencies
// are kept in a fixed-size ring so memory stays bounded.
type Aggregator struct {
	totalQueries atomic.Int64
	totalIngests atomic.Int64
	cacheHits    atomic.Int64
	noResults    atomic.Int64
	errors       atomic.Int64

	mu             sync.RWMutex
	latencies      []int64
	nextLatency    int
	retrieved      int64
	notFound       int64
	questionCounts map[string]int64
	lastIngest     *IngestEvent
	startTime      time.Time
	now            func() time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:      make([]int64, 0, 1024),
		questionCounts: make(map[string]int64),
		startTime:      time.Now(),
		now:            time.Now,
		logger:         slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent adapts the aggregator to a Kafka consumer. Undecodable
// messages are logged and committed so they do not block the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := Decode(value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "key", string(key), "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

// Record folds one QueryEvent or IngestEvent into the totals. Other values
// are ignored.
func (a *Aggregator) Record(event any) {
	switch e := event.(type) {
	case QueryEvent:
		a.recordQuery(e)
	case *QueryEvent:
		a.recordQuery(*e)
	case IngestEvent:
		a.recordIngest(e)
	case *IngestEvent:
		a.recordIngest(*e)
	default:
		a.logger.Warn("ignoring unknown analytics event", "type", fmt.Sprintf("%T", event))
	}
}

func (a *Aggregator) recordQuery(e QueryEvent) {
	a.totalQueries.Add(1)
	switch e.Outcome {
	case OutcomeNoDocs:
		a.noResults.Add(1)
	case OutcomeError, OutcomeNotReady:
		a.errors.Add(1)
	}
	if e.CacheHit {
		a.cacheHits.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, e.LatencyMs)
	} else {
		a.latencies[a.nextLatency] = e.LatencyMs
		a.nextLatency = (a.nextLatency + 1) % maxLatencySamples
	}
	if !e.CacheHit {
		a.retrieved += int64(e.Retrieved)
		a.notFound += int64(e.NotFound)
	}
	q := normalizeQuestion(e.Question)
	if _, ok := a.questionCounts[q]; ok || len(a.questionCounts) < maxTrackedQuestions {
		a.questionCounts[q]++
	}
}

func (a *Aggregator) recordIngest(e IngestEvent) {
	a.totalIngests.Add(1)
	a.mu.Lock()
	a.lastIngest = &e
	a.mu.Unlock()
}

func (a *Aggregator) Stats() Stats {
	return a.StatsWithTop(DefaultTopQuestions)
}

// StatsWithTop is Stats with up to top entries in TopQuestions.
func (a *Aggregator) StatsWithTop(top int) Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{
		TotalQueries:  a.totalQueries.Load(),
		TotalIngests:  a.totalIngests.Load(),
		CacheHits:     a.cacheHits.Load(),
		NoResultCount: a.noResults.Load(),
		ErrorCount:    a.errors.Load(),
	}
	if stats.TotalQueries > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalQueries)
	}
	if a.retrieved > 0 {
		stats.NotFoundRate = float64(a.notFound) / float64(a.retrieved)
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQuestions = topN(a.questionCounts, top)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalQueries) / elapsed
	}
	if a.lastIngest != nil {
		last := *a.lastIngest
		stats.LastIngest = &last
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QuestionCount {
	result := make([]QuestionCount, 0, len(counts))
	for q, count := range counts {
		result = append(result, QuestionCount{Question: q, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Question < result[j].Question
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}

func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
