// Package analytics collects query and ingest events, ships them through
// Kafka (or straight to an in-process aggregator) and serves rolled-up
// stats.
package analytics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/kafka"
)

type EventType string

const (
	EventQuery  EventType = "query"
	EventIngest EventType = "ingest"
)

// Query outcomes, shared with the rag_queries_total metric labels.
const (
	OutcomeOK       = "ok"
	OutcomeCached   = "cached"
	OutcomeNoDocs   = "no_docs"
	OutcomeNotReady = "not_ready"
	OutcomeError    = "error"
)

type QueryEvent struct {
	Type      EventType `json:"type"`
	Question  string    `json:"question"`
	TopK      int       `json:"top_k"`
	Retrieved int       `json:"retrieved"`
	NotFound  int       `json:"not_found"`
	TopScore  float32   `json:"top_score"`
	Outcome   string    `json:"outcome"`
	CacheHit  bool      `json:"cache_hit"`
	LatencyMs int64     `json:"latency_ms"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type IngestEvent struct {
	Type      EventType `json:"type"`
	Filename  string    `json:"filename"`
	Pages     int       `json:"pages"`
	Chunks    int       `json:"chunks"`
	Status    string    `json:"status"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Decode reads a JSON event by its type discriminator and returns a
// QueryEvent or IngestEvent value.
func Decode(data []byte) (any, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding event type: %w", err)
	}
	switch head.Type {
	case EventQuery:
		e, err := kafka.DecodeJSON[QueryEvent](data)
		if err != nil {
			return nil, err
		}
		return e, nil
	case EventIngest:
		e, err := kafka.DecodeJSON[IngestEvent](data)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
}
