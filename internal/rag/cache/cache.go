// Package cache memoizes final answers in Redis, keyed by the index snapshot
// version, the normalized question and the request's top_k and max_length.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/rag"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/redis"
)

const keyPrefix = "answer:"

// Backend is the subset of *pkgredis.Client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type AnswerCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache writing entries with ttl. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *AnswerCache {
	return &AnswerCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "answer-cache"),
	}
}

func (c *AnswerCache) Get(ctx context.Context, k rag.CacheKey) (*rag.FinalAnswer, bool) {
	key := buildKey(k)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var answer rag.FinalAnswer
	if err := json.Unmarshal([]byte(data), &answer); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return &answer, true
}

func (c *AnswerCache) Set(ctx context.Context, k rag.CacheKey, answer *rag.FinalAnswer) {
	key := buildKey(k)
	data, err := json.Marshal(answer)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached answer, or runs compute once for all
// concurrent callers asking the same thing and stores its result unless
// compute declines. Errors are never cached. The bool reports a cache hit.
func (c *AnswerCache) GetOrCompute(ctx context.Context, k rag.CacheKey, compute rag.ComputeFunc) (*rag.FinalAnswer, bool, error) {
	if answer, ok := c.Get(ctx, k); ok {
		return answer, true, nil
	}
	val, err, _ := c.group.Do(buildKey(k), func() (interface{}, error) {
		answer, store, err := compute()
		if err != nil {
			return nil, err
		}
		if store {
			c.Set(ctx, k, answer)
		} else {
			c.logger.Debug("answer not cached, index changed during query", "snapshot", k.Snapshot)
		}
		return answer, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*rag.FinalAnswer), false, nil
}

// Invalidate drops every cached answer. Ingest calls it after replacing the
// index; entries for older snapshots are unreachable anyway, so this only
// reclaims memory early.
func (c *AnswerCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating answer cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *AnswerCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *AnswerCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func buildKey(k rag.CacheKey) string {
	raw := fmt.Sprintf("%s|%s|k=%d|len=%d", k.Snapshot, normalizeQuestion(k.Question), k.TopK, k.MaxLength)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// normalizeQuestion folds case and whitespace so trivially different
// phrasings of the same question share an entry.
func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
