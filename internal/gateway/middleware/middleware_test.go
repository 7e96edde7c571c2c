package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/metrics"
)

type brokenStore struct{}

func (brokenStore) Validate(context.Context, string) (*apikey.KeyInfo, error) {
	return nil, errors.New("db down")
}

// echoKey writes the authenticated key name, or "-" when there is none.
var echoKey = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	name := "-"
	if info := GetKeyInfo(r.Context()); info != nil {
		name = info.Name
	}
	w.Write([]byte(name))
})

func TestAuth(t *testing.T) {
	h := Auth(apikey.NewStaticStore(map[string]string{"demo-key-123": "demo"}))(echoKey)

	tests := []struct {
		name       string
		method     string
		path       string
		header     string
		value      string
		wantStatus int
		wantBody   string
	}{
		{"missing key", http.MethodPost, "/query", "", "", http.StatusUnauthorized, ""},
		{"unknown key", http.MethodPost, "/query", APIKeyHeader, "nope", http.StatusUnauthorized, ""},
		{"valid key", http.MethodPost, "/query", APIKeyHeader, "demo-key-123", http.StatusOK, "demo"},
		{"bearer token", http.MethodPost, "/ingest", "Authorization", "Bearer demo-key-123", http.StatusOK, "demo"},
		{"health is public", http.MethodGet, "/health/ready", "", "", http.StatusOK, "-"},
		{"ui is public", http.MethodGet, "/", "", "", http.StatusOK, "-"},
		{"post to root is not public", http.MethodPost, "/", "", "", http.StatusUnauthorized, ""},
		{"index stats need a key", http.MethodGet, "/api/v1/index", "", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestAuthStoreFailureIs500(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/query", nil)
	req.Header.Set(APIKeyHeader, "anything")
	rec := httptest.NewRecorder()
	Auth(brokenStore{})(echoKey).ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := ratelimit.New(2, 1, ratelimit.WithClock(func() time.Time { return now }))
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	store := apikey.NewStaticStore(map[string]string{"k1": "alice", "k2": "bob"})
	h := Auth(store)(RateLimit(limiter, m)(echoKey))

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/query", nil)
		req.Header.Set(APIKeyHeader, key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := range 2 {
		if rec := do("k1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := do("k1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	if rec := do("k2"); rec.Code != http.StatusOK {
		t.Errorf("other key limited: %d", rec.Code)
	}

	now = now.Add(time.Second)
	if rec := do("k1"); rec.Code != http.StatusOK {
		t.Errorf("after refill status = %d, want 200", rec.Code)
	}

	if got := testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("denied")); got != 1 {
		t.Errorf("denied decisions = %v", got)
	}
	if got := testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("allowed")); got != 4 {
		t.Errorf("allowed decisions = %v", got)
	}
}

func TestRateLimitSkipsAnonymous(t *testing.T) {
	limiter := ratelimit.New(1, 0.001)
	h := RateLimit(limiter, nil)(echoKey)
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	for in, want := range map[float64]int{0: 1, 0.2: 1, 1: 1, 1.01: 2, 9.5: 10} {
		if got := retryAfterSeconds(in); got != want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", in, got, want)
		}
	}
}
