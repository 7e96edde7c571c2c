package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/metrics"
)

// RateLimit spends one token from the authenticated key's bucket per
// request and answers 429 with Retry-After when the bucket is empty. It must
// run after Auth; requests without key info (public routes) pass through.
// m may be nil.
func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := GetKeyInfo(r.Context())
			if info == nil {
				next.ServeHTTP(w, r)
				return
			}

			allowed, wait := limiter.Check(info.ID)
			if m != nil {
				decision := "allowed"
				if !allowed {
					decision = "denied"
				}
				m.RateLimitDecisions.WithLabelValues(decision).Inc()
			}
			if !allowed {
				logger.FromContext(r.Context()).Warn("rate limit exceeded", "retry_after", wait)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait.Seconds())))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(s float64) int {
	return max(1, int(math.Ceil(s)))
}
