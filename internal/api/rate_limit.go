package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelmark/internal/ratelimit"
	"go.uber.org/zap"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// withRateLimit spends one token per request from the caller's bucket for
// route. Limiter errors fail open.
func (s *Server) withRateLimit(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.rateLimiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
			if subject == "" {
				subject = "anonymous"
			}
			subject = subject + ":" + route

			decision, err := s.rateLimiter.Allow(r.Context(), subject)
			if err != nil {
				s.logger.Warn("rate limiter check failed", zap.String("subject", subject), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		})
	}
}
