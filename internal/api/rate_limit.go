package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariant/internal/ratelimit"
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

// routeCost is the number of tokens a request spends. Batches and the
// all-variants manifest do several transforms per upload.
func routeCost(route string) int {
	switch route {
	case "/process/batch/{variant}":
		return 5
	case "/process/all":
		return 3
	default:
		return 1
	}
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
		if subject == "" {
			subject = "anonymous"
		}
		subject = subject + ":" + route

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, routeCost(route))
		if err != nil {
			// fail open
			s.logger.Printf("rate limiter check failed subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

func shouldRateLimit(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/v1/jobs") || strings.HasPrefix(r.URL.Path, "/process/")
}
