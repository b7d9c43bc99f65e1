package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"intake/internal/platform/metrics"
	"intake/pkg/platform/httputil"
	"intake/pkg/requestcontext"
)

// Limiter applies a per-client-IP limit to the routes it wraps.
type Limiter struct {
	store   Store
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New returns nil when limit is not positive, meaning no limit applies.
func New(store Store, limit int, window time.Duration, logger *slog.Logger, m *metrics.Metrics) *Limiter {
	if limit <= 0 || window <= 0 || store == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, limit: limit, window: window, logger: logger, metrics: m}
}

// Middleware must run after ClientMetadata so the client IP is in context.
// Store errors fail open.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)

		res, err := l.store.Allow(ctx, "submit:"+ip, l.limit, l.window)
		if err != nil {
			l.metrics.IncRateLimit("fail_open")
			l.logger.ErrorContext(ctx, "rate limit check failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if res.Allowed {
			l.metrics.IncRateLimit("allowed")
			next.ServeHTTP(w, r)
			return
		}

		l.metrics.IncRateLimit("rejected")
		l.logger.WarnContext(ctx, "submission rate limited",
			"request_id", requestcontext.RequestID(ctx),
			"limit", res.Limit,
		)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
		httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{
			Error:            "rate_limit_exceeded",
			ErrorDescription: "too many submissions from this client, try again later",
			RequestID:        requestcontext.RequestID(ctx),
		})
	})
}
