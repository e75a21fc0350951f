package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// KeyFunc maps a request to its rate limit bucket. An empty key skips the limit.
type KeyFunc func(r *http.Request) string

// RateLimitMiddleware limits requests per bucket key
type RateLimitMiddleware struct {
	limiter Limiter
	key     KeyFunc
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRateLimitMiddleware limits per verified identity. It must run after
// session resolution; requests without an identity are not counted.
// metrics may be nil.
func NewRateLimitMiddleware(limiter Limiter, logger *observability.Logger, metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		key:     identityKey,
		logger:  logger,
		metrics: metrics,
	}
}

// NewClientIPRateLimitMiddleware limits per client address. It runs before
// session resolution so credential guessing is throttled before it reaches
// the identity provider. X-Forwarded-For is only honoured when trustProxy
// is set.
func NewClientIPRateLimitMiddleware(limiter Limiter, trustProxy bool, logger *observability.Logger, metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		key: func(r *http.Request) string {
			return "ip:" + clientIP(r, trustProxy)
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Handler wraps an HTTP handler with rate limiting. Limiter errors fail open.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.key(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()

		allowed, err := m.limiter.Allow(ctx, key)
		if err != nil {
			m.metrics.RecordFailOpen("ratelimit")
			m.logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limiter.Limit()))
		if remaining, err := m.limiter.Remaining(ctx, key); err == nil {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}
		if !allowed {
			m.metrics.RecordDecision(observability.StageRateLimit, observability.OutcomeDeny)
			w.Header().Set("Retry-After", strconv.Itoa(m.retryAfter(r, key)))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}

		m.metrics.RecordDecision(observability.StageRateLimit, observability.OutcomeAllow)
		next.ServeHTTP(w, r)
	})
}

// retryAfter is in whole seconds, at least one
func (m *RateLimitMiddleware) retryAfter(r *http.Request, key string) int {
	wait := m.limiter.Window()
	if ttl, err := m.limiter.TTL(r.Context(), key); err == nil && ttl > 0 {
		wait = ttl
	}
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func identityKey(r *http.Request) string {
	if identity := auth.GetIdentity(r.Context()); identity != nil {
		return "identity:" + identity.Subject
	}
	return ""
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			return strings.TrimSpace(strings.Split(forwarded, ",")[0])
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return realIP
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
