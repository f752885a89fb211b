package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/kuitang/plansite/internal/errs"
	"github.com/kuitang/plansite/internal/obs"
)

// DefaultRetryAfterSeconds is the Retry-After value sent with 429 responses.
const DefaultRetryAfterSeconds = 1

// KeyFunc extracts the rate-limit key from a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// TierFunc reports which tier applies to a request.
type TierFunc func(r *http.Request) Tier

// ClientIP returns the client address, preferring the first X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// FreeTier is a TierFunc that always returns TierFree.
func FreeTier(*http.Request) Tier { return TierFree }

// Middleware returns HTTP middleware enforcing limiter on each request's key.
// Rejected requests get 429 with Retry-After and X-RateLimit-Remaining: 0.
func Middleware(limiter *RateLimiter, keyFn KeyFunc, tierFn TierFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			tier := tierFn(r)
			rateLimiter := limiter.GetLimiter(key, tier)
			if !rateLimiter.Allow() {
				obs.From(r.Context()).Warn("rate limited", "path", r.URL.Path, "tier", tier.String())
				w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
				w.Header().Set("X-RateLimit-Remaining", "0")
				errs.WriteJSON(w, errs.New(errs.ResourceExhausted, "too many requests"))
				return
			}

			remaining := int(rateLimiter.Tokens())
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}
