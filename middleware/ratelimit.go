package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultProtectedPrefixes are the credential endpoints guarded by default.
// The refresh route is configurable, so servers add it themselves.
var DefaultProtectedPrefixes = []string{
	"/auth/login",
	"/auth/send-otp",
	"/auth/verify-otp",
	"/auth/send-reset-otp",
	"/auth/reset-password",
}

// Limiter is a per-key token bucket registry.
type Limiter interface {
	TryConsume(key string, cost int) bool
	RetryAfter(key string, cost int) time.Duration
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// ProtectedPrefixes selects the limited paths. Empty means
	// DefaultProtectedPrefixes.
	ProtectedPrefixes []string
	// OnReject, if set, is called for every rejected request.
	OnReject func(r *http.Request)
}

// RateLimit charges one token per request to a protected path from the
// client IP's bucket and answers 429 when the bucket is empty. OPTIONS
// requests and unprotected paths pass without charge.
func RateLimit(limiter Limiter, cfg RateLimitConfig) func(http.Handler) http.Handler {
	prefixes := cfg.ProtectedPrefixes
	if len(prefixes) == 0 {
		prefixes = DefaultProtectedPrefixes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || !hasAnyPrefix(r.URL.Path, prefixes) {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			if limiter.TryConsume(ip, 1) {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.OnReject != nil {
				cfg.OnReject(r)
			}
			w.Header().Set("Retry-After", retryAfterSeconds(limiter.RetryAfter(ip, 1)))
			writeError(w, http.StatusTooManyRequests, msgRateLimited, codeRateLimited)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, or the peer address
// without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
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

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
