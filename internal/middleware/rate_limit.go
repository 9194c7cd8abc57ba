package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/carelink/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	IP       *pkghttp.IPConfig
}

// DefaultAuthRateLimit returns the limit for public auth endpoints (10 requests per minute)
func DefaultAuthRateLimit(ip *pkghttp.IPConfig) RateLimitConfig {
	return RateLimitConfig{
		Requests: 10,
		Window:   time.Minute,
		IP:       ip,
	}
}

// RateLimitByIP limits requests per client IP. Forwarded headers are only
// trusted from configured proxies.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IP), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
		}),
	)
}
