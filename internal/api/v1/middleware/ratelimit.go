package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/snapncook/snapclient/internal/config"
	"github.com/snapncook/snapclient/pkg/httpext"
	"github.com/snapncook/snapclient/pkg/logger"
	"github.com/snapncook/snapclient/pkg/ratelimit"
)

// RateLimit caps bridge calls per client host under the budget configured
// for limitKey. Rejected calls get 429 with Retry-After set to the window.
func RateLimit(limitKey string) func(http.Handler) http.Handler {
	cfg := config.GetRateLimitConfig(limitKey)
	limiter := ratelimit.NewLimiter(cfg.Window, cfg.MaxHits)
	retryAfter := strconv.Itoa(int(math.Ceil(cfg.Window.Seconds())))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			host := clientHost(r)
			if !limiter.Allow(host) {
				logger.Warn(logger.HANDLER, "Rate limit exceeded for %s on %s", host, limitKey)
				w.Header().Set("Retry-After", retryAfter)
				httpext.JsonError(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientHost is the originating host: the first X-Forwarded-For hop when
// present, otherwise the remote address without its port.
func clientHost(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
