package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/af-corp/pplx-bridge/internal/httputil"
	"github.com/af-corp/pplx-bridge/internal/telemetry"
)

const (
	headerRateLimit          = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// Middleware limits each client address to rate on every route it wraps.
// Routes are counted separately, so a burst of /terminal calls does not
// starve chat completions.
func Middleware(limiter *Limiter, rate Rate, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := httputil.RequestIDFrom(r.Context())
			client := httputil.ClientIP(r)

			key := client + ":" + r.URL.Path
			result, _ := limiter.Check(r.Context(), key, rate.Limit, rate.Window)

			w.Header().Set(headerRateLimit, strconv.FormatInt(rate.Limit, 10))
			w.Header().Set(headerRateLimitRemaining, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"client", client,
					"path", r.URL.Path,
					"limit", rate.String(),
				)
				metrics.RecordRateLimitHit(r.URL.Path)
				retry := int64(result.RetryAfter.Seconds() + 0.999)
				if retry < 1 {
					retry = 1
				}
				w.Header().Set(headerRetryAfter, strconv.FormatInt(retry, 10))
				httputil.WriteRateLimitError(w, reqID, "Rate limit exceeded: "+rate.String())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
