package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// rateLimit builds a per-IP sliding-window rate limiter for mutating routes,
// grounded on the teacher's internal/api/middleware/ratelimit.go: httprate
// with a 429 JSON body and a Retry-After header rather than the library's
// bare text response.
func rateLimit(requestLimit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
		}),
	)
}
