package middleware

import (
	"net/http"
	"time"

	"github.com/sakif/identity/internal/metrics"
)

// unmatchedRoute labels requests no route matched (404s for random paths),
// so scanners cannot blow up label cardinality.
const unmatchedRoute = "unmatched"

// Metrics records request count and latency per chi route pattern.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			route := routePattern(r)
			if route == "" {
				route = unmatchedRoute
			}
			m.ObserveRequest(route, r.Method, wrapped.statusCode, time.Since(start))
		})
	}
}
