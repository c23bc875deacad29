package gateway

import "net/http"

// handleMetrics serves the Prometheus registry published by the telemetry
// service, or 503 when none is registered.
func (g *Gateway) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.metrics == nil {
			http.Error(w, "metrics not available", http.StatusServiceUnavailable)
			return
		}
		g.metrics.Handler().ServeHTTP(w, r)
	}
}
