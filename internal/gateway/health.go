package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const healthProbeTimeout = 2 * time.Second

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status string `json:"status"` // "ok" or "degraded"
	NodeID string `json:"node_id"`
	Ledger string `json:"ledger"` // "ok", "unavailable" or "unconfigured"
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 503 when the run ledger cannot be read.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status: "ok",
			NodeID: g.appCtx.NodeID,
			Ledger: "unconfigured",
		}

		if g.ledger != nil && g.jobs != nil {
			resp.Ledger = "ok"
			ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
			defer cancel()
			for _, j := range g.jobs.All() {
				if _, err := g.ledger.Latest(ctx, j.Name); err != nil {
					g.logger.Warn("gateway: ledger probe failed", "job", j.Name, "error", err)
					resp.Status = "degraded"
					resp.Ledger = "unavailable"
					break
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
