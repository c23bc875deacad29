package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/divsync/internal/dispatch"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	NodeID      string               `json:"node_id"`
	Uptime      float64              `json:"uptime_seconds"`
	Subscribers int                  `json:"subscribers"`
	Jobs        []dispatch.JobStatus `json:"jobs"`
	// NextTicks maps each job to its next scheduled tick. Absent when the
	// scheduler is not running in this process.
	NextTicks map[string]time.Time `json:"next_ticks,omitempty"`
}

// handleStatus returns an http.HandlerFunc for GET /status: the latest and
// the last successful run of every job, plus recent history.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			NodeID:      g.appCtx.NodeID,
			Uptime:      time.Since(g.startedAt).Truncate(time.Second).Seconds(),
			Subscribers: g.hub.Subscribers(),
			Jobs:        []dispatch.JobStatus{},
		}

		if g.ledger != nil && g.jobs != nil {
			jobs, err := dispatch.Snapshot(r.Context(), g.ledger, g.jobs.All(), time.Now(), g.config.RecentRuns)
			if err != nil {
				g.logger.Error("gateway: reading status", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ledger unavailable"})
				return
			}
			resp.Jobs = jobs
		}

		if g.schedule != nil && g.jobs != nil {
			for _, j := range g.jobs.All() {
				if next, ok := g.schedule.Next(j.Name); ok {
					if resp.NextTicks == nil {
						resp.NextTicks = make(map[string]time.Time)
					}
					resp.NextTicks[j.Name] = next
				}
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
