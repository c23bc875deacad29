package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/flemzord/divsync/internal/job"
	"github.com/flemzord/divsync/internal/ledger"
)

// JobStatus is the operator view of one job. Overdue is set when no run
// succeeded within two cadences.
type JobStatus struct {
	Job         string          `json:"job"`
	Cadence     string          `json:"cadence"`
	Latest      *ledger.JobRun  `json:"latest,omitempty"`
	LastSuccess *ledger.JobRun  `json:"last_success,omitempty"`
	Recent      []ledger.JobRun `json:"recent,omitempty"`
	Overdue     bool            `json:"overdue"`
}

// Snapshot reads the ledger state of every job. recent bounds how many
// rows are listed per job; zero lists none.
func Snapshot(ctx context.Context, l ledger.Ledger, jobs []job.ScheduledJob, now time.Time, recent int) ([]JobStatus, error) {
	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		st := JobStatus{Job: j.Name, Cadence: j.Cadence.String()}

		latest, err := l.Latest(ctx, j.Name)
		if err != nil {
			return nil, fmt.Errorf("dispatch: status of %s: %w", j.Name, err)
		}
		st.Latest = latest

		last, err := l.LastSuccess(ctx, j.Name)
		if err != nil {
			return nil, fmt.Errorf("dispatch: status of %s: %w", j.Name, err)
		}
		st.LastSuccess = last
		st.Overdue = overdue(last, j.Cadence, now)

		if recent > 0 {
			runs, err := l.List(ctx, j.Name, recent)
			if err != nil {
				return nil, fmt.Errorf("dispatch: status of %s: %w", j.Name, err)
			}
			st.Recent = runs
		}
		out = append(out, st)
	}
	return out, nil
}

func overdue(last *ledger.JobRun, cadence time.Duration, now time.Time) bool {
	if last == nil || last.FinishedAt == nil {
		return true
	}
	return now.Sub(*last.FinishedAt) > 2*cadence
}
