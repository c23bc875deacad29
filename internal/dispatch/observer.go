package dispatch

import (
	"time"

	"github.com/flemzord/divsync/internal/ledger"
	"github.com/flemzord/divsync/internal/syncer"
)

// RunReport describes a finished run.
type RunReport struct {
	Job        string
	RunID      string
	Holder     string
	Status     ledger.Status
	Result     syncer.Result
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time of the run.
func (r RunReport) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Observer is notified of dispatcher events. Calls happen synchronously
// on the dispatching goroutine and must not block.
type Observer interface {
	OnSkip(job string, status ledger.Status, reason string)
	OnStart(job, runID, holder string)
	OnFinish(report RunReport)
	OnLeaseLost(job, holder string)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnSkip(string, ledger.Status, string) {}
func (NopObserver) OnStart(string, string, string)       {}
func (NopObserver) OnFinish(RunReport)                   {}
func (NopObserver) OnLeaseLost(string, string)           {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) OnSkip(job string, status ledger.Status, reason string) {
	for _, obs := range o {
		obs.OnSkip(job, status, reason)
	}
}

func (o Observers) OnStart(job, runID, holder string) {
	for _, obs := range o {
		obs.OnStart(job, runID, holder)
	}
}

func (o Observers) OnFinish(report RunReport) {
	for _, obs := range o {
		obs.OnFinish(report)
	}
}

func (o Observers) OnLeaseLost(job, holder string) {
	for _, obs := range o {
		obs.OnLeaseLost(job, holder)
	}
}
