package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/flemzord/divsync/internal/dispatch"
	"github.com/flemzord/divsync/internal/ledger"
)

// Event types streamed on /ws/runs.
const (
	EventSkip      = "skip"
	EventStart     = "start"
	EventFinish    = "finish"
	EventLeaseLost = "lease_lost"
)

const eventWriteTimeout = 5 * time.Second

// RunEvent is one dispatcher event as sent to websocket subscribers.
type RunEvent struct {
	Type       string        `json:"type"`
	Job        string        `json:"job"`
	RunID      string        `json:"run_id,omitempty"`
	Holder     string        `json:"holder,omitempty"`
	Status     ledger.Status `json:"status,omitempty"`
	Records    int           `json:"records,omitempty"`
	Skipped    int           `json:"skipped,omitempty"`
	DurationMS int64         `json:"duration_ms,omitempty"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

// Hub fans dispatcher events out to subscribers. Publishing never blocks:
// a subscriber whose queue is full is dropped.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	now    func() time.Time
	redact func(string) string
}

// Subscription receives events on C until the hub closes it.
type Subscription struct {
	C <-chan RunEvent

	hub    *Hub
	ch     chan RunEvent
	reason websocket.StatusCode
}

// Reason is the websocket close code explaining why C was closed.
func (s *Subscription) Reason() websocket.StatusCode {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.reason
}

var _ dispatch.Observer = (*Hub)(nil)

// NewHub creates a hub with a per-subscriber queue of buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		now:    time.Now,
		redact: func(s string) string { return s },
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and is safe to call more than once.
func (h *Hub) Subscribe() (*Subscription, func()) {
	ch := make(chan RunEvent, h.buffer)
	sub := &Subscription{C: ch, hub: h, ch: ch, reason: websocket.StatusNormalClosure}
	h.mu.Lock()
	if h.closed {
		sub.reason = websocket.StatusGoingAway
		close(sub.ch)
	} else {
		h.subs[sub] = struct{}{}
	}
	h.mu.Unlock()

	return sub, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		sub.reason = websocket.StatusGoingAway
		close(sub.ch)
		delete(h.subs, sub)
	}
}

func (h *Hub) publish(ev RunEvent) {
	ev.At = h.now().UTC()
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.reason = websocket.StatusPolicyViolation
			close(sub.ch)
			delete(h.subs, sub)
		}
	}
}

// OnSkip implements dispatch.Observer.
func (h *Hub) OnSkip(job string, status ledger.Status, reason string) {
	h.publish(RunEvent{Type: EventSkip, Job: job, Status: status, Error: h.redact(reason)})
}

// OnStart implements dispatch.Observer.
func (h *Hub) OnStart(job, runID, holder string) {
	h.publish(RunEvent{Type: EventStart, Job: job, RunID: runID, Holder: holder, Status: ledger.StatusRunning})
}

// OnFinish implements dispatch.Observer.
func (h *Hub) OnFinish(r dispatch.RunReport) {
	ev := RunEvent{
		Type:       EventFinish,
		Job:        r.Job,
		RunID:      r.RunID,
		Holder:     r.Holder,
		Status:     r.Status,
		Records:    r.Result.Records,
		Skipped:    r.Result.Skipped,
		DurationMS: r.Duration().Milliseconds(),
	}
	if r.Err != nil {
		ev.Error = h.redact(r.Err.Error())
	}
	h.publish(ev)
}

// OnLeaseLost implements dispatch.Observer.
func (h *Hub) OnLeaseLost(job, holder string) {
	h.publish(RunEvent{Type: EventLeaseLost, Job: job, Holder: holder})
}

// handleRuns streams RunEvents as JSON text frames until the client goes
// away, the subscriber falls behind, or the gateway stops.
func (g *Gateway) handleRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The stream outlives the server's read and write timeouts.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("gateway: websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.CloseNow()
		}()

		sub, cancel := g.hub.Subscribe()
		defer cancel()

		// Clients only listen; CloseRead handles their control frames.
		ctx := conn.CloseRead(r.Context())

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					_ = conn.Close(sub.Reason(), "event stream closed")
					return
				}
				wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
				err := wsjson.Write(wctx, conn, ev)
				wcancel()
				if err != nil {
					g.logger.Debug("gateway: websocket write failed", "error", err)
					return
				}
			}
		}
	}
}
