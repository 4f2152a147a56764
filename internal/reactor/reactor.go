// Package reactor implements scheduler.Reactor against a live X
// connection: a background goroutine drains xgb's blocking event stream
// into a channel, while idle/timer/periodic
// callbacks are plain time.Timer/time.Ticker scheduling, since xgb itself
// has no event-loop integration of its own.
package reactor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jezek/xgb"
)

// XGB adapts an *xgb.Conn to scheduler.Reactor. Timer and periodic
// callbacks run on their own goroutines (idle callbacks run inside RunIdle,
// on its caller's goroutine) and call back into Go's single-threaded
// preprocess/paint pipeline only through the callbacks the caller passes
// in, so the caller (cmd/xcompd) is responsible for serializing them onto
// one goroutine if the backend isn't safe for concurrent use.
type XGB struct {
	conn *xgb.Conn

	mu     sync.Mutex
	events []any

	idleArmed bool
	idleCb    func()
}

// New starts the background event-receiving goroutine and returns a
// Reactor. ctx cancellation
// stops the goroutine; conn.WaitForEvent returning (nil, nil) or a non-nil
// error also ends it.
func New(ctx context.Context, conn *xgb.Conn, wake func()) *XGB {
	r := &XGB{conn: conn}

	go func() {
		for {
			ev, err := conn.WaitForEvent()
			if ev == nil && err == nil {
				slog.Debug("reactor: connection closed")
				return
			}
			if err != nil {
				if xerr, ok := err.(xgb.Error); ok {
					slog.Warn("reactor: protocol error", "error", xerr)
					continue
				}
				slog.Error("reactor: read failed", "error", err)
				return
			}

			select {
			case <-ctx.Done():
				return
			default:
			}

			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			if wake != nil {
				wake()
			}
		}
	}()

	return r
}

// PollEvents implements scheduler.Reactor.
func (r *XGB) PollEvents() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	out := r.events
	r.events = nil
	return out
}

// Flush implements scheduler.Reactor by forcing a round trip, which is the
// closest xgb gets to an explicit output-buffer flush (it writes requests
// eagerly; Sync only guarantees the server has seen them).
func (r *XGB) Flush() {
	r.conn.Sync()
}

// ArmIdle implements scheduler.Reactor by posting cb to run on the next
// scheduler tick instead of true event-loop idle; cmd/xcompd's main loop
// calls RunIdle after every PollEvents/Dispatch round, which is close
// enough to "no more ready work this tick" for a single-threaded reactor.
func (r *XGB) ArmIdle(cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idleArmed = true
	r.idleCb = cb
}

// RunIdle runs and clears the pending idle callback, if any. Called once
// per iteration of cmd/xcompd's main loop.
func (r *XGB) RunIdle() {
	r.mu.Lock()
	cb := r.idleCb
	r.idleArmed = false
	r.idleCb = nil
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// ArmTimer implements scheduler.Reactor with a one-shot time.Timer.
func (r *XGB) ArmTimer(d time.Duration, cb func()) func() {
	t := time.AfterFunc(d, cb)
	return func() { t.Stop() }
}

// ArmPeriodic implements scheduler.Reactor with a time.Ticker run on its
// own goroutine until cancelled.
func (r *XGB) ArmPeriodic(d time.Duration, cb func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				cb()
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}
