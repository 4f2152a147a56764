// Package scheduler implements the cooperative single-threaded frame loop
// that couples X event arrival, damage, and
// fade progress to frame emission. The reactor itself (timers, idle
// callbacks, fd-readable, signals) is an external collaborator; this
// package only names the minimal interface it consumes from one.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/xcompd/xcompd/internal/paint"
	"github.com/xcompd/xcompd/internal/preprocess"
	"github.com/xcompd/xcompd/internal/session"
)

// Reactor is the event-loop capability set the scheduler needs: event
// polling, an output flush, idle callbacks and one-shot/periodic timers.
// Signal delivery and loop shutdown are not part of it. Any library exposing
// this shape can back it; the scheduler never depends on library-specific
// types.
type Reactor interface {
	// PollEvents returns every X event queued since the last call,
	// without blocking.
	PollEvents() []any
	// Flush sends any X requests buffered by the last frame's dispatch
	// or paint before the reactor sleeps again.
	Flush()

	// ArmIdle schedules cb to run once the reactor has no more ready work
	// this tick; arming again before it runs replaces the pending
	// callback (QueueRedraw is what keeps redraws to one per tick).
	ArmIdle(cb func())
	// ArmTimer schedules cb to run once after d. Returns a cancel func.
	ArmTimer(d time.Duration, cb func()) (cancel func())
	// ArmPeriodic schedules cb to run every d until cancelled.
	ArmPeriodic(d time.Duration, cb func()) (cancel func())
}

// Scheduler drives preprocess+paint off reactor callbacks.
type Scheduler struct {
	sess    *session.Session
	reactor Reactor

	redrawArmed bool

	fadeTimerCancel func()

	unredirTimerCancel func()

	benchmarkPaints int

	Dispatch func(ev any)

	// StopRedirect is called once the unredirect grace timer fires with
	// the condition still true. Wired by
	// cmd/xcompd to the redirect controller's Stop.
	StopRedirect func()

	// RootChange applies a deferred root geometry change (backend resize or
	// teardown+reinit) at the top of a frame, the one safe point to do it.
	// Wired by cmd/xcompd; nil drops pending changes after resetting the
	// damage ring.
	RootChange func(width, height int)

	// Quit requests process shutdown, used when the benchmark paint budget
	// is exhausted. Wired by cmd/xcompd to the serve context's cancel.
	Quit func()
}

func New(sess *session.Session, reactor Reactor, dispatch func(ev any)) *Scheduler {
	return &Scheduler{sess: sess, reactor: reactor, Dispatch: dispatch}
}

// Prepare is the reactor's "before sleep" hook: it drains
// queued X events, dispatches each, then flushes outgoing requests. This is
// the only point at which events are handled; the scheduler never blocks
// waiting on the X connection itself.
func (s *Scheduler) Prepare() {
	for _, ev := range s.reactor.PollEvents() {
		s.Dispatch(ev)
	}
	s.reactor.Flush()
}

// OnXFdReadable is the fd_readable(xfd) callback: it polls once and
// dispatches whatever is already queued; it does not flush, which is left
// to the next Prepare.
func (s *Scheduler) OnXFdReadable() {
	for _, ev := range s.reactor.PollEvents() {
		s.Dispatch(ev)
	}
}

// QueueRedraw arms a single idle callback that will run one
// preprocess+paint cycle, de-duplicating repeated damage within the same
// tick.
func (s *Scheduler) QueueRedraw() {
	if s.redrawArmed {
		return
	}
	s.redrawArmed = true
	s.reactor.ArmIdle(func() {
		s.redrawArmed = false
		s.RunFrame(time.Now())
		if s.sess.Config.Benchmark {
			s.benchmarkPaints++
			if s.benchmarkPaints >= s.sess.Config.BenchmarkPaints {
				slog.Info("scheduler: benchmark paint budget reached, exiting")
				if s.Quit != nil {
					s.Quit()
				}
			} else {
				s.QueueRedraw()
			}
		}
	})
}

// RunFrame executes one preprocess+paint cycle at wall-clock now, then rearms or disarms the fade timer and the
// unredirect grace timer based on the preprocess result.
func (s *Scheduler) RunFrame(now time.Time) {
	if s.sess.PendingRootChange.Pending {
		pc := s.sess.PendingRootChange
		s.sess.PendingRootChange = session.RootChangePending{}
		if s.RootChange != nil {
			s.RootChange(pc.Width, pc.Height)
		}
		if s.sess.DamageRing != nil {
			s.sess.DamageRing.Reset()
		}
	}

	res := preprocess.Run(s.sess, now)
	s.sess.FadeRunning = res.FadeRunning
	s.applyFadeTimer(res.FadeRunning)

	// While unredirected the walk above still runs so window state keeps
	// advancing (fades snap straight to target), but nothing is painted
	// and the damage ring is left untouched.
	if !s.sess.Redirected {
		return
	}

	if s.sess.DamageRing != nil {
		s.sess.DamageRing.Add(res.Damage)
	}

	s.applyUnredirTimer(res.UnredirPossible)

	age := -1
	if s.sess.Backend != nil {
		age = s.sess.Backend.BufferAge()
	}
	var dmg = res.Damage
	if s.sess.DamageRing != nil && age >= 1 {
		dmg = s.sess.DamageRing.ReadBack(age)
	}

	paint.Run(s.sess, dmg, res.PaintListTop)

	if s.sess.DamageRing != nil {
		s.sess.DamageRing.Advance()
	}
}

// applyFadeTimer arms/disarms the periodic fade_delta timer off the
// preprocess fade-running flag.
func (s *Scheduler) applyFadeTimer(running bool) {
	if running && s.fadeTimerCancel == nil {
		s.fadeTimerCancel = s.reactor.ArmPeriodic(s.sess.Config.FadeConfig.FadeDelta, func() {
			s.QueueRedraw()
		})
	} else if !running && s.fadeTimerCancel != nil {
		s.fadeTimerCancel()
		s.fadeTimerCancel = nil
	}
}

// applyUnredirTimer implements the unredirect grace delay: a one-shot
// timer armed the first tick unredir_possible goes true, cancelled the
// moment it goes false, and only actually stopping redirection if the
// condition still holds when the timer fires.
func (s *Scheduler) applyUnredirTimer(possible bool) {
	delay := s.sess.Config.UnredirDelay
	if !s.sess.Config.UnredirIfPossible {
		return
	}

	if !possible {
		if s.unredirTimerCancel != nil {
			s.unredirTimerCancel()
			s.unredirTimerCancel = nil
			s.sess.UnredirTimerArmed = false
			s.sess.UnredirTimerDeadline = time.Time{}
		}
		return
	}

	if s.unredirTimerCancel != nil {
		return // already armed
	}

	if delay <= 0 {
		s.doUnredirStop()
		return
	}

	s.sess.UnredirTimerArmed = true
	s.sess.UnredirTimerDeadline = time.Now().Add(delay)
	s.unredirTimerCancel = s.reactor.ArmTimer(delay, func() {
		s.unredirTimerCancel = nil
		s.sess.UnredirTimerArmed = false
		s.sess.UnredirTimerDeadline = time.Time{}
		s.doUnredirStop()
	})
}

func (s *Scheduler) doUnredirStop() {
	if s.StopRedirect != nil {
		s.StopRedirect()
	}
}
