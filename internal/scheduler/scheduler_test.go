package scheduler

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcompd/xcompd/internal/backend/fakebackend"
	"github.com/xcompd/xcompd/internal/damage"
	"github.com/xcompd/xcompd/internal/registry"
	"github.com/xcompd/xcompd/internal/session"
	"github.com/xcompd/xcompd/internal/window"
)

// fakeReactor is a hand-cranked Reactor: the test decides when idle
// callbacks, one-shot timers, and periodic ticks fire.
type fakeReactor struct {
	idle func()

	timerDelay     time.Duration
	timerCb        func()
	timerArms      int
	timerCancelled bool

	periodicCb        func()
	periodicArms      int
	periodicCancelled bool
}

func (f *fakeReactor) PollEvents() []any { return nil }
func (f *fakeReactor) Flush()            {}

func (f *fakeReactor) ArmIdle(cb func()) { f.idle = cb }

func (f *fakeReactor) ArmTimer(d time.Duration, cb func()) func() {
	f.timerDelay, f.timerCb = d, cb
	f.timerArms++
	f.timerCancelled = false
	return func() {
		f.timerCancelled = true
		f.timerCb = nil
	}
}

func (f *fakeReactor) ArmPeriodic(d time.Duration, cb func()) func() {
	f.periodicCb = cb
	f.periodicArms++
	f.periodicCancelled = false
	return func() {
		f.periodicCancelled = true
		f.periodicCb = nil
	}
}

func (f *fakeReactor) runIdle() bool {
	cb := f.idle
	f.idle = nil
	if cb == nil {
		return false
	}
	cb()
	return true
}

func (f *fakeReactor) fireTimer() {
	cb := f.timerCb
	f.timerCb = nil
	if cb != nil {
		cb()
	}
}

func newSchedSession() (*session.Session, *fakebackend.Backend) {
	sess := session.New()
	sess.ScreenRect = image.Rect(0, 0, 1920, 1080)
	sess.Redirected = true
	fb := fakebackend.New()
	sess.Backend = fb
	sess.DamageRing = damage.New(2)
	return sess, fb
}

func addWindow(sess *session.Session, id uint32, rect image.Rectangle) *window.Window {
	w := window.New(id)
	w.State = window.Mapped
	w.MapState = true
	w.Opacity, w.OpacityTgt = 1, 1
	w.EverDamaged = true
	w.X, w.Y = int32(rect.Min.X), int32(rect.Min.Y)
	w.Width, w.Height = uint32(rect.Dx()), uint32(rect.Dy())
	w.Image = &fakebackend.Image{}
	sess.Registry.Insert(registry.ID(id), 0, w)
	sess.Windows[registry.ID(id)] = w
	return w
}

func TestQueueRedrawDeduplicatesWithinTick(t *testing.T) {
	sess, fb := newSchedSession()
	r := &fakeReactor{}
	s := New(sess, r, func(any) {})

	s.QueueRedraw()
	s.QueueRedraw()
	s.QueueRedraw()

	require.True(t, r.runIdle())
	assert.Equal(t, 1, fb.Presented, "three requests within one tick paint once")
	assert.False(t, r.runIdle(), "idle callback consumed, nothing re-armed")
}

func TestFadeTimerArmsWhileFadingAndDisarmsAfter(t *testing.T) {
	sess, _ := newSchedSession()
	sess.Config.FadeConfig.FadeDelta = 10 * time.Millisecond
	r := &fakeReactor{}
	s := New(sess, r, func(any) {})

	w := addWindow(sess, 1, image.Rect(0, 0, 100, 100))
	w.State = window.Mapping
	w.Opacity, w.OpacityTgt = 0.2, 1

	s.RunFrame(time.Now())
	require.Equal(t, 1, r.periodicArms, "mid-fade frame arms the periodic timer")
	require.True(t, sess.FadeRunning)

	w.Opacity = 1
	s.RunFrame(time.Now())
	assert.True(t, r.periodicCancelled, "fade done, timer disarmed")
	assert.False(t, sess.FadeRunning)
}

// TestUnredirDelayArmCancelFire walks the unredirect grace timer through its
// three transitions: armed when a solid fullscreen window tops the paint
// list, cancelled as soon as the condition breaks, and stopping redirection
// only when it survives until the timer fires.
func TestUnredirDelayArmCancelFire(t *testing.T) {
	sess, _ := newSchedSession()
	sess.Config.UnredirIfPossible = true
	sess.Config.UnredirDelay = 50 * time.Millisecond
	r := &fakeReactor{}
	s := New(sess, r, func(any) {})

	var stopped int
	s.StopRedirect = func() { stopped++ }

	w := addWindow(sess, 1, sess.ScreenRect)

	s.RunFrame(time.Now())
	require.Equal(t, 1, r.timerArms)
	require.True(t, sess.UnredirTimerArmed)
	assert.Equal(t, 50*time.Millisecond, r.timerDelay)
	assert.Equal(t, 0, stopped, "delay not elapsed, still redirected")

	// Condition breaks before the timer fires: shrink the window.
	w.Width = 800
	s.RunFrame(time.Now())
	assert.True(t, r.timerCancelled)
	assert.False(t, sess.UnredirTimerArmed)
	r.fireTimer()
	assert.Equal(t, 0, stopped, "cancelled timer must not stop redirection")

	// Condition holds until the timer fires.
	w.Width = uint32(sess.ScreenRect.Dx())
	s.RunFrame(time.Now())
	require.Equal(t, 2, r.timerArms)
	r.fireTimer()
	assert.Equal(t, 1, stopped)
	assert.False(t, sess.UnredirTimerArmed)
}

func TestUnredirZeroDelayStopsImmediately(t *testing.T) {
	sess, _ := newSchedSession()
	sess.Config.UnredirIfPossible = true
	sess.Config.UnredirDelay = 0
	r := &fakeReactor{}
	s := New(sess, r, func(any) {})

	var stopped int
	s.StopRedirect = func() { stopped++ }

	addWindow(sess, 1, sess.ScreenRect)
	s.RunFrame(time.Now())

	assert.Equal(t, 1, stopped)
	assert.Equal(t, 0, r.timerArms)
}

func TestUnredirDisabledNeverArms(t *testing.T) {
	sess, _ := newSchedSession()
	sess.Config.UnredirIfPossible = false
	r := &fakeReactor{}
	s := New(sess, r, func(any) {})

	var stopped int
	s.StopRedirect = func() { stopped++ }

	addWindow(sess, 1, sess.ScreenRect)
	s.RunFrame(time.Now())

	assert.Equal(t, 0, stopped)
	assert.Equal(t, 0, r.timerArms)
}

// TestUnredirectedFrameSnapsFadesWithoutPainting covers the redirection-off
// frame path: window state keeps advancing (fades snap straight to target)
// but nothing reaches the backend or the damage ring.
func TestUnredirectedFrameSnapsFadesWithoutPainting(t *testing.T) {
	sess, fb := newSchedSession()
	sess.Redirected = false
	r := &fakeReactor{}
	s := New(sess, r, func(any) {})

	w := addWindow(sess, 1, image.Rect(0, 0, 100, 100))
	w.State = window.Mapping
	w.Opacity, w.OpacityTgt = 0.3, 1

	s.RunFrame(time.Now())

	assert.Equal(t, 1.0, w.Opacity, "fade snaps to target while unredirected")
	assert.Equal(t, 0, fb.Presented)
	assert.False(t, sess.FadeRunning)
}

func TestPendingRootChangeConsumedAtFrameTop(t *testing.T) {
	sess, _ := newSchedSession()
	r := &fakeReactor{}
	s := New(sess, r, func(any) {})

	var gotW, gotH int
	s.RootChange = func(w, h int) { gotW, gotH = w, h }
	sess.PendingRootChange = session.RootChangePending{Pending: true, Width: 2560, Height: 1440}

	s.RunFrame(time.Now())

	assert.Equal(t, 2560, gotW)
	assert.Equal(t, 1440, gotH)
	assert.False(t, sess.PendingRootChange.Pending)

	gotW, gotH = 0, 0
	s.RunFrame(time.Now())
	assert.Equal(t, 0, gotW, "change applied once, not every frame")
}

func TestBenchmarkBudgetQuits(t *testing.T) {
	sess, fb := newSchedSession()
	sess.Config.Benchmark = true
	sess.Config.BenchmarkPaints = 3
	r := &fakeReactor{}
	s := New(sess, r, func(any) {})

	var quit bool
	s.Quit = func() { quit = true }

	s.QueueRedraw()
	for i := 0; i < 10 && r.runIdle(); i++ {
	}

	assert.Equal(t, 3, fb.Presented)
	assert.True(t, quit)
	assert.False(t, r.runIdle(), "no further redraw queued after quit")
}
