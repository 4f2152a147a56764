package dispatch

import (
	"image"
	"testing"
	"time"

	"github.com/jezek/xgb/damage"
	"github.com/jezek/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcompd/xcompd/internal/backend/fakebackend"
	compdamage "github.com/xcompd/xcompd/internal/damage"
	"github.com/xcompd/xcompd/internal/preprocess"
	"github.com/xcompd/xcompd/internal/registry"
	"github.com/xcompd/xcompd/internal/session"
	"github.com/xcompd/xcompd/internal/window"
)

const testRoot = xproto.Window(1000)

func newTestSession() *session.Session {
	sess := session.New()
	sess.Root = testRoot
	sess.ScreenRect = image.Rect(0, 0, 1920, 1080)
	sess.Redirected = true
	sess.Backend = fakebackend.New()
	return sess
}

func createAndMap(t *testing.T, d *Dispatcher, sess *session.Session, id xproto.Window, rect image.Rectangle) *window.Window {
	t.Helper()
	d.Dispatch(sess, xproto.CreateNotifyEvent{
		Parent: testRoot,
		Window: id,
		X:      int16(rect.Min.X),
		Y:      int16(rect.Min.Y),
		Width:  uint16(rect.Dx()),
		Height: uint16(rect.Dy()),
	})
	d.Dispatch(sess, xproto.MapNotifyEvent{Event: testRoot, Window: id})
	w := sess.Window(registry.ID(id))
	require.NotNil(t, w)
	w.EverDamaged = true
	w.Image = &fakebackend.Image{}
	return w
}

func xdamageNotify(win xproto.Window, x, y int16, w, h uint16) damage.NotifyEvent {
	return damage.NotifyEvent{
		Drawable: xproto.Drawable(win),
		Area:     xproto.Rectangle{X: x, Y: y, Width: w, Height: h},
	}
}

func TestCreateThenMapEntersMapping(t *testing.T) {
	sess := newTestSession()
	d := New()

	var redraws int
	d.RequestRedraw = func() { redraws++ }

	w := createAndMap(t, d, sess, 7, image.Rect(10, 20, 110, 120))

	assert.Equal(t, window.Mapping, w.State)
	assert.True(t, w.MapState)
	assert.Equal(t, int32(10), w.X)
	assert.Equal(t, uint32(100), w.Width)
	assert.Greater(t, redraws, 0)
}

func TestCreateIgnoresNonRootParentAndOverlay(t *testing.T) {
	sess := newTestSession()
	sess.HasOverlay = true
	sess.Overlay = 555
	d := New()

	d.Dispatch(sess, xproto.CreateNotifyEvent{Parent: 42, Window: 1})
	d.Dispatch(sess, xproto.CreateNotifyEvent{Parent: testRoot, Window: 555})

	assert.Nil(t, sess.Window(1))
	assert.Nil(t, sess.Window(555))
}

func TestUnmapForcesTargetToZero(t *testing.T) {
	sess := newTestSession()
	d := New()
	w := createAndMap(t, d, sess, 7, image.Rect(0, 0, 100, 100))
	w.State = window.Mapped
	w.Opacity = 1

	d.Dispatch(sess, xproto.UnmapNotifyEvent{Window: 7})

	assert.Equal(t, window.Unmapping, w.State)
	assert.Equal(t, 0.0, w.OpacityTgt)
	assert.False(t, w.MapState)
}

// TestDestroyMidFadeKeepsStackUntilFadeOut walks a window through
// DestroyNotify while still visible: the id must leave the lookup index at
// once, the node must keep its stacking position until opacity reaches
// zero, and the same id must be insertable again after the free.
func TestDestroyMidFadeKeepsStackUntilFadeOut(t *testing.T) {
	sess := newTestSession()
	d := New()
	w := createAndMap(t, d, sess, 7, image.Rect(0, 0, 100, 100))
	w.State = window.Mapped
	w.Opacity, w.OpacityTgt = 0.5, 0.5

	d.Dispatch(sess, xproto.DestroyNotifyEvent{Window: 7})

	assert.Equal(t, window.Destroying, w.State)
	assert.Equal(t, 0.0, w.OpacityTgt)
	assert.Nil(t, sess.Registry.Find(7), "destroying window must leave the index")

	var listed int
	sess.Registry.IterTopToBottom(func(n *registry.Node) bool {
		listed++
		return true
	})
	assert.Equal(t, 1, listed, "node stays in the stack list while fading")

	res := preprocess.Run(sess, time.Now())
	assert.Empty(t, res.FreedIDs, "fade not finished, window must not be freed")

	w.Opacity = 0
	res = preprocess.Run(sess, time.Now())
	require.Len(t, res.FreedIDs, 1)
	assert.Nil(t, sess.Window(7))

	d.Dispatch(sess, xproto.CreateNotifyEvent{Parent: testRoot, Window: 7, Width: 50, Height: 50})
	assert.NotNil(t, sess.Registry.Find(7), "freed id must be insertable again")
}

func TestConfigureMovesResizesAndMarksStale(t *testing.T) {
	sess := newTestSession()
	sess.DamageRing = compdamage.New(2)
	d := New()
	w := createAndMap(t, d, sess, 7, image.Rect(0, 0, 100, 100))
	w.ShadowImage = &fakebackend.Image{}
	shadowImg := w.ShadowImage.(*fakebackend.Image)

	d.Dispatch(sess, xproto.ConfigureNotifyEvent{
		Window: 7,
		X:      50, Y: 60,
		Width: 200, Height: 300,
	})

	assert.Equal(t, int32(50), w.X)
	assert.Equal(t, uint32(200), w.Width)
	assert.True(t, w.StaleImage, "resize must mark the bound image stale")
	assert.Nil(t, w.ShadowImage, "resize invalidates the cached shadow")
	assert.True(t, shadowImg.Released)
	assert.False(t, sess.DamageRing.ReadBack(1).Empty(), "old+new extents damaged")
}

func TestConfigureMoveOnlyKeepsImage(t *testing.T) {
	sess := newTestSession()
	d := New()
	w := createAndMap(t, d, sess, 7, image.Rect(0, 0, 100, 100))
	w.StaleImage = false

	d.Dispatch(sess, xproto.ConfigureNotifyEvent{Window: 7, X: 300, Y: 0, Width: 100, Height: 100})

	assert.False(t, w.StaleImage, "a pure move keeps the bound pixmap")
}

func TestConfigureRootResetsRingAndRequestsReinit(t *testing.T) {
	sess := newTestSession()
	sess.DamageRing = compdamage.New(2)
	d := New()

	var gotW, gotH int
	d.RequestRootReinit = func(w, h int) { gotW, gotH = w, h }

	d.Dispatch(sess, xproto.ConfigureNotifyEvent{Window: testRoot, Width: 2560, Height: 1440})

	assert.Equal(t, image.Rect(0, 0, 2560, 1440), sess.ScreenRect)
	assert.Equal(t, 2560, gotW)
	assert.Equal(t, 1440, gotH)
}

func TestCirculateOnTopWhenAlreadyTopIsNoop(t *testing.T) {
	sess := newTestSession()
	d := New()
	createAndMap(t, d, sess, 1, image.Rect(0, 0, 10, 10))

	d.Dispatch(sess, xproto.CirculateNotifyEvent{Window: 1, Place: xproto.PlaceOnTop})

	// The stack must still terminate; a self-restack once produced a cycle.
	var listed int
	sess.Registry.IterTopToBottom(func(n *registry.Node) bool {
		listed++
		return listed < 10
	})
	assert.Equal(t, 1, listed)
}

func TestFirstDamageDamagesFullExtents(t *testing.T) {
	sess := newTestSession()
	sess.DamageRing = compdamage.New(2)
	d := New()
	d.Dispatch(sess, xproto.CreateNotifyEvent{Parent: testRoot, Window: 7, X: 100, Y: 100, Width: 400, Height: 400})
	w := sess.Window(7)
	require.NotNil(t, w)
	require.False(t, w.EverDamaged)

	d.Dispatch(sess, xdamageNotify(7, 0, 0, 1, 1))

	assert.True(t, w.EverDamaged)
	got := sess.DamageRing.ReadBack(1)
	assert.Equal(t, []image.Rectangle{image.Rect(100, 100, 500, 500)}, got.Rects,
		"first damage covers the whole window, not the reported area")
}

func TestLaterDamageUsesReportedArea(t *testing.T) {
	sess := newTestSession()
	sess.DamageRing = compdamage.New(2)
	d := New()
	d.Dispatch(sess, xproto.CreateNotifyEvent{Parent: testRoot, Window: 7, X: 100, Y: 100, Width: 400, Height: 400})
	w := sess.Window(7)
	require.NotNil(t, w)
	w.EverDamaged = true

	d.Dispatch(sess, xdamageNotify(7, 10, 10, 20, 20))

	got := sess.DamageRing.ReadBack(1)
	assert.Equal(t, []image.Rectangle{image.Rect(110, 110, 130, 130)}, got.Rects,
		"area is window-local and offset by window position")
}

func TestSelectionClearRequestsExit(t *testing.T) {
	sess := newTestSession()
	d := New()

	var exited bool
	d.RequestExit = func() { exited = true }

	d.Dispatch(sess, xproto.SelectionClearEvent{})
	assert.True(t, exited)
}

func TestReparentAwayFromRootDestroys(t *testing.T) {
	sess := newTestSession()
	d := New()
	w := createAndMap(t, d, sess, 7, image.Rect(0, 0, 100, 100))

	d.Dispatch(sess, xproto.ReparentNotifyEvent{Window: 7, Parent: 42})

	assert.Equal(t, window.Destroying, w.State)
	assert.Nil(t, sess.Registry.Find(7))
}

func TestForcedOpacityPinsTarget(t *testing.T) {
	sess := newTestSession()
	sess.Config.ForceWinOpacity = map[uint32]float64{7: 0.3}
	d := New()
	w := createAndMap(t, d, sess, 7, image.Rect(0, 0, 100, 100))

	assert.Equal(t, 0.3, w.OpacityTgt)
	assert.Equal(t, window.OpacityRule, w.OpacitySource)
}
