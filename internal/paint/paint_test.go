package paint

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcompd/xcompd/internal/backend/fakebackend"
	"github.com/xcompd/xcompd/internal/preprocess"
	"github.com/xcompd/xcompd/internal/region"
	"github.com/xcompd/xcompd/internal/registry"
	"github.com/xcompd/xcompd/internal/session"
	"github.com/xcompd/xcompd/internal/shadow"
	"github.com/xcompd/xcompd/internal/window"
)

func newSolidWindow(id uint32, rect image.Rectangle) *window.Window {
	w := window.New(id)
	w.State = window.Mapped
	w.MapState = true
	w.Opacity, w.OpacityTgt = 1, 1
	w.EverDamaged = true
	w.X, w.Y = int32(rect.Min.X), int32(rect.Min.Y)
	w.Width, w.Height = uint32(rect.Dx()), uint32(rect.Dy())
	w.Image = &fakebackend.Image{}
	return w
}

func newTestSession(screen image.Rectangle) (*session.Session, *fakebackend.Backend) {
	sess := session.New()
	sess.ScreenRect = screen
	sess.Redirected = true
	fb := fakebackend.New()
	sess.Backend = fb
	return sess, fb
}

// TestRunPresentsAndComposesEveryPaintedWindow exercises the
// bottom-to-top composition order and its final Present call.
func TestRunPresentsAndComposesEveryPaintedWindow(t *testing.T) {
	screen := image.Rect(0, 0, 800, 600)
	sess, fb := newTestSession(screen)

	a := newSolidWindow(1, image.Rect(0, 0, 200, 200))
	b := newSolidWindow(2, image.Rect(0, 0, 200, 200))

	sess.Registry.Insert(registry.ID(2), 0, b) // bottom
	sess.Registry.Insert(registry.ID(1), registry.ID(2), a)
	sess.Windows[1], sess.Windows[2] = a, b

	res := preprocess.Run(sess, time.Now())
	require.NotNil(t, res.PaintListTop)

	Run(sess, res.Damage, res.PaintListTop)

	assert.Len(t, fb.Composed, 2, "both windows should be composed")
	assert.Equal(t, 1, fb.Presented)
}

// TestRunSkipsWindowsNotMarkedToPaint confirms a window preprocess excluded
// (off-screen) never reaches the backend's Compose call.
func TestRunSkipsWindowsNotMarkedToPaint(t *testing.T) {
	screen := image.Rect(0, 0, 800, 600)
	sess, fb := newTestSession(screen)

	offscreen := newSolidWindow(1, image.Rect(-500, -500, -400, -400))
	sess.Registry.Insert(registry.ID(1), 0, offscreen)
	sess.Windows[1] = offscreen

	res := preprocess.Run(sess, time.Now())
	Run(sess, res.Damage, res.PaintListTop)

	assert.Empty(t, fb.Composed)
	assert.Equal(t, 1, fb.Presented, "Present still runs even with nothing painted")
}

// TestShadowImageCachedAcrossFrames renders the drop shadow once and reuses
// it frame after frame while the baked alpha is unchanged, rebuilding only
// when the window's effective shadow opacity moves.
func TestShadowImageCachedAcrossFrames(t *testing.T) {
	screen := image.Rect(0, 0, 800, 600)
	sess, fb := newTestSession(screen)
	sess.ShadowKernel = shadow.NewGaussian(sess.Config.ShadowRadius, 6)

	w := newSolidWindow(1, image.Rect(100, 100, 300, 300))
	w.Shadow = true
	sess.Registry.Insert(registry.ID(1), 0, w)
	sess.Windows[1] = w

	fullDamage := region.NewRect(screen)

	res := preprocess.Run(sess, time.Now())
	Run(sess, fullDamage, res.PaintListTop)
	require.Equal(t, 1, fb.ShadowsDrawn)
	require.NotNil(t, w.ShadowImage)

	res = preprocess.Run(sess, time.Now())
	Run(sess, fullDamage, res.PaintListTop)
	assert.Equal(t, 1, fb.ShadowsDrawn, "same alpha, cached shadow reused")

	// A fade tick changes the baked alpha; the cache must rebuild and
	// release the stale image.
	stale := w.ShadowImage.(*fakebackend.Image)
	w.Opacity, w.OpacityTgt = 0.5, 0.5
	res = preprocess.Run(sess, time.Now())
	Run(sess, fullDamage, res.PaintListTop)
	assert.Equal(t, 2, fb.ShadowsDrawn)
	assert.True(t, stale.Released)
}

func TestShadowSkippedWhenDisabled(t *testing.T) {
	sess, fb := newTestSession(image.Rect(0, 0, 800, 600))
	sess.ShadowKernel = shadow.NewGaussian(sess.Config.ShadowRadius, 6)
	sess.Config.ShadowEnabled = false

	w := newSolidWindow(1, image.Rect(100, 100, 300, 300))
	w.Shadow = true
	sess.Registry.Insert(registry.ID(1), 0, w)
	sess.Windows[1] = w

	res := preprocess.Run(sess, time.Now())
	Run(sess, res.Damage, res.PaintListTop)

	assert.Equal(t, 0, fb.ShadowsDrawn)
}
