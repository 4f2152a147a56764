// Package paint implements the per-frame paint pass: bottom-to-top composition of the root tile, shadows, and
// window bodies through the backend abstraction.
package paint

import (
	"image"
	"image/color"

	"github.com/xcompd/xcompd/internal/backend"
	"github.com/xcompd/xcompd/internal/matcher"
	"github.com/xcompd/xcompd/internal/preprocess"
	"github.com/xcompd/xcompd/internal/region"
	"github.com/xcompd/xcompd/internal/session"
	"github.com/xcompd/xcompd/internal/window"
)

// reversed flattens the paint_list (top-to-bottom via Next) into a
// bottom-to-top slice, the order the screen is composed in.
func reversed(top *preprocess.PaintEntry) []*window.Window {
	var top2bottom []*window.Window
	for e := top; e != nil; e = e.Next {
		top2bottom = append(top2bottom, e.Win)
	}
	out := make([]*window.Window, len(top2bottom))
	for i, w := range top2bottom {
		out[len(top2bottom)-1-i] = w
	}
	return out
}

// Run paints one frame: dmg is the frame's accumulated damage, already
// read back from the damage ring for the backend's reported buffer age.
func Run(sess *session.Session, dmg *region.Region, paintTop *preprocess.PaintEntry) {
	screenRegion := damageOnScreen(dmg, sess.ScreenRect)
	order := reversed(paintTop)

	regPaintRoot := screenRegion
	if len(order) > 0 && !order[0].RegIgnore.Region().Empty() {
		regPaintRoot = region.Subtract(screenRegion, order[0].RegIgnore.Region())
	}
	paintRootTile(sess, regPaintRoot)

	// clipAbove[i] is the union of extents of every window painted above
	// order[i] that matches the clip-shadow-above rule; the shadow of
	// order[i] must not be drawn over those windows.
	clipAbove := make([]*region.Region, len(order))
	acc := region.New()
	for i := len(order) - 1; i >= 0; i-- {
		clipAbove[i] = acc
		w := order[i]
		if sess.Config.ClipShadowAboveFn != nil && sess.Config.ClipShadowAboveFn(subjectOf(w)) {
			acc = region.Union(acc, region.NewRect(w.Extents()))
		}
	}

	for i, w := range order {
		var aboveIgnore *region.Region
		if i+1 < len(order) {
			aboveIgnore = order[i+1].RegIgnore.Region()
		} else {
			aboveIgnore = region.New()
		}

		paintShadow(sess, w, screenRegion, clipAbove[i])
		paintBody(sess, w, screenRegion, aboveIgnore)
	}

	sess.Backend.Present()
}

func subjectOf(w *window.Window) matcher.Subject {
	return matcher.Subject{
		ID:       w.ID,
		WinType:  w.WinType.String(),
		HasAlpha: w.HasAlpha,
		Focused:  w.Focused,
		Leader:   w.Leader,
	}
}

func damageOnScreen(dmg *region.Region, screen image.Rectangle) *region.Region {
	return region.Intersect(dmg, region.NewRect(screen))
}

func paintRootTile(sess *session.Session, reg *region.Region) {
	if reg.Empty() {
		return
	}
	if sess.RootTile == nil || sess.RootTile.Fill == nil {
		sess.Backend.Fill(color.NRGBA{A: 255}, reg)
		return
	}
	sess.Backend.Fill(toNRGBA(sess.RootTile.Fill), reg)
}

func toNRGBA(c color.Color) color.NRGBA {
	r, g, b, a := c.RGBA()
	return color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

// paintShadow draws the window's drop shadow. The shadow is
// clipped by the window's OWN reg_ignore (opaque content strictly above it
// in the stack), not by the neighbour's as the body phase is, and
// additionally by clipAbove, the extents of higher windows the
// clip-shadow-above rule names.
func paintShadow(sess *session.Session, w *window.Window, screenRegion, clipAbove *region.Region) {
	if !w.Shadow || !sess.Config.ShadowEnabled || w.ShadowOpacity <= 0 {
		return
	}
	if sess.Matcher.MatchBool("shadow-exclude", subjectOf(w)) {
		return
	}

	extents := w.Extents()
	shadowRect := image.Rect(
		extents.Min.X+sess.Config.ShadowOffsetX,
		extents.Min.Y+sess.Config.ShadowOffsetY,
		extents.Min.X+sess.Config.ShadowOffsetX+extents.Dx()+2*sess.ShadowKernel.Radius,
		extents.Min.Y+sess.Config.ShadowOffsetY+extents.Dy()+2*sess.ShadowKernel.Radius,
	)

	regPaintShadow := region.Intersect(screenRegion, region.NewRect(shadowRect))
	regPaintShadow = region.Subtract(regPaintShadow, w.RegIgnore.Region())
	regPaintShadow = region.Subtract(regPaintShadow, clipAbove)

	if mon, ok := monitorOf(sess, extents); ok {
		regPaintShadow = region.Intersect(regPaintShadow, region.NewRect(mon))
	}

	if w.Mode != window.ModeSolid && w.BoundingShape != nil {
		shape := region.Translate(w.BoundingShape, extents.Min.X, extents.Min.Y)
		regPaintShadow = region.Subtract(regPaintShadow, shape)
	}
	if regPaintShadow.Empty() {
		return
	}

	img, err := shadowImage(sess, w)
	if err != nil {
		return
	}
	sess.Backend.Compose(img, shadowRect.Min.X, shadowRect.Min.Y, regPaintShadow, screenRegion)
}

// monitorOf returns the monitor rectangle containing the window's center,
// used to keep a shadow from spilling across a monitor boundary.
func monitorOf(sess *session.Session, extents image.Rectangle) (image.Rectangle, bool) {
	if len(sess.MonitorRegions) == 0 {
		return image.Rectangle{}, false
	}
	center := image.Pt((extents.Min.X+extents.Max.X)/2, (extents.Min.Y+extents.Max.Y)/2)
	for _, mon := range sess.MonitorRegions {
		if center.In(mon) {
			return mon, true
		}
	}
	return image.Rectangle{}, false
}

// shadowImage returns the window's drop-shadow image, rebuilding it only
// when the window has no cached one or the cached one was baked at a
// different opacity (fades change the baked alpha every few ticks).
func shadowImage(sess *session.Session, w *window.Window) (backend.Image, error) {
	if w.Image == nil {
		return nil, backend.ErrUnsupported
	}
	alpha := uint8(w.ShadowOpacity * 255)
	if cached, ok := w.ShadowImage.(backend.Image); ok && cached != nil && w.ShadowImageAlpha == alpha {
		return cached, nil
	}

	extents := w.Extents()
	r := sess.Config.ShadowRadius
	wdt := extents.Dx() + 2*r
	hgt := extents.Dy() + 2*r
	c := color.NRGBA{
		R: uint8(sess.Config.ShadowRed * 255),
		G: uint8(sess.Config.ShadowGreen * 255),
		B: uint8(sess.Config.ShadowBlue * 255),
		A: alpha,
	}
	img, err := sess.Backend.RenderShadow(wdt, hgt, sess.ShadowKernel.Values, r, c)
	if err != nil {
		return nil, err
	}
	if old, ok := w.ShadowImage.(backend.Image); ok && old != nil {
		sess.Backend.ReleaseImage(old)
	}
	w.ShadowImage = img
	w.ShadowImageAlpha = alpha
	return img, nil
}

// paintBody composes the window body with its per-window effects.
func paintBody(sess *session.Session, w *window.Window, screenRegion, regIgnoreAbove *region.Region) {
	extents := w.Extents()
	regPaintBody := region.Subtract(screenRegion, regIgnoreAbove)
	if w.BoundingShape != nil {
		shape := region.Translate(w.BoundingShape, extents.Min.X, extents.Min.Y)
		regPaintBody = region.Intersect(regPaintBody, shape)
	} else {
		regPaintBody = region.Intersect(regPaintBody, region.NewRect(extents))
	}
	if regPaintBody.Empty() {
		return
	}
	img, ok := w.Image.(backend.Image)
	if !ok || img == nil {
		return
	}

	if w.BlurBG && w.Mode != window.ModeSolid {
		opacityForBlur := w.Opacity
		if sess.Config.BlurBackgroundFixed {
			opacityForBlur = 1
		}
		sess.Backend.Blur(opacityForBlur, regPaintBody, screenRegion)
	}

	if w.InvertColor {
		sess.Backend.ImageOp(backend.OpInvertColorAll, img, regPaintBody, screenRegion, nil)
	}

	effectiveOpacity := w.Opacity
	if w.Mode == window.ModeFrameTrans {
		effectiveOpacity = w.Opacity * w.FrameOpacity
	}
	sess.Backend.ImageOp(backend.OpApplyAlpha, img, regPaintBody, screenRegion, effectiveOpacity)
	sess.Backend.Compose(img, extents.Min.X, extents.Min.Y, regPaintBody, screenRegion)

	if w.Dim {
		alpha := sess.Config.InactiveDim
		if !sess.Config.InactiveDimFixed {
			alpha *= w.Opacity
		}
		sess.Backend.Fill(color.NRGBA{A: uint8(alpha * 255)}, regPaintBody)
	}
}
