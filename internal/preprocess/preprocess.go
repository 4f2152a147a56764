// Package preprocess implements the per-frame preprocess pass: one top-to-bottom stack walk that advances fades,
// recomputes paint eligibility, rebuilds reg_ignore, and decides whether
// redirection is still worth keeping on.
package preprocess

import (
	"image"
	"time"

	"github.com/xcompd/xcompd/internal/backend"
	"github.com/xcompd/xcompd/internal/matcher"
	"github.com/xcompd/xcompd/internal/region"
	"github.com/xcompd/xcompd/internal/registry"
	"github.com/xcompd/xcompd/internal/session"
	"github.com/xcompd/xcompd/internal/window"
)

// PaintEntry is one node of the per-frame paint list: an arena-owned chain rebuilt every frame, never retained
// across frames.
type PaintEntry struct {
	Win  *window.Window
	Next *PaintEntry // toward the bottom of the stack
}

// Result is everything preprocess hands to the paint pass and the
// scheduler.
type Result struct {
	// PaintListTop is the topmost entry; walking Next reaches the bottom.
	PaintListTop *PaintEntry
	FadeRunning  bool
	// Damage accumulated by visibility/opacity flips this pass, to be
	// unioned into the current damage-ring slot by the caller.
	Damage *region.Region
	// UnredirPossible is this frame's unredirect-possible decision.
	UnredirPossible bool
	// FreedIDs lists windows whose fade-to-zero completed this pass and
	// were freed (finish_destroy); Run has already released their backend
	// images, unlinked their registry nodes and dropped them from
	// session.Windows.
	FreedIDs []registry.ID
}

// Run executes one preprocess pass over sess, top-to-bottom (the
// registry itself is stored bottom-to-top; Run walks IterTopToBottom,
// building reg_ignore via a single carried accumulator, which works
// because every window's reg_ignore only ever depends on windows above
// it).
func Run(sess *session.Session, now time.Time) Result {
	res := Result{Damage: region.New()}

	var headEntry *PaintEntry
	var tailEntry *PaintEntry
	runningIgnore := region.New()

	// Once any window's contribution to the accumulator flips (solid
	// gaining alpha mid-fade, a painted window dropping out), every cache
	// below it holds a stale union and must rebuild this pass.
	ignoreExpired := false

	var topPaintedSolidFullscreen *window.Window

	sess.Registry.IterTopToBottom(func(n *registry.Node) bool {
		w, ok := sess.Windows[n.ID()]
		if !ok || w == nil {
			return true
		}

		if freed := stepWindow(sess, w, now); freed {
			releaseImages(sess, w)
			w.RegIgnore.Unref()
			if w.PaintedSolid {
				ignoreExpired = true
			}
			res.FreedIDs = append(res.FreedIDs, n.ID())
			sess.Registry.FinishDestroy(n)
			sess.ForgetWindow(n.ID())
			return true
		}
		if w.State != window.Unmapped {
			res.FadeRunning = res.FadeRunning || w.Opacity != w.OpacityTgt
		}

		prevDim := w.Dim
		w.Dim = computeDim(sess, w)
		if w.Dim != prevDim {
			markDamaged(sess, &res, w)
		}

		w.Mode = computeMode(w)

		prevToPaint := w.ToPaint
		w.ToPaint = computeToPaint(sess, w)
		if w.ToPaint != prevToPaint {
			w.RegIgnoreValid = false
			markDamaged(sess, &res, w)
		}

		solidPainted := w.ToPaint && isSolidOpaque(w)
		if solidPainted != w.PaintedSolid {
			w.PaintedSolid = solidPainted
			ignoreExpired = true
		}

		if ignoreExpired || !w.RegIgnoreValid {
			w.RegIgnore.Unref()
			w.RegIgnore = region.NewShared(runningIgnore.Clone())
			w.RegIgnoreValid = true
		}

		if w.ToPaint {
			w.ShadowOpacity = sess.Config.ShadowOpacity * w.Opacity * w.FrameOpacity

			if isSolidOpaque(w) {
				runningIgnore = region.Union(runningIgnore, region.NewRect(w.Extents()))
			}

			if w.StaleImage && !w.ImageError && sess.BindStaleImage != nil {
				sess.BindStaleImage(w)
			}

			entry := &PaintEntry{Win: w}
			if headEntry == nil {
				headEntry = entry
				tailEntry = entry
			} else {
				tailEntry.Next = entry
				tailEntry = entry
			}

			if topPaintedSolidFullscreen == nil && isSolidOpaque(w) && isFullscreen(w, sess.ScreenRect) &&
				!unredirExcluded(sess, w) {
				topPaintedSolidFullscreen = w
			}
		}

		return true
	})

	res.PaintListTop = headEntry
	res.UnredirPossible = topPaintedSolidFullscreen != nil
	return res
}

// stepWindow advances one window's fade/lifecycle state and reports
// whether it reached DESTROYING's terminal point and must be freed. A window leaving UNMAPPING for UNMAPPED drops its backend
// images here, the one place the walk still holds both the window and the
// backend.
func stepWindow(sess *session.Session, w *window.Window, now time.Time) (freed bool) {
	if !sess.Redirected || (sess.Config.NoFadeMatch != nil && sess.Config.NoFadeMatch(w)) {
		w.SkipFade()
	} else {
		w.StepFade(now, sess.Config.FadeConfig)
	}

	wasUnmapping := w.State == window.Unmapping
	img, shadowImg := w.Image, w.ShadowImage
	freed = w.CheckFadeFinished()
	if freed || (wasUnmapping && w.State == window.Unmapped) {
		release(sess, img)
		release(sess, shadowImg)
		w.Image, w.ShadowImage = nil, nil
	}
	return freed
}

func release(sess *session.Session, handle any) {
	if img, ok := handle.(backend.Image); ok && img != nil {
		sess.Backend.ReleaseImage(img)
	}
}

func releaseImages(sess *session.Session, w *window.Window) {
	release(sess, w.Image)
	release(sess, w.ShadowImage)
	w.Image, w.ShadowImage = nil, nil
}

func unredirExcluded(sess *session.Session, w *window.Window) bool {
	if sess.Config.UnredirExcludeRootFn != nil && sess.Config.UnredirExcludeRootFn(subjectOf(w)) {
		return true
	}
	return sess.Matcher.MatchBool("unredir-exclude", subjectOf(w))
}

func computeDim(sess *session.Session, w *window.Window) bool {
	if w.Focused {
		return false
	}
	return sess.Config.InactiveDim > 0
}

func computeMode(w *window.Window) window.Mode {
	switch {
	case w.Opacity == 1 && !w.HasAlpha && w.FrameOpacity == 1:
		return window.ModeSolid
	case w.Opacity == 1 && !w.HasAlpha && w.FrameOpacity != 1:
		return window.ModeFrameTrans
	default:
		return window.ModeTrans
	}
}

// computeToPaint decides whether a window reaches the paint list.
func computeToPaint(sess *session.Session, w *window.Window) bool {
	if !w.EverDamaged {
		return false
	}
	if w.Extents().Intersect(sess.ScreenRect).Empty() {
		return false
	}
	if w.State == window.Unmapped && w.Image == nil {
		return false
	}
	if w.Opacity*255 < 1 {
		return false
	}
	if w.ImageError {
		return false
	}
	if sess.Matcher.MatchBool("paint-exclude", subjectOf(w)) {
		return false
	}
	return true
}

func isSolidOpaque(w *window.Window) bool {
	return w.Mode == window.ModeSolid
}

func isFullscreen(w *window.Window, screen image.Rectangle) bool {
	return w.Extents() == screen
}

func markDamaged(sess *session.Session, res *Result, w *window.Window) {
	res.Damage = region.Union(res.Damage, region.NewRect(w.Extents()))
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

