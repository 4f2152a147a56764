// Package redirect implements the screen redirect/unredirect controller:
// acquiring the Composite overlay window,
// telling the server to route every child of root into off-screen pixmaps,
// and the reverse.
package redirect

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/Masterminds/semver/v3"
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/composite"
	"github.com/jezek/xgb/shape"
	"github.com/jezek/xgb/xproto"

	"github.com/xcompd/xcompd/internal/backend"
	"github.com/xcompd/xcompd/internal/damage"
	"github.com/xcompd/xcompd/internal/region"
	"github.com/xcompd/xcompd/internal/registry"
	"github.com/xcompd/xcompd/internal/session"
	"github.com/xcompd/xcompd/internal/window"
)

// MinCompositeVersion is the lowest Composite extension version this
// compositor relies on: 0.2 introduced REDIRECT_MANUAL.
var MinCompositeVersion = semver.MustParse("0.2.0")

// Controller drives a session's redirected flag and damage ring.
type Controller struct {
	conn *xgb.Conn
}

func New(conn *xgb.Conn) *Controller {
	return &Controller{conn: conn}
}

// NegotiateVersion queries the server's Composite version and reports
// whether it satisfies MinCompositeVersion (a missing or incompatible
// required extension is fatal).
func (c *Controller) NegotiateVersion() error {
	if err := composite.Init(c.conn); err != nil {
		return fmt.Errorf("redirect: Composite extension unavailable: %w", err)
	}
	reply, err := composite.QueryVersion(c.conn, 0, 4).Reply()
	if err != nil {
		return fmt.Errorf("redirect: Composite QueryVersion: %w", err)
	}
	got, err := semver.NewVersion(fmt.Sprintf("%d.%d.0", reply.MajorVersion, reply.MinorVersion))
	if err != nil {
		return fmt.Errorf("redirect: parse Composite version: %w", err)
	}
	if got.LessThan(MinCompositeVersion) {
		return fmt.Errorf("redirect: Composite %s too old, need >= %s", got, MinCompositeVersion)
	}
	return nil
}

// AcquireOverlay gets the Composite overlay window and sets both its
// bounding and input shapes to empty so the overlay is click-through.
func (c *Controller) AcquireOverlay(root xproto.Window) (xproto.Window, error) {
	reply, err := composite.GetOverlayWindow(c.conn, root).Reply()
	if err != nil {
		return 0, fmt.Errorf("redirect: get overlay window: %w", err)
	}
	overlay := reply.OverlayWin

	if err := shape.RectanglesChecked(c.conn, shape.SoSet, shape.SkBounding, xproto.ClipOrderingUnsorted,
		overlay, 0, 0, nil).Check(); err != nil {
		slog.Warn("redirect: clear overlay bounding shape failed", "err", err)
	}
	if err := shape.RectanglesChecked(c.conn, shape.SoSet, shape.SkInput, xproto.ClipOrderingUnsorted,
		overlay, 0, 0, nil).Check(); err != nil {
		slog.Warn("redirect: clear overlay input shape failed", "err", err)
	}
	return overlay, nil
}

// ReleaseOverlay gives the overlay window back to the server.
func (c *Controller) ReleaseOverlay(root xproto.Window) error {
	return composite.ReleaseOverlayWindowChecked(c.conn, root).Check()
}

// AcquireSelection takes ownership of the compositing-manager selection
// (_NET_WM_CM_Sn) for owner. An existing owner is not displaced: a
// collision (another compositor already running on this screen) is fatal.
func AcquireSelection(conn *xgb.Conn, atom xproto.Atom, owner xproto.Window) error {
	reply, err := xproto.GetSelectionOwner(conn, atom).Reply()
	if err != nil {
		return fmt.Errorf("redirect: get selection owner: %w", err)
	}
	if reply.Owner != 0 {
		return fmt.Errorf("redirect: compositing manager selection already owned by window %d", reply.Owner)
	}

	if err := xproto.SetSelectionOwnerChecked(conn, owner, atom, xproto.TimeCurrentTime).Check(); err != nil {
		return fmt.Errorf("redirect: set selection owner: %w", err)
	}

	confirm, err := xproto.GetSelectionOwner(conn, atom).Reply()
	if err != nil {
		return fmt.Errorf("redirect: confirm selection owner: %w", err)
	}
	if confirm.Owner != owner {
		return fmt.Errorf("redirect: lost race for compositing manager selection")
	}
	return nil
}

// Start turns redirection on: request subwindow redirect,
// allocate the damage ring sized to the backend's max_buffer_age, bind
// images for every viewable window, and force a full-screen damage. A
// per-window bind failure is recorded as IMAGE_ERROR and does not fail the
// overall start.
func Start(sess *session.Session) error {
	if sess.Redirected {
		return nil
	}
	if err := composite.RedirectSubwindowsChecked(sess.Conn, sess.Root, composite.RedirectManual).Check(); err != nil {
		return fmt.Errorf("redirect: RedirectSubwindows: %w", err)
	}

	sess.DamageRing = damage.New(sess.Backend.MaxBufferAge())
	sess.Redirected = true

	sess.Registry.IterBottomToTop(func(n *registry.Node) bool {
		w := sess.Window(n.ID())
		if w == nil || !w.MapState {
			return true
		}
		bindWindowImage(sess, w)
		return true
	})

	sess.DamageRing.Add(damage.Screen(rectRegion(sess.ScreenRect), sess.ScreenRect))
	return nil
}

// Stop implements redir_stop: release every bound image, undo subwindow
// redirect, and free the damage ring. The overlay window itself is kept
// mapped across stop/start cycles by the caller; cmd/xcompd releases it
// only at process shutdown.
func Stop(sess *session.Session) error {
	if !sess.Redirected {
		return nil
	}
	for _, w := range sess.Windows {
		if img, ok := w.Image.(backend.Image); ok && img != nil {
			sess.Backend.ReleaseImage(img)
		}
		w.Image = nil
		if img, ok := w.ShadowImage.(backend.Image); ok && img != nil {
			sess.Backend.ReleaseImage(img)
		}
		w.ShadowImage = nil
	}
	if err := composite.UnredirectSubwindowsChecked(sess.Conn, sess.Root, composite.RedirectManual).Check(); err != nil {
		return fmt.Errorf("redirect: UnredirectSubwindows: %w", err)
	}
	sess.DamageRing = nil
	sess.Redirected = false
	return nil
}

// BindOrMarkError (re)binds w's backend image, clearing StaleImage on
// success or setting ImageError on failure. Exported so cmd/xcompd can wire
// it as session.Session.BindStaleImage without exposing the rest of this
// package's internals.
func BindOrMarkError(sess *session.Session, w *window.Window) {
	bindWindowImage(sess, w)
}

func bindWindowImage(sess *session.Session, w *window.Window) {
	pixmapID, err := newNamePixmap(sess.Conn, xproto.Window(w.Client))
	if err != nil {
		w.ImageError = true
		return
	}
	img, err := sess.Backend.BindPixmap(pixmapID, backend.VisualInfo{HasAlpha: w.HasAlpha, Depth: depthFor(w.HasAlpha)}, true)
	if err != nil {
		w.ImageError = true
		return
	}
	w.Image = img
	w.StaleImage = false
	w.ImageError = false
}

func depthFor(hasAlpha bool) uint8 {
	if hasAlpha {
		return 32
	}
	return 24
}

// newNamePixmap requests a fresh off-screen pixmap bound to win's on-screen
// contents via the Composite NameWindowPixmap request.
func newNamePixmap(conn *xgb.Conn, win xproto.Window) (uint32, error) {
	pid, err := xproto.NewPixmapId(conn)
	if err != nil {
		return 0, err
	}
	if err := composite.NameWindowPixmapChecked(conn, win, xproto.Pixmap(pid)).Check(); err != nil {
		return 0, err
	}
	return uint32(pid), nil
}

func rectRegion(r image.Rectangle) *region.Region { return region.NewRect(r) }
