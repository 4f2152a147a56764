// Package dispatch maps X11 notification events to the state-machine
// transitions and session bookkeeping.
package dispatch

import (
	"image"
	"log/slog"
	"math"

	"github.com/jezek/xgb/damage"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/shape"
	"github.com/jezek/xgb/xproto"

	"github.com/xcompd/xcompd/internal/backend"
	compdamage "github.com/xcompd/xcompd/internal/damage"
	"github.com/xcompd/xcompd/internal/region"
	"github.com/xcompd/xcompd/internal/registry"
	"github.com/xcompd/xcompd/internal/session"
	"github.com/xcompd/xcompd/internal/window"
	"github.com/xcompd/xcompd/internal/wintype"
	"github.com/xcompd/xcompd/internal/xatom"
)

// Dispatcher holds the small amount of state the event handlers need beyond
// the session itself: the wintype default table and a hook back into the
// frame scheduler so handlers can request a redraw or a root reinit.
type Dispatcher struct {
	Defaults map[wintype.Type]wintype.Defaults

	// RequestRedraw is called whenever a handler produces damage or a
	// state change the scheduler should paint. Nil-safe no-op if unset.
	RequestRedraw func()
	// RequestRootReinit is called by every ConfigureNotify(root) with the
	// new root size; it does not check whether the backend implements
	// backend.RootChanger.
	RequestRootReinit func(width, height int)
	// RequestExit is called on SelectionClear for the CM selection: another
	// compositor has taken over and this process must shut down.
	RequestExit func()
	// RefetchMonitors re-queries RandR monitor geometry after a
	// ScreenChangeNotify. Nil-safe no-op if unset.
	RefetchMonitors func()
}

func New() *Dispatcher {
	return &Dispatcher{Defaults: wintype.DefaultTable()}
}

func (d *Dispatcher) redraw() {
	if d.RequestRedraw != nil {
		d.RequestRedraw()
	}
}

// Dispatch routes a single decoded X event to its handler. ev must be one
// of the types this package knows about (xproto/damage/randr events); any
// other type is ignored, since the reactor only forwards events the
// session selected input for.
func (d *Dispatcher) Dispatch(sess *session.Session, ev any) {
	switch e := ev.(type) {
	case xproto.CreateNotifyEvent:
		d.onCreate(sess, e)
	case xproto.ConfigureNotifyEvent:
		d.onConfigure(sess, e)
	case xproto.MapNotifyEvent:
		d.onMap(sess, e)
	case xproto.UnmapNotifyEvent:
		d.onUnmap(sess, e)
	case xproto.DestroyNotifyEvent:
		d.onDestroy(sess, e)
	case xproto.ReparentNotifyEvent:
		d.onReparent(sess, e)
	case xproto.CirculateNotifyEvent:
		d.onCirculate(sess, e)
	case xproto.PropertyNotifyEvent:
		d.onProperty(sess, e)
	case damage.NotifyEvent:
		d.onDamage(sess, e)
	case shape.NotifyEvent:
		d.onShape(sess, e)
	case randr.ScreenChangeNotifyEvent:
		d.onScreenChange(sess, e)
	case xproto.SelectionClearEvent:
		d.onSelectionClear(sess, e)
	default:
		slog.Debug("dispatch: unhandled event type")
	}
}

func (d *Dispatcher) onCreate(sess *session.Session, e xproto.CreateNotifyEvent) {
	if e.Parent != sess.Root {
		return
	}
	if sess.HasOverlay && xproto.Window(e.Window) == sess.Overlay {
		return
	}
	d.insertWindow(sess, e.Window, 0, e.X, e.Y, e.Width, e.Height, e.BorderWidth, e.OverrideRedirect)
}

func (d *Dispatcher) insertWindow(sess *session.Session, win xproto.Window, prevID registry.ID, x, y int16, w, h, bw uint16, overrideRedirect bool) {
	nw := window.New(uint32(win))
	nw.X, nw.Y = int32(x), int32(y)
	nw.Width, nw.Height, nw.BorderWidth = uint32(w), uint32(h), uint32(bw)
	sess.Registry.Insert(registry.ID(win), prevID, nw)
	sess.Windows[registry.ID(win)] = nw

	if sess.Conn != nil {
		did, err := damage.NewDamageId(sess.Conn)
		if err == nil {
			damage.Create(sess.Conn, did, xproto.Drawable(win), damage.ReportLevelNonEmpty)
		} else {
			slog.Warn("dispatch: damage id allocation failed", "window", win, "error", err)
		}
		if err := xatom.SelectShapeInput(sess.Conn, win); err != nil {
			slog.Debug("dispatch: shape select failed", "window", win, "error", err)
		}
	}
}

// AddExisting adopts a window found by the initial root QueryTree scan:
// inserted above prevID (0 for the bottom of the stack), its type and
// leader read off the server, and mapped straight away when the server
// reports it viewable.
func (d *Dispatcher) AddExisting(sess *session.Session, win xproto.Window, prevID registry.ID, x, y int16, width, height, bw uint16, depth uint8, viewable bool) {
	d.insertWindow(sess, win, prevID, x, y, width, height, bw, false)
	w := sess.Window(registry.ID(win))
	if w == nil {
		return
	}
	w.HasAlpha = depth == 32

	if sess.Atoms != nil {
		w.WinType = readWinType(sess, win)
		if leader, ok := sess.Atoms.GetWindow32(win, xatom.WMClientLeader); ok {
			w.Leader = uint32(leader)
			w.CacheLeader = true
		}
	}

	if viewable {
		d.onMap(sess, xproto.MapNotifyEvent{Window: win, Event: sess.Root})
	}
}

func (d *Dispatcher) onConfigure(sess *session.Session, e xproto.ConfigureNotifyEvent) {
	if e.Window == sess.Root {
		sess.ScreenRect = image.Rect(0, 0, int(e.Width), int(e.Height))
		if sess.DamageRing != nil {
			sess.DamageRing.Reset()
		}
		if d.RequestRootReinit != nil {
			d.RequestRootReinit(int(e.Width), int(e.Height))
		}
		d.redraw()
		return
	}

	id := registry.ID(e.Window)
	sess.Registry.Restack(id, registry.ID(e.AboveSibling), invalidateFn(sess))

	w := sess.Window(id)
	if w == nil {
		return
	}
	oldExtents := w.Extents()

	sizeChanged := w.Width != uint32(e.Width) || w.Height != uint32(e.Height) || w.BorderWidth != uint32(e.BorderWidth)
	w.X, w.Y = int32(e.X), int32(e.Y)
	w.Width, w.Height, w.BorderWidth = uint32(e.Width), uint32(e.Height), uint32(e.BorderWidth)

	if sizeChanged {
		w.StaleImage = true
		if img, ok := w.ShadowImage.(backend.Image); ok && img != nil && sess.Backend != nil {
			sess.Backend.ReleaseImage(img)
		}
		w.ShadowImage = nil
	}

	newExtents := w.Extents()
	addDamage(sess, region.Union(region.NewRect(oldExtents), region.NewRect(newExtents)))
	d.redraw()
}

func invalidateFn(sess *session.Session) registry.InvalidateFn {
	return func(n *registry.Node) {
		w, ok := n.Value.(*window.Window)
		if !ok || w == nil {
			return
		}
		w.RegIgnoreValid = false
	}
}

func (d *Dispatcher) onMap(sess *session.Session, e xproto.MapNotifyEvent) {
	w := sess.Window(registry.ID(e.Window))
	if w == nil {
		return
	}
	if w.State == window.Unmapped {
		w.Map()
	}
	opacity, ok := propOpacity(sess, w)
	w.RecomputeTarget(sess.Config.OpacityConfigFor(w.ID), d.Defaults[w.WinType], opacity, ok)
	addDamage(sess, region.NewRect(w.Extents()))
	d.redraw()
}

// propOpacity resolves _NET_WM_WINDOW_OPACITY, frame window first (where
// window managers set it), then the client.
func propOpacity(sess *session.Session, w *window.Window) (float64, bool) {
	if sess.Atoms == nil {
		return math.NaN(), false
	}
	if v, ok := sess.Atoms.Opacity(xproto.Window(w.ID)); ok {
		return v, true
	}
	if w.Client == w.ID {
		return math.NaN(), false
	}
	return sess.Atoms.Opacity(xproto.Window(w.Client))
}

func (d *Dispatcher) onUnmap(sess *session.Session, e xproto.UnmapNotifyEvent) {
	w := sess.Window(registry.ID(e.Window))
	if w == nil {
		return
	}
	w.Unmap()
	d.redraw()
}

func (d *Dispatcher) onDestroy(sess *session.Session, e xproto.DestroyNotifyEvent) {
	id := registry.ID(e.Window)
	w := sess.Window(id)
	if w == nil {
		return
	}
	w.Destroy()
	sess.Registry.RemoveFromIndexOnly(id)
	d.redraw()
}

func (d *Dispatcher) onReparent(sess *session.Session, e xproto.ReparentNotifyEvent) {
	if e.Parent == sess.Root {
		d.insertWindow(sess, e.Window, 0, e.X, e.Y, 0, 0, 0, e.OverrideRedirect)
		return
	}
	id := registry.ID(e.Window)
	if w := sess.Window(id); w != nil {
		w.Destroy()
		sess.Registry.RemoveFromIndexOnly(id)
	}
}

func (d *Dispatcher) onCirculate(sess *session.Session, e xproto.CirculateNotifyEvent) {
	id := registry.ID(e.Window)
	if e.Place == xproto.PlaceOnTop {
		top := sess.Registry.Top()
		var aboveID registry.ID
		if top != nil {
			aboveID = top.ID()
		}
		sess.Registry.Restack(id, aboveID, invalidateFn(sess))
	} else {
		sess.Registry.Restack(id, 0, invalidateFn(sess))
	}
	d.redraw()
}

func (d *Dispatcher) onProperty(sess *session.Session, e xproto.PropertyNotifyEvent) {
	if e.Window == sess.Root {
		d.onRootProperty(sess, e)
		return
	}

	id := registry.ID(e.Window)
	w := sess.Window(id)
	if w == nil {
		w = toplevelForClient(sess, e.Window)
		if w == nil {
			return
		}
	}

	atoms := sess.Atoms
	switch {
	case atoms == nil || atoms.Is(e.Atom, xatom.NetWMWindowOpacity):
		opacity, ok := propOpacity(sess, w)
		w.RecomputeTarget(sess.Config.OpacityConfigFor(w.ID), d.Defaults[w.WinType], opacity, ok)
	case atoms.Is(e.Atom, xatom.NetFrameExtents):
		if l, r, t, b, ok := atoms.FrameExtents(xproto.Window(w.Client)); ok {
			w.FrameExtentLeft, w.FrameExtentRight, w.FrameExtentTop, w.FrameExtentBottom = l, r, t, b
		}
	case atoms.Is(e.Atom, xatom.NetWMWindowType):
		w.WinType = readWinType(sess, xproto.Window(w.Client))
		opacity, ok := propOpacity(sess, w)
		w.RecomputeTarget(sess.Config.OpacityConfigFor(w.ID), d.Defaults[w.WinType], opacity, ok)
	case atoms.Is(e.Atom, xatom.WMClientLeader) || atoms.Is(e.Atom, xatom.WMTransientFor):
		if leader, ok := atoms.GetWindow32(xproto.Window(w.Client), xatom.WMClientLeader); ok {
			w.Leader = uint32(leader)
		} else if leader, ok := atoms.GetWindow32(xproto.Window(w.Client), xatom.WMTransientFor); ok {
			w.Leader = uint32(leader)
		}
		w.CacheLeader = true
	case atoms.Is(e.Atom, xatom.ComptonShadow):
		vals, err := atoms.GetCardinal32(xproto.Window(w.Client), xatom.ComptonShadow)
		if err == nil && len(vals) > 0 {
			w.Shadow = vals[0] != 0
		}
	}

	w.RegIgnoreValid = false
	addDamage(sess, region.NewRect(w.Extents()))
	d.redraw()
}

// readWinType resolves _NET_WM_WINDOW_TYPE to the first recognized type
// atom, or Unknown when the property is absent or unrecognized.
func readWinType(sess *session.Session, client xproto.Window) wintype.Type {
	typeAtoms, err := sess.Atoms.WindowTypeAtoms(client)
	if err != nil {
		return wintype.Unknown
	}
	for _, a := range typeAtoms {
		name, err := sess.Atoms.AtomName(a)
		if err != nil {
			continue
		}
		if t := wintype.FromAtomName(name); t != wintype.Unknown {
			return t
		}
	}
	return wintype.Unknown
}

func toplevelForClient(sess *session.Session, client xproto.Window) *window.Window {
	n := sess.Registry.FindToplevel(func(n *registry.Node) bool {
		w, ok := n.Value.(*window.Window)
		return ok && w != nil && w.Client == uint32(client)
	})
	if n == nil {
		return nil
	}
	w, _ := n.Value.(*window.Window)
	return w
}

func (d *Dispatcher) onRootProperty(sess *session.Session, e xproto.PropertyNotifyEvent) {
	atoms := sess.Atoms
	if atoms == nil {
		d.redraw()
		return
	}

	switch {
	case atoms.Is(e.Atom, xatom.XRootPmapID) || atoms.Is(e.Atom, xatom.XSetRootID):
		if sess.FetchRootTile != nil {
			sess.FetchRootTile()
		}
		addDamage(sess, region.NewRect(sess.ScreenRect))
	case atoms.Is(e.Atom, xatom.NetActiveWindow):
		if sess.Config.TrackFocus {
			d.refocus(sess)
		}
	}
	d.redraw()
}

// refocus re-reads _NET_ACTIVE_WINDOW and reassigns the Focused flag across
// the whole stack, recomputing opacity targets for every window whose focus
// state flipped. Windows sharing the active window's leader are focused as
// a group.
func (d *Dispatcher) refocus(sess *session.Session) {
	activeID, ok := sess.Atoms.ActiveWindow(sess.Root)
	if !ok {
		return
	}

	active := sess.Window(registry.ID(activeID))
	if active == nil {
		active = toplevelForClient(sess, activeID)
	}

	sess.ActiveWin = 0
	sess.ActiveLeader = 0
	if active != nil {
		sess.ActiveWin = registry.ID(active.ID)
		sess.ActiveLeader = active.Leader
	}

	for _, w := range sess.Windows {
		focused := w == active ||
			(sess.ActiveLeader != 0 && w.CacheLeader && w.Leader == sess.ActiveLeader)
		if focused == w.Focused {
			continue
		}
		w.Focused = focused
		opacity, propSet := propOpacity(sess, w)
		w.RecomputeTarget(sess.Config.OpacityConfigFor(w.ID), d.Defaults[w.WinType], opacity, propSet)
		addDamage(sess, region.NewRect(w.Extents()))
	}
}

func (d *Dispatcher) onDamage(sess *session.Session, e damage.NotifyEvent) {
	w := sess.Window(registry.ID(e.Drawable))
	if w == nil {
		return
	}
	if !w.EverDamaged {
		// First damage after a map: the whole window is dirty, not just
		// the reported area.
		w.EverDamaged = true
		addDamage(sess, region.NewRect(w.Extents()))
	} else {
		area := image.Rect(int(e.Area.X), int(e.Area.Y), int(e.Area.X)+int(e.Area.Width), int(e.Area.Y)+int(e.Area.Height))
		area = area.Add(image.Pt(int(w.X), int(w.Y)))
		addDamage(sess, region.NewRect(area))
	}

	if sess.Conn != nil {
		damage.Subtract(sess.Conn, e.Damage, 0, 0)
	}
	d.redraw()
}

func (d *Dispatcher) onShape(sess *session.Session, e shape.NotifyEvent) {
	w := sess.Window(registry.ID(e.AffectedWindow))
	if w == nil {
		return
	}
	w.StaleImage = true
	addDamage(sess, region.NewRect(w.Extents()))
	d.redraw()
}

func (d *Dispatcher) onScreenChange(sess *session.Session, e randr.ScreenChangeNotifyEvent) {
	if d.RefetchMonitors != nil {
		d.RefetchMonitors()
	}
	addDamage(sess, region.NewRect(sess.ScreenRect))
	d.redraw()
}

func (d *Dispatcher) onSelectionClear(sess *session.Session, e xproto.SelectionClearEvent) {
	slog.Error("dispatch: compositor selection lost, exiting")
	if d.RequestExit != nil {
		d.RequestExit()
	}
}

func addDamage(sess *session.Session, dmg *region.Region) {
	if sess.DamageRing == nil {
		return
	}
	sess.DamageRing.Add(compdamage.Screen(dmg, sess.ScreenRect))
}
