// Package xatom implements typed reads of the X window properties the
// compositor consumes, the per-session atom interning cache, and the
// bounding-shape query used by the shape handling paths.
package xatom

import (
	"fmt"
	"math"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/shape"
	"github.com/jezek/xgb/xproto"
)

// Names of every atom the compositor looks up by name, interned once and
// cached for the life of the session.
const (
	NetWMWindowOpacity = "_NET_WM_WINDOW_OPACITY"
	NetFrameExtents    = "_NET_FRAME_EXTENTS"
	WMState            = "WM_STATE"
	NetWMName          = "_NET_WM_NAME"
	WMName             = "WM_NAME"
	WMClass            = "WM_CLASS"
	WMWindowRole       = "WM_WINDOW_ROLE"
	WMTransientFor     = "WM_TRANSIENT_FOR"
	WMClientLeader     = "WM_CLIENT_LEADER"
	NetActiveWindow    = "_NET_ACTIVE_WINDOW"
	NetWMWindowType    = "_NET_WM_WINDOW_TYPE"
	ComptonShadow      = "_COMPTON_SHADOW"
	XRootPmapID        = "_XROOTPMAP_ID"
	XSetRootID         = "_XSETROOT_ID"
	NetWMPid           = "_NET_WM_PID"
	ComptonVersion     = "COMPTON_VERSION"
	UTF8String         = "UTF8_STRING"
)

// Cache interns atom names once and serves subsequent lookups from memory.
type Cache struct {
	conn  *xgb.Conn
	byName map[string]xproto.Atom
}

// NewCache returns a Cache bound to conn.
func NewCache(conn *xgb.Conn) *Cache {
	return &Cache{conn: conn, byName: make(map[string]xproto.Atom)}
}

// Atom interns (or returns the cached) atom for name.
func (c *Cache) Atom(name string) (xproto.Atom, error) {
	if a, ok := c.byName[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(c.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("xatom: intern %s: %w", name, err)
	}
	c.byName[name] = reply.Atom
	return reply.Atom, nil
}

// MustPreload interns every atom name the compositor will ever look up, so
// the hot dispatch/preprocess paths never block on a round trip.
func (c *Cache) MustPreload() error {
	for _, name := range []string{
		NetWMWindowOpacity, NetFrameExtents, WMState, NetWMName, WMName,
		WMClass, WMWindowRole, WMTransientFor, WMClientLeader, NetActiveWindow,
		NetWMWindowType, ComptonShadow, XRootPmapID, XSetRootID, NetWMPid,
		ComptonVersion, UTF8String,
	} {
		if _, err := c.Atom(name); err != nil {
			return err
		}
	}
	return nil
}

// Is reports whether a is the interned atom for name. It only consults the
// cache: after MustPreload every name the compositor routes on is present,
// so this never round-trips.
func (c *Cache) Is(a xproto.Atom, name string) bool {
	cached, ok := c.byName[name]
	return ok && cached == a
}

// GetWindow32 reads a WINDOW/32 property (e.g. _NET_ACTIVE_WINDOW,
// WM_CLIENT_LEADER), returning its first value.
func (c *Cache) GetWindow32(win xproto.Window, propName string) (xproto.Window, bool) {
	prop, err := c.Atom(propName)
	if err != nil {
		return 0, false
	}
	reply, err := xproto.GetProperty(c.conn, false, win, prop, xproto.AtomWindow, 0, 1).Reply()
	if err != nil || reply == nil || reply.Format != 32 || len(reply.Value) < 4 {
		return 0, false
	}
	v := uint32(reply.Value[0]) | uint32(reply.Value[1])<<8 |
		uint32(reply.Value[2])<<16 | uint32(reply.Value[3])<<24
	return xproto.Window(v), true
}

// RootPixmap resolves the desktop background pixmap off the root window,
// trying _XROOTPMAP_ID before the older _XSETROOT_ID.
func (c *Cache) RootPixmap(root xproto.Window) (xproto.Pixmap, bool) {
	for _, name := range []string{XRootPmapID, XSetRootID} {
		prop, err := c.Atom(name)
		if err != nil {
			continue
		}
		reply, err := xproto.GetProperty(c.conn, false, root, prop, xproto.AtomPixmap, 0, 1).Reply()
		if err != nil || reply == nil || reply.Format != 32 || len(reply.Value) < 4 {
			continue
		}
		v := uint32(reply.Value[0]) | uint32(reply.Value[1])<<8 |
			uint32(reply.Value[2])<<16 | uint32(reply.Value[3])<<24
		if v != 0 {
			return xproto.Pixmap(v), true
		}
	}
	return 0, false
}

// ActiveWindow reads _NET_ACTIVE_WINDOW off the root window.
func (c *Cache) ActiveWindow(root xproto.Window) (xproto.Window, bool) {
	return c.GetWindow32(root, NetActiveWindow)
}

// GetCardinal32 reads a CARDINAL/32 property, returning its raw uint32
// values. Used for _NET_WM_WINDOW_OPACITY (single value) and
// _NET_FRAME_EXTENTS (four values: left, right, top, bottom on the wire).
func (c *Cache) GetCardinal32(win xproto.Window, propName string) ([]uint32, error) {
	prop, err := c.Atom(propName)
	if err != nil {
		return nil, err
	}
	reply, err := xproto.GetProperty(c.conn, false, win, prop, xproto.AtomCardinal, 0, 32).Reply()
	if err != nil {
		return nil, err
	}
	if reply == nil || reply.Format != 32 || len(reply.Value) == 0 {
		return nil, nil
	}
	out := make([]uint32, len(reply.Value)/4)
	for i := range out {
		out[i] = uint32(reply.Value[i*4]) | uint32(reply.Value[i*4+1])<<8 |
			uint32(reply.Value[i*4+2])<<16 | uint32(reply.Value[i*4+3])<<24
	}
	return out, nil
}

// Opacity reads _NET_WM_WINDOW_OPACITY (CARDINAL32 in [0, 0xFFFFFFFF]) off
// win, returning (opacity, true) on presence, or (NaN, false) when unset.
func (c *Cache) Opacity(win xproto.Window) (float64, bool) {
	vals, err := c.GetCardinal32(win, NetWMWindowOpacity)
	if err != nil || len(vals) == 0 {
		return math.NaN(), false
	}
	return float64(vals[0]) / float64(0xFFFFFFFF), true
}

// FrameExtents reads _NET_FRAME_EXTENTS as (left, right, top, bottom).
func (c *Cache) FrameExtents(win xproto.Window) (left, right, top, bottom uint32, ok bool) {
	vals, err := c.GetCardinal32(win, NetFrameExtents)
	if err != nil || len(vals) < 4 {
		return 0, 0, 0, 0, false
	}
	return vals[0], vals[1], vals[2], vals[3], true
}

// HasProperty is a presence-only test, used for WM_STATE to decide whether a
// toplevel has a managed client window.
func (c *Cache) HasProperty(win xproto.Window, propName string) bool {
	prop, err := c.Atom(propName)
	if err != nil {
		return false
	}
	reply, err := xproto.GetProperty(c.conn, false, win, prop, xproto.AtomAny, 0, 0).Reply()
	if err != nil || reply == nil {
		return false
	}
	return reply.Type != xproto.AtomNone
}

// TextProperty returns propName's raw value as text. It reads only that one
// property: it does not fall back from _NET_WM_NAME to WM_NAME, does not
// convert Latin-1, and returns WM_CLASS's NUL-separated pair unsplit.
func (c *Cache) TextProperty(win xproto.Window, propName string) (string, bool) {
	prop, err := c.Atom(propName)
	if err != nil {
		return "", false
	}
	reply, err := xproto.GetProperty(c.conn, false, win, prop, xproto.AtomAny, 0, 1<<20).Reply()
	if err != nil || reply == nil || len(reply.Value) == 0 {
		return "", false
	}
	return string(reply.Value), true
}

// WindowTypeAtoms reads _NET_WM_WINDOW_TYPE, returning the ordered list of
// interned type atoms so the caller can map each to a wintype.Type and use
// the first recognized one, per EWMH's "most specific to least specific"
// convention.
func (c *Cache) WindowTypeAtoms(win xproto.Window) ([]xproto.Atom, error) {
	prop, err := c.Atom(NetWMWindowType)
	if err != nil {
		return nil, err
	}
	reply, err := xproto.GetProperty(c.conn, false, win, prop, xproto.AtomAtom, 0, 32).Reply()
	if err != nil {
		return nil, err
	}
	if reply == nil || reply.Format != 32 {
		return nil, nil
	}
	out := make([]xproto.Atom, len(reply.Value)/4)
	for i := range out {
		out[i] = xproto.Atom(uint32(reply.Value[i*4]) | uint32(reply.Value[i*4+1])<<8 |
			uint32(reply.Value[i*4+2])<<16 | uint32(reply.Value[i*4+3])<<24)
	}
	return out, nil
}

// AtomName resolves an atom back to its string name, used to turn the atoms
// returned by WindowTypeAtoms into wintype.FromAtomName input.
func (c *Cache) AtomName(a xproto.Atom) (string, error) {
	reply, err := xproto.GetAtomName(c.conn, a).Reply()
	if err != nil {
		return "", err
	}
	return reply.Name, nil
}

// SetOpacity writes _NET_WM_WINDOW_OPACITY on win (the only compositor-side
// write of this property). No code in this repository calls it.
func (c *Cache) SetOpacity(win xproto.Window, opacity float64) error {
	prop, err := c.Atom(NetWMWindowOpacity)
	if err != nil {
		return err
	}
	raw := uint32(opacity * float64(0xFFFFFFFF))
	data := []byte{byte(raw), byte(raw >> 8), byte(raw >> 16), byte(raw >> 24)}
	return xproto.ChangePropertyChecked(c.conn, xproto.PropModeReplace, win, prop, xproto.AtomCardinal, 32, 1, data).Check()
}

// SetPid writes _NET_WM_PID on win, identifying the compositor process.
func (c *Cache) SetPid(win xproto.Window, pid uint32) error {
	prop, err := c.Atom(NetWMPid)
	if err != nil {
		return err
	}
	data := []byte{byte(pid), byte(pid >> 8), byte(pid >> 16), byte(pid >> 24)}
	return xproto.ChangePropertyChecked(c.conn, xproto.PropModeReplace, win, prop, xproto.AtomCardinal, 32, 1, data).Check()
}

// SetVersion writes COMPTON_VERSION (kept under the historical atom name for
// interoperability with tools that look for it) as a UTF8_STRING.
func (c *Cache) SetVersion(win xproto.Window, version string) error {
	prop, err := c.Atom(ComptonVersion)
	if err != nil {
		return err
	}
	typ, err := c.Atom(UTF8String)
	if err != nil {
		return err
	}
	data := []byte(version)
	return xproto.ChangePropertyChecked(c.conn, xproto.PropModeReplace, win, prop, typ, 8, uint32(len(data)), data).Check()
}

// BoundingShape queries the Shape extension for win's bounding rectangle, in
// window-local coordinates. shaped is false when the window has no non-default
// bounding shape (a plain rectangle equal to its geometry).
func BoundingShape(conn *xgb.Conn, win xproto.Window) (x, y int16, w, h uint16, shaped bool, err error) {
	reply, err := shape.QueryExtents(conn, win).Reply()
	if err != nil {
		return 0, 0, 0, 0, false, err
	}
	if reply == nil || !reply.BoundingShaped {
		return 0, 0, 0, 0, false, nil
	}
	return reply.BoundingShapeExtentsX, reply.BoundingShapeExtentsY,
		reply.BoundingShapeExtentsWidth, reply.BoundingShapeExtentsHeight, true, nil
}

// SelectShapeInput arms ShapeNotify delivery for win.
func SelectShapeInput(conn *xgb.Conn, win xproto.Window) error {
	return shape.SelectInputChecked(conn, win, true).Check()
}
