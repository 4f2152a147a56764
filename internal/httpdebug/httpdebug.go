// Package httpdebug exposes the introspection and control surface over the
// running session: window stack
// order, per-window paint state, damage-ring occupancy, and a per-window
// opacity force. All compositing decisions stay in preprocess/paint; the
// only mutation offered here is the opacity-force knob.
package httpdebug

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/k0kubun/pp"

	"github.com/xcompd/xcompd/internal/registry"
	"github.com/xcompd/xcompd/internal/session"
	"github.com/xcompd/xcompd/internal/wintype"
	"github.com/xcompd/xcompd/pkg/chiext"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter builds the debug HTTP surface for sess. streamInterval governs
// how often /stream pushes a fresh stack snapshot to connected websocket
// clients.
func NewRouter(sess *session.Session, streamInterval time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chiext.Logger())

	r.Get("/session", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, sessionSnapshot(sess))
	})
	r.Get("/stack", func(w http.ResponseWriter, req *http.Request) {
		stack := stackSnapshot(sess)
		if slog.Default().Enabled(req.Context(), slog.LevelDebug) {
			slog.Debug("httpdebug: stack dump", "stack", pp.Sprint(stack))
		}
		writeJSON(w, stack)
	})
	r.Get("/damage", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, damageSnapshot(sess))
	})
	r.Get("/stream", func(w http.ResponseWriter, req *http.Request) {
		streamStack(sess, streamInterval, w, req)
	})
	r.Put("/window/{id}/opacity", func(w http.ResponseWriter, req *http.Request) {
		forceOpacity(sess, w, req)
	})
	r.Delete("/window/{id}/opacity", func(w http.ResponseWriter, req *http.Request) {
		clearForcedOpacity(sess, w, req)
	})

	return r
}

// forceOpacity pins a window's opacity target from the control surface; it
// stays pinned until the matching DELETE clears it.
func forceOpacity(sess *session.Session, w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(req, "id"), 10, 32)
	if err != nil {
		http.Error(w, "bad window id", http.StatusBadRequest)
		return
	}
	var body struct {
		Opacity float64 `json:"opacity"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if body.Opacity < 0 || body.Opacity > 1 {
		http.Error(w, "opacity out of range", http.StatusBadRequest)
		return
	}
	if sess.Config.ForceWinOpacity == nil {
		sess.Config.ForceWinOpacity = make(map[uint32]float64)
	}
	sess.Config.ForceWinOpacity[uint32(id)] = body.Opacity
	// The force wins every priority-table branch, so recomputing with no
	// property value is safe and makes the pin take effect this frame.
	if win := sess.Window(registry.ID(id)); win != nil {
		win.RecomputeTarget(sess.Config.OpacityConfigFor(uint32(id)), wintype.Defaults{Opacity: math.NaN()}, math.NaN(), false)
	}
	w.WriteHeader(http.StatusNoContent)
}

func clearForcedOpacity(sess *session.Session, w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(req, "id"), 10, 32)
	if err != nil {
		http.Error(w, "bad window id", http.StatusBadRequest)
		return
	}
	delete(sess.Config.ForceWinOpacity, uint32(id))
	w.WriteHeader(http.StatusNoContent)
}

// requestID stamps each request with a uuid under chi's own
// RequestIDKey, so chiext.Logger's middleware.GetReqID picks it up
// without needing a second request-scoped log field.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type sessionView struct {
	Redirected   bool `json:"redirected"`
	WindowCount  int  `json:"window_count"`
	ScreenWidth  int  `json:"screen_width"`
	ScreenHeight int  `json:"screen_height"`
}

func sessionSnapshot(sess *session.Session) sessionView {
	return sessionView{
		Redirected:   sess.Redirected,
		WindowCount:  sess.Registry.Len(),
		ScreenWidth:  sess.ScreenRect.Dx(),
		ScreenHeight: sess.ScreenRect.Dy(),
	}
}

type windowView struct {
	ID          uint32  `json:"id"`
	State       string  `json:"state"`
	Opacity     float64 `json:"opacity"`
	ToPaint     bool    `json:"to_paint"`
	WinType     string  `json:"win_type"`
	Focused     bool    `json:"focused"`
	X           int32   `json:"x"`
	Y           int32   `json:"y"`
	Width       uint32  `json:"width"`
	Height      uint32  `json:"height"`
	ImageError  bool    `json:"image_error"`
	EverDamaged bool    `json:"ever_damaged"`
}

func stackSnapshot(sess *session.Session) []windowView {
	var out []windowView
	sess.Registry.IterTopToBottom(func(n *registry.Node) bool {
		w := sess.Window(n.ID())
		if w == nil {
			return true
		}
		out = append(out, windowView{
			ID:          uint32(w.ID),
			State:       w.State.String(),
			Opacity:     w.Opacity,
			ToPaint:     w.ToPaint,
			WinType:     w.WinType.String(),
			Focused:     w.Focused,
			X:           w.X,
			Y:           w.Y,
			Width:       w.Width,
			Height:      w.Height,
			ImageError:  w.ImageError,
			EverDamaged: w.EverDamaged,
		})
		return true
	})
	return out
}

type damageView struct {
	Redirected bool `json:"redirected"`
	MaxAge     int  `json:"max_buffer_age"`
	Age        int  `json:"buffer_age"`
}

func damageSnapshot(sess *session.Session) damageView {
	v := damageView{Redirected: sess.Redirected}
	if sess.Backend != nil {
		v.MaxAge = sess.Backend.MaxBufferAge()
		v.Age = sess.Backend.BufferAge()
	}
	return v
}

func streamStack(sess *session.Session, interval time.Duration, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(stackSnapshot(sess)); err != nil {
			return
		}
	}
}
