// Package bus is a tiny in-process pub/sub keyed by event type. Handlers
// are registered once during startup; Publish fans out synchronously on
// the caller's goroutine.
package bus

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
)

var (
	mu   sync.RWMutex
	ctx  = context.Background()
	subs = make(map[reflect.Type][]handler)
)

type handler struct {
	name string
	fn   func(ctx context.Context, event any)
}

// SetContext replaces the context handed to handlers. Call before any
// Publish.
func SetContext(c context.Context) {
	mu.Lock()
	ctx = c
	mu.Unlock()
}

// Subscribe registers fn for events of type T. name identifies the
// handler in error logs.
func Subscribe[T any](name string, fn func(ctx context.Context, event T) error) {
	mu.Lock()
	defer mu.Unlock()
	t := reflect.TypeOf((*T)(nil)).Elem()
	subs[t] = append(subs[t], handler{
		name: name,
		fn: func(ctx context.Context, event any) {
			if err := fn(ctx, event.(T)); err != nil {
				slog.Error("bus: handler failed", "handler", name, "event", t.String(), "error", err)
			}
		},
	})
}

// Publish delivers event to every handler subscribed to its type, in
// registration order.
func Publish[T any](event T) {
	mu.RLock()
	c := ctx
	hs := subs[reflect.TypeOf(event)]
	mu.RUnlock()

	for _, h := range hs {
		h.fn(c, event)
	}
}
