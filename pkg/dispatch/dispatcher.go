// Package dispatch is a small named-event observer registry.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrDestroyed = errors.New("dispatch: dispatcher destroyed")

// ListenerID identifies one registration. Go funcs are not comparable, so
// Off removes by the token On returned.
type ListenerID uint64

// Callback receives the value passed to Trigger.
type Callback[T any] func(T)

type listener[T any] struct {
	id ListenerID
	fn Callback[T]
}

// Dispatcher fans values out to listeners registered under a name.
//
// Listeners run synchronously, in registration order, on the goroutine that
// calls Trigger. A listener that panics is recovered and logged; the
// remaining listeners still run.
type Dispatcher[N comparable, T any] struct {
	mu        sync.RWMutex
	listeners map[N][]listener[T]
	nextID    ListenerID
	destroyed bool
	log       *slog.Logger
}

func New[N comparable, T any](log *slog.Logger) *Dispatcher[N, T] {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher[N, T]{
		listeners: make(map[N][]listener[T]),
		log:       log,
	}
}

// On appends fn to the listeners for name. Registering the same function
// twice delivers twice.
func (d *Dispatcher[N, T]) On(name N, fn Callback[T]) (ListenerID, error) {
	if fn == nil {
		return 0, errors.New("dispatch: nil callback")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return 0, ErrDestroyed
	}
	d.nextID++
	id := d.nextID
	d.listeners[name] = append(d.listeners[name], listener[T]{id: id, fn: fn})
	return id, nil
}

// Off removes the listener registered under id. Unknown ids are ignored.
func (d *Dispatcher[N, T]) Off(name N, id ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	lst := d.listeners[name]
	out := make([]listener[T], 0, len(lst))
	for _, l := range lst {
		if l.id != id {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		delete(d.listeners, name)
		return
	}
	d.listeners[name] = out
}

// Trigger invokes every listener for name with v. It is a no-op after Destroy.
func (d *Dispatcher[N, T]) Trigger(name N, v T) {
	d.mu.RLock()
	if d.destroyed {
		d.mu.RUnlock()
		return
	}
	lst := make([]listener[T], len(d.listeners[name]))
	copy(lst, d.listeners[name])
	d.mu.RUnlock()

	for _, l := range lst {
		d.invoke(name, l, v)
	}
}

func (d *Dispatcher[N, T]) invoke(name N, l listener[T], v T) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("listener panicked",
				"event", fmt.Sprint(name),
				"listener_id", uint64(l.id),
				"panic", fmt.Sprint(p),
			)
		}
	}()
	l.fn(v)
}

// Count reports how many listeners are registered for name.
func (d *Dispatcher[N, T]) Count(name N) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[name])
}

// Clear drops every registration but keeps the dispatcher usable.
func (d *Dispatcher[N, T]) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.listeners = make(map[N][]listener[T])
}

// Destroy drops every registration. Afterwards On fails with ErrDestroyed
// and Trigger does nothing.
func (d *Dispatcher[N, T]) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	d.listeners = nil
}
