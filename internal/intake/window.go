package intake

import (
	"context"
	"sync"
)

// PasteListener handles a page-level paste.
type PasteListener func(ctx context.Context, ev PasteEvent)

// Window is the page-level event hub that widgets attach global listeners to.
type Window struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]PasteListener
	order     []int
}

// NewWindow returns a Window with no listeners.
func NewWindow() *Window {
	return &Window{listeners: make(map[int]PasteListener)}
}

// AddPasteListener registers fn and returns the function that removes it.
// Calling remove more than once is harmless.
func (w *Window) AddPasteListener(fn PasteListener) (remove func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	w.order = append(w.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.listeners, id)
			for i, v := range w.order {
				if v == id {
					w.order = append(w.order[:i], w.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Listeners returns the number of registered paste listeners.
func (w *Window) Listeners() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners)
}

// DispatchPaste calls every listener registered at the time of the call, in
// registration order, and returns how many were called.
func (w *Window) DispatchPaste(ctx context.Context, ev PasteEvent) int {
	w.mu.Lock()
	snapshot := make([]PasteListener, 0, len(w.order))
	for _, id := range w.order {
		snapshot = append(snapshot, w.listeners[id])
	}
	w.mu.Unlock()

	for _, fn := range snapshot {
		fn(ctx, ev)
	}
	return len(snapshot)
}
