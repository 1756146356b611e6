package pubsub

import "sync"

// Hub is a list of subscribers of type T. Notification iterates over a copy of the list, so a
// subscriber may unsubscribe itself (or others) from inside its own callback.
type Hub[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []entry[T]
}

type entry[T any] struct {
	id  uint64
	sub T
}

// Subscribe adds sub and returns a function that removes it. Calling the returned function
// more than once is harmless.
func (h *Hub[T]) Subscribe(sub T) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, entry[T]{id: id, sub: sub})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.subs {
		if e.id == id {
			// copy instead of in-place delete: a snapshot taken by Each may share the array
			next := make([]entry[T], 0, len(h.subs)-1)
			next = append(next, h.subs[:i]...)
			h.subs = append(next, h.subs[i+1:]...)
			return
		}
	}
}

// Each calls fn for every subscriber registered at the time of the call.
func (h *Hub[T]) Each(fn func(T)) {
	h.mu.Lock()
	snapshot := make([]T, len(h.subs))
	for i, e := range h.subs {
		snapshot[i] = e.sub
	}
	h.mu.Unlock()

	for _, sub := range snapshot {
		fn(sub)
	}
}

// Len returns the number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
