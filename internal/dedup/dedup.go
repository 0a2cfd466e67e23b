package dedup

import "sync"

const DefaultCapacity = 1000

// Window is a bounded set of recently seen message ids.
// When it grows past capacity only the most recently inserted half is kept.
type Window struct {
	capacity int
	order    []string
	ids      map[string]struct{}

	mu sync.Mutex
}

func New(capacity int) *Window {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
	}
}

func (w *Window) Seen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.ids[id]
	return ok
}

func (w *Window) Mark(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.ids[id]; ok {
		return
	}
	w.ids[id] = struct{}{}
	w.order = append(w.order, id)

	if len(w.order) <= w.capacity {
		return
	}

	keep := w.capacity / 2
	evicted := w.order[:len(w.order)-keep]
	for _, old := range evicted {
		delete(w.ids, old)
	}
	w.order = append([]string(nil), w.order[len(w.order)-keep:]...)
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}

func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.order = nil
	w.ids = make(map[string]struct{}, w.capacity)
}
