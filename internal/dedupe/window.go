// ABOUTME: Bounded window of recently delivered event IDs for one push channel.
// ABOUTME: Lets push and poll paths share a channel without delivering the same event twice.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// windowEntry stores when a key was marked and its position in the eviction list.
type windowEntry struct {
	markedAt time.Time
	element  *list.Element
}

// Window tracks keys seen within a TTL, capped at maxSize entries.
// Expired entries are pruned from the oldest end whenever a key is marked,
// so a Window owns no goroutine and needs no Close.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*windowEntry
	order   *list.List // keys in mark order, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a window that remembers keys for ttl, holding at most maxSize of them.
// A non-positive maxSize defaults to 1024.
func New(ttl time.Duration, maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Window{
		seen:    make(map[string]*windowEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen reports whether key was marked within the TTL.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.seen[key]
	return ok && w.now().Sub(entry.markedAt) < w.ttl
}

// CheckAndMark atomically checks whether key was already seen and marks it if not.
// Returns true for a duplicate, false if the key is new and now marked.
func (w *Window) CheckAndMark(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if entry, ok := w.seen[key]; ok && now.Sub(entry.markedAt) < w.ttl {
		return true
	}

	w.markLocked(key, now)
	return false
}

// Forget removes key so a later CheckAndMark treats it as new. Callers that
// mark before an operation completes use it to undo the mark on failure.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.seen[key]; ok {
		w.order.Remove(entry.element)
		delete(w.seen, key)
	}
}

// Len returns the number of keys currently held, including any not yet pruned.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// markLocked must be called with mu held.
func (w *Window) markLocked(key string, now time.Time) {
	w.pruneLocked(now)

	if entry, exists := w.seen[key]; exists {
		entry.markedAt = now
		w.order.MoveToBack(entry.element)
		return
	}

	if len(w.seen) >= w.maxSize {
		w.evictOldest()
	}

	elem := w.order.PushBack(key)
	w.seen[key] = &windowEntry{markedAt: now, element: elem}
}

// pruneLocked drops expired entries from the front. Marks are appended in time
// order, so the first unexpired entry ends the scan.
func (w *Window) pruneLocked(now time.Time) {
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		key, _ := front.Value.(string)
		entry := w.seen[key]
		if entry == nil || now.Sub(entry.markedAt) < w.ttl {
			return
		}
		w.order.Remove(front)
		delete(w.seen, key)
	}
}

// evictOldest must be called with mu held.
func (w *Window) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.seen, key)
}
