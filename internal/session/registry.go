package session

import (
	"sync"
	"time"
)

// historyCapacity bounds the shared rolling count history (FIFO).
const historyCapacity = 100

// CountSample is one observed person count with its timestamp.
type CountSample struct {
	Count     int    `json:"count"`
	Timestamp string `json:"timestamp"`
}

// Registry tracks live connections and the shared rolling count history.
// It is shared by every connection goroutine: one mutex guards both,
// since a new count usually feeds the history in the same step.
type Registry struct {
	mu           sync.Mutex
	conns        map[int64]struct{}
	nextID       int64
	currentCount int
	history      []CountSample
}

// NewRegistry creates an empty registry. It is dependency-injected into
// each connection's session; there is no package-level instance.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]struct{})}
}

// Register adds a connection and returns its handle.
func (r *Registry) Register() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.conns[id] = struct{}{}
	return id
}

// Unregister removes a connection. Safe to call for unknown handles.
func (r *Registry) Unregister(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Connections returns the number of open connections.
func (r *Registry) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// RecordCount appends a count observation to the shared history,
// evicting the oldest entry once capacity is exceeded.
func (r *Registry) RecordCount(count int, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentCount = count
	r.history = append(r.history, CountSample{Count: count, Timestamp: ts.Format(time.RFC3339)})
	if len(r.history) > historyCapacity {
		r.history = r.history[len(r.history)-historyCapacity:]
	}
}

// CurrentCount returns the most recent observed count.
func (r *Registry) CurrentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentCount
}

// Recent returns a copy of the newest n history entries in insertion
// order. Readers always observe a consistent snapshot.
func (r *Registry) Recent(n int) []CountSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.history) {
		n = len(r.history)
	}
	out := make([]CountSample, n)
	copy(out, r.history[len(r.history)-n:])
	return out
}
