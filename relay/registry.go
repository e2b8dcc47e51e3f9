package relay

import (
	"sort"
	"sync"
)

// Listener is one connected remote endpoint.
type Listener interface {
	Send(data []byte) error
	Close() error
	String() string
}

// Registry is the set of connected listeners.
type Registry struct {
	mu        sync.Mutex
	listeners map[Listener]struct{}
}

func NewRegistry() *Registry {
	return &Registry{listeners: make(map[Listener]struct{})}
}

func (r *Registry) Add(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[l] = struct{}{}
}

// Remove reports whether l was a member.
func (r *Registry) Remove(l Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[l]; !ok {
		return false
	}
	delete(r.listeners, l)
	return true
}

// Listeners returns the current members ordered by name.
func (r *Registry) Listeners() []Listener {
	r.mu.Lock()
	out := make([]Listener, 0, len(r.listeners))
	for l := range r.listeners {
		out = append(out, l)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// CloseAll closes and removes every listener.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	listeners := r.listeners
	r.listeners = make(map[Listener]struct{})
	r.mu.Unlock()
	for l := range listeners {
		l.Close()
	}
}
