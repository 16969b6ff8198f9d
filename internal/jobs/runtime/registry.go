package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// Handler runs one job type. A returned error fails the attempt and leaves retry
// to the worker.
type Handler interface {
	Type() string
	Run(ctx *Context) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds handlers in order and stops at the first one that is nil, has no
// type, or reuses a registered type.
func (r *Registry) Register(handlers ...Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handlers {
		if h == nil {
			return fmt.Errorf("nil handler")
		}
		t := h.Type()
		if t == "" {
			return fmt.Errorf("handler %T has an empty Type()", h)
		}
		if _, exists := r.handlers[t]; exists {
			return fmt.Errorf("handler already registered for job_type=%s", t)
		}
		r.handlers[t] = h
	}
	return nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
