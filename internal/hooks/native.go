package hooks

import (
	"context"
	"sort"
	"sync"
)

// NativeFunc is an in-process hook. Returned errors are logged and ignored.
type NativeFunc func(ctx context.Context, in Input) (*Output, error)

// NativeHook is a built-in hook that cannot be removed by configuration.
type NativeHook struct {
	Name     string
	Event    Event
	Priority int
	Fn       NativeFunc
}

// NativeRegistry holds native hooks ordered by ascending priority. Hooks
// with equal priority keep registration order.
type NativeRegistry struct {
	mu    sync.RWMutex
	hooks map[Event][]NativeHook
}

// NewNativeRegistry creates an empty registry.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{hooks: make(map[Event][]NativeHook)}
}

// Register adds a native hook.
func (r *NativeRegistry) Register(h NativeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.hooks[h.Event], h)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	r.hooks[h.Event] = list
}

// For returns the hooks for an event in execution order.
func (r *NativeRegistry) For(event Event) []NativeHook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.hooks[event]
	out := make([]NativeHook, len(list))
	copy(out, list)
	return out
}
