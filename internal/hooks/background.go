package hooks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRegistryClosed is returned by Start after Shutdown.
var ErrRegistryClosed = errors.New("background registry is shut down")

// Handle identifies a background task.
type Handle string

// BackgroundRegistry tracks fire-and-forget hook runs. Every task is killed
// at its timeout, and Shutdown cancels whatever is left.
type BackgroundRegistry struct {
	mu     sync.Mutex
	tasks  map[Handle]*backgroundTask
	wg     sync.WaitGroup
	closed bool
}

type backgroundTask struct {
	label   string
	started time.Time
	cancel  context.CancelFunc
}

// TaskInfo describes a running background task.
type TaskInfo struct {
	Handle  Handle
	Label   string
	Started time.Time
}

// NewBackgroundRegistry creates an empty registry.
func NewBackgroundRegistry() *BackgroundRegistry {
	return &BackgroundRegistry{tasks: make(map[Handle]*backgroundTask)}
}

// Start runs fn in its own goroutine. The task context is detached from
// parent cancellation but keeps its values, and expires after timeout.
func (r *BackgroundRegistry) Start(parent context.Context, label string, timeout time.Duration, fn func(ctx context.Context)) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrRegistryClosed
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
	h := Handle(uuid.NewString())
	r.tasks[h] = &backgroundTask{label: label, started: time.Now(), cancel: cancel}
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.remove(h)
		defer cancel()
		fn(ctx)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Warn("Background hook timed out", "handle", h, "hook", label, "timeout", timeout)
		}
	}()
	return h, nil
}

func (r *BackgroundRegistry) remove(h Handle) {
	r.mu.Lock()
	delete(r.tasks, h)
	r.mu.Unlock()
}

// Cancel stops one task. It reports false for unknown or finished handles.
func (r *BackgroundRegistry) Cancel(h Handle) bool {
	r.mu.Lock()
	t, ok := r.tasks[h]
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	return true
}

// List returns the running tasks.
func (r *BackgroundRegistry) List() []TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TaskInfo, 0, len(r.tasks))
	for h, t := range r.tasks {
		out = append(out, TaskInfo{Handle: h, Label: t.label, Started: t.started})
	}
	return out
}

// Len returns the number of running tasks.
func (r *BackgroundRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Shutdown refuses new tasks, cancels running ones and waits for them to
// exit or for ctx to end.
func (r *BackgroundRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, t := range r.tasks {
		t.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
