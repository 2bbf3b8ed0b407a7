package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks the cancel function of every in-flight
// background execution task, keyed by pipeline.
type Registry struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[uuid.UUID]context.CancelFunc)}
}

// Add records the cancel function for a pipeline's task. It
// reports false, registering nothing, when the pipeline already
// has one: a pipeline never runs two tasks at once.
func (r *Registry) Add(id uuid.UUID, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; ok {
		return false
	}
	r.tasks[id] = cancel
	return true
}

// Remove forgets a pipeline's task without cancelling it.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// Cancel cancels and removes a pipeline's task. It reports
// whether a task was actually registered.
func (r *Registry) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancel, ok := r.tasks[id]
	if ok {
		cancel()
		delete(r.tasks, id)
	}
	return ok
}

// Running returns the pipelines with a registered task.
func (r *Registry) Running() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every registered task.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, cancel := range r.tasks {
		cancel()
		delete(r.tasks, id)
	}
}
