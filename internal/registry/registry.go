// Package registry tracks which jobs currently have an armed recurring
// trigger. It is the single source of truth for "what is armed" and holds
// no durable state: the engine rebuilds it from the job store on startup.
package registry

import "sync"

// Handle is a live trigger that can be cancelled. Cancelling must be
// idempotent; a firing already in flight is not aborted, only future
// firings are suppressed.
type Handle interface {
	Stop()
}

// HandleFunc adapts a plain function to Handle.
type HandleFunc func()

func (f HandleFunc) Stop() { f() }

// Registry maps job id -> armed trigger handle.
//
// Mutations are expected from a single logical writer (the engine); the
// mutex exists so cron callbacks may evict their own entries safely.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Handle
}

func New() *Registry {
	return &Registry{entries: map[string]Handle{}}
}

// Register arms a handle under the given id. If an entry already exists
// its old handle is stopped first, so re-scheduling a job never leaves
// two live triggers firing for the same id.
func (r *Registry) Register(id string, h Handle) {
	if id == "" || h == nil {
		return
	}
	r.mu.Lock()
	old := r.entries[id]
	r.entries[id] = h
	r.mu.Unlock()

	if old != nil {
		old.Stop()
	}
}

// Cancel stops the handle for id (if present) and removes the entry.
// Cancelling an absent id is a no-op, so it is safe to call after a
// one-shot handle has already fired and self-removed.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	h, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if h != nil {
		h.Stop()
	}
	return ok
}

// Remove drops the entry without stopping its handle. Used by triggers
// that stop themselves after their final firing.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Size reports the count of armed entries. Observability only.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns the armed job ids, for status endpoints and tests.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}
