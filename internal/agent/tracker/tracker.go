// Package tracker owns the agent's durable read positions and per-pod
// policies. The registry is constructed once per process and injected into
// the tailer so per-source state never lives in package globals.
package tracker

import (
	"sync"
	"time"

	"logship/internal/database/models"
)

// SourceCursor is the durable bookmark into a deployment's current log
// file. Baseline, when set, is the last timestamp already stored server
// side; lines at or before it are skipped after a restart until the tailer
// catches up, at which point the baseline is cleared.
type SourceCursor struct {
	FilePath       string
	LastReadOffset int64
	Baseline       *time.Time
	LastSeenAt     time.Time
}

// PodPolicy controls per-pod filtering. Created lazily with defaults and
// never removed during a run.
type PodPolicy struct {
	MinimumLogLevel models.LogLevel
	Ignore          bool
}

type cursorEntry struct {
	mu     sync.Mutex
	cursor SourceCursor
}

// Registry holds cursors keyed by deployment and policies keyed by pod.
// Cursor access is serialized per deployment so concurrent file events for
// the same source never interleave destructively.
type Registry struct {
	defaultLevel models.LogLevel

	mu       sync.Mutex
	cursors  map[string]*cursorEntry
	policies map[string]*PodPolicy
	dirty    bool
}

// NewRegistry creates a registry whose lazily-created pod policies use
// defaultLevel as their minimum log level.
func NewRegistry(defaultLevel models.LogLevel) *Registry {
	return &Registry{
		defaultLevel: defaultLevel,
		cursors:      make(map[string]*cursorEntry),
		policies:     make(map[string]*PodPolicy),
	}
}

// WithCursor runs fn with exclusive access to the deployment's cursor,
// creating it on first sighting. Mutations made by fn are kept and mark
// the registry dirty.
func (r *Registry) WithCursor(deployment string, fn func(c *SourceCursor)) {
	r.mu.Lock()
	e, ok := r.cursors[deployment]
	if !ok {
		e = &cursorEntry{}
		r.cursors[deployment] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.cursor
	fn(&e.cursor)
	if before != e.cursor {
		e.cursor.LastSeenAt = time.Now()
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
	}
}

// Cursor returns a copy of the deployment's cursor and whether it exists.
func (r *Registry) Cursor(deployment string) (SourceCursor, bool) {
	r.mu.Lock()
	e, ok := r.cursors[deployment]
	r.mu.Unlock()
	if !ok {
		return SourceCursor{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor, true
}

// PolicyFor returns the pod's policy, creating the default (global minimum
// level, not ignored) on first sighting.
func (r *Registry) PolicyFor(pod string) PodPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.policies[pod]
	if !ok {
		p = &PodPolicy{MinimumLogLevel: r.defaultLevel}
		r.policies[pod] = p
	}
	return *p
}

// SetPolicy replaces a pod's policy.
func (r *Registry) SetPolicy(pod string, policy PodPolicy) {
	r.mu.Lock()
	r.policies[pod] = &policy
	r.mu.Unlock()
}

// SeedBaselines installs last-stored timestamps fetched from the server so
// already-ingested lines are skipped after an agent restart. Only cursors
// without a baseline are touched.
func (r *Registry) SeedBaselines(times map[string]time.Time) {
	for deployment, ts := range times {
		t := ts
		r.WithCursor(deployment, func(c *SourceCursor) {
			if c.Baseline == nil {
				c.Baseline = &t
			}
		})
	}
}

// Snapshot returns a copy of every cursor keyed by deployment.
func (r *Registry) Snapshot() map[string]SourceCursor {
	r.mu.Lock()
	entries := make(map[string]*cursorEntry, len(r.cursors))
	for k, v := range r.cursors {
		entries[k] = v
	}
	r.mu.Unlock()

	out := make(map[string]SourceCursor, len(entries))
	for k, e := range entries {
		e.mu.Lock()
		out[k] = e.cursor
		e.mu.Unlock()
	}
	return out
}

// Restore installs cursors loaded from persisted agent state. Intended for
// startup, before any tailing begins.
func (r *Registry) Restore(cursors map[string]SourceCursor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for deployment, c := range cursors {
		r.cursors[deployment] = &cursorEntry{cursor: c}
	}
}

// Dirty reports whether any cursor changed since the last ClearDirty.
func (r *Registry) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// ClearDirty resets the dirty flag after a successful state save.
func (r *Registry) ClearDirty() {
	r.mu.Lock()
	r.dirty = false
	r.mu.Unlock()
}
