// Package sequence assigns monotonic per-source sequence numbers and
// content fingerprints to log records.
package sequence

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"
)

// FingerprintLength is the number of hex characters kept from the SHA-256
// digest (8 bytes). The fingerprint is used for near-duplicate suppression,
// not as a security hash.
const FingerprintLength = 16

// Fingerprint returns the lower-case truncated SHA-256 of a line, or the
// empty string for an empty line.
func Fingerprint(line string) string {
	if line == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(line))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}

type counter struct {
	value    atomic.Int64
	lastSeen atomic.Int64 // unix nanos of last Next call
}

// Registry holds per-source sequence counters. It is constructed once per
// process and passed by reference to the tailer; there is no package-level
// state. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*counter
}

// NewRegistry creates an empty sequence registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*counter)}
}

func sourceKey(deployment, pod string) string {
	return deployment + ":" + pod
}

// Next returns the next sequence number for a source, starting at 1 and
// strictly increasing for the lifetime of the registry entry.
func (r *Registry) Next(deployment, pod string) int64 {
	key := sourceKey(deployment, pod)

	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if c, ok = r.counters[key]; !ok {
			c = &counter{}
			r.counters[key] = c
		}
		r.mu.Unlock()
	}

	c.lastSeen.Store(time.Now().UnixNano())
	return c.value.Add(1)
}

// Reset removes the counter for a pod's sources so its sequence starts
// over at 1. Used on explicit pod reset only.
func (r *Registry) Reset(deployment, pod string) {
	r.mu.Lock()
	delete(r.counters, sourceKey(deployment, pod))
	r.mu.Unlock()
}

// CleanupStale removes counters that have not been touched for longer than
// maxAge and returns how many were removed. Bounds memory usage when pod
// names churn.
func (r *Registry) CleanupStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge).UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, c := range r.counters {
		if c.lastSeen.Load() < cutoff {
			delete(r.counters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.counters)
}
