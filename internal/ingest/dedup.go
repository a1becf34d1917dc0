package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"
)

const (
	DefaultDedupWindow   = 30 * time.Second
	DefaultSweepInterval = 60 * time.Second
	DefaultPodCacheTTL   = 60 * time.Minute
)

// DedupCache suppresses near-duplicate lines arriving within a short
// window, keyed by pod and line fingerprint.
type DedupCache struct {
	window time.Duration
	clock  clockwork.Clock
	logger *pterm.Logger

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewDedupCache(window time.Duration, clock clockwork.Clock, logger *pterm.Logger) *DedupCache {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupCache{
		window:  window,
		clock:   clock,
		logger:  logger,
		entries: make(map[string]time.Time),
	}
}

// IsDuplicate reports whether the same fingerprint was seen for this pod
// within the window. A hit does not refresh the entry, so a steady stream
// of identical lines still gets one record through per window. Empty
// fingerprints are never duplicates.
func (d *DedupCache) IsDuplicate(pod, fingerprint string) bool {
	if fingerprint == "" {
		return false
	}

	key := pod + ":" + fingerprint
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if lastSeen, ok := d.entries[key]; ok && now.Sub(lastSeen) < d.window {
		return true
	}
	d.entries[key] = now
	return false
}

// Sweep drops entries older than the window and returns how many were
// removed.
func (d *DedupCache) Sweep() int {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, lastSeen := range d.entries {
		if now.Sub(lastSeen) >= d.window {
			delete(d.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (d *DedupCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Run sweeps the cache on a fixed interval until the context is cancelled.
func (d *DedupCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if removed := d.Sweep(); removed > 0 {
				d.logger.Debug("Dedup cache swept", d.logger.Args("removed", removed, "remaining", d.Len()))
			}
		}
	}
}

type podCacheEntry struct {
	exists   bool
	cachedAt time.Time
}

// PodExistenceCache memoizes pod-existence lookups with a long TTL.
// Entries can be invalidated per pod, such as after a purge removed the
// pod's last records.
type PodExistenceCache struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]podCacheEntry
}

func NewPodExistenceCache(ttl time.Duration, clock clockwork.Clock) *PodExistenceCache {
	if ttl <= 0 {
		ttl = DefaultPodCacheTTL
	}
	return &PodExistenceCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]podCacheEntry),
	}
}

// Exists returns the cached answer for pod, calling lookup on a miss or
// expired entry. Lookup errors are returned without caching.
func (c *PodExistenceCache) Exists(pod string, lookup func(string) (bool, error)) (bool, error) {
	now := c.clock.Now()

	c.mu.Lock()
	if e, ok := c.entries[pod]; ok && now.Sub(e.cachedAt) < c.ttl {
		c.mu.Unlock()
		return e.exists, nil
	}
	c.mu.Unlock()

	exists, err := lookup(pod)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.entries[pod] = podCacheEntry{exists: exists, cachedAt: now}
	c.mu.Unlock()
	return exists, nil
}

// Invalidate drops the cached answer for pod.
func (c *PodExistenceCache) Invalidate(pod string) {
	c.mu.Lock()
	delete(c.entries, pod)
	c.mu.Unlock()
}
