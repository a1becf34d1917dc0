package tracker

import (
	"sync"
	"testing"
	"time"

	"logship/internal/database/models"
)

func TestWithCursor_CreatesOnFirstSighting(t *testing.T) {
	r := NewRegistry(models.LevelAny)

	r.WithCursor("api", func(c *SourceCursor) {
		if c.FilePath != "" || c.LastReadOffset != 0 {
			t.Errorf("new cursor should be zero-valued, got %+v", c)
		}
		c.FilePath = "/logs/api/api-1/app.log"
		c.LastReadOffset = 42
	})

	got, ok := r.Cursor("api")
	if !ok {
		t.Fatal("cursor should exist after first WithCursor")
	}
	if got.FilePath != "/logs/api/api-1/app.log" || got.LastReadOffset != 42 {
		t.Errorf("cursor mutation lost: %+v", got)
	}
}

func TestDirtyFlag(t *testing.T) {
	r := NewRegistry(models.LevelAny)
	if r.Dirty() {
		t.Error("fresh registry should not be dirty")
	}

	r.WithCursor("api", func(c *SourceCursor) { c.LastReadOffset = 10 })
	if !r.Dirty() {
		t.Error("cursor mutation should mark registry dirty")
	}

	r.ClearDirty()
	if r.Dirty() {
		t.Error("ClearDirty should reset the flag")
	}

	// A no-op access does not re-dirty.
	r.WithCursor("api", func(c *SourceCursor) {})
	if r.Dirty() {
		t.Error("read-only cursor access should not mark dirty")
	}
}

func TestPolicyFor_LazyDefault(t *testing.T) {
	r := NewRegistry(models.LevelInformation)

	p := r.PolicyFor("api-1")
	if p.MinimumLogLevel != models.LevelInformation || p.Ignore {
		t.Errorf("unexpected default policy: %+v", p)
	}

	r.SetPolicy("api-1", PodPolicy{MinimumLogLevel: models.LevelError, Ignore: true})
	p = r.PolicyFor("api-1")
	if p.MinimumLogLevel != models.LevelError || !p.Ignore {
		t.Errorf("policy update lost: %+v", p)
	}
}

func TestSeedBaselines(t *testing.T) {
	r := NewRegistry(models.LevelAny)
	ts := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	r.SeedBaselines(map[string]time.Time{"api": ts})

	c, ok := r.Cursor("api")
	if !ok || c.Baseline == nil || !c.Baseline.Equal(ts) {
		t.Fatalf("baseline not seeded: %+v", c)
	}

	// Existing baseline is not overwritten.
	later := ts.Add(time.Hour)
	r.SeedBaselines(map[string]time.Time{"api": later})
	c, _ = r.Cursor("api")
	if !c.Baseline.Equal(ts) {
		t.Errorf("baseline should not be overwritten, got %v", c.Baseline)
	}
}

func TestSnapshotRestore(t *testing.T) {
	r := NewRegistry(models.LevelAny)
	r.WithCursor("api", func(c *SourceCursor) {
		c.FilePath = "/logs/api/api-1/app.log"
		c.LastReadOffset = 99
	})

	snap := r.Snapshot()

	r2 := NewRegistry(models.LevelAny)
	r2.Restore(snap)
	c, ok := r2.Cursor("api")
	if !ok || c.LastReadOffset != 99 {
		t.Errorf("restore lost cursor state: %+v", c)
	}
}

func TestWithCursor_ConcurrentSameKey(t *testing.T) {
	r := NewRegistry(models.LevelAny)
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.WithCursor("api", func(c *SourceCursor) {
				c.LastReadOffset++
			})
		}()
	}
	wg.Wait()

	c, _ := r.Cursor("api")
	if c.LastReadOffset != n {
		t.Errorf("expected offset %d after %d serialized increments, got %d", n, n, c.LastReadOffset)
	}
}
