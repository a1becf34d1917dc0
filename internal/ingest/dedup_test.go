package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"
)

func TestDedupWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDedupCache(30*time.Second, clock, pterm.DefaultLogger.WithLevel(pterm.LogLevelError))

	if d.IsDuplicate("web-abc", "deadbeefdeadbeef") {
		t.Fatal("first sighting reported duplicate")
	}
	if !d.IsDuplicate("web-abc", "deadbeefdeadbeef") {
		t.Fatal("second sighting within window not reported duplicate")
	}

	// Different pod or fingerprint is an independent key.
	if d.IsDuplicate("web-xyz", "deadbeefdeadbeef") {
		t.Error("same fingerprint on another pod reported duplicate")
	}
	if d.IsDuplicate("web-abc", "cafebabecafebabe") {
		t.Error("different fingerprint reported duplicate")
	}
}

func TestDedupHitDoesNotExtendWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDedupCache(30*time.Second, clock, pterm.DefaultLogger.WithLevel(pterm.LogLevelError))

	d.IsDuplicate("web-abc", "deadbeefdeadbeef")

	clock.Advance(20 * time.Second)
	if !d.IsDuplicate("web-abc", "deadbeefdeadbeef") {
		t.Fatal("sighting at +20s not reported duplicate")
	}

	// A duplicate hit must not refresh lastSeen, so at +31s from the
	// original entry the window has lapsed even though a hit happened
	// at +20s.
	clock.Advance(11 * time.Second)
	if d.IsDuplicate("web-abc", "deadbeefdeadbeef") {
		t.Fatal("sighting after the original window reported duplicate")
	}
}

func TestDedupEmptyFingerprintNeverDuplicate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDedupCache(30*time.Second, clock, pterm.DefaultLogger.WithLevel(pterm.LogLevelError))

	for i := 0; i < 3; i++ {
		if d.IsDuplicate("web-abc", "") {
			t.Fatal("empty fingerprint reported duplicate")
		}
	}
	if d.Len() != 0 {
		t.Errorf("empty fingerprints created %d cache entries", d.Len())
	}
}

func TestDedupSweepRemovesExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDedupCache(30*time.Second, clock, pterm.DefaultLogger.WithLevel(pterm.LogLevelError))

	d.IsDuplicate("web-abc", "aaaaaaaaaaaaaaaa")
	clock.Advance(20 * time.Second)
	d.IsDuplicate("web-abc", "bbbbbbbbbbbbbbbb")

	clock.Advance(15 * time.Second)
	if removed := d.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d entries, want 1", removed)
	}
	if d.Len() != 1 {
		t.Errorf("entries after sweep = %d, want 1", d.Len())
	}
}

func TestPodExistenceCache(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewPodExistenceCache(time.Hour, clock)

	calls := 0
	lookup := func(pod string) (bool, error) {
		calls++
		return pod == "web-abc", nil
	}

	for i := 0; i < 3; i++ {
		exists, err := c.Exists("web-abc", lookup)
		if err != nil || !exists {
			t.Fatalf("Exists = %v, %v", exists, err)
		}
	}
	if calls != 1 {
		t.Errorf("lookup called %d times, want 1 (cached)", calls)
	}

	clock.Advance(time.Hour)
	c.Exists("web-abc", lookup)
	if calls != 2 {
		t.Errorf("lookup called %d times after TTL expiry, want 2", calls)
	}

	c.Invalidate("web-abc")
	c.Exists("web-abc", lookup)
	if calls != 3 {
		t.Errorf("lookup called %d times after invalidation, want 3", calls)
	}
}

func TestPodExistenceCacheLookupErrorNotCached(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewPodExistenceCache(time.Hour, clock)

	calls := 0
	failing := func(string) (bool, error) {
		calls++
		return false, errors.New("storage unavailable")
	}
	if _, err := c.Exists("web-abc", failing); err == nil {
		t.Fatal("error from lookup not surfaced")
	}
	if _, err := c.Exists("web-abc", failing); err == nil {
		t.Fatal("error from lookup not surfaced on retry")
	}
	if calls != 2 {
		t.Errorf("lookup called %d times, want 2 (errors not cached)", calls)
	}
}
