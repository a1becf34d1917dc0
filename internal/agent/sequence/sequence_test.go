package sequence

import (
	"sync"
	"testing"
	"time"
)

func TestNext_Monotonic(t *testing.T) {
	r := NewRegistry()

	var prev int64
	for i := 0; i < 100; i++ {
		n := r.Next("api", "api-7d9f")
		if n != prev+1 {
			t.Fatalf("expected %d, got %d", prev+1, n)
		}
		prev = n
	}
}

func TestNext_IndependentSources(t *testing.T) {
	r := NewRegistry()

	r.Next("api", "api-1")
	r.Next("api", "api-1")
	if n := r.Next("worker", "worker-1"); n != 1 {
		t.Errorf("new source should start at 1, got %d", n)
	}
	if n := r.Next("api", "api-1"); n != 3 {
		t.Errorf("existing source should continue at 3, got %d", n)
	}
}

// N concurrent callers must receive N unique values with no gaps.
func TestNext_Concurrent(t *testing.T) {
	r := NewRegistry()
	const n = 1000

	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.Next("api", "api-1")
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, n)
	for v := range results {
		if seen[v] {
			t.Fatalf("duplicate sequence number %d", v)
		}
		seen[v] = true
		if v < 1 || v > n {
			t.Fatalf("sequence number %d out of range [1,%d]", v, n)
		}
	}
	if len(seen) != n {
		t.Errorf("expected %d unique values, got %d", n, len(seen))
	}
}

func TestReset(t *testing.T) {
	r := NewRegistry()
	r.Next("api", "api-1")
	r.Next("api", "api-1")
	r.Reset("api", "api-1")
	if n := r.Next("api", "api-1"); n != 1 {
		t.Errorf("expected restart at 1 after reset, got %d", n)
	}
}

func TestCleanupStale(t *testing.T) {
	r := NewRegistry()
	r.Next("api", "api-old")
	time.Sleep(20 * time.Millisecond)
	r.Next("api", "api-fresh")

	removed := r.CleanupStale(10 * time.Millisecond)
	if removed != 1 {
		t.Errorf("expected 1 stale counter removed, got %d", removed)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 remaining counter, got %d", r.Len())
	}
	// The fresh source keeps its sequence.
	if n := r.Next("api", "api-fresh"); n != 2 {
		t.Errorf("fresh counter should continue at 2, got %d", n)
	}
}

func TestFingerprint(t *testing.T) {
	if got := Fingerprint(""); got != "" {
		t.Errorf("empty line must fingerprint to empty string, got %q", got)
	}

	a := Fingerprint("the same line")
	b := Fingerprint("the same line")
	if a != b {
		t.Errorf("fingerprint not deterministic: %q vs %q", a, b)
	}
	if len(a) != FingerprintLength {
		t.Errorf("expected %d hex chars, got %d", FingerprintLength, len(a))
	}
	for _, c := range a {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("fingerprint contains non-lowercase-hex char %q", c)
		}
	}

	if Fingerprint("the same line.") == a {
		t.Error("one-byte change should alter the fingerprint")
	}
}
