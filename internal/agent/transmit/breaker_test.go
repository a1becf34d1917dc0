package transmit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"
)

func newTestBreaker(threshold int, cooldown time.Duration, clock clockwork.Clock) *CircuitBreaker {
	return NewCircuitBreaker(threshold, cooldown, clock, pterm.DefaultLogger.WithLevel(pterm.LogLevelError))
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(3, 10*time.Second, clock)

	cb.RecordFailure()
	cb.RecordFailure()
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", got)
	}
	if !cb.Allow() {
		t.Fatal("Allow() = false while closed")
	}

	cb.RecordFailure()
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", got)
	}
	if cb.Allow() {
		t.Fatal("Allow() = true while open")
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(3, 10*time.Second, clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	clock.Advance(9 * time.Second)
	if cb.Allow() {
		t.Fatal("Allow() = true before cooldown elapsed")
	}

	clock.Advance(time.Second)
	if !cb.Allow() {
		t.Fatal("Allow() = false after cooldown elapsed")
	}
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", got)
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(3, 10*time.Second, clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(10 * time.Second)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", got)
	}

	cb.RecordSuccess()
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after probe success = %v, want closed", got)
	}
	if got := cb.ConsecutiveFailures(); got != 0 {
		t.Fatalf("failure counter after success = %d, want 0", got)
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(3, 10*time.Second, clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(10 * time.Second)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", got)
	}

	cb.RecordFailure()
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state after probe failure = %v, want open", got)
	}

	// The reopen stamps a fresh openedAt, so the full cooldown applies again.
	clock.Advance(9 * time.Second)
	if cb.Allow() {
		t.Fatal("Allow() = true before second cooldown elapsed")
	}
	clock.Advance(time.Second)
	if !cb.Allow() {
		t.Fatal("Allow() = false after second cooldown elapsed")
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(3, 10*time.Second, clock)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after streak reset", got)
	}
}
