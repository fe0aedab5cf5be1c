package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	platformerrors "photosort-server-go/internal/platform/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errUpstream = errors.New("upstream failure")

func failingCall(ctx context.Context) error { return errUpstream }
func okCall(ctx context.Context) error      { return nil }

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cb := New(5, 30*time.Second)
	cb.setClock(clock.Now)

	for i := 0; i < 5; i++ {
		if err := cb.Execute(ctx, failingCall); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected open state after threshold, got %v", cb.State())
	}

	// The next call must fail fast without touching the dependency.
	attempted := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		attempted = true
		return nil
	})
	if err == nil {
		t.Fatal("expected circuit-open rejection")
	}
	if !platformerrors.IsKind(err, platformerrors.KindBreaker) {
		t.Errorf("expected breaker kind, got %v", err)
	}
	if attempted {
		t.Error("open breaker must not invoke the dependency")
	}
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cb := New(2, 30*time.Second)
	cb.setClock(clock.Now)

	cb.Execute(ctx, failingCall)
	cb.Execute(ctx, failingCall)
	if cb.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	clock.Advance(31 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("breaker should be half-open after cooldown, got %v", cb.State())
	}

	if err := cb.Execute(ctx, okCall); err != nil {
		t.Fatalf("probe should be admitted, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("successful probe should close the breaker, got %v", cb.State())
	}
	if cb.ConsecutiveFailures() != 0 {
		t.Errorf("failure count should reset, got %d", cb.ConsecutiveFailures())
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cb := New(2, 30*time.Second)
	cb.setClock(clock.Now)

	cb.Execute(ctx, failingCall)
	cb.Execute(ctx, failingCall)

	clock.Advance(31 * time.Second)
	if err := cb.Execute(ctx, failingCall); !errors.Is(err, errUpstream) {
		t.Fatalf("probe should run the dependency, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("failed probe should reopen the breaker, got %v", cb.State())
	}

	// Cooldown restarts from the probe failure.
	clock.Advance(29 * time.Second)
	err := cb.Execute(ctx, okCall)
	if err == nil || !platformerrors.IsKind(err, platformerrors.KindBreaker) {
		t.Fatalf("expected fail-fast during restarted cooldown, got %v", err)
	}

	clock.Advance(2 * time.Second)
	if err := cb.Execute(ctx, okCall); err != nil {
		t.Fatalf("second probe should be admitted, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("breaker should be closed, got %v", cb.State())
	}
}

func TestBreaker_SingleProbeAdmitted(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cb := New(1, time.Second)
	cb.setClock(clock.Now)

	cb.Execute(ctx, failingCall)
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	go func() {
		cb.Execute(ctx, func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// While the probe is in flight every other caller is rejected.
	err := cb.Execute(ctx, okCall)
	if err == nil || !platformerrors.IsKind(err, platformerrors.KindBreaker) {
		t.Fatalf("expected rejection while probe in flight, got %v", err)
	}
	close(release)
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	ctx := context.Background()
	cb := New(3, time.Second)

	cb.Execute(ctx, failingCall)
	cb.Execute(ctx, failingCall)
	cb.Execute(ctx, okCall)
	cb.Execute(ctx, failingCall)
	cb.Execute(ctx, failingCall)

	if cb.State() != StateClosed {
		t.Fatal("non-consecutive failures must not trip the breaker")
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cb := New(1, time.Second)
	cb.setClock(clock.Now)

	transitions := make(chan State, 8)
	cb.OnStateChange(func(from, to State) {
		transitions <- to
	})

	cb.Execute(ctx, failingCall)
	if got := waitForState(t, transitions); got != StateOpen {
		t.Fatalf("expected transition to open, got %v", got)
	}

	clock.Advance(2 * time.Second)
	cb.Execute(ctx, okCall)
	if got := waitForState(t, transitions); got != StateHalfOpen {
		t.Fatalf("expected transition to half-open, got %v", got)
	}
	if got := waitForState(t, transitions); got != StateClosed {
		t.Fatalf("expected transition to closed, got %v", got)
	}
}

func waitForState(t *testing.T, ch <-chan State) State {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state transition")
		return StateClosed
	}
}
