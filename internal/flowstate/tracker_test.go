package flowstate

import (
	"testing"
	"time"
)

// fakeClock lets tests advance "now" deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newEndpoint(ns, name string) Endpoint {
	return Endpoint{Namespace: ns, PodName: name}
}

// TestForwardedDrivesUnknownToActive covers the baseline transition: a first
// FORWARDED record on a new flow yields UNKNOWN -> ACTIVE.
func TestForwardedDrivesUnknownToActive(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	tr := NewTracker(2*time.Second, clk, nil)

	src, dst := newEndpoint("ns", "a"), newEndpoint("ns", "b")
	ev, ok := tr.Apply(Record{Source: src, Destination: dst, Verdict: VerdictForwarded, Timestamp: clk.t})
	if !ok {
		t.Fatal("expected a state change event")
	}
	if ev.Old != Unknown || ev.New != Active {
		t.Fatalf("got %v -> %v, want UNKNOWN -> ACTIVE", ev.Old, ev.New)
	}
}

// TestProperty4IdleTimerWindow covers testable property 4: an ACTIVE flow
// with no further FORWARDED records transitions to IDLE within
// [t0+idleTimeout, t0+idleTimeout+1s] of its last FORWARDED record.
func TestProperty4IdleTimerWindow(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	idle := 3 * time.Second
	tr := NewTracker(idle, clk, nil)

	src, dst := newEndpoint("ns", "a"), newEndpoint("ns", "b")
	if _, ok := tr.Apply(Record{Source: src, Destination: dst, Verdict: VerdictForwarded, Timestamp: clk.t}); !ok {
		t.Fatal("expected initial transition")
	}

	// Before idleTimeout elapses, a sweep must not demote the flow.
	clk.advance(idle - time.Second)
	if evs := tr.Sweep(); len(evs) != 0 {
		t.Fatalf("swept early: %+v", evs)
	}

	// Once idleTimeout has elapsed, the next sweep (<=1s later, per the
	// fixed 1s sweep cadence) must demote it to IDLE.
	clk.advance(2 * time.Second)
	evs := tr.Sweep()
	if len(evs) != 1 {
		t.Fatalf("expected exactly 1 sweep event, got %+v", evs)
	}
	if evs[0].New != Idle {
		t.Fatalf("expected IDLE, got %v", evs[0].New)
	}

	// Idempotent: a second sweep with no new records must not re-emit.
	clk.advance(time.Second)
	if evs := tr.Sweep(); len(evs) != 0 {
		t.Fatalf("expected no re-emission on repeated sweep, got %+v", evs)
	}
}

// TestProperty5DroppedOverridesIdle covers testable property 5: a DROPPED
// verdict forces DOWN immediately regardless of how recently the flow was
// active, and bypasses the idle sweep entirely.
func TestProperty5DroppedOverridesIdle(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	tr := NewTracker(10*time.Second, clk, nil)

	src, dst := newEndpoint("ns", "a"), newEndpoint("ns", "b")
	tr.Apply(Record{Source: src, Destination: dst, Verdict: VerdictForwarded, Timestamp: clk.t})

	ev, ok := tr.Apply(Record{Source: src, Destination: dst, Verdict: VerdictDropped, Timestamp: clk.t})
	if !ok {
		t.Fatal("expected a transition on DROPPED")
	}
	if ev.New != Down {
		t.Fatalf("expected DOWN, got %v", ev.New)
	}

	key := Key{Src: src.ID(), Dst: dst.ID()}
	snap, _ := tr.Snapshot(key)
	if snap.State != Down {
		t.Fatalf("expected tracked state DOWN, got %v", snap.State)
	}

	// A DOWN flow is not touched by the idle sweep (only ACTIVE flows are).
	clk.advance(time.Hour)
	if evs := tr.Sweep(); len(evs) != 0 {
		t.Fatalf("sweep should not touch a DOWN flow: %+v", evs)
	}
}

// TestE4Scenario walks FORWARDED -> idle sweep -> FORWARDED again (re-ACTIVE)
// -> DROPPED, matching spec.md §8 E4's end-to-end flow lifecycle.
func TestE4Scenario(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	tr := NewTracker(2*time.Second, clk, nil)
	src, dst := newEndpoint("ns", "a"), newEndpoint("ns", "b")

	ev, _ := tr.Apply(Record{Source: src, Destination: dst, Verdict: VerdictForwarded, Timestamp: clk.t})
	if ev.New != Active {
		t.Fatalf("step1: got %v, want ACTIVE", ev.New)
	}

	clk.advance(3 * time.Second)
	evs := tr.Sweep()
	if len(evs) != 1 || evs[0].New != Idle {
		t.Fatalf("step2: got %+v, want single IDLE", evs)
	}

	clk.advance(time.Second)
	ev, ok := tr.Apply(Record{Source: src, Destination: dst, Verdict: VerdictForwarded, Timestamp: clk.t})
	if !ok || ev.Old != Idle || ev.New != Active {
		t.Fatalf("step3: got %v -> %v ok=%v, want IDLE -> ACTIVE", ev.Old, ev.New, ok)
	}

	ev, ok = tr.Apply(Record{Source: src, Destination: dst, Verdict: VerdictDropped, Timestamp: clk.t})
	if !ok || ev.New != Down {
		t.Fatalf("step4: got %v ok=%v, want DOWN", ev.New, ok)
	}
}

// TestNonForwardedVerdictRefreshesLivenessOnly covers: AUDIT/ERROR/etc
// verdicts update lastSeen but never change state on their own.
func TestNonForwardedVerdictRefreshesLivenessOnly(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	tr := NewTracker(2*time.Second, clk, nil)
	src, dst := newEndpoint("ns", "a"), newEndpoint("ns", "b")

	tr.Apply(Record{Source: src, Destination: dst, Verdict: VerdictForwarded, Timestamp: clk.t})
	clk.advance(time.Second)
	if _, ok := tr.Apply(Record{Source: src, Destination: dst, Verdict: VerdictAudit, Timestamp: clk.t}); ok {
		t.Fatal("AUDIT verdict should not itself emit a state change")
	}

	// lastSeen should have been refreshed: sweeping 1.5s later (2.5s since
	// the FORWARDED record, but only 1.5s since the AUDIT refresh) must not
	// yet demote to IDLE with idleTimeout=2s.
	clk.advance(1500 * time.Millisecond)
	if evs := tr.Sweep(); len(evs) != 0 {
		t.Fatalf("expected no sweep yet, lastSeen was refreshed by AUDIT: %+v", evs)
	}
}
