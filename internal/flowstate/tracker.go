package flowstate

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Clock is injectable so tests can control "now" deterministically (fake
// clock pattern grounded on the teacher's ticker/backoff style tests).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Tracker is the stateful half of C4: per-flow-key state plus the 1s idle
// sweep described in spec.md §4.4.
type Tracker struct {
	idleTimeout time.Duration
	clock       Clock
	log         *logrus.Entry

	mu    sync.Mutex
	flows map[Key]*Tracked
}

func NewTracker(idleTimeout time.Duration, clock Clock, log *logrus.Entry) *Tracker {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Second
	}
	if clock == nil {
		clock = realClock{}
	}
	if log == nil {
		log = logrus.WithField("component", "flow-tracker")
	}
	return &Tracker{idleTimeout: idleTimeout, clock: clock, log: log, flows: make(map[Key]*Tracked)}
}

// Apply folds one flow record into tracker state per the rules in
// spec.md §4.4, returning an event if the record changed the flow's state.
func (t *Tracker) Apply(r Record) (LinkStateChange, bool) {
	key := Key{Src: r.Source.ID(), Dst: r.Destination.ID()}
	now := r.Timestamp
	if now.IsZero() {
		now = t.clock.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.flows[key]
	if !ok {
		tr = &Tracked{Key: key, State: Unknown, Src: r.Source, Dst: r.Destination}
		t.flows[key] = tr
	}
	tr.Src, tr.Dst = r.Source, r.Destination

	old := tr.State
	switch r.Verdict {
	case VerdictForwarded:
		tr.LastSeen = now
		tr.State = Active
	case VerdictDropped:
		tr.State = Down
	default:
		tr.LastSeen = now
		// state unchanged: other verdicts refresh liveness only (spec.md §9)
	}

	if tr.State == old {
		return LinkStateChange{}, false
	}
	return LinkStateChange{Key: key, Src: tr.Src, Dst: tr.Dst, Old: old, New: tr.State, At: now}, true
}

// Sweep inspects all flows and demotes ACTIVE flows idle past idleTimeout to
// IDLE. Returns the events produced. Matches spec.md §4.4/§8 property 4.
func (t *Tracker) Sweep() []LinkStateChange {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []LinkStateChange
	for _, tr := range t.flows {
		if tr.State == Active && now.Sub(tr.LastSeen) > t.idleTimeout {
			old := tr.State
			tr.State = Idle
			out = append(out, LinkStateChange{Key: tr.Key, Src: tr.Src, Dst: tr.Dst, Old: old, New: tr.State, At: now})
		}
	}
	return out
}

// Snapshot returns a copy of one flow's tracked state, for tests/inspection.
func (t *Tracker) Snapshot(key Key) (Tracked, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.flows[key]
	if !ok {
		return Tracked{}, false
	}
	return *tr, true
}

// RunSweeper runs the idle-timer sweep on a fixed 1s cadence until ctx is
// cancelled, regardless of the configured idle timeout (spec.md §5).
func (t *Tracker) RunSweeper(ctx context.Context, out chan<- LinkStateChange) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ev := range t.Sweep() {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
