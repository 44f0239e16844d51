package ifacestate

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type ifaceFusionState struct {
	operState OperState
	traffic   TrafficState
	fused     FusedState
	iface     string
	ifIndex   int
	mac       string
	mtu       int
	speedMbps int
	lastSamp  Counters
	rates     Rates
	util      float64
}

// Fusion is C3: combines the latest C1 operstate and C2 traffic state per
// interface into the 3-state machine, emitting exactly once per change.
type Fusion struct {
	mu     sync.Mutex
	ifaces map[string]*ifaceFusionState
	log    *logrus.Entry
}

func NewFusion(log *logrus.Entry) *Fusion {
	if log == nil {
		log = logrus.WithField("component", "fusion")
	}
	return &Fusion{ifaces: make(map[string]*ifaceFusionState), log: log}
}

func (f *Fusion) get(iface string) *ifaceFusionState {
	st, ok := f.ifaces[iface]
	if !ok {
		st = &ifaceFusionState{iface: iface, operState: OperUnknown, traffic: TrafficUnknown, fused: Unknown, speedMbps: -1}
		f.ifaces[iface] = st
	}
	return st
}

func (st *ifaceFusionState) snapshot() Snapshot {
	return Snapshot{
		Iface:       st.iface,
		IfIndex:     st.ifIndex,
		MAC:         st.mac,
		MTU:         st.mtu,
		SpeedMbps:   st.speedMbps,
		OperState:   st.operState,
		Traffic:     st.traffic,
		Fused:       st.fused,
		LastSample:  st.lastSamp,
		Rates:       st.rates,
		Utilization: st.util,
	}
}

// ApplyLink folds a C1 LinkEvent into the fused FSM, recomputing the fused
// state and returning an event if it changed.
func (f *Fusion) ApplyLink(ev LinkEvent) (StateChangeEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.get(ev.Iface)
	st.ifIndex = ev.IfIndex
	st.operState = ev.OperState

	newFused := fuse(st.operState, st.traffic)
	if newFused == st.fused {
		return StateChangeEvent{}, false
	}
	old := st.fused
	st.fused = newFused
	return StateChangeEvent{
		Iface:    ev.Iface,
		Old:      old,
		New:      newFused,
		Source:   SourceLink,
		Snapshot: st.snapshot(),
		At:       ev.OccurredAt,
	}, true
}

// ApplyTraffic folds a C2 TrafficStateChange into the fused FSM.
func (f *Fusion) ApplyTraffic(ev TrafficStateChange) (StateChangeEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.get(ev.Iface)
	st.traffic = ev.New
	st.lastSamp = ev.Metrics
	st.rates = ev.Rates
	st.util = ev.Util

	newFused := fuse(st.operState, st.traffic)
	if newFused == st.fused {
		return StateChangeEvent{}, false
	}
	old := st.fused
	st.fused = newFused
	return StateChangeEvent{
		Iface:    ev.Iface,
		Old:      old,
		New:      newFused,
		Source:   SourceTraffic,
		Snapshot: st.snapshot(),
		At:       ev.SampleAt,
	}, true
}

// Snapshot returns the current fused view of a single interface.
func (f *Fusion) Snapshot(iface string) (Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.ifaces[iface]
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(), true
}

// Run serializes link and traffic inputs into the fusion state machine and
// forwards emitted transitions to out. This is the single point that
// guarantees no externally-observable locking race between C1 and C2
// (spec.md §4.3 "Ordering").
func (f *Fusion) Run(ctx context.Context, links <-chan LinkEvent, traffic <-chan TrafficStateChange, out chan<- StateChangeEvent) {
	emit := func(ev StateChangeEvent, ok bool) {
		if !ok {
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		default:
			f.log.WithField("iface", ev.Iface).Warn("fusion output channel full, dropping event")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-links:
			if !ok {
				links = nil
				continue
			}
			emit(f.ApplyLink(ev))
		case ev, ok := <-traffic:
			if !ok {
				traffic = nil
				continue
			}
			emit(f.ApplyTraffic(ev))
		}
	}
}
