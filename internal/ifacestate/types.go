// Package ifacestate fuses kernel link-state and traffic-counter signals
// into a single per-interface state machine (C1, C2, C3).
package ifacestate

import "time"

// OperState mirrors the kernel's IF_OPER_* state for an interface.
type OperState string

const (
	OperUp      OperState = "up"
	OperDown    OperState = "down"
	OperUnknown OperState = "unknown"
)

// TrafficState is the traffic-activity dimension derived by C2.
type TrafficState string

const (
	TrafficActive  TrafficState = "active"
	TrafficIdle    TrafficState = "idle"
	TrafficUnknown TrafficState = "unknown"
)

// FusedState is the 3-state machine produced by C3.
type FusedState string

const (
	UpActive FusedState = "UP_ACTIVE"
	UpIdle   FusedState = "UP_IDLE"
	Down     FusedState = "DOWN"
	Unknown  FusedState = "UNKNOWN"
)

// Source identifies which input drove a fused transition.
type Source string

const (
	SourceLink    Source = "link"
	SourceTraffic Source = "traffic"
)

// Counters is a single point-in-time read of an interface's byte/packet
// accounting, shaped after the kernel's rtnl_link_stats64.
type Counters struct {
	RxBytes    uint64
	TxBytes    uint64
	RxPackets  uint64
	TxPackets  uint64
	RxErrors   uint64
	TxErrors   uint64
	RxDropped  uint64
	TxDropped  uint64
	SampleTime time.Time
}

// Rates holds per-direction derived throughput for the most recent sample
// window.
type Rates struct {
	RxBps float64
	TxBps float64
	RxPps float64
	TxPps float64
}

// LinkEvent is what C1 emits on its subscription stream.
type LinkEvent struct {
	Iface      string
	IfIndex    int
	OperState  OperState
	Flags      uint32
	Kind       LinkEventKind
	OccurredAt time.Time
}

// LinkEventKind enumerates the event types C1 can emit.
type LinkEventKind string

const (
	LinkAdded LinkEventKind = "LINK_ADDED"
	LinkUp    LinkEventKind = "LINK_UP"
	LinkDown  LinkEventKind = "LINK_DOWN"
)

// TrafficStateChange is what C2 emits when its hysteresis rule flips state.
type TrafficStateChange struct {
	Iface    string
	Old      TrafficState
	New      TrafficState
	Metrics  Counters
	Rates    Rates
	Util     float64
	SampleAt time.Time
}

// Snapshot is the full per-interface view exposed by C3, matching the
// Interface entity of the data model.
type Snapshot struct {
	Iface       string
	IfIndex     int
	MAC         string
	MTU         int
	SpeedMbps   int // -1 when unknown
	OperState   OperState
	Traffic     TrafficState
	Fused       FusedState
	LastSample  Counters
	Rates       Rates
	Utilization float64
}

// StateChangeEvent is C3's unified output.
type StateChangeEvent struct {
	Iface    string
	Old      FusedState
	New      FusedState
	Source   Source
	Snapshot Snapshot
	At       time.Time
}

// fuse is the pure function described in spec.md §4.3.
func fuse(op OperState, traffic TrafficState) FusedState {
	if op != OperUp {
		return Down
	}
	if traffic == TrafficActive {
		return UpActive
	}
	return UpIdle
}
