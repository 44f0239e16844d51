// Package flowstate derives per-endpoint-pair link state from a stream of
// L3/L4 flow records (C4).
package flowstate

import "time"

type Verdict string

const (
	VerdictForwarded  Verdict = "FORWARDED"
	VerdictDropped    Verdict = "DROPPED"
	VerdictError      Verdict = "ERROR"
	VerdictAudit      Verdict = "AUDIT"
	VerdictRedirected Verdict = "REDIRECTED"
	VerdictTraced     Verdict = "TRACED"
	VerdictTranslated Verdict = "TRANSLATED"
	VerdictUnknown    Verdict = "UNKNOWN"
)

type Direction string

const (
	DirIngress Direction = "INGRESS"
	DirEgress  Direction = "EGRESS"
	DirUnknown Direction = "UNKNOWN"
)

type L4Protocol string

const (
	ProtoTCP     L4Protocol = "TCP"
	ProtoUDP     L4Protocol = "UDP"
	ProtoICMP    L4Protocol = "ICMP"
	ProtoUnknown L4Protocol = "UNKNOWN"
)

// Endpoint is the minimal identity carried on a flow record.
type Endpoint struct {
	Namespace string `json:"namespace"`
	PodName   string `json:"pod_name"`
	Identity  int64  `json:"identity"`
	IP        string `json:"ip"`
}

// ID returns the composite "namespace/name" identifier used as flow-key
// material, matching the Endpoint entity in spec.md §3.
func (e Endpoint) ID() string {
	if e.Namespace == "" && e.PodName == "" {
		return e.IP
	}
	return e.Namespace + "/" + e.PodName
}

// Record is a single flow observation.
type Record struct {
	Source      Endpoint   `json:"source"`
	Destination Endpoint   `json:"destination"`
	Verdict     Verdict    `json:"verdict"`
	Direction   Direction  `json:"traffic_direction"`
	Protocol    L4Protocol `json:"l4_protocol"`
	SrcPort     uint16     `json:"src_port"`
	DstPort     uint16     `json:"dst_port"`
	Bytes       uint64     `json:"bytes"`
	Timestamp   time.Time  `json:"time"`
	DropReason  string     `json:"drop_reason_desc"`
	IsReply     bool       `json:"is_reply"`
}

// Key is a directed flow identifier: src -> dst (spec.md §3 "Flow key").
type Key struct {
	Src string
	Dst string
}

type State string

const (
	Active  State = "ACTIVE"
	Idle    State = "IDLE"
	Down    State = "DOWN"
	Unknown State = "UNKNOWN"
)

// Tracked is the per-flow bookkeeping the tracker maintains.
type Tracked struct {
	Key      Key
	State    State
	LastSeen time.Time
	Src      Endpoint
	Dst      Endpoint
}

// LinkStateChange is C4's output event.
type LinkStateChange struct {
	Key Key
	Src Endpoint
	Dst Endpoint
	Old State
	New State
	At  time.Time
}
