// Package endpointregistry implements C5: a cache of cluster endpoints kept
// current via a list+watch against the project's custom "endpoints"
// resource.
package endpointregistry

import "time"

// State mirrors the endpoint resource's status.state (spec.md §3).
type State string

const (
	StateReady    State = "ready"
	StateNotReady State = "not_ready"
	StateUnknown  State = "unknown"
)

// Endpoint mirrors the project's custom endpoint resource (spec.md §3/§6):
// composite id namespace/name, identity integer, node name, pod name, IPv4,
// IPv6, labels, state.
type Endpoint struct {
	Namespace string            `json:"namespace"`
	Name      string            `json:"name"`
	PodName   string            `json:"pod_name"`
	Identity  int64             `json:"identity"`
	IPv4      string            `json:"ipv4"`
	IPv6      string            `json:"ipv6"`
	NodeName  string            `json:"node_name"`
	State     State             `json:"state"`
	Labels    map[string]string `json:"labels,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Key identifies one endpoint in the registry.
type Key struct {
	Namespace string
	Name      string
}

type EventKind string

const (
	EventAdded    EventKind = "ADDED"
	EventModified EventKind = "MODIFIED"
	EventDeleted  EventKind = "DELETED"
)

// Event is emitted whenever the registry's view of an endpoint changes.
type Event struct {
	Kind     EventKind
	Key      Key
	Endpoint Endpoint
}
