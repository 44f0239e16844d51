package topology

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventSink receives store events. The store holds no reference to the
// event bus type itself so C8 never imports C9 (spec.md §4.8's "lock
// released before publish" requirement is enforced here regardless of what
// sink is wired in).
type EventSink func(StoreEvent)

// Store is C8: the in-memory topology/link store.
type Store struct {
	log  *logrus.Entry
	sink EventSink

	mu    sync.Mutex
	nodes map[string]*Node
	links map[string]*Link
	// ifaceIndex maps (lab, iface) -> link id, per spec.md §4.8/§9's
	// lab-scoped collision resolution.
	ifaceIndex map[ifaceKey]string
	labNodes   map[string]map[string]struct{}
	labLinks   map[string]map[string]struct{}
}

type ifaceKey struct {
	lab   string
	iface string
}

func NewStore(sink EventSink, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.WithField("component", "topology-store")
	}
	if sink == nil {
		sink = func(StoreEvent) {}
	}
	return &Store{
		log:        log,
		sink:       sink,
		nodes:      make(map[string]*Node),
		links:      make(map[string]*Link),
		ifaceIndex: make(map[ifaceKey]string),
		labNodes:   make(map[string]map[string]struct{}),
		labLinks:   make(map[string]map[string]struct{}),
	}
}

// InitTopology atomically replaces the entire store content: the nodes,
// links and index entries of every lab are dropped before the given set is
// inserted.
func (s *Store) InitTopology(nodes []Node, links []Link) {
	s.mu.Lock()
	s.nodes = make(map[string]*Node)
	s.links = make(map[string]*Link)
	s.ifaceIndex = make(map[ifaceKey]string)
	s.labNodes = make(map[string]map[string]struct{})
	s.labLinks = make(map[string]map[string]struct{})
	for i := range nodes {
		n := nodes[i]
		s.indexNode(&n)
	}
	for i := range links {
		l := links[i]
		s.indexLink(&l)
	}
	s.mu.Unlock()

	s.sink(StoreEvent{Kind: EventTopologyInit, At: time.Now()})
}

func (s *Store) indexNode(n *Node) {
	s.nodes[n.ID] = n
	if s.labNodes[n.Lab] == nil {
		s.labNodes[n.Lab] = make(map[string]struct{})
	}
	s.labNodes[n.Lab][n.ID] = struct{}{}
}

func (s *Store) indexLink(l *Link) {
	if l.State == "" {
		l.State = LinkUnknown
	}
	s.links[l.ID] = l
	if s.labLinks[l.Lab] == nil {
		s.labLinks[l.Lab] = make(map[string]struct{})
	}
	s.labLinks[l.Lab][l.ID] = struct{}{}
	s.setIfaceIndex(l.Lab, l.SourceIface, l.ID)
	s.setIfaceIndex(l.Lab, l.TargetIface, l.ID)
}

func (s *Store) setIfaceIndex(lab, iface, linkID string) {
	if iface == "" {
		return
	}
	key := ifaceKey{lab: lab, iface: iface}
	if existing, ok := s.ifaceIndex[key]; ok && existing != linkID {
		s.log.WithFields(logrus.Fields{
			"lab": lab, "iface": iface, "previous_link": existing, "new_link": linkID,
		}).Warn("interface index collision, last writer wins")
	}
	s.ifaceIndex[key] = linkID
}

// AddNode inserts a single node and publishes EventNodeAdded.
func (s *Store) AddNode(n Node) {
	s.mu.Lock()
	s.indexNode(&n)
	s.mu.Unlock()
	s.sink(StoreEvent{Kind: EventNodeAdded, Lab: n.Lab, Node: &n, At: time.Now()})
}

// AddLink inserts a single link and publishes EventLinkAdded.
func (s *Store) AddLink(l Link) {
	s.mu.Lock()
	s.indexLink(&l)
	s.mu.Unlock()
	s.sink(StoreEvent{Kind: EventLinkAdded, Lab: l.Lab, Link: &l, At: time.Now()})
}

// RemoveNode deletes a node by id.
func (s *Store) RemoveNode(id string) {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.nodes, id)
	delete(s.labNodes[n.Lab], id)
	s.mu.Unlock()
	s.sink(StoreEvent{Kind: EventNodeRemoved, Lab: n.Lab, Node: n, At: time.Now()})
}

// RemoveLink deletes a link by id, removing both its iface index entries.
func (s *Store) RemoveLink(id string) {
	s.mu.Lock()
	l, ok := s.links[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.links, id)
	delete(s.labLinks[l.Lab], id)
	s.removeIfaceIndexIfOwner(l.Lab, l.SourceIface, id)
	s.removeIfaceIndexIfOwner(l.Lab, l.TargetIface, id)
	s.mu.Unlock()
	s.sink(StoreEvent{Kind: EventLinkRemoved, Lab: l.Lab, Link: l, At: time.Now()})
}

func (s *Store) removeIfaceIndexIfOwner(lab, iface, linkID string) {
	key := ifaceKey{lab: lab, iface: iface}
	if s.ifaceIndex[key] == linkID {
		delete(s.ifaceIndex, key)
	}
}

// GetTopology returns a snapshot of all nodes and links.
func (s *Store) GetTopology() ([]Node, []Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, *n)
	}
	links := make([]Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, *l)
	}
	return nodes, links
}

func (s *Store) GetAllLinks() []Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Link, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, *l)
	}
	return out
}

func (s *Store) GetLink(id string) (Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return Link{}, false
	}
	return *l, true
}

// GetLinkByInterface resolves (lab, iface) to its link, per the lab-scoped
// index (spec.md §9 collision resolution).
func (s *Store) GetLinkByInterface(lab, iface string) (Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ifaceIndex[ifaceKey{lab: lab, iface: iface}]
	if !ok {
		return Link{}, false
	}
	l, ok := s.links[id]
	if !ok {
		return Link{}, false
	}
	return *l, true
}

// FindLinkByNodePair resolves the link directly connecting two node ids,
// independent of direction. Used by flow-derived (C4) state updates, which
// key on endpoint identity rather than interface name.
func (s *Store) FindLinkByNodePair(nodeA, nodeB string) (Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if (l.SourceNodeID == nodeA && l.TargetNodeID == nodeB) ||
			(l.SourceNodeID == nodeB && l.TargetNodeID == nodeA) {
			return *l, true
		}
	}
	return Link{}, false
}

// NodeByIP resolves a node by its management/data IP, used to translate a
// flow endpoint's IP, as carried on the flow record, into a topology node id.
func (s *Store) NodeByIP(ip string) (Node, bool) {
	if ip == "" {
		return Node{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.IP == ip {
			return *n, true
		}
	}
	return Node{}, false
}

func (s *Store) GetTopologyByLab(lab string) ([]Node, []Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var nodes []Node
	for id := range s.labNodes[lab] {
		if n, ok := s.nodes[id]; ok {
			nodes = append(nodes, *n)
		}
	}
	var links []Link
	for id := range s.labLinks[lab] {
		if l, ok := s.links[id]; ok {
			links = append(links, *l)
		}
	}
	return nodes, links
}

func (s *Store) GetLabs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.labNodes)+len(s.labLinks))
	seen := make(map[string]struct{})
	for lab := range s.labNodes {
		if _, ok := seen[lab]; !ok {
			seen[lab] = struct{}{}
			out = append(out, lab)
		}
	}
	for lab := range s.labLinks {
		if _, ok := seen[lab]; !ok {
			seen[lab] = struct{}{}
			out = append(out, lab)
		}
	}
	return out
}

// UpdateLinkState sets a link's state and optionally its metrics. Returns
// an event only if the state actually changed (spec.md §4.8); metrics are
// applied regardless.
func (s *Store) UpdateLinkState(linkID string, newState LinkState, metrics *Metrics, source Source) (StoreEvent, bool) {
	s.mu.Lock()
	l, ok := s.links[linkID]
	if !ok {
		s.mu.Unlock()
		return StoreEvent{}, false
	}
	if metrics != nil {
		l.Metrics = *metrics
	}
	old := l.State
	changed := old != newState
	if changed {
		l.State = newState
	}
	l.LastUpdated = time.Now()
	snapshot := *l
	s.mu.Unlock()

	if !changed {
		return StoreEvent{}, false
	}
	ev := StoreEvent{Kind: EventLinkState, Lab: snapshot.Lab, Link: &snapshot, At: snapshot.LastUpdated}
	s.sink(ev)
	return ev, true
}

// UpdateLinkMetrics applies metrics only; never emits an event.
func (s *Store) UpdateLinkMetrics(linkID string, metrics Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[linkID]
	if !ok {
		return
	}
	l.Metrics = metrics
	l.LastUpdated = time.Now()
}

// agentStateTable translates the agent-side fused-state token into the
// store's LinkState, per spec.md §4.8.
var agentStateTable = map[string]LinkState{
	"active":    LinkActive,
	"up_active": LinkActive,
	"idle":      LinkIdle,
	"up_idle":   LinkIdle,
	"down":      LinkDown,
}

func translateAgentState(token string) LinkState {
	if st, ok := agentStateTable[token]; ok {
		return st
	}
	return LinkUnknown
}

// HandleAgentEvent resolves an agent InterfaceEvent to its link via the
// interface index and applies the translated state, per spec.md §4.8.
func (s *Store) HandleAgentEvent(ev InterfaceEvent) (StoreEvent, bool) {
	link, ok := s.GetLinkByInterface(ev.Lab, ev.Iface)
	if !ok {
		s.log.WithFields(logrus.Fields{"lab": ev.Lab, "iface": ev.Iface}).
			Debug("agent event for interface with no resolved link, dropping")
		return StoreEvent{}, false
	}
	return s.UpdateLinkState(link.ID, translateAgentState(ev.State), ev.Metrics, SourceAgent)
}

// ClearLab removes every node and link tagged with lab and all their index
// entries, publishing a single EventLabCleared.
func (s *Store) ClearLab(lab string) {
	s.mu.Lock()
	for id := range s.labNodes[lab] {
		delete(s.nodes, id)
	}
	delete(s.labNodes, lab)
	for id := range s.labLinks[lab] {
		if l, ok := s.links[id]; ok {
			s.removeIfaceIndexIfOwner(lab, l.SourceIface, id)
			s.removeIfaceIndexIfOwner(lab, l.TargetIface, id)
		}
		delete(s.links, id)
	}
	delete(s.labLinks, lab)
	s.mu.Unlock()

	s.sink(StoreEvent{Kind: EventLabCleared, Lab: lab, At: time.Now()})
}

// NextLinkID resolves the parallel-link ordinal-suffix collision policy
// (spec.md §9): "lab/a-b", then "lab/a-b-1", "lab/a-b-2", ... The caller
// must hold no lock; this reads under the store's lock to check existing ids.
func (s *Store) NextLinkID(lab, nodeA, nodeB string) string {
	base := fmt.Sprintf("%s/%s-%s", lab, nodeA, nodeB)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.links[base]; !exists {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, exists := s.links[candidate]; !exists {
			return candidate
		}
	}
}
