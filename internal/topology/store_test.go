package topology

import (
	"sync"
	"testing"
)

func collectEvents() (EventSink, func() []StoreEvent) {
	var mu sync.Mutex
	var events []StoreEvent
	sink := func(ev StoreEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}
	get := func() []StoreEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]StoreEvent, len(events))
		copy(out, events)
		return out
	}
	return sink, get
}

func TestStoreAddNodeAndLinkPublishEvents(t *testing.T) {
	sink, events := collectEvents()
	s := NewStore(sink, nil)

	s.AddNode(Node{ID: "lab1/a", Lab: "lab1", Label: "a", Type: NodeHost})
	s.AddLink(Link{ID: "lab1/a-b", Lab: "lab1", SourceIface: "eth0", TargetIface: "eth1"})

	got := events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Kind != EventNodeAdded || got[1].Kind != EventLinkAdded {
		t.Fatalf("unexpected event kinds: %+v", got)
	}
}

func TestStoreUpdateLinkStateEmitsOnlyOnChange(t *testing.T) {
	sink, events := collectEvents()
	s := NewStore(sink, nil)
	s.AddLink(Link{ID: "lab1/a-b", Lab: "lab1", SourceIface: "eth0", TargetIface: "eth1", State: LinkUnknown})

	_, changed := s.UpdateLinkState("lab1/a-b", LinkActive, nil, SourceAdmin)
	if !changed {
		t.Fatal("expected first state change to emit")
	}
	_, changed = s.UpdateLinkState("lab1/a-b", LinkActive, nil, SourceAdmin)
	if changed {
		t.Fatal("expected repeated identical state to not emit")
	}

	got := events()
	stateEvents := 0
	for _, ev := range got {
		if ev.Kind == EventLinkState {
			stateEvents++
		}
	}
	if stateEvents != 1 {
		t.Fatalf("expected exactly 1 state-change event, got %d", stateEvents)
	}
}

func TestStoreUpdateLinkMetricsNeverEmits(t *testing.T) {
	sink, events := collectEvents()
	s := NewStore(sink, nil)
	s.AddLink(Link{ID: "lab1/a-b", Lab: "lab1"})

	s.UpdateLinkMetrics("lab1/a-b", Metrics{RxBps: 100})

	link, _ := s.GetLink("lab1/a-b")
	if link.Metrics.RxBps != 100 {
		t.Fatalf("expected metrics applied, got %+v", link.Metrics)
	}
	for _, ev := range events() {
		if ev.Kind == EventLinkState {
			t.Fatal("metrics-only update must not emit a state event")
		}
	}
}

func TestHandleAgentEventTranslatesStateTokens(t *testing.T) {
	s := NewStore(nil, nil)
	s.AddLink(Link{ID: "lab1/a-b", Lab: "lab1", SourceIface: "eth0", TargetIface: "eth1", State: LinkUnknown})

	cases := []struct {
		token string
		want  LinkState
	}{
		{"active", LinkActive},
		{"up_active", LinkActive},
		{"idle", LinkIdle},
		{"up_idle", LinkIdle},
		{"down", LinkDown},
		{"something-else", LinkUnknown},
	}
	for _, c := range cases {
		s.UpdateLinkState("lab1/a-b", LinkUnknown, nil, SourceAdmin) // reset so each case transitions
		ev, ok := s.HandleAgentEvent(InterfaceEvent{Lab: "lab1", Iface: "eth0", State: c.token})
		if c.want == LinkUnknown {
			// LinkUnknown is already the reset state, so no change expected
			if ok {
				t.Fatalf("token %s: expected no change (already UNKNOWN), got %+v", c.token, ev)
			}
			continue
		}
		if !ok || ev.Link.State != c.want {
			t.Fatalf("token %s: got state %v ok=%v, want %v", c.token, ev.Link.State, ok, c.want)
		}
	}
}

func TestHandleAgentEventUnresolvedInterfaceDropped(t *testing.T) {
	s := NewStore(nil, nil)
	_, ok := s.HandleAgentEvent(InterfaceEvent{Lab: "lab1", Iface: "nonexistent", State: "active"})
	if ok {
		t.Fatal("expected no event for an unresolved interface")
	}
}

func TestInterfaceIndexIsLabScoped(t *testing.T) {
	s := NewStore(nil, nil)
	s.AddLink(Link{ID: "lab1/a-b", Lab: "lab1", SourceIface: "eth0", TargetIface: "eth1"})
	s.AddLink(Link{ID: "lab2/c-d", Lab: "lab2", SourceIface: "eth0", TargetIface: "eth1"})

	l1, ok := s.GetLinkByInterface("lab1", "eth0")
	if !ok || l1.ID != "lab1/a-b" {
		t.Fatalf("lab1 lookup got %+v ok=%v", l1, ok)
	}
	l2, ok := s.GetLinkByInterface("lab2", "eth0")
	if !ok || l2.ID != "lab2/c-d" {
		t.Fatalf("lab2 lookup got %+v ok=%v", l2, ok)
	}
}

func TestClearLabRemovesEverything(t *testing.T) {
	s := NewStore(nil, nil)
	s.AddNode(Node{ID: "lab1/a", Lab: "lab1"})
	s.AddLink(Link{ID: "lab1/a-b", Lab: "lab1", SourceIface: "eth0", TargetIface: "eth1"})

	s.ClearLab("lab1")

	nodes, links := s.GetTopologyByLab("lab1")
	if len(nodes) != 0 || len(links) != 0 {
		t.Fatalf("expected lab1 fully cleared, got nodes=%+v links=%+v", nodes, links)
	}
	if _, ok := s.GetLinkByInterface("lab1", "eth0"); ok {
		t.Fatal("expected interface index entries to be removed with the lab")
	}
}

func TestNextLinkIDCollisionSuffix(t *testing.T) {
	s := NewStore(nil, nil)
	first := s.NextLinkID("lab1", "a", "b")
	s.AddLink(Link{ID: first, Lab: "lab1"})
	second := s.NextLinkID("lab1", "a", "b")
	if second == first {
		t.Fatal("expected second id to differ from first")
	}
	if second != "lab1/a-b-1" {
		t.Fatalf("expected ordinal suffix, got %s", second)
	}
}
