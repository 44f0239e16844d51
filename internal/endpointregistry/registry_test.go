package endpointregistry

import "testing"

func TestRegistryApplyAndGet(t *testing.T) {
	r := NewRegistry()
	key := Key{Namespace: "ns", Name: "pod-a"}
	r.apply(Event{Kind: EventAdded, Key: key, Endpoint: Endpoint{Namespace: "ns", Name: "pod-a", IPv4: "10.0.0.1"}})

	got, ok := r.Get(key)
	if !ok || got.IPv4 != "10.0.0.1" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}

	if _, ok := r.GetByIP("10.0.0.1"); !ok {
		t.Fatal("expected lookup by IPv4 to succeed")
	}
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry()
	key := Key{Namespace: "ns", Name: "pod-a"}
	r.apply(Event{Kind: EventAdded, Key: key, Endpoint: Endpoint{Namespace: "ns", Name: "pod-a"}})
	r.apply(Event{Kind: EventDeleted, Key: key})

	if _, ok := r.Get(key); ok {
		t.Fatal("expected endpoint to be removed")
	}
}

func TestRegistryResetClearsAll(t *testing.T) {
	r := NewRegistry()
	r.apply(Event{Kind: EventAdded, Key: Key{Namespace: "ns", Name: "a"}, Endpoint: Endpoint{Name: "a"}})
	r.apply(Event{Kind: EventAdded, Key: Key{Namespace: "ns", Name: "b"}, Endpoint: Endpoint{Name: "b"}})
	r.reset()
	if len(r.List()) != 0 {
		t.Fatalf("expected empty registry after reset, got %d", len(r.List()))
	}
}
