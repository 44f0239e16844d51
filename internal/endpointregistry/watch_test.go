package endpointregistry

import (
	"context"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
)

func newUnstructuredEndpoint(ns, name, ip string) *unstructured.Unstructured {
	return &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": "netlab.io/v1alpha1",
			"kind":       "Endpoint",
			"metadata": map[string]interface{}{
				"namespace": ns,
				"name":      name,
			},
			"status": map[string]interface{}{
				"state": "ready",
				"identity": map[string]interface{}{
					"id": int64(42),
				},
				"networking": map[string]interface{}{
					"node": "node-1",
					"addressing": []interface{}{
						map[string]interface{}{"ipv4": ip},
					},
				},
			},
		},
	}
}

func TestWatcherListSeedsRegistry(t *testing.T) {
	scheme := runtime.NewScheme()
	gvrToListKind := map[schema.GroupVersionResource]string{
		EndpointsGVR: "EndpointList",
	}
	obj := newUnstructuredEndpoint("ns", "pod-a", "10.0.0.5")
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind, obj)

	registry := NewRegistry()
	w := NewWatcher(client, registry, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := w.listOnce(ctx); err != nil {
		t.Fatalf("listOnce failed: %v", err)
	}

	got, ok := registry.Get(Key{Namespace: "ns", Name: "pod-a"})
	if !ok || got.IPv4 != "10.0.0.5" || got.NodeName != "node-1" || got.Identity != 42 || got.State != StateReady {
		t.Fatalf("expected seeded endpoint, got %+v ok=%v", got, ok)
	}
}

func TestWatcherAppliesAddedEvent(t *testing.T) {
	scheme := runtime.NewScheme()
	gvrToListKind := map[schema.GroupVersionResource]string{
		EndpointsGVR: "EndpointList",
	}
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind)
	registry := NewRegistry()
	w := NewWatcher(client, registry, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.watchFrom(ctx, "")
		close(done)
	}()

	obj := newUnstructuredEndpoint("ns", "pod-b", "10.0.0.9")
	if _, err := client.Resource(EndpointsGVR).Namespace("ns").Create(ctx, obj, metav1.CreateOptions{}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	deadline := time.After(400 * time.Millisecond)
	for {
		if _, ok := registry.Get(Key{Namespace: "ns", Name: "pod-b"}); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for watch event to apply")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
