package endpointregistry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
)

// EndpointsGVR is the custom resource backing C5 (spec.md §6). It is a CRD,
// not a built-in kube type, so the dynamic/unstructured client is used
// instead of a typed informer (adapted from the list+watch+resync pattern
// the teacher built for built-in resources).
var EndpointsGVR = schema.GroupVersionResource{
	Group:    "netlab.io",
	Version:  "v1alpha1",
	Resource: "endpoints",
}

// Watcher drives a Registry from a list+watch loop against EndpointsGVR,
// resuming from scratch (fresh list, cache reset) whenever the watch ends
// with a 410 Gone (expired resourceVersion).
type Watcher struct {
	client   dynamic.Interface
	registry *Registry
	log      *logrus.Entry
}

func NewWatcher(client dynamic.Interface, registry *Registry, log *logrus.Entry) *Watcher {
	if log == nil {
		log = logrus.WithField("component", "endpoint-registry")
	}
	return &Watcher{client: client, registry: registry, log: log}
}

// Run blocks until ctx is cancelled, restarting the list+watch cycle
// whenever it ends; a failed list or a watch that cannot be started is
// retried after a backoff delay, any other watch end relists at once
// (grounded on the teacher's
// controller/k8s/watcher.go exponential-backoff re-init loop).
func (w *Watcher) Run(ctx context.Context) {
	backoff := wait.Backoff{Duration: 500 * time.Millisecond, Factor: 1.5, Cap: 10 * time.Second, Steps: 1000}
	for {
		if ctx.Err() != nil {
			return
		}
		resumeVersion, err := w.listOnce(ctx)
		if err != nil {
			w.log.WithError(err).Warn("endpoint list failed, retrying")
			w.sleep(ctx, backoff.Step())
			continue
		}
		backoff = wait.Backoff{Duration: 500 * time.Millisecond, Factor: 1.5, Cap: 10 * time.Second, Steps: 1000}

		gone, err := w.watchFrom(ctx, resumeVersion)
		if err != nil {
			w.log.WithError(err).Warn("endpoint watch ended with error, resuming")
			w.sleep(ctx, backoff.Step())
			continue
		}
		if gone {
			w.log.Info("endpoint watch resourceVersion expired (410), resuming from a fresh list")
			w.registry.reset()
		}
	}
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (w *Watcher) listOnce(ctx context.Context) (string, error) {
	list, err := w.client.Resource(EndpointsGVR).Namespace("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", err
	}
	for _, item := range list.Items {
		w.registry.apply(toEvent(EventAdded, &item))
	}
	return list.GetResourceVersion(), nil
}

// watchFrom streams changes starting at resourceVersion, applying each
// event to the registry. Returns gone=true if the watch ended because the
// resourceVersion is no longer valid (410 Gone).
func (w *Watcher) watchFrom(ctx context.Context, resourceVersion string) (gone bool, err error) {
	wi, err := w.client.Resource(EndpointsGVR).Namespace("").Watch(ctx, metav1.ListOptions{
		ResourceVersion: resourceVersion,
	})
	if err != nil {
		return false, err
	}
	defer wi.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case ev, ok := <-wi.ResultChan():
			if !ok {
				return false, nil
			}
			if ev.Type == watch.Error {
				if status, ok := ev.Object.(*metav1.Status); ok && apierrors.IsResourceExpired(toAPIError(status)) {
					return true, nil
				}
				return false, nil
			}
			obj, ok := ev.Object.(*unstructured.Unstructured)
			if !ok {
				continue
			}
			kind := toEventKind(ev.Type)
			w.registry.apply(toEvent(kind, obj))
		}
	}
}

func toAPIError(status *metav1.Status) error {
	return &apierrors.StatusError{ErrStatus: *status}
}

func toEventKind(t watch.EventType) EventKind {
	switch t {
	case watch.Added:
		return EventAdded
	case watch.Deleted:
		return EventDeleted
	default:
		return EventModified
	}
}

// toEvent extracts an Endpoint from the watched resource's
// status.{state, identity{id}, networking{node, addressing[].{ipv4,ipv6}}}
// shape (spec.md §6; matches the cluster observer's CiliumEndpoint-derived
// schema, not a top-level "spec").
func toEvent(kind EventKind, obj *unstructured.Unstructured) Event {
	ns := obj.GetNamespace()
	name := obj.GetName()
	key := Key{Namespace: ns, Name: name}

	nodeName, _, _ := unstructured.NestedString(obj.Object, "status", "networking", "node")
	identity, _, _ := unstructured.NestedInt64(obj.Object, "status", "identity", "id")
	rawState, _, _ := unstructured.NestedString(obj.Object, "status", "state")

	var ipv4, ipv6 string
	addresses, _, _ := unstructured.NestedSlice(obj.Object, "status", "networking", "addressing")
	for _, raw := range addresses {
		addr, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if v, ok := addr["ipv4"].(string); ok && v != "" {
			ipv4 = v
		}
		if v, ok := addr["ipv6"].(string); ok && v != "" {
			ipv6 = v
		}
	}

	return Event{
		Kind: kind,
		Key:  key,
		Endpoint: Endpoint{
			Namespace: ns,
			Name:      name,
			PodName:   name,
			Identity:  identity,
			IPv4:      ipv4,
			IPv6:      ipv6,
			NodeName:  nodeName,
			State:     toState(rawState),
			Labels:    obj.GetLabels(),
			UpdatedAt: time.Now(),
		},
	}
}

func toState(raw string) State {
	switch raw {
	case "ready":
		return StateReady
	case "not-ready":
		return StateNotReady
	default:
		return StateUnknown
	}
}
