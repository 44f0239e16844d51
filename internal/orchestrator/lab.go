package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/dynamic"

	"github.com/netlab-io/topofuse/internal/topology"
)

// Orchestrator is C10.
type Orchestrator struct {
	crd    *crdClient
	parser *topology.Parser
	store  *topology.Store
	log    *logrus.Entry

	pollInterval time.Duration

	mu     sync.Mutex
	labs   map[string]*Lab
	cancel map[string]context.CancelFunc
}

func NewOrchestrator(client dynamic.Interface, parser *topology.Parser, store *topology.Store, log *logrus.Entry) *Orchestrator {
	if log == nil {
		log = logrus.WithField("component", "lab-orchestrator")
	}
	return &Orchestrator{
		crd:          newCRDClient(client),
		parser:       parser,
		store:        store,
		log:          log,
		pollInterval: 2 * time.Second,
		labs:         make(map[string]*Lab),
		cancel:       make(map[string]context.CancelFunc),
	}
}

// DeployLab runs the full parse -> CRD create -> store ingest -> status
// watch sequence described in spec.md §4.10.
func (o *Orchestrator) DeployLab(ctx context.Context, req DeployRequest) Result {
	name, namespace, containerlabYAML := req.Name, req.Namespace, req.ContainerlabYAML

	if req.ClabernetesYAML != "" {
		wrapName, wrapNS, inner, err := o.parser.ParseWrapper(req.ClabernetesYAML, req.Name, req.Namespace)
		if err != nil {
			return o.rejected("", "", fmt.Sprintf("failed to extract topology from wrapper: %v", err))
		}
		name, namespace, containerlabYAML = wrapName, wrapNS, inner
	}
	if name == "" {
		return o.rejected("", namespace, "lab name is required")
	}
	if namespace == "" {
		namespace = "clab"
	}

	nodes, links, err := o.parser.Parse(containerlabYAML, name)
	if err != nil {
		return o.rejected(name, namespace, fmt.Sprintf("invalid topology: %v", err))
	}

	lab := &Lab{
		Name: name, Namespace: namespace,
		Status: StatusPending, Intent: IntentRealizedInCluster,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	createErr := o.crd.create(ctx, name, namespace, containerlabYAML)
	if createErr != nil {
		if apierrors.IsAlreadyExists(createErr) {
			o.storeLab(lab)
			return Result{Lab: *lab, Error: fmt.Errorf("lab %s already exists: %w", name, createErr)}
		}
		// Not a terminal conflict: ingest anyway so the visualization
		// reflects intent, per spec.md §4.10 step 4 / §9.
		lab.Status = StatusFailed
		lab.Intent = IntentIngestedOnly
		lab.Message = fmt.Sprintf("CRD creation failed: %v", createErr)
	}

	o.ingestTopology(name, nodes, links)
	o.storeLab(lab)

	if createErr == nil || !apierrors.IsAlreadyExists(createErr) {
		o.startWatcher(name, namespace)
	}

	return Result{Lab: *lab}
}

func (o *Orchestrator) rejected(name, namespace, message string) Result {
	lab := Lab{Name: name, Namespace: namespace, Status: StatusFailed, Message: message, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	return Result{Lab: lab, Error: fmt.Errorf("%s", message)}
}

// ingestTopology adds nodes and links one at a time rather than via
// InitTopology, so each insertion publishes its own node_added/link_added
// event (store.go's AddNode/AddLink) instead of a single TOPOLOGY_INIT event
// bridgeStoreEvent has no case for (spec.md §4.9).
func (o *Orchestrator) ingestTopology(lab string, nodes []topology.Node, links []topology.Link) {
	for _, n := range nodes {
		o.store.AddNode(n)
	}
	for _, l := range links {
		o.store.AddLink(l)
	}
}

func (o *Orchestrator) storeLab(lab *Lab) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.labs[lab.Name] = lab
}

// startWatcher begins a background poll of the CRD's status, mirroring it
// into the lab record until DeleteLab cancels it.
func (o *Orchestrator) startWatcher(name, namespace string) {
	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancel[name] = cancel
	o.mu.Unlock()

	go o.watchStatus(ctx, name, namespace)
}

func (o *Orchestrator) watchStatus(ctx context.Context, name, namespace string) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			obj, err := o.crd.get(ctx, name, namespace)
			if err != nil {
				o.log.WithError(err).WithField("lab", name).Debug("status poll failed, retrying")
				continue
			}
			status := statusFromConditions(obj)
			o.mu.Lock()
			if lab, ok := o.labs[name]; ok {
				lab.Status = status
				lab.UpdatedAt = time.Now()
			}
			o.mu.Unlock()
			if status == StatusRunning || status == StatusFailed {
				// terminal states still get polled (spec does not say to
				// stop), at the same pollInterval cadence.
			}
		}
	}
}

// DeleteLab cancels the watcher, deletes the CRD, clears the lab from the
// store, and drops the in-memory record (spec.md §4.10).
func (o *Orchestrator) DeleteLab(ctx context.Context, name string) error {
	o.mu.Lock()
	lab, ok := o.labs[name]
	cancel := o.cancel[name]
	delete(o.cancel, name)
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	namespace := "clab"
	if ok {
		namespace = lab.Namespace
	}
	if err := o.crd.delete(ctx, name, namespace); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting CRD: %w", err)
	}

	o.store.ClearLab(name)

	o.mu.Lock()
	delete(o.labs, name)
	o.mu.Unlock()

	return nil
}

// ListLabs merges in-memory lab records with externally discovered CRDs
// carrying the managed-by marker, reconciling status (spec.md §4.10).
func (o *Orchestrator) ListLabs(ctx context.Context) ([]Lab, error) {
	o.mu.Lock()
	merged := make(map[string]Lab, len(o.labs))
	for name, lab := range o.labs {
		merged[name] = *lab
	}
	o.mu.Unlock()

	discovered, err := o.crd.listManaged(ctx)
	if err != nil {
		return nil, err
	}
	for _, obj := range discovered {
		name := obj.GetName()
		if _, known := merged[name]; known {
			continue
		}
		merged[name] = Lab{
			Name:      name,
			Namespace: obj.GetNamespace(),
			Status:    statusFromConditions(&obj),
			Intent:    IntentRealizedInCluster,
			UpdatedAt: time.Now(),
		}
	}

	out := make([]Lab, 0, len(merged))
	for _, lab := range merged {
		out = append(out, lab)
	}
	return out, nil
}
