// cmd/topologyservice runs the cluster-facing half of the system: the
// endpoint registry (C5), the flow observer (C4), the topology parser and
// store (C7/C8), the event bus (C9), the lab orchestrator (C10), and the
// HTTP/WS transport binding all of it together.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netlab-io/topofuse/internal/endpointregistry"
	"github.com/netlab-io/topofuse/internal/eventbus"
	"github.com/netlab-io/topofuse/internal/flowstate"
	"github.com/netlab-io/topofuse/internal/orchestrator"
	"github.com/netlab-io/topofuse/internal/topology"
	"github.com/netlab-io/topofuse/internal/transport"
	"github.com/netlab-io/topofuse/pkg/admin"
	"github.com/netlab-io/topofuse/pkg/flags"
	"github.com/netlab-io/topofuse/pkg/kubeclient"
)

func main() {
	listenAddr := flag.String("addr", ":8080", "address to serve the HTTP/WS API on")
	adminAddr := flag.String("admin-addr", ":9991", "address to serve /metrics, /ping, /ready on")
	kubeconfigPath := flag.String("kubeconfig", "", "path to a kubeconfig file; empty tries in-cluster config first")
	flowObserverURL := flag.String("flow-observer-url", "", "line-delimited-JSON flow observer endpoint; empty disables C4")
	idleTimeout := flag.Duration("flow-idle-timeout", 5*time.Second, "C4 idle timeout before ACTIVE decays to IDLE")
	eventHistorySize := flag.Int("event-history-size", 100, "number of events the bus retains for /api/events/history")

	flags.ConfigureAndParse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	adminServer := admin.NewServer(*adminAddr, false)
	go func() {
		if err := adminServer.ListenAndServe(); err != nil {
			log.WithError(err).Warn("admin server stopped")
		}
	}()

	kubeClient, err := kubeclient.New(*kubeconfigPath)
	if err != nil {
		log.WithError(err).Fatal("failed to build kubernetes client")
	}

	bus := eventbus.NewBusWithHistory(*eventHistorySize, log.WithField("component", "event-bus"))

	store := topology.NewStore(func(ev topology.StoreEvent) {
		bridgeStoreEvent(bus, ev)
	}, log.WithField("component", "topology-store"))

	registry := endpointregistry.NewRegistryWithSink(func(ev endpointregistry.Event) {
		bridgeEndpointEvent(bus, ev)
	})

	watcher := endpointregistry.NewWatcher(kubeClient, registry, log.WithField("component", "endpoint-registry"))
	go watcher.Run(ctx)

	parser := topology.NewParser(log.WithField("component", "topology-parser"))
	orch := orchestrator.NewOrchestrator(kubeClient, parser, store, log.WithField("component", "orchestrator"))

	if *flowObserverURL != "" {
		runFlowObserver(ctx, *flowObserverURL, *idleTimeout, store, bus)
	} else {
		log.Info("flow-observer-url not set, C4 disabled")
	}

	server := transport.NewServer(store, bus, orch, log.WithField("component", "transport"))
	httpServer := &http.Server{
		Addr:              *listenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", *listenAddr).Info("topology service listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("http server stopped")
	}
}

// bridgeStoreEvent fans a C8 mutation out onto C9, matching the event-kind
// to payload the same way transport's handlers do for admin-driven updates.
func bridgeStoreEvent(bus *eventbus.Bus, ev topology.StoreEvent) {
	switch ev.Kind {
	case topology.EventNodeAdded:
		bus.Publish(eventbus.TypeNodeAdded, ev.Node, "store")
	case topology.EventNodeRemoved:
		bus.Publish(eventbus.TypeNodeRemoved, ev.Node, "store")
	case topology.EventLinkAdded:
		bus.Publish(eventbus.TypeLinkAdded, ev.Link, "store")
	case topology.EventLinkRemoved:
		bus.Publish(eventbus.TypeLinkRemoved, ev.Link, "store")
	case topology.EventLinkState:
		bus.Publish(eventbus.TypeLinkStateChange, ev.Link, "store")
	}
}

func bridgeEndpointEvent(bus *eventbus.Bus, ev endpointregistry.Event) {
	switch ev.Kind {
	case endpointregistry.EventAdded:
		bus.Publish(eventbus.TypeEndpointAdded, ev.Endpoint, "endpoint-registry")
	case endpointregistry.EventModified:
		bus.Publish(eventbus.TypeEndpointModified, ev.Endpoint, "endpoint-registry")
	case endpointregistry.EventDeleted:
		bus.Publish(eventbus.TypeEndpointDeleted, ev.Endpoint, "endpoint-registry")
	}
}

// runFlowObserver wires C4 (spec.md §4.4) to the topology store: each flow
// endpoint is resolved to a topology node by IP, and the link directly
// connecting the resulting node pair (if any) has its state updated.
// Endpoint pairs that don't resolve to a known link are silently dropped,
// the same policy HandleAgentEvent applies to unresolved interfaces.
func runFlowObserver(ctx context.Context, url string, idleTimeout time.Duration, store *topology.Store, bus *eventbus.Bus) {
	flowLog := log.WithField("component", "flow-observer")
	tracker := flowstate.NewTracker(idleTimeout, nil, flowLog)
	observer := flowstate.NewObserver(flowstate.HTTPStreamDialer{URL: url}, tracker, flowLog)

	changes := make(chan flowstate.LinkStateChange, 256)
	go observer.Run(ctx, changes)
	go tracker.RunSweeper(ctx, changes)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case change := <-changes:
				applyFlowStateChange(store, bus, change)
			}
		}
	}()
}

func applyFlowStateChange(store *topology.Store, bus *eventbus.Bus, change flowstate.LinkStateChange) {
	srcNode, ok := store.NodeByIP(change.Src.IP)
	if !ok {
		return
	}
	dstNode, ok := store.NodeByIP(change.Dst.IP)
	if !ok {
		return
	}
	link, ok := store.FindLinkByNodePair(srcNode.ID, dstNode.ID)
	if !ok {
		return
	}
	ev, changed := store.UpdateLinkState(link.ID, topology.LinkState(change.New), nil, topology.SourceFlow)
	if changed {
		bus.Publish(eventbus.TypeLinkStateChange, ev.Link, "flow-observer")
	}
}
