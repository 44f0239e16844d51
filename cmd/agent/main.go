// cmd/agent runs the host-local state-fusion pipeline: the kernel link-event
// source (C1), the counter sampler (C2), interface fusion (C3), and an
// event publisher (C6) that forwards fused state to the topology service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netlab-io/topofuse/internal/ifacestate"
	"github.com/netlab-io/topofuse/internal/publish"
	"github.com/netlab-io/topofuse/pkg/admin"
	"github.com/netlab-io/topofuse/pkg/flags"
)

func main() {
	adminAddr := flag.String("admin-addr", ":9990", "address to serve /metrics, /ping, /ready on")
	publishURL := flag.String("publish-url", "http://localhost:8080/api/events", "topology-service endpoint for interface events")
	pollInterval := flag.Duration("poll-interval", 2*time.Second, "counter sampler poll interval")
	idleThreshold := flag.Int("idle-threshold-samples", 5, "consecutive zero-delta samples before a link is declared idle")
	excludePrefixCSV := flag.String("iface-exclude-prefix", "lo,docker,veth", "comma-separated interface name prefixes to ignore")
	bufferSize := flag.Int("buffer-size", 1000, "event publisher buffer size")
	batchSize := flag.Int("batch-size", 1, "event publisher batch size")

	// ConfigureAndParse calls flag.Parse() itself, so all flags above must
	// be registered before this call (see its doc comment).
	flags.ConfigureAndParse()

	excludePrefixes := strings.Split(*excludePrefixCSV, ",")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	adminServer := admin.NewServer(*adminAddr, false)
	go func() {
		if err := adminServer.ListenAndServe(); err != nil {
			log.WithError(err).Warn("admin server stopped")
		}
	}()

	linkLog := log.WithField("component", "link-source")
	linkSource := ifacestate.NewLinkSource(excludePrefixes, linkLog)
	supervisor := ifacestate.NewSupervisor(linkSource, linkLog)

	counterLog := log.WithField("component", "counter-sampler")
	reader := ifacestate.NewNetlinkCounterReader()
	listIfaces := func() []string {
		names, err := linkSource.InterfaceNames()
		if err != nil {
			counterLog.WithError(err).Warn("failed to list interfaces for sampling")
			return nil
		}
		return names
	}
	sampler := ifacestate.NewCounterSampler(reader, *pollInterval, *idleThreshold, linkSource.IncludeFilter(), listIfaces, counterLog)

	fusion := ifacestate.NewFusion(log.WithField("component", "interface-fusion"))

	sink := publish.NewHTTPSink(*publishURL, 5*time.Second, 3, 500*time.Millisecond)
	publisher := publish.NewBufferedPublisher(sink, *bufferSize, *batchSize, time.Second, log.WithField("component", "event-publisher"))

	linkEvents := make(chan ifacestate.LinkEvent, 64)
	trafficEvents := make(chan ifacestate.TrafficStateChange, 64)
	fusedEvents := make(chan ifacestate.StateChangeEvent, 64)

	go supervisor.Run(ctx, linkEvents)
	go sampler.Run(ctx, trafficEvents)
	go fusion.Run(ctx, linkEvents, trafficEvents, fusedEvents)
	go publisher.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("agent shutting down")
			return
		case ev := <-fusedEvents:
			publisher.Publish(ctx, publish.Envelope{Type: "interface_state_change", Payload: ev})
		}
	}
}
