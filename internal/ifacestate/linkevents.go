package ifacestate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// LinkSource is C1: an instantaneous kernel link-up/down stream.
type LinkSource struct {
	excludePrefixes []string
	log             *logrus.Entry

	mu    sync.Mutex
	last  map[string]OperState
	known map[string]bool
}

// NewLinkSource builds a link-event source. excludePrefixes filters out
// interface names with any of the given prefixes (e.g. "lo", "docker").
func NewLinkSource(excludePrefixes []string, log *logrus.Entry) *LinkSource {
	if log == nil {
		log = logrus.WithField("component", "link-source")
	}
	return &LinkSource{
		excludePrefixes: excludePrefixes,
		log:             log,
		last:            make(map[string]OperState),
		known:           make(map[string]bool),
	}
}

func (s *LinkSource) excluded(name string) bool {
	for _, p := range s.excludePrefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func operStateOf(link netlink.Link) OperState {
	switch link.Attrs().OperState.String() {
	case "up":
		return OperUp
	case "down":
		return OperDown
	default:
		return OperUnknown
	}
}

// IncludeFilter returns a predicate usable by CounterSampler's filter
// parameter: true to poll the interface, false to skip it. Mirrors the
// same exclude-prefix rule this source applies to its own snapshot/stream.
func (s *LinkSource) IncludeFilter() func(string) bool {
	return func(name string) bool { return !s.excluded(name) }
}

// InterfaceNames lists the current, non-excluded interface names, for
// components (like the counter sampler) that need to know what to poll.
func (s *LinkSource) InterfaceNames() ([]string, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	return names, nil
}

// Snapshot returns the current operstate of every monitored interface.
func (s *LinkSource) Snapshot() (map[string]OperState, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	out := make(map[string]OperState, len(links))
	for _, l := range links {
		name := l.Attrs().Name
		if s.excluded(name) {
			continue
		}
		out[name] = operStateOf(l)
	}
	return out, nil
}

// Subscribe streams LinkEvent values until ctx is cancelled or the kernel
// channel is closed (a permanent failure, per spec.md §4.1). Transient read
// errors are logged and do not close the returned channel; the caller may
// wrap Subscribe in a Supervisor for automatic restart.
func (s *LinkSource) Subscribe(ctx context.Context) (<-chan LinkEvent, error) {
	updates := make(chan netlink.LinkUpdate)
	done := make(chan struct{})

	errCb := func(err error) {
		s.log.WithError(err).Warn("link subscription error, will resume")
	}

	if err := netlink.LinkSubscribeWithOptions(updates, done, netlink.LinkSubscribeOptions{
		ListExisting:  true,
		ErrorCallback: errCb,
	}); err != nil {
		close(done)
		return nil, fmt.Errorf("subscribe to link updates: %w", err)
	}

	out := make(chan LinkEvent, 64)
	go func() {
		defer close(out)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				ev, emit := s.apply(upd)
				if emit {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// apply updates internal last-seen state and returns the event to emit, if
// any, per the rules in spec.md §4.1: LINK_ADDED for a previously unseen
// interface, LINK_UP / LINK_DOWN on a transition, nothing otherwise.
func (s *LinkSource) apply(upd netlink.LinkUpdate) (LinkEvent, bool) {
	name := upd.Attrs().Name
	if s.excluded(name) {
		return LinkEvent{}, false
	}
	newState := operStateOf(upd.Link)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	wasKnown := s.known[name]
	oldState, hadState := s.last[name]
	s.known[name] = true
	s.last[name] = newState

	ev := LinkEvent{
		Iface:      name,
		IfIndex:    upd.Attrs().Index,
		OperState:  newState,
		Flags:      upd.Attrs().RawFlags,
		OccurredAt: now,
	}

	if !wasKnown {
		ev.Kind = LinkAdded
		return ev, true
	}
	if hadState && oldState == newState {
		return LinkEvent{}, false
	}
	if newState == OperUp {
		ev.Kind = LinkUp
	} else {
		ev.Kind = LinkDown
	}
	return ev, true
}
