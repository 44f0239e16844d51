package ifacestate

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// CounterReader abstracts reading a single interface's counters and speed,
// so tests can substitute a fake without touching the kernel.
type CounterReader interface {
	Read(iface string) (Counters, int, error) // returns counters, speedMbps(-1=unknown)
}

// netlinkCounterReader reads counters via netlink and speed via sysfs, the
// only place Linux exposes link speed outside of ethtool ioctls.
type netlinkCounterReader struct{}

// NewNetlinkCounterReader returns the real, kernel-backed CounterReader.
func NewNetlinkCounterReader() CounterReader {
	return netlinkCounterReader{}
}

func (netlinkCounterReader) Read(iface string) (Counters, int, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return Counters{}, -1, err
	}
	stats := link.Attrs().Statistics
	c := Counters{SampleTime: time.Now()}
	if stats != nil {
		c.RxBytes = stats.RxBytes
		c.TxBytes = stats.TxBytes
		c.RxPackets = stats.RxPackets
		c.TxPackets = stats.TxPackets
		c.RxErrors = stats.RxErrors
		c.TxErrors = stats.TxErrors
		c.RxDropped = stats.RxDropped
		c.TxDropped = stats.TxDropped
	}
	return c, readSpeedMbps(iface), nil
}

func readSpeedMbps(iface string) int {
	raw, err := os.ReadFile("/sys/class/net/" + iface + "/speed")
	if err != nil {
		return -1
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || v <= 0 {
		return -1
	}
	return v
}

type ifaceCounterState struct {
	last         Counters
	haveLast     bool
	zeroStreak   int
	emittedState TrafficState
}

// CounterSampler is C2: a periodic byte/packet-counter poller that derives
// ACTIVE/IDLE traffic state with hysteresis.
type CounterSampler struct {
	reader       CounterReader
	pollInterval time.Duration
	idleN        int
	filter       func(iface string) bool
	log          *logrus.Entry

	mu     sync.Mutex
	state  map[string]*ifaceCounterState
	ifaces func() []string
}

// NewCounterSampler builds C2. ifaces returns the current set of interfaces
// to poll each tick (normally sourced from C1's snapshot/known set).
func NewCounterSampler(reader CounterReader, pollInterval time.Duration, idleThresholdSamples int, filter func(string) bool, ifaces func() []string, log *logrus.Entry) *CounterSampler {
	if reader == nil {
		reader = netlinkCounterReader{}
	}
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	if idleThresholdSamples <= 0 {
		idleThresholdSamples = 5
	}
	if filter == nil {
		filter = func(string) bool { return true }
	}
	if log == nil {
		log = logrus.WithField("component", "counter-sampler")
	}
	return &CounterSampler{
		reader:       reader,
		pollInterval: pollInterval,
		idleN:        idleThresholdSamples,
		filter:       filter,
		ifaces:       ifaces,
		log:          log,
		state:        make(map[string]*ifaceCounterState),
	}
}

// Run polls on a ticker and sends TrafficStateChange events to out whenever
// the hysteresis rule flips the emitted state. Blocks until ctx is done.
func (c *CounterSampler) Run(ctx context.Context, out chan<- TrafficStateChange) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(out)
		}
	}
}

func (c *CounterSampler) tick(out chan<- TrafficStateChange) {
	now := time.Now()
	for _, iface := range c.ifaces() {
		if !c.filter(iface) {
			continue
		}
		sample, speedMbps, err := c.reader.Read(iface)
		if err != nil {
			// missing counter files (iface disappeared): ignored per spec.md §4.2
			continue
		}
		sample.SampleTime = now

		c.mu.Lock()
		st, ok := c.state[iface]
		if !ok {
			st = &ifaceCounterState{emittedState: TrafficUnknown}
			c.state[iface] = st
		}

		if !st.haveLast {
			// No previous sample: there is no delta to evaluate yet, so this
			// tick only establishes the baseline (spec.md §4.2, E1/E2).
			st.last = sample
			st.haveLast = true
			c.mu.Unlock()
			continue
		}

		var rates Rates
		var util float64

		dt := sample.SampleTime.Sub(st.last.SampleTime)
		if dt <= 0 {
			dt = c.pollInterval
		}
		dRx, rxWrapped := deltaUint64(st.last.RxBytes, sample.RxBytes)
		dTx, txWrapped := deltaUint64(st.last.TxBytes, sample.TxBytes)
		dRxP, _ := deltaUint64(st.last.RxPackets, sample.RxPackets)
		dTxP, _ := deltaUint64(st.last.TxPackets, sample.TxPackets)

		if rxWrapped {
			dRx = 0
		}
		if txWrapped {
			dTx = 0
		}

		secs := dt.Seconds()
		if secs > 0 {
			rates.RxBps = float64(dRx) / secs
			rates.TxBps = float64(dTx) / secs
			rates.RxPps = float64(dRxP) / secs
			rates.TxPps = float64(dTxP) / secs
		}
		if speedMbps > 0 {
			capacity := float64(speedMbps) * 1e6 / 8
			u := rates.RxBps
			if rates.TxBps > u {
				u = rates.TxBps
			}
			util = clamp01(u / capacity)
		}
		active := dRx > 0 || dTx > 0

		st.last = sample

		newState := st.emittedState
		if active {
			st.zeroStreak = 0
			newState = TrafficActive
		} else {
			st.zeroStreak++
			if st.zeroStreak >= c.idleN {
				newState = TrafficIdle
			} else {
				newState = st.emittedState
			}
		}

		changed := newState != st.emittedState
		old := st.emittedState
		if changed {
			st.emittedState = newState
		}
		c.mu.Unlock()

		if changed {
			select {
			case out <- TrafficStateChange{
				Iface:    iface,
				Old:      old,
				New:      newState,
				Metrics:  sample,
				Rates:    rates,
				Util:     util,
				SampleAt: now,
			}:
			default:
				c.log.WithField("iface", iface).Warn("traffic-state channel full, dropping event")
			}
		}
	}
}

// deltaUint64 computes b-a, treating b<a as a 64-bit counter wraparound and
// reporting "no delta this tick" per spec.md §4.2.
func deltaUint64(a, b uint64) (uint64, bool) {
	if b < a {
		return 0, true
	}
	return b - a, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
