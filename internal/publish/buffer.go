package publish

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultBufferSize = 1000

// BufferedPublisher wraps a Sink with the buffer-on-failure FIFO and
// optional batching described in spec.md §4.6. Publish delivers to the
// underlying sink synchronously once a batch is full, so it blocks for the
// duration of that sink call; a failed delivery stays queued and is retried
// by a periodic flush, in head-of-line order.
type BufferedPublisher struct {
	sink          Sink
	bufferSize    int
	batchSize     int
	flushInterval time.Duration
	log           *logrus.Entry

	mu          sync.Mutex
	buf         []Envelope
	cooldownTil time.Time
}

func NewBufferedPublisher(sink Sink, bufferSize, batchSize int, flushInterval time.Duration, log *logrus.Entry) *BufferedPublisher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if batchSize < 1 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	if log == nil {
		log = logrus.WithField("component", "event-publisher")
	}
	return &BufferedPublisher{sink: sink, bufferSize: bufferSize, batchSize: batchSize, flushInterval: flushInterval, log: log}
}

// Publish enqueues ev and attempts a flush once at least batchSize events
// are queued; a smaller backlog waits for more events or for the periodic
// flush in Run. On a full buffer the oldest queued event is dropped (and a
// warning logged) to make room.
func (p *BufferedPublisher) Publish(ctx context.Context, ev Envelope) {
	p.mu.Lock()
	if len(p.buf) >= p.bufferSize {
		dropped := p.buf[0]
		p.buf = p.buf[1:]
		p.log.WithField("type", dropped.Type).Warn("publish buffer full, dropping oldest event")
	}
	p.buf = append(p.buf, ev)
	batchReady := len(p.buf) >= p.batchSize
	p.mu.Unlock()

	if batchReady {
		p.tryFlush(ctx)
	}
}

// Run drives the periodic flush that retries the head of the buffer.
func (p *BufferedPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tryFlush(ctx)
		}
	}
}

// tryFlush sends up to batchSize events from the front of the buffer in one
// Sink.Publish call. On partial or total failure it stops at the first
// undelivered event and leaves it (and everything after it) queued (spec.md
// §4.6 "on failure, stop flushing"). When nothing at all was delivered,
// further flushes are skipped for one flushInterval.
func (p *BufferedPublisher) tryFlush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buf) == 0 || time.Now().Before(p.cooldownTil) {
		p.mu.Unlock()
		return
	}
	n := p.batchSize
	if n > len(p.buf) {
		n = len(p.buf)
	}
	chunk := make([]Envelope, n)
	copy(chunk, p.buf[:n])
	p.mu.Unlock()

	err := p.sink.Publish(ctx, chunk)

	delivered := n
	if err != nil {
		delivered = 0
		if pf, ok := err.(*PartialFailure); ok {
			delivered = pf.FailedAt
		}
		p.log.WithError(err).Warn("publish flush stopped partway, will retry")
	}

	if delivered == 0 {
		p.mu.Lock()
		p.cooldownTil = time.Now().Add(p.flushInterval)
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.buf = p.buf[delivered:]
	p.mu.Unlock()
}

// Pending returns the number of events currently queued, for tests/metrics.
func (p *BufferedPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}
