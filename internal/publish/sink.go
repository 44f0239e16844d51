package publish

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PartialFailure reports that delivery stopped partway through a batch,
// preserving head-of-line order: events[:FailedAt] were delivered,
// events[FailedAt:] were not.
type PartialFailure struct {
	FailedAt int
	Err      error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("delivery stopped at event %d: %v", e.FailedAt, e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }

// HTTPSink is the request/response sink: one HTTP POST per event.
type HTTPSink struct {
	URL        string
	Client     *http.Client
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

func NewHTTPSink(url string, timeout time.Duration, retryCount int, retryDelay time.Duration) *HTTPSink {
	if retryCount < 1 {
		retryCount = 1
	}
	return &HTTPSink{URL: url, Client: http.DefaultClient, Timeout: timeout, RetryCount: retryCount, RetryDelay: retryDelay}
}

func (s *HTTPSink) Publish(ctx context.Context, events []Envelope) error {
	for i, ev := range events {
		if err := s.publishOne(ctx, ev); err != nil {
			return &PartialFailure{FailedAt: i, Err: err}
		}
	}
	return nil
}

func (s *HTTPSink) publishOne(ctx context.Context, ev Envelope) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < s.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if s.Timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		}
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.URL, bytes.NewReader(body))
		if err != nil {
			if cancel != nil {
				cancel()
			}
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.Client.Do(req)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			// transport error / timeout: retryable
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			// terminal per spec.md §4.6: no retry on HTTP status >= 300
			return fmt.Errorf("publish failed with status %d", resp.StatusCode)
		}
		return nil
	}
	return lastErr
}

func (s *HTTPSink) Close() error { return nil }

// StreamSink is the persistent-connection sink: one websocket message per
// event, reconnecting once on a write error before giving up on that event.
type StreamSink struct {
	URL    string
	Dialer *websocket.Dialer
	log    *logrus.Entry

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewStreamSink(url string, log *logrus.Entry) *StreamSink {
	if log == nil {
		log = logrus.WithField("component", "event-stream-sink")
	}
	return &StreamSink{URL: url, Dialer: websocket.DefaultDialer, log: log}
}

func (s *StreamSink) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	conn, _, err := s.Dialer.Dial(s.URL, nil)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

func (s *StreamSink) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	return s.conn.WriteJSON(v)
}

func (s *StreamSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *StreamSink) Publish(ctx context.Context, events []Envelope) error {
	if err := s.connect(); err != nil {
		return &PartialFailure{FailedAt: 0, Err: err}
	}
	for i, ev := range events {
		if err := s.writeJSON(ev); err != nil {
			s.log.WithError(err).Warn("stream write failed, reconnecting")
			s.reset()
			if err := s.connect(); err != nil {
				return &PartialFailure{FailedAt: i, Err: err}
			}
			if err := s.writeJSON(ev); err != nil {
				return &PartialFailure{FailedAt: i, Err: err}
			}
		}
	}
	return nil
}

func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// QueueSink delivers events onto an in-process channel, used to wire
// same-process subscribers (tests, or an agent feeding its own bus).
type QueueSink struct {
	ch chan Envelope
}

func NewQueueSink(capacity int) *QueueSink {
	return &QueueSink{ch: make(chan Envelope, capacity)}
}

func (s *QueueSink) C() <-chan Envelope { return s.ch }

func (s *QueueSink) Publish(ctx context.Context, events []Envelope) error {
	for i, ev := range events {
		select {
		case s.ch <- ev:
		case <-ctx.Done():
			return &PartialFailure{FailedAt: i, Err: ctx.Err()}
		default:
			return &PartialFailure{FailedAt: i, Err: fmt.Errorf("queue full")}
		}
	}
	return nil
}

func (s *QueueSink) Close() error {
	close(s.ch)
	return nil
}

// CompositeSink fans out to several sinks in parallel, succeeding iff at
// least one child delivered the full batch (spec.md §4.6).
type CompositeSink struct {
	children []Sink
}

func NewCompositeSink(children ...Sink) *CompositeSink {
	return &CompositeSink{children: children}
}

func (s *CompositeSink) Publish(ctx context.Context, events []Envelope) error {
	if len(s.children) == 0 {
		return nil
	}
	results := make([]error, len(s.children))
	var wg sync.WaitGroup
	for i, child := range s.children {
		wg.Add(1)
		go func(i int, child Sink) {
			defer wg.Done()
			results[i] = child.Publish(ctx, events)
		}(i, child)
	}
	wg.Wait()

	for _, err := range results {
		if err == nil {
			return nil
		}
	}
	return results[0]
}

func (s *CompositeSink) Close() error {
	var first error
	for _, child := range s.children {
		if err := child.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
