package flowstate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StreamDialer opens the long-lived connection to the cluster-wide flow
// observer and returns a reader yielding one JSON flow record per line. This
// is the one canonical C4 transport chosen per spec.md §9 (the line-
// delimited JSON fallback was the only load-bearing path in the original).
type StreamDialer interface {
	Dial(ctx context.Context) (io.ReadCloser, error)
}

// HTTPStreamDialer dials a chunked HTTP GET against the observer's flow
// endpoint.
type HTTPStreamDialer struct {
	URL    string
	Client *http.Client
}

func (d HTTPStreamDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("observer returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Observer is C4: connects to a StreamDialer, decodes line-delimited JSON
// flow records, and folds them through a Tracker, preserving Tracker state
// across reconnects. A closed stream is re-dialed at once; a failed dial is
// retried with exponential backoff capped at maxWait.
type Observer struct {
	dialer  StreamDialer
	tracker *Tracker
	log     *logrus.Entry
	maxWait time.Duration
}

func NewObserver(dialer StreamDialer, tracker *Tracker, log *logrus.Entry) *Observer {
	if log == nil {
		log = logrus.WithField("component", "flow-observer")
	}
	return &Observer{dialer: dialer, tracker: tracker, log: log, maxWait: 5 * time.Second}
}

// Run connects, streams, and reconnects until ctx is cancelled, emitting
// LinkStateChange events to out.
func (o *Observer) Run(ctx context.Context, out chan<- LinkStateChange) {
	backoff := wait.Backoff{Duration: 200 * time.Millisecond, Factor: 2, Cap: o.maxWait, Steps: 1000}

	for {
		if ctx.Err() != nil {
			return
		}
		body, err := o.dialer.Dial(ctx)
		if err != nil {
			o.log.WithError(err).Warn("failed to connect to flow observer, retrying")
			sleep := backoff.Step()
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = wait.Backoff{Duration: 200 * time.Millisecond, Factor: 2, Cap: o.maxWait, Steps: 1000}

		o.consume(ctx, body, out)
		body.Close()

		if ctx.Err() != nil {
			return
		}
		o.log.Warn("flow observer stream closed, reconnecting")
	}
}

func (o *Observer) consume(ctx context.Context, body io.Reader, out chan<- LinkStateChange) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			o.log.WithError(err).Debug("dropping unparseable flow record line")
			continue
		}
		ev, ok := o.tracker.Apply(rec)
		if !ok {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
