package ifacestate

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Supervisor restarts LinkSource.Subscribe as soon as its channel closes
// (a permanent failure per spec.md §4.1). A Subscribe call that fails is
// retried with exponential backoff capped at maxWait; restarts after a
// closed channel are not delayed.
// This is the supplemented feature named in SPEC_FULL.md §7, grounded on the
// original Python agent's main-loop supervisor and on the teacher's
// controller/k8s/watcher.go backoff style.
type Supervisor struct {
	source  *LinkSource
	log     *logrus.Entry
	maxWait time.Duration
}

func NewSupervisor(source *LinkSource, log *logrus.Entry) *Supervisor {
	if log == nil {
		log = logrus.WithField("component", "link-supervisor")
	}
	return &Supervisor{source: source, log: log, maxWait: 30 * time.Second}
}

// Run feeds every LinkEvent from every incarnation of the source into out,
// until ctx is cancelled.
func (sv *Supervisor) Run(ctx context.Context, out chan<- LinkEvent) {
	backoff := wait.Backoff{
		Duration: 200 * time.Millisecond,
		Factor:   2,
		Cap:      sv.maxWait,
		Steps:    1000,
	}

	for {
		if ctx.Err() != nil {
			return
		}

		events, err := sv.source.Subscribe(ctx)
		if err != nil {
			sv.log.WithError(err).Error("failed to start link subscription, retrying")
			sleep := backoff.Step()
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return
			}
			continue
		}

		backoff = wait.Backoff{Duration: 200 * time.Millisecond, Factor: 2, Cap: sv.maxWait, Steps: 1000}

		for ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		sv.log.Warn("link subscription closed, restarting")
	}
}
