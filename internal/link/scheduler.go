package link

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/flightpath-dev/flightcore/internal/protocol/mavlink"
)

// HeartbeatInterval matches the teacher's sendGroundStationMessages loop.
const HeartbeatInterval = time.Second

// MaxPollInterval is the cap spec.md §4.5 places on any subscriber
// requested periodic rate (20 Hz).
const MaxPollInterval = time.Second / 20

// Scheduler drives the Link's periodic work: the ground-station
// heartbeat, MAVLink data-stream/message-interval requests, and a
// single-flight MSP poll loop. Grounded on
// flightpath-server/internal/mavlink/client.go's sendGroundStationMessages
// goroutine, generalised from "one fixed loop" to a registrable set of
// periodic jobs.
type Scheduler struct {
	link *Link

	mspPollBusy atomic.Bool
}

// NewScheduler wraps l.
func NewScheduler(l *Link) *Scheduler {
	return &Scheduler{link: l}
}

// RunHeartbeat resends heartbeat() every HeartbeatInterval until ctx is
// cancelled or the Link closes, matching the teacher's GCS heartbeat
// loop (it also sent SYSTEM_TIME on the same tick — callers that want
// that can pass a closure composing both sends).
func (s *Scheduler) RunHeartbeat(ctx context.Context, heartbeat func() mavlink.Message) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.link.Done():
			return
		case <-ticker.C:
			_ = s.link.WriteMavlink(heartbeat())
		}
	}
}

// PollJob is one entry in the MSP round-robin poll loop.
type PollJob struct {
	Name string
	Send func() error
}

// RunMSPPoll round-robins jobs at interval (clamped to MaxPollInterval),
// skipping a tick rather than queuing it if the previous poll hasn't
// completed yet — the non-reentrant guard spec.md §4.5 requires so a
// slow FC never gets requests stacked against it.
func (s *Scheduler) RunMSPPoll(ctx context.Context, interval time.Duration, jobs []PollJob) {
	if len(jobs) == 0 {
		return
	}
	if interval < MaxPollInterval {
		interval = MaxPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.link.Done():
			return
		case <-ticker.C:
			if !s.mspPollBusy.CompareAndSwap(false, true) {
				continue // previous poll still in flight; skip this tick
			}
			job := jobs[i%len(jobs)]
			i++
			go func() {
				defer s.mspPollBusy.Store(false)
				_ = job.Send()
			}()
		}
	}
}
