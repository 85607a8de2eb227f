// Package scheduler drives the daily pipeline trigger (§4.1):
// robfig/cron/v3 fires one invocation per day at a configured
// wall-clock time in a configured region, gated by a single-instance
// lock so a missed firing after downtime coalesces into one run
// instead of replaying, and a concurrent firing during an active run
// is suppressed rather than queued.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc executes one pipeline invocation. categoryHint is forwarded
// from a manual trigger; it is empty for the regular daily firing.
type RunFunc func(ctx context.Context, categoryHint string) error

// FailureHandler is invoked when RunFunc returns an error, so the
// caller can route it to the Notifier without the scheduler importing
// that package directly.
type FailureHandler func(err error)

type Scheduler struct {
	cron          *cron.Cron
	run           RunFunc
	onFailure     FailureHandler
	postingTime   string
	timezone      *time.Location
	location      string
	running       int32 // atomic: 1 while a pipeline run is in flight
	entryID       cron.EntryID
}

// New builds a Scheduler that fires at postingTime ("HH:MM", 24h) in
// the given IANA timezone.
func New(postingTime, timezone string, run RunFunc, onFailure FailureHandler) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}

	c := cron.New(cron.WithLocation(loc))

	return &Scheduler{
		cron:        c,
		run:         run,
		onFailure:   onFailure,
		postingTime: postingTime,
		timezone:    loc,
		location:    timezone,
	}, nil
}

// Start registers the daily cron entry and begins the scheduler's
// background goroutine. It does not block.
func (s *Scheduler) Start() error {
	spec, err := cronSpec(s.postingTime)
	if err != nil {
		return err
	}

	id, err := s.cron.AddFunc(spec, func() {
		s.trigger(context.Background(), "")
	})
	if err != nil {
		return fmt.Errorf("failed to register cron schedule %q: %w", spec, err)
	}
	s.entryID = id

	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for an in-flight run to
// finish, without cancelling it.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// TriggerManual invokes the pipeline immediately, through the same
// single-instance gate the daily firing uses (§4.1 "manual invocation
// ... goes through the same single-instance gate").
func (s *Scheduler) TriggerManual(ctx context.Context, categoryHint string) bool {
	return s.trigger(ctx, categoryHint)
}

// trigger attempts to acquire the single-instance gate and run the
// pipeline; it returns false without running if a run is already in
// flight (the firing is coalesced away, never queued or replayed).
func (s *Scheduler) trigger(ctx context.Context, categoryHint string) bool {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		log.Printf("scheduler: skipping trigger, a pipeline run is already in flight")
		return false
	}
	defer atomic.StoreInt32(&s.running, 0)

	if err := s.run(ctx, categoryHint); err != nil {
		log.Printf("scheduler: pipeline run failed: %v", err)
		if s.onFailure != nil {
			s.onFailure(err)
		}
	}
	return true
}

// State is the scheduler's externally-visible status (§4.1).
type State struct {
	Running     bool
	NextRunAt   time.Time
	PostingTime string
	Timezone    string
}

func (s *Scheduler) State() State {
	var next time.Time
	for _, entry := range s.cron.Entries() {
		if entry.ID == s.entryID {
			next = entry.Next
			break
		}
	}
	return State{
		Running:     atomic.LoadInt32(&s.running) == 1,
		NextRunAt:   next,
		PostingTime: s.postingTime,
		Timezone:    s.location,
	}
}

// cronSpec converts an "HH:MM" wall-clock time into a 5-field cron
// expression that fires once daily at that minute and hour.
func cronSpec(postingTime string) (string, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(postingTime, "%d:%d", &hour, &minute); err != nil {
		return "", fmt.Errorf("invalid posting_time %q, expected HH:MM: %w", postingTime, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid posting_time %q: hour/minute out of range", postingTime)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
