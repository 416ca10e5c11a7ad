package query

import (
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "eventdesk/internal/log"
)

// Scheduler drives store maintenance on cron schedules: retention sweeps and
// background refresh of stale observed entries. An empty schedule disables that
// job.
type Scheduler struct {
	store *Store
	cron  *cron.Cron
}

// NewScheduler validates both schedules and registers the jobs. Schedules use the
// standard five-field syntax or descriptors such as "@every 30s".
func NewScheduler(store *Store, sweepSchedule, refreshSchedule string) (*Scheduler, error) {
	s := &Scheduler{
		store: store,
		cron:  cron.New(),
	}

	if sweepSchedule != "" {
		if _, err := s.cron.AddFunc(sweepSchedule, s.sweep); err != nil {
			return nil, fmt.Errorf("sweep schedule %q: %w", sweepSchedule, err)
		}
	}
	if refreshSchedule != "" {
		if _, err := s.cron.AddFunc(refreshSchedule, s.refresh); err != nil {
			return nil, fmt.Errorf("refresh schedule %q: %w", refreshSchedule, err)
		}
	}
	return s, nil
}

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) sweep() {
	if n := s.store.Sweep(s.store.Now()); n > 0 {
		appLog.Debug("query sweep", "evicted", n)
	}
}

func (s *Scheduler) refresh() {
	s.store.RefreshStale()
}
