package approval

import (
	"context"

	"github.com/conduit-ci/conduit/pkg/log"
	"github.com/robfig/cron"
)

// Sweeper periodically applies the approval timeout to every
// pending approval, so gates resolve even when no executor is
// polling them (for example after a process restart).
type Sweeper struct {
	svc  Approval
	cron *cron.Cron
}

// NewSweeper builds a sweeper that runs the timeout check on
// the given cron schedule (for example "@every 1m").
func NewSweeper(svc Approval, schedule string) (*Sweeper, error) {
	s := &Sweeper{
		svc:  svc,
		cron: cron.New(),
	}

	if err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins sweeping until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
}

// Sweep runs one pass over all pending approvals.
func (s *Sweeper) Sweep() {
	pending, err := s.svc.Pending()
	if err != nil {
		log.Error("approval sweep failure", "error", err)
		return
	}

	for _, a := range pending {
		timedOut, err := s.svc.CheckTimeout(a.ID)
		if err != nil {
			log.Error("approval timeout check failure",
				"id", a.ID, "error", err)
			continue
		}
		if timedOut {
			log.Warn("approval force-rejected by sweeper", "id", a.ID)
		}
	}
}
