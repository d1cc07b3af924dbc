package autocheckout

import (
	"context"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Scheduler runs the sweep once a day at the cutoff.
type Scheduler struct {
	sweeper *Sweeper
	clock   clockwork.Clock
	log     *zap.SugaredLogger

	afterRun func(Result, error)
}

// NewScheduler wraps a sweeper with a daily timer.
func NewScheduler(sweeper *Sweeper, clock clockwork.Clock, log *zap.SugaredLogger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{sweeper: sweeper, clock: clock, log: log}
}

// Run blocks until ctx is cancelled, sweeping at each cutoff.
func (s *Scheduler) Run(ctx context.Context) {
	cutoff := s.sweeper.Cutoff()
	s.log.Infow("auto-checkout scheduled", "cutoff", cutoff.String())
	for {
		now := s.clock.Now()
		next := cutoff.Next(now)
		timer := s.clock.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		res, err := s.sweeper.Run(ctx)
		if err != nil {
			s.log.Errorw("scheduled auto-checkout failed", "error", err)
		}
		if s.afterRun != nil {
			s.afterRun(res, err)
		}
	}
}
