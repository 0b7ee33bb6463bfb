package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const sweepTimeout = time.Minute

type Scheduler struct {
	cron     *cron.Cron
	sweeper  *StaleSweeper
	schedule string
	log      zerolog.Logger
}

func NewScheduler(schedule string, sweeper *StaleSweeper, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		schedule: schedule,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start() error {
	if s.sweeper == nil {
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	swept, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("stale sweep failed")
		return
	}
	if swept > 0 {
		s.log.Info().Int("swept", swept).Msg("stale sweep finished")
	}
}
