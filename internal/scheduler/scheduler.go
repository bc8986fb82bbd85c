package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per scheduled run with the calendar day it covers.
type TickFunc func(ctx context.Context, day time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Hour         int
	Minute       int
	Location     *time.Location
	StartupDelay time.Duration
}

// Scheduler fires a job once a day at a fixed wall-clock time.
type Scheduler struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Hour < 0 || opts.Hour > 23 || opts.Minute < 0 || opts.Minute > 59 {
		return nil, fmt.Errorf("invalid run time %02d:%02d", opts.Hour, opts.Minute)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run blocks, invoking tick at each daily run time until ctx is cancelled.
// A failing tick is logged and does not stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		next := s.NextRun(s.now())
		timer := time.NewTimer(time.Until(next))
		s.logger.Info().Time("next_run", next).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		day := RunDay(next)
		s.logger.Info().Time("day", day).Msg("executing scheduled run")
		if err := tick(ctx, day); err != nil {
			s.logger.Error().Err(err).Time("day", day).Msg("scheduled run failed")
		}
	}
}

// NextRun returns the first configured run time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.opts.Location)
	y, m, d := local.Date()
	next := time.Date(y, m, d, s.opts.Hour, s.opts.Minute, 0, 0, s.opts.Location)
	if !next.After(local) {
		next = time.Date(y, m, d+1, s.opts.Hour, s.opts.Minute, 0, 0, s.opts.Location)
	}
	return next
}

// RunDay maps a run instant to the calendar day it ranks, expressed as UTC midnight.
func RunDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
