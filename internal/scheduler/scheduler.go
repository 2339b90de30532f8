package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every scheduled tick.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour. A non-empty Cron takes precedence over Interval.
type Options struct {
	Interval     time.Duration
	Cron         string
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives periodic execution of price update runs.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	logger   zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}

	switch {
	case opts.Cron != "":
		schedule, err := cron.ParseStandard(opts.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron spec %q: %w", opts.Cron, err)
		}
		s.schedule = schedule
	case opts.Interval > 0:
		s.schedule = intervalSchedule{interval: opts.Interval, align: opts.AlignToStart}
	default:
		return nil, fmt.Errorf("scheduler needs a positive interval or a cron spec")
	}
	return s, nil
}

// Run blocks, invoking the tick function at each scheduled time until ctx is cancelled.
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

	next := s.schedule.Next(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.schedule.Next(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.logger.Info().Time("tick", next).Msg("executing scheduled tick")
		if err := tick(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("tick", next).Msg("tick execution failed")
		}

		next = s.schedule.Next(next)
	}
}

// intervalSchedule fires every interval, optionally aligned to interval boundaries.
type intervalSchedule struct {
	interval time.Duration
	align    bool
}

func (s intervalSchedule) Next(now time.Time) time.Time {
	if !s.align {
		return now.Add(s.interval)
	}
	bucket := now.Truncate(s.interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.interval)
	}
	return bucket
}

var _ cron.Schedule = intervalSchedule{}
