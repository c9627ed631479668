// Package schedule runs the time based background work of the orchestrator:
// the staggered resumption of interrupted reports and the periodic rescan of
// the results directory.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/sentimentjester/jester/internal/model"
)

type Scheduler struct {
	s gocron.Scheduler
}

func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	return &Scheduler{s: s}, nil
}

// Start runs the jobs added so far and the ones added later.
func (s *Scheduler) Start() {
	s.s.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.s.Shutdown()
}

// After runs fn once, d from now.
func (s *Scheduler) After(name string, d time.Duration, fn func()) error {
	start := gocron.OneTimeJobStartImmediately()
	if d > 0 {
		start = gocron.OneTimeJobStartDateTime(time.Now().Add(d))
	}
	_, err := s.s.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(fn),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	return nil
}

// Stagger runs fns one after another, delay apart, the first one delay from
// now.
func (s *Scheduler) Stagger(name string, delay time.Duration, fns []func()) error {
	var errs []error
	for i, fn := range fns {
		if err := s.After(fmt.Sprintf("%s-%d", name, i), time.Duration(i+1)*delay, fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Every adds a recurring job defined by cfg, either cron or duration based.
// An empty cfg adds nothing.
func (s *Scheduler) Every(ctx context.Context, name string, cfg model.Rescan, fn func()) error {
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		if err := ParseCron(cfg.Cron); err != nil {
			return fmt.Errorf("parsing %s cron: %w", name, err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron, "job", name)
	case cfg.Duration != "":
		d, err := model.ParseCueDuration(cfg.Duration)
		if err != nil {
			return fmt.Errorf("parsing %s duration: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("parsing %s duration: must be positive", name)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String(), "job", name)
	default:
		return nil
	}

	_, err := s.s.NewJob(
		job,
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("initializing gocron job %s: %w", name, err)
	}
	return nil
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.s.Jobs())
}
