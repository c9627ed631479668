// Package orchestrator wires the Job Store, the Report Service, the Process
// Supervisor and the Result Watcher together and exposes the job API.
//
// Construction order is explicit: store, services, journal, watcher,
// supervisor, scheduler. No component reaches for global state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/sentimentjester/jester/internal/export"
	"github.com/sentimentjester/jester/internal/journal"
	"github.com/sentimentjester/jester/internal/model"
	"github.com/sentimentjester/jester/internal/report"
	"github.com/sentimentjester/jester/internal/schedule"
	"github.com/sentimentjester/jester/internal/service"
	"github.com/sentimentjester/jester/internal/store"
	"github.com/sentimentjester/jester/internal/subject"
	"github.com/sentimentjester/jester/internal/watcher"
)

type Orchestrator struct {
	paths     model.Paths
	durations model.Durations
	rescan    model.Rescan

	backend    store.Backend
	reports    *report.Service
	subjects   *subject.Service
	journal    *journal.Journal
	watcher    *watcher.Watcher
	supervisor *service.Supervisor
	scheduler  *schedule.Scheduler

	// ctx is the detached base of every background run
	ctx context.Context
}

// New builds every component from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg model.Config) (*Orchestrator, error) {
	paths, err := cfg.Paths()
	if err != nil {
		return nil, err
	}
	durations, err := cfg.Durations()
	if err != nil {
		return nil, err
	}

	backend, err := store.Open(ctx, cfg.Store, paths.Store)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Type, err)
	}
	o := &Orchestrator{
		paths:     paths,
		durations: durations,
		rescan:    cfg.Rescan,
		backend:   backend,
		ctx:       context.WithoutCancel(ctx),
	}
	if err := o.build(ctx, cfg); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) build(ctx context.Context, cfg model.Config) error {
	var err error
	o.reports, err = report.New(ctx, store.NewCollection[model.Report](o.backend, store.Reports), o.paths.Results)
	if err != nil {
		return fmt.Errorf("initializing reports: %w", err)
	}
	o.subjects, err = subject.New(ctx, store.NewCollection[model.Subject](o.backend, store.Subjects))
	if err != nil {
		return fmt.Errorf("initializing subjects: %w", err)
	}
	o.journal, err = journal.New(o.paths.Logs)
	if err != nil {
		return err
	}
	o.watcher = watcher.New(o.paths.Results, o.reports, watcher.WithDebounce(o.durations.Debounce))
	o.supervisor = service.NewSupervisor(service.Config{
		Collectors: cfg.Collectors,
		ResultsDir: o.paths.Results,
		Timeout:    o.durations.Timeout,
	}, o.reports, o.subjects, o.watcher, o.journal)
	o.scheduler, err = schedule.New()
	return err
}

// Start watches the results directory, schedules the periodic rescan and
// the staggered resumption of interrupted reports.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.watcher.Start(o.ctx); err != nil {
		return err
	}
	err := o.scheduler.Every(ctx, "rescan", o.rescan, func() {
		if err := o.watcher.Rescan(o.ctx); err != nil {
			slog.WarnContext(o.ctx, "rescan", "error", err)
		}
	})
	if err != nil {
		return err
	}

	pending := o.ResumeTargets()
	fns := make([]func(), len(pending))
	for i, r := range pending {
		fns[i] = func() {
			slog.InfoContext(o.ctx, "resuming report", "report_id", r.ID, "status", r.Status)
			o.supervisor.Go(o.ctx, r)
		}
	}
	if err := o.scheduler.Stagger("resume", o.durations.ResumeDelay, fns); err != nil {
		return err
	}
	o.scheduler.Start()
	slog.InfoContext(ctx, "orchestrator started",
		"results_dir", o.paths.Results, "logs_dir", o.paths.Logs, "resume", len(pending))
	return nil
}

// ResumeTargets lists the reports a restart has to pick up: running ones
// and pending ones whose result file was never written.
func (o *Orchestrator) ResumeTargets() []model.Report {
	var ret []model.Report
	for _, r := range o.reports.List() {
		switch r.Status {
		case model.StatusRunning:
			ret = append(ret, r)
		case model.StatusPending:
			if !exists(r.ResultFilePath) {
				ret = append(ret, r)
			}
		}
	}
	return ret
}

// Close stops the background work. Collectors that are still running are
// left alone.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.supervisor.ShutdownAll(ctx)
	var errs []error
	if err := o.scheduler.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("shutting down scheduler: %w", err))
	}
	if err := o.watcher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing watcher: %w", err))
	}
	if err := o.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}

// Wait blocks until every background run has returned.
func (o *Orchestrator) Wait() {
	o.supervisor.Wait()
}

func (o *Orchestrator) Paths() model.Paths {
	return o.paths
}

// Export writes the merged result of report id to w.
func (o *Orchestrator) Export(ctx context.Context, id string, f export.Format, w io.Writer) (model.Report, error) {
	r, err := o.reports.Get(id)
	if err != nil {
		return model.Report{}, err
	}
	data, err := o.resultData(ctx, r)
	if err != nil {
		return r, err
	}
	return r, export.Write(w, f, data)
}

// resultData returns the merged result of r. When the file is gone but some
// platform already delivered, an empty result is synthesized first.
func (o *Orchestrator) resultData(ctx context.Context, r model.Report) ([]model.DataPoint, error) {
	data, err := o.watcher.ResultData(r.ID)
	if !errors.Is(err, model.ErrNotFound) {
		return data, err
	}
	if !partiallyCompleted(r) {
		return nil, err
	}
	if _, err := o.watcher.EnsureResultFile(ctx, r.ID); err != nil {
		return nil, err
	}
	return o.watcher.ResultData(r.ID)
}

func partiallyCompleted(r model.Report) bool {
	if r.Status == model.StatusCompleted {
		return true
	}
	if r.Status != model.StatusRunning {
		return false
	}
	for _, p := range r.Enabled() {
		if r.PlatformStatus[p] == model.StatusCompleted {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
