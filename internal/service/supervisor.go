package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sentimentjester/jester/internal/journal"
	"github.com/sentimentjester/jester/internal/log"
	"github.com/sentimentjester/jester/internal/model"
)

var (
	ErrTimeout        = errors.New("collector timed out")
	ErrCancelled      = errors.New("terminated by user")
	ErrAlreadyRunning = errors.New("report already running")
	ErrCollectorSetup = errors.New("collector setup failed")
	ErrShutdown       = errors.New("supervisor shut down")
)

// DefaultTimeout is the per-platform collector deadline.
const DefaultTimeout = 30 * time.Minute

// Environment passed to every collector on top of the host environment.
const (
	EnvReportID   = "JESTER_REPORT_ID"
	EnvResultsDir = "JESTER_RESULTS_DIR"
	EnvPlatform   = "JESTER_PLATFORM"
)

// Reports is the part of the Report Service the Supervisor drives.
type Reports interface {
	Get(id string) (model.Report, error)
	SetPlatformStatus(ctx context.Context, id string, p model.Platform, status model.Status, msg string) (bool, error)
	SetOverallStatus(ctx context.Context, id string, status model.Status, msg string) (bool, error)
}

type Subjects interface {
	Get(id string) (model.Subject, error)
}

// ResultFiles creates the empty result of a report before collectors run.
type ResultFiles interface {
	EnsureResultFile(ctx context.Context, id string) (string, error)
}

type Config struct {
	Collectors model.Collectors
	ResultsDir string
	Timeout    time.Duration
	WaitDelay  time.Duration
}

type Supervisor struct {
	cfg      Config
	reports  Reports
	subjects Subjects
	files    ResultFiles
	journal  *journal.Journal

	mx     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup
}

// run tracks the live state of one report execution. Guarded by
// Supervisor.mx.
type run struct {
	stream    *journal.Stream
	procs     map[model.Platform]*proc
	cancelled bool
}

type proc struct {
	runner *Runner
	cancel context.CancelCauseFunc
	timer  *time.Timer
}

func NewSupervisor(cfg Config, reports Reports, subjects Subjects, files ResultFiles, j *journal.Journal) *Supervisor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	return &Supervisor{
		cfg:      cfg,
		reports:  reports,
		subjects: subjects,
		files:    files,
		journal:  j,
		runs:     make(map[string]*run),
	}
}

// Go runs the report in the background. Errors are recorded on the report
// and logged.
func (s *Supervisor) Go(ctx context.Context, r model.Report) {
	s.wg.Go(func() {
		err := s.Run(ctx, r)
		switch {
		case err == nil:
		case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrShutdown):
			slog.WarnContext(ctx, "run skipped", "report_id", r.ID, "error", err)
		default:
			slog.ErrorContext(ctx, "run failed", "report_id", r.ID, "error", err)
		}
	})
}

// Wait blocks until every run started by Go has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Running reports whether report id has a live run.
func (s *Supervisor) Running(id string) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	_, ok := s.runs[id]
	return ok
}

// Run executes every enabled collector of report r concurrently and returns
// once all of them have settled. A platform which has already completed is
// not run again. The returned error is the first platform failure; the
// report itself carries the detail of every platform.
//
// Collector processes are detached from ctx: they stop on timeout, Cancel
// or their own, never because ctx is done.
func (s *Supervisor) Run(ctx context.Context, r model.Report) error {
	ctx = log.ContextAttrs(context.WithoutCancel(ctx), slog.String("report_id", r.ID))

	stream, err := s.journal.Open(r.ID)
	if err != nil {
		return fmt.Errorf("opening report log: %w", err)
	}
	ru, err := s.track(r.ID, stream)
	if err != nil {
		_ = stream.Close()
		return err
	}
	defer s.untrack(ctx, r.ID)

	// statuses may have moved since r was read, a cancelled report stays put
	r, err = s.reports.Get(r.ID)
	if err != nil {
		stream.Printf("error: %v", err)
		return err
	}
	if r.Status.Terminal() {
		stream.Printf("report already %s: nothing to run", r.Status)
		return nil
	}

	stream.Printf("=== report %s (%s) subject=%q window=[%d, %d) platforms=%s started=%s",
		r.ID, r.ReportName, r.SubjectName, r.TimeRange.Start, r.TimeRange.End,
		platformList(r.Enabled()), time.Now().UTC().Format(time.RFC3339))

	// setup errors fail the report before it is ever marked running
	subject, err := s.subjects.Get(r.SubjectID)
	if err != nil {
		return s.setupFailure(ctx, stream, r.ID, fmt.Sprintf("subject %s: %v", r.SubjectID, err))
	}

	path, err := s.files.EnsureResultFile(ctx, r.ID)
	if err != nil {
		return s.setupFailure(ctx, stream, r.ID, fmt.Sprintf("creating result file: %v", err))
	}
	stream.Printf("result file %s", path)

	if _, err := s.reports.SetOverallStatus(ctx, r.ID, model.StatusRunning, ""); err != nil {
		stream.Printf("error: %v", err)
		return fmt.Errorf("marking report running: %w", err)
	}

	var g errgroup.Group
	for _, p := range r.Enabled() {
		if r.PlatformStatus[p] == model.StatusCompleted {
			stream.Printf("[%s] already completed: skipping", p)
			continue
		}
		g.Go(func() error {
			return s.runPlatform(ctx, ru, r, subject, p)
		})
	}
	err = g.Wait()

	if final, gerr := s.reports.Get(r.ID); gerr == nil {
		stream.Printf("=== finished status=%s", final.Status)
	}
	return err
}

func (s *Supervisor) setupFailure(ctx context.Context, stream *journal.Stream, id, msg string) error {
	stream.Printf("setup error: %s", msg)
	if _, err := s.reports.SetOverallStatus(ctx, id, model.StatusFailed, msg); err != nil {
		return errors.Join(fmt.Errorf("%w: %s", ErrCollectorSetup, msg), err)
	}
	return fmt.Errorf("%w: %s", ErrCollectorSetup, msg)
}

func (s *Supervisor) runPlatform(ctx context.Context, ru *run, r model.Report, subject model.Subject, p model.Platform) error {
	ctx = log.ContextAttrs(ctx, slog.String("platform", p.String()))
	stream := ru.stream

	cmd, err := s.command(ctx, r, subject, p)
	if err != nil {
		// setup errors skip RUNNING and no timer is armed
		stream.Printf("[%s] setup error: %v", p, err)
		if _, serr := s.reports.SetPlatformStatus(ctx, r.ID, p, model.StatusFailed, err.Error()); serr != nil {
			slog.ErrorContext(ctx, "recording platform failure", "error", serr)
		}
		return fmt.Errorf("%s: %w", p, err)
	}

	if _, err := s.reports.SetPlatformStatus(ctx, r.ID, p, model.StatusRunning, ""); err != nil {
		stream.Printf("[%s] error: %v", p, err)
		return fmt.Errorf("%s: %w", p, err)
	}

	pctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	pr := &proc{runner: NewRunner(), cancel: cancel}

	s.mx.Lock()
	if ru.cancelled || s.closed {
		cancelled := ru.cancelled
		s.mx.Unlock()
		if cancelled {
			s.fail(ctx, stream, r.ID, p, ErrCancelled.Error())
			return fmt.Errorf("%s: %w", p, ErrCancelled)
		}
		return fmt.Errorf("%s: %w", p, ErrShutdown)
	}
	ru.procs[p] = pr

	var lastStderr string
	lineFunc := func(_ context.Context, source, line string) {
		if source == "stderr" && strings.TrimSpace(line) != "" {
			lastStderr = line
		}
		stream.Line(p.String()+":"+source, line)
	}
	// the timer is armed under the lock so Cancel and ShutdownAll always see it
	if err := pr.runner.Start(pctx, cmd, lineFunc); err != nil {
		delete(ru.procs, p)
		s.mx.Unlock()
		msg := fmt.Sprintf("starting collector: %v", err)
		s.fail(ctx, stream, r.ID, p, msg)
		return fmt.Errorf("%s: %w", p, err)
	}
	timeout := s.cfg.Timeout
	pr.timer = time.AfterFunc(timeout, func() {
		stream.Printf("[%s] timed out after %s: terminating", p, timeout)
		cancel(ErrTimeout)
	})
	s.mx.Unlock()

	pid := pr.runner.Pid()
	stream.Printf("[%s] started pid=%d cmd=%s %s", p, pid, cmd.Path, strings.Join(cmd.Args, " "))
	slog.DebugContext(ctx, "collector started", "pid", pid, "cmd", cmd.Path)

	<-pr.runner.Done()

	s.mx.Lock()
	pr.timer.Stop()
	delete(ru.procs, p)
	closed := s.closed
	s.mx.Unlock()

	res := pr.runner.Result()
	cause := context.Cause(pctx)
	stream.Printf("[%s] exited code=%d after %s", p, res.ExitCode(), res.Stopped.Sub(res.Started).Round(time.Millisecond))

	switch {
	case closed:
		return fmt.Errorf("%s: %w", p, ErrShutdown)
	case errors.Is(cause, ErrTimeout):
		s.fail(ctx, stream, r.ID, p, fmt.Sprintf("timed out after %s", timeout))
		return fmt.Errorf("%s: %w", p, ErrTimeout)
	case errors.Is(cause, ErrCancelled):
		return fmt.Errorf("%s: %w", p, ErrCancelled)
	case res.Err == nil && res.ExitCode() == 0:
		if _, err := s.reports.SetPlatformStatus(ctx, r.ID, p, model.StatusCompleted, ""); err != nil {
			slog.ErrorContext(ctx, "recording platform success", "error", err)
			return fmt.Errorf("%s: %w", p, err)
		}
		return nil
	default:
		msg := exitMessage(res, lastStderr)
		s.fail(ctx, stream, r.ID, p, msg)
		return fmt.Errorf("%s: %s", p, msg)
	}
}

func (s *Supervisor) fail(ctx context.Context, stream *journal.Stream, id string, p model.Platform, msg string) {
	stream.Printf("[%s] failed: %s", p, msg)
	if _, err := s.reports.SetPlatformStatus(ctx, id, p, model.StatusFailed, msg); err != nil {
		slog.ErrorContext(ctx, "recording platform failure", "error", err)
	}
}

func exitMessage(res Result, lastStderr string) string {
	var exitErr *exec.ExitError
	var msg string
	switch {
	case errors.As(res.Err, &exitErr) || (res.Err == nil && res.State != nil):
		msg = "collector exited with code " + strconv.Itoa(res.ExitCode())
	case res.Err != nil:
		msg = "collector error: " + res.Err.Error()
	default:
		msg = "collector exited abnormally"
	}
	if lastStderr != "" {
		msg += ": " + lastStderr
	}
	return msg
}

// Cancel stops every live collector of report id and fails each platform
// which has not finished. Platforms already completed are left alone, so
// cancelling a finished report changes nothing. Calling it again is a no-op.
func (s *Supervisor) Cancel(ctx context.Context, id string) error {
	s.mx.Lock()
	ru := s.runs[id]
	var procs []*proc
	if ru != nil && !ru.cancelled {
		ru.cancelled = true
		for _, pr := range ru.procs {
			if pr.timer != nil {
				pr.timer.Stop()
			}
			procs = append(procs, pr)
		}
		if ru.stream != nil {
			ru.stream.Printf("cancel requested: terminating %d collector(s)", len(procs))
		}
	}
	s.mx.Unlock()

	for _, pr := range procs {
		pr.cancel(ErrCancelled)
	}

	r, err := s.reports.Get(id)
	if err != nil {
		return err
	}
	incomplete := false
	for _, p := range r.Enabled() {
		if !r.PlatformStatus[p].Terminal() {
			incomplete = true
			break
		}
	}
	if !incomplete {
		return nil
	}
	if _, err := s.reports.SetOverallStatus(ctx, id, model.StatusFailed, ErrCancelled.Error()); err != nil {
		return fmt.Errorf("recording cancellation: %w", err)
	}
	return nil
}

// ShutdownAll stops every pending timer and closes every report log. It does
// NOT signal collectors: they are detached, keep running and write their
// results on their own; the watcher picks them up on the next start.
func (s *Supervisor) ShutdownAll(ctx context.Context) {
	s.mx.Lock()
	s.closed = true
	streams := make([]*journal.Stream, 0, len(s.runs))
	for _, ru := range s.runs {
		for _, pr := range ru.procs {
			if pr.timer != nil {
				pr.timer.Stop()
			}
		}
		streams = append(streams, ru.stream)
	}
	s.mx.Unlock()

	for _, st := range streams {
		st.Printf("supervisor shutting down: collectors left running")
		if err := st.Close(); err != nil {
			slog.ErrorContext(ctx, "closing report log", "error", err)
		}
	}
	if err := s.journal.CloseAll(); err != nil {
		slog.ErrorContext(ctx, "closing report logs", "error", err)
	}
}

func (s *Supervisor) track(id string, stream *journal.Stream) (*run, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	if _, ok := s.runs[id]; ok {
		return nil, fmt.Errorf("%s: %w", id, ErrAlreadyRunning)
	}
	ru := &run{stream: stream, procs: make(map[model.Platform]*proc)}
	s.runs[id] = ru
	return ru, nil
}

func (s *Supervisor) untrack(ctx context.Context, id string) {
	s.mx.Lock()
	ru := s.runs[id]
	delete(s.runs, id)
	s.mx.Unlock()
	if ru == nil {
		return
	}
	if err := ru.stream.Close(); err != nil {
		slog.ErrorContext(ctx, "closing report log", "error", err)
	}
	// deleted while running: nobody else removes the log
	if _, err := s.reports.Get(id); errors.Is(err, model.ErrNotFound) {
		if err := s.journal.Remove(id); err != nil {
			slog.WarnContext(ctx, "removing report log", "error", err)
		}
	}
}

// command expands the collector definition of p. Every error is a setup
// error wrapping ErrCollectorSetup.
func (s *Supervisor) command(ctx context.Context, r model.Report, subject model.Subject, p model.Platform) (Command, error) {
	c := s.cfg.Collectors.For(p)
	if c == nil {
		return Command{}, fmt.Errorf("%w: no collector configured for %s", ErrCollectorSetup, p)
	}
	ident := subject.Identifier(p)
	if ident == "" {
		return Command{}, fmt.Errorf("%w: subject %s has no %s identifier", ErrCollectorSetup, subject.Name, p)
	}
	path, err := exec.LookPath(c.Path)
	if err != nil {
		return Command{}, fmt.Errorf("%w: collector executable %q not found: %w", ErrCollectorSetup, c.Path, err)
	}

	repl := strings.NewReplacer(
		"{subject}", ident,
		"{start}", strconv.FormatInt(r.TimeRange.Start, 10),
		"{end}", strconv.FormatInt(r.TimeRange.End, 10),
	)
	var args []string
	if c.Script != "" {
		script := c.Script
		if !filepath.IsAbs(script) && c.Dir != "" {
			script = filepath.Join(c.Dir, script)
		}
		if _, err := os.Stat(script); err != nil {
			return Command{}, fmt.Errorf("%w: collector script %s not found", ErrCollectorSetup, script)
		}
		args = append(args, script)
	}
	for _, a := range c.Args {
		args = append(args, repl.Replace(a))
	}

	env, err := s.environ(ctx, c, r.ID, p)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Path:      path,
		Args:      args,
		Env:       env,
		Dir:       c.Dir,
		WaitDelay: s.cfg.WaitDelay,
	}, nil
}

func (s *Supervisor) environ(ctx context.Context, c *model.Collector, id string, p model.Platform) ([]string, error) {
	env := os.Environ()
	if c.EnvFile != "" {
		envFile := c.EnvFile
		if !filepath.IsAbs(envFile) && c.Dir != "" {
			envFile = filepath.Join(c.Dir, envFile)
		}
		vars, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.DebugContext(ctx, "collector env file missing", "path", envFile)
		case err != nil:
			return nil, fmt.Errorf("%w: reading %s: %w", ErrCollectorSetup, envFile, err)
		default:
			for _, k := range slices.Sorted(maps.Keys(vars)) {
				env = append(env, k+"="+vars[k])
			}
		}
	}
	for _, k := range slices.Sorted(maps.Keys(c.Env)) {
		env = append(env, k+"="+c.Env[k])
	}
	return append(env,
		EnvReportID+"="+id,
		EnvResultsDir+"="+s.cfg.ResultsDir,
		EnvPlatform+"="+p.String(),
	), nil
}

func platformList(ps []model.Platform) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.String()
	}
	return strings.Join(names, ",")
}
