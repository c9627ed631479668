// Package watcher discovers result files written by collectors and merges
// them into the result of the matching reports.
//
// Collectors write on their own schedule, so the watcher never waits for a
// process to exit: a file that stays untouched for the debounce period is
// parsed, merged over what is already known for the report and the enabled
// platforms it carries data for are marked completed.
//
// Every read-modify-write of a report's result happens under a per-report
// lock, whether it comes from a file event, a rescan, EnsureResultFile or
// MergePlatformData.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sentimentjester/jester/internal/log"
	"github.com/sentimentjester/jester/internal/model"
	"github.com/sentimentjester/jester/internal/parallel"
	"github.com/sentimentjester/jester/internal/report"
	"github.com/sentimentjester/jester/internal/store"
)

const (
	DefaultDebounce    = 2 * time.Second
	defaultConcurrency = 4
	queueSize          = 64
)

// Reports is the part of the Report Service the watcher updates.
type Reports interface {
	Get(id string) (model.Report, error)
	List() []model.Report
	SetPlatformStatus(ctx context.Context, id string, p model.Platform, status model.Status, msg string) (bool, error)
	SetResultFilePath(ctx context.Context, id, path string) (bool, error)
}

type Option func(*Watcher)

// WithDebounce sets how long a file must stay unmodified before it is read.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

type Watcher struct {
	dir      string
	reports  Reports
	debounce time.Duration

	mx     sync.Mutex
	locks  map[string]*sync.Mutex
	cache  map[string][]model.DataPoint
	timers map[string]*time.Timer
	closed bool

	fsw   *fsnotify.Watcher
	queue chan string
	stop  context.CancelFunc
	wg    sync.WaitGroup
}

func New(dir string, reports Reports, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		reports:  reports,
		debounce: DefaultDebounce,
		locks:    make(map[string]*sync.Mutex),
		cache:    make(map[string][]model.DataPoint),
		timers:   make(map[string]*time.Timer),
		queue:    make(chan string, queueSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) Dir() string {
	return w.dir
}

// Start watches the results directory and processes the files already
// present. The watcher runs until Close.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating results dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.fsw = fsw

	ctx, w.stop = context.WithCancel(context.WithoutCancel(ctx))
	ctx = log.ContextAttrs(ctx, slog.String("results_dir", w.dir))
	w.wg.Go(func() { w.loop(ctx, fsw) })
	w.wg.Go(func() { w.work(ctx) })

	if err := w.Rescan(ctx); err != nil {
		slog.WarnContext(ctx, "initial scan", "error", err)
	}
	return nil
}

// Close stops watching. Pending debounced events are dropped.
func (w *Watcher) Close() error {
	w.mx.Lock()
	if w.closed {
		w.mx.Unlock()
		return nil
	}
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mx.Unlock()

	if w.stop != nil {
		w.stop()
	}
	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isResultFile(filepath.Base(ev.Name)) {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.WarnContext(ctx, "file watcher", "error", err)
		}
	}
}

// schedule (re)arms the stability timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mx.Lock()
	defer w.mx.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mx.Lock()
		delete(w.timers, path)
		w.mx.Unlock()
		select {
		case w.queue <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			if err := w.HandleFile(ctx, path); err != nil {
				slog.WarnContext(ctx, "processing result file", "path", path, "error", err)
			}
		}
	}
}

// Rescan processes every result file in the directory.
func (w *Watcher) Rescan(ctx context.Context) error {
	return parallel.Each(ctx, defaultConcurrency, w.files(), w.HandleFile)
}

func (w *Watcher) files() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				yield("", fmt.Errorf("reading results dir: %w", err))
			}
			return
		}
		for _, e := range entries {
			if e.IsDir() || !isResultFile(e.Name()) {
				continue
			}
			if !yield(filepath.Join(w.dir, e.Name()), nil) {
				return
			}
		}
	}
}

// HandleFile merges the file at path into every report it matches. Files
// whose name does not follow the result convention are ignored.
func (w *Watcher) HandleFile(ctx context.Context, path string) error {
	info, err := ParseFileName(filepath.Base(path))
	if err != nil {
		slog.DebugContext(ctx, "ignoring file", "path", path, "reason", err)
		return nil
	}
	var errs []error
	for _, r := range w.reports.List() {
		if !info.Matches(r) {
			continue
		}
		if err := w.process(ctx, r.ID, path); err != nil {
			errs = append(errs, fmt.Errorf("report %s: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Watcher) process(ctx context.Context, id, path string) error {
	ctx = log.ContextAttrs(ctx, slog.String("report_id", id))
	unlock := w.lock(id)
	defer unlock()

	r, err := w.reports.Get(id)
	if err != nil {
		// deleted meanwhile
		return nil
	}
	previous := r.ResultFilePath
	if previous != path {
		if _, err := w.reports.SetResultFilePath(ctx, id, path); err != nil {
			return err
		}
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	var points []model.DataPoint
	if err == nil {
		points, err = model.DecodeSeries(raw)
	}
	if err != nil {
		msg := fmt.Sprintf("invalid result file %s: %v", filepath.Base(path), err)
		slog.WarnContext(ctx, "invalid result file", "path", path, "error", err)
		return w.setAll(ctx, r, model.StatusFailed, msg)
	}

	// the overlay keeps every row of points, so rewriting never drops a
	// value the collector delivered
	combined := points
	if base := w.base(id, previous, path); base != nil {
		combined = model.Overlay(base, points)
	}
	if !model.EqualSeries(combined, points) {
		if err := writeSeries(path, combined); err != nil {
			return err
		}
	}
	w.setCache(id, combined)

	var errs []error
	for _, p := range r.Enabled() {
		if !model.HasScores(points, p) {
			continue
		}
		if _, err := w.reports.SetPlatformStatus(ctx, id, p, model.StatusCompleted, ""); err != nil {
			errs = append(errs, err)
		}
	}
	slog.DebugContext(ctx, "result file merged", "path", path, "rows", len(combined))
	return errors.Join(errs...)
}

// base is the last known merged content of report id: the cached merge
// or, after a restart, the previous result file.
func (w *Watcher) base(id, previous, current string) []model.DataPoint {
	w.mx.Lock()
	cached, ok := w.cache[id]
	w.mx.Unlock()
	if ok {
		return cached
	}
	if previous == "" || previous == current {
		return nil
	}
	raw, err := os.ReadFile(previous)
	if err != nil {
		return nil
	}
	series, err := model.DecodeSeries(raw)
	if err != nil {
		return nil
	}
	return series
}

func (w *Watcher) setAll(ctx context.Context, r model.Report, status model.Status, msg string) error {
	var errs []error
	for _, p := range r.Enabled() {
		if _, err := w.reports.SetPlatformStatus(ctx, r.ID, p, status, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnsureResultFile returns the result file of report id, writing an empty
// day-aligned sequence first if the report has none. Concurrent callers
// observe the same file and existing data is never truncated.
func (w *Watcher) EnsureResultFile(ctx context.Context, id string) (string, error) {
	unlock := w.lock(id)
	defer unlock()
	return w.ensure(ctx, id)
}

func (w *Watcher) ensure(ctx context.Context, id string) (string, error) {
	r, err := w.reports.Get(id)
	if err != nil {
		return "", err
	}
	if r.ResultFilePath != "" {
		if _, err := os.Stat(r.ResultFilePath); err == nil {
			return r.ResultFilePath, nil
		}
	}

	path := r.ResultFilePath
	if path == "" {
		path = filepath.Join(w.dir, report.ResultFileName(r.SubjectName, r.TimeRange))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating results dir: %w", err)
	}
	series := model.EmptySeries(r.TimeRange)
	if err := writeSeries(path, series); err != nil {
		return "", err
	}
	if _, err := w.reports.SetResultFilePath(ctx, id, path); err != nil {
		return "", err
	}
	w.setCache(id, series)
	slog.DebugContext(ctx, "result file created", "report_id", id, "path", path)
	return path, nil
}

// MergePlatformData sets the p value of every row of the result of report
// id that has a counterpart in points. Points outside the day-aligned
// sequence are skipped.
func (w *Watcher) MergePlatformData(ctx context.Context, id string, p model.Platform, points []model.PlatformPoint) error {
	if !p.Valid() {
		return fmt.Errorf("%w: unknown platform", model.ErrInvalidRequest)
	}
	unlock := w.lock(id)
	defer unlock()

	r, err := w.reports.Get(id)
	if err != nil {
		return err
	}
	if !r.Platforms[p] {
		return fmt.Errorf("%w: platform %s not enabled on report %s", model.ErrInvalidRequest, p, id)
	}
	path, err := w.ensure(ctx, id)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading result file: %w", err)
	}
	series, err := model.DecodeSeries(raw)
	if err != nil {
		return fmt.Errorf("result file %s: %w", filepath.Base(path), err)
	}

	idx := make(map[int64]int, len(series))
	for i, d := range series {
		idx[d.Timestamp] = i
	}
	for _, in := range points {
		i, ok := idx[in.Timestamp]
		if !ok || in.Score == nil {
			continue
		}
		series[i].SetScore(p, in.Score)
	}
	if err := writeSeries(path, series); err != nil {
		return err
	}
	w.setCache(id, series)

	if model.HasScores(series, p) {
		if _, err := w.reports.SetPlatformStatus(ctx, id, p, model.StatusCompleted, ""); err != nil {
			return err
		}
	}
	return nil
}

// ResultData returns the merged result of report id.
func (w *Watcher) ResultData(id string) ([]model.DataPoint, error) {
	w.mx.Lock()
	cached, ok := w.cache[id]
	w.mx.Unlock()
	if ok {
		return slices.Clone(cached), nil
	}

	r, err := w.reports.Get(id)
	if err != nil {
		return nil, err
	}
	if r.ResultFilePath == "" {
		return nil, fmt.Errorf("result of report %s: %w", id, model.ErrNotFound)
	}
	raw, err := os.ReadFile(r.ResultFilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("result file of report %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return model.DecodeSeries(raw)
}

// Forget drops the state kept for a deleted report.
func (w *Watcher) Forget(id string) {
	w.mx.Lock()
	defer w.mx.Unlock()
	delete(w.cache, id)
	delete(w.locks, id)
}

func (w *Watcher) lock(id string) func() {
	w.mx.Lock()
	m, ok := w.locks[id]
	if !ok {
		m = new(sync.Mutex)
		w.locks[id] = m
	}
	w.mx.Unlock()
	m.Lock()
	return m.Unlock
}

func (w *Watcher) setCache(id string, series []model.DataPoint) {
	w.mx.Lock()
	w.cache[id] = slices.Clone(series)
	w.mx.Unlock()
}

func writeSeries(path string, series []model.DataPoint) error {
	body, err := model.EncodeSeries(series)
	if err != nil {
		return err
	}
	if err := store.WriteFileAtomic(path, body); err != nil {
		return fmt.Errorf("writing result file: %w", err)
	}
	return nil
}
