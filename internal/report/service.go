// Package report owns the lifecycle of Report records.
//
// The Service keeps the authoritative copy of every report in memory and
// writes the whole collection through to the Job Store on each mutation.
// All mutations are serialized by a single lock so concurrent platform
// updates of one report never lose each other's changes. A mutation whose
// write fails leaves the in-memory state untouched.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentimentjester/jester/internal/model"
)

// Store is the whole-collection persistence the Service writes through.
type Store interface {
	GetAll(ctx context.Context) ([]model.Report, error)
	PutAll(ctx context.Context, reports []model.Report) error
}

type Service struct {
	store      Store
	resultsDir string
	now        func() time.Time

	mx      sync.RWMutex
	order   []string
	reports map[string]model.Report
}

type Option func(*Service)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New loads every stored report. It fails when the store cannot be read,
// the Service never starts on top of an unavailable store.
func New(ctx context.Context, store Store, resultsDir string, opts ...Option) (*Service, error) {
	all, err := store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading reports: %w", err)
	}
	s := &Service{
		store:      store,
		resultsDir: resultsDir,
		now:        time.Now,
		reports:    make(map[string]model.Report, len(all)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, r := range all {
		if _, ok := s.reports[r.ID]; ok {
			slog.WarnContext(ctx, "skipping duplicate report", slog.String("report_id", r.ID))
			continue
		}
		s.order = append(s.order, r.ID)
		s.reports[r.ID] = r
	}
	return s, nil
}

// CreateParams describes a new report.
type CreateParams struct {
	SubjectID   string
	SubjectName string
	ReportName  string
	TimeRange   model.TimeRange
	Platforms   map[model.Platform]bool
}

func (p CreateParams) validate() error {
	switch {
	case strings.TrimSpace(p.SubjectID) == "":
		return fmt.Errorf("%w: subject id is required", model.ErrInvalidRequest)
	case strings.TrimSpace(p.SubjectName) == "":
		return fmt.Errorf("%w: subject name is required", model.ErrInvalidRequest)
	case p.TimeRange.End <= p.TimeRange.Start:
		return fmt.Errorf("%w: end %d must be after start %d", model.ErrInvalidRequest, p.TimeRange.End, p.TimeRange.Start)
	}
	enabled := 0
	for p, on := range p.Platforms {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown platform %s", model.ErrInvalidRequest, p)
		}
		if on {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("%w: at least one platform must be enabled", model.ErrInvalidRequest)
	}
	return nil
}

// ResultFileName is the canonical {subject}_{start}_{end} result name.
func ResultFileName(subjectName string, r model.TimeRange) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\':
			return '_'
		}
		return r
	}, strings.TrimSpace(subjectName))
	return fmt.Sprintf("%s_%d_%d%s", name, r.Start, r.End, model.ResultExt)
}

func (s *Service) Create(ctx context.Context, p CreateParams) (model.Report, error) {
	if err := p.validate(); err != nil {
		return model.Report{}, err
	}
	now := s.now().UTC()
	r := model.Report{
		ID:             uuid.NewString(),
		SubjectID:      p.SubjectID,
		SubjectName:    p.SubjectName,
		ReportName:     p.ReportName,
		TimeRange:      p.TimeRange,
		Platforms:      make(map[model.Platform]bool, len(p.Platforms)),
		Status:         model.StatusPending,
		PlatformStatus: make(map[model.Platform]model.Status, len(p.Platforms)),
		ResultFilePath: filepath.Join(s.resultsDir, ResultFileName(p.SubjectName, p.TimeRange)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for pl, on := range p.Platforms {
		r.Platforms[pl] = on
		if on {
			r.PlatformStatus[pl] = model.StatusPending
		}
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	next := append(s.snapshot(), r)
	if err := s.store.PutAll(ctx, next); err != nil {
		return model.Report{}, fmt.Errorf("persisting report: %w", err)
	}
	s.order = append(s.order, r.ID)
	s.reports[r.ID] = r
	return r.Clone(), nil
}

// Get returns a copy of the report or model.ErrNotFound.
func (s *Service) Get(id string) (model.Report, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return model.Report{}, fmt.Errorf("report %s: %w", id, model.ErrNotFound)
	}
	return r.Clone(), nil
}

// List returns copies of every report in creation order.
func (s *Service) List() []model.Report {
	s.mx.RLock()
	defer s.mx.RUnlock()
	ret := make([]model.Report, 0, len(s.order))
	for _, id := range s.order {
		ret = append(ret, s.reports[id].Clone())
	}
	return ret
}

// SetPlatformStatus records the status of one platform and re-derives the
// overall status. It returns false when id is unknown or the platform is not
// enabled on the report. A completed platform stays completed.
func (s *Service) SetPlatformStatus(ctx context.Context, id string, p model.Platform, status model.Status, msg string) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: status %q", model.ErrInvalidRequest, status)
	}
	return s.update(ctx, id, func(r *model.Report) (bool, bool) {
		current, ok := r.PlatformStatus[p]
		if !ok || !r.Platforms[p] {
			return false, false
		}
		if current == model.StatusCompleted && status != model.StatusCompleted {
			slog.DebugContext(ctx, "ignoring transition of completed platform",
				slog.String("report_id", id),
				slog.String("platform", p.String()),
				slog.String("status", string(status)),
			)
			return true, false
		}
		if current == status && (status != model.StatusFailed || r.PlatformErrors[p] == msg) {
			return true, false
		}
		r.PlatformStatus[p] = status
		if status == model.StatusFailed {
			if r.PlatformErrors == nil {
				r.PlatformErrors = make(map[model.Platform]string)
			}
			r.PlatformErrors[p] = msg
		} else {
			delete(r.PlatformErrors, p)
		}
		s.derive(r, fmt.Sprintf("%s: %s", p, msg))
		return true, true
	})
}

// SetOverallStatus is used for failures not attributable to one platform.
// FAILED also fails every enabled platform which has not finished yet, so
// the overall status remains a function of the platform statuses.
func (s *Service) SetOverallStatus(ctx context.Context, id string, status model.Status, msg string) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: status %q", model.ErrInvalidRequest, status)
	}
	return s.update(ctx, id, func(r *model.Report) (bool, bool) {
		if status == model.StatusFailed {
			for _, p := range r.Enabled() {
				if !r.PlatformStatus[p].Terminal() {
					r.PlatformStatus[p] = model.StatusFailed
					if r.PlatformErrors == nil {
						r.PlatformErrors = make(map[model.Platform]string)
					}
					r.PlatformErrors[p] = msg
				}
			}
			r.Status = model.StatusFailed
			r.Error = msg
		} else {
			r.Status = status
		}
		s.derive(r, msg)
		return true, true
	})
}

// SetResultFilePath points the report at a discovered or created result
// file.
func (s *Service) SetResultFilePath(ctx context.Context, id, path string) (bool, error) {
	return s.update(ctx, id, func(r *model.Report) (bool, bool) {
		if r.ResultFilePath == path {
			return true, false
		}
		r.ResultFilePath = path
		return true, true
	})
}

// Delete removes the record only. Processes and files are the caller's
// business.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if _, ok := s.reports[id]; !ok {
		return false, nil
	}
	next := make([]model.Report, 0, len(s.order))
	order := make([]string, 0, len(s.order))
	for _, rid := range s.order {
		if rid != id {
			next = append(next, s.reports[rid])
			order = append(order, rid)
		}
	}
	if err := s.store.PutAll(ctx, next); err != nil {
		return false, fmt.Errorf("persisting reports: %w", err)
	}
	s.order = order
	delete(s.reports, id)
	return true, nil
}

// update applies fn to a copy of report id. fn reports whether the report
// is known and whether it changed; only changes are persisted.
func (s *Service) update(ctx context.Context, id string, fn func(r *model.Report) (found, changed bool)) (bool, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	current, ok := s.reports[id]
	if !ok {
		return false, nil
	}
	r := current.Clone()
	found, changed := fn(&r)
	if !found || !changed {
		return found, nil
	}
	r.UpdatedAt = s.now().UTC()

	next := make([]model.Report, 0, len(s.order))
	for _, rid := range s.order {
		if rid == id {
			next = append(next, r)
			continue
		}
		next = append(next, s.reports[rid])
	}
	if err := s.store.PutAll(ctx, next); err != nil {
		return false, fmt.Errorf("persisting report %s: %w", id, err)
	}
	s.reports[id] = r
	return true, nil
}

func (s *Service) derive(r *model.Report, failure string) {
	r.Status = model.DeriveStatus(r.Status, r.Enabled(), r.PlatformStatus)
	switch r.Status {
	case model.StatusCompleted:
		r.Error = ""
	case model.StatusFailed:
		if r.Error == "" {
			r.Error = failure
		}
	default:
		r.Error = ""
		r.CompletionTime = nil
	}
	if r.Status.Terminal() && r.CompletionTime == nil {
		t := s.now().UTC()
		r.CompletionTime = &t
	}
}

func (s *Service) snapshot() []model.Report {
	ret := make([]model.Report, 0, len(s.order)+1)
	for _, id := range s.order {
		ret = append(ret, s.reports[id])
	}
	return ret
}
