package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sentimentjester/jester/internal/model"
	"github.com/sentimentjester/jester/internal/report"
	"github.com/sentimentjester/jester/internal/subject"
)

// Response is the envelope of every job API call. Failures are carried in
// Error, the underlying cause is kept for transports mapping it to their
// own status codes.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	err     error
}

func OK() Response {
	return Response{Success: true}
}

// Failed wraps err into a failed response.
func Failed(err error) Response {
	return Response{Error: err.Error(), err: err}
}

// Err returns the cause of a failed call.
func (r Response) Err() error {
	return r.err
}

type CreateReportRequest struct {
	SubjectID   string                  `json:"subjectId"`
	SubjectName string                  `json:"subjectName"`
	ReportName  string                  `json:"reportName"`
	StartDate   Date                    `json:"startDate"`
	EndDate     Date                    `json:"endDate"`
	Platforms   map[model.Platform]bool `json:"platforms"`
}

type CreateReportResponse struct {
	Response
	ReportID string `json:"reportId,omitempty"`
}

type ListReportsResponse struct {
	Response
	Reports []model.Report `json:"reports"`
}

type GetReportResponse struct {
	Response
	Report     *model.Report     `json:"report,omitempty"`
	ResultData []model.DataPoint `json:"resultData,omitempty"`
}

type LogResponse struct {
	Response
	LogContent string `json:"logContent,omitempty"`
}

type SubjectResponse struct {
	Response
	Subject *model.Subject `json:"subject,omitempty"`
}

type ListSubjectsResponse struct {
	Response
	Subjects []model.Subject `json:"subjects"`
}

// CreateReport records a new report and starts it in the background. It
// returns as soon as the report is persisted.
func (o *Orchestrator) CreateReport(ctx context.Context, req CreateReportRequest) CreateReportResponse {
	name := strings.TrimSpace(req.SubjectName)
	if name == "" && req.SubjectID != "" {
		if subj, err := o.subjects.Get(req.SubjectID); err == nil {
			name = subj.Name
		}
	}
	r, err := o.reports.Create(ctx, report.CreateParams{
		SubjectID:   req.SubjectID,
		SubjectName: name,
		ReportName:  req.ReportName,
		TimeRange:   model.TimeRange{Start: int64(req.StartDate), End: int64(req.EndDate)},
		Platforms:   req.Platforms,
	})
	if err != nil {
		return CreateReportResponse{Response: Failed(err)}
	}
	slog.InfoContext(ctx, "report created", "report_id", r.ID, "subject", r.SubjectName, "platforms", len(r.Enabled()))
	o.supervisor.Go(o.ctx, r)
	return CreateReportResponse{Response: OK(), ReportID: r.ID}
}

func (o *Orchestrator) ListReports(_ context.Context) ListReportsResponse {
	return ListReportsResponse{Response: OK(), Reports: o.reports.List()}
}

// GetReport returns the report together with its merged result when one
// can be read or synthesized. A corrupt result file fails the call but the
// report is still returned.
func (o *Orchestrator) GetReport(ctx context.Context, id string) GetReportResponse {
	r, err := o.reports.Get(id)
	if err != nil {
		return GetReportResponse{Response: Failed(err)}
	}
	data, err := o.resultData(ctx, r)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNotFound):
	default:
		return GetReportResponse{Response: Failed(fmt.Errorf("reading result file: %w", err)), Report: &r}
	}
	// status may have moved while the result was synthesized
	if fresh, err := o.reports.Get(id); err == nil {
		r = fresh
	}
	return GetReportResponse{Response: OK(), Report: &r, ResultData: data}
}

func (o *Orchestrator) CancelReport(ctx context.Context, id string) Response {
	if err := o.supervisor.Cancel(ctx, id); err != nil {
		return Failed(err)
	}
	return OK()
}

// DeleteReport cancels the report, removes its record and then, best
// effort, its result file and log.
func (o *Orchestrator) DeleteReport(ctx context.Context, id string) Response {
	r, err := o.reports.Get(id)
	if err != nil {
		return Failed(err)
	}
	if err := o.supervisor.Cancel(ctx, id); err != nil {
		slog.WarnContext(ctx, "cancelling deleted report", "report_id", id, "error", err)
	}
	if _, err := o.reports.Delete(ctx, id); err != nil {
		return Failed(err)
	}
	o.watcher.Forget(id)
	if r.ResultFilePath != "" {
		if err := os.Remove(r.ResultFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.WarnContext(ctx, "removing result file", "report_id", id, "path", r.ResultFilePath, "error", err)
		}
	}
	if !o.supervisor.Running(id) {
		if err := o.journal.Remove(id); err != nil {
			slog.WarnContext(ctx, "removing report log", "report_id", id, "error", err)
		}
	}
	return OK()
}

func (o *Orchestrator) GetReportLog(_ context.Context, id string) LogResponse {
	b, err := o.journal.Read(id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			err = fmt.Errorf("log file not found: %w", err)
		}
		return LogResponse{Response: Failed(err)}
	}
	return LogResponse{Response: OK(), LogContent: string(b)}
}

// MergePlatformData is the push path of collectors which hand their output
// over instead of writing a result file.
func (o *Orchestrator) MergePlatformData(ctx context.Context, id string, platform string, points []model.PlatformPoint) Response {
	p, err := model.ParsePlatform(platform)
	if err != nil {
		return Failed(err)
	}
	if err := o.watcher.MergePlatformData(ctx, id, p, points); err != nil {
		return Failed(err)
	}
	return OK()
}

func (o *Orchestrator) AddSubject(ctx context.Context, p subject.AddParams) SubjectResponse {
	s, err := o.subjects.Add(ctx, p)
	if err != nil {
		return SubjectResponse{Response: Failed(err)}
	}
	return SubjectResponse{Response: OK(), Subject: &s}
}

func (o *Orchestrator) ListSubjects(_ context.Context) ListSubjectsResponse {
	return ListSubjectsResponse{Response: OK(), Subjects: o.subjects.List()}
}

func (o *Orchestrator) DeleteSubject(ctx context.Context, id string) Response {
	found, err := o.subjects.Delete(ctx, id)
	if err != nil {
		return Failed(err)
	}
	if !found {
		return Failed(fmt.Errorf("subject %s: %w", id, model.ErrNotFound))
	}
	return OK()
}
