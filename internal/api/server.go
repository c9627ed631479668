// Package api exposes the job API over HTTP/JSON.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sentimentjester/jester/internal/export"
	"github.com/sentimentjester/jester/internal/model"
	"github.com/sentimentjester/jester/internal/orchestrator"
	"github.com/sentimentjester/jester/internal/subject"
)

// maxBody bounds request bodies.
const maxBody = 4 << 20

// Jobs is the job API served over HTTP.
type Jobs interface {
	CreateReport(ctx context.Context, req orchestrator.CreateReportRequest) orchestrator.CreateReportResponse
	ListReports(ctx context.Context) orchestrator.ListReportsResponse
	GetReport(ctx context.Context, id string) orchestrator.GetReportResponse
	CancelReport(ctx context.Context, id string) orchestrator.Response
	DeleteReport(ctx context.Context, id string) orchestrator.Response
	GetReportLog(ctx context.Context, id string) orchestrator.LogResponse
	MergePlatformData(ctx context.Context, id, platform string, points []model.PlatformPoint) orchestrator.Response
	Export(ctx context.Context, id string, f export.Format, w io.Writer) (model.Report, error)
	AddSubject(ctx context.Context, p subject.AddParams) orchestrator.SubjectResponse
	ListSubjects(ctx context.Context) orchestrator.ListSubjectsResponse
	DeleteSubject(ctx context.Context, id string) orchestrator.Response
}

// enveloped is implemented by every job API response.
type enveloped interface {
	Err() error
}

// NewRouter returns the routes of the job API.
func NewRouter(jobs Jobs) *mux.Router {
	h := handler{jobs: jobs}
	r := mux.NewRouter()
	r.HandleFunc("/health", health).Methods(http.MethodGet)

	r.HandleFunc("/reports", h.listReports).Methods(http.MethodGet)
	r.HandleFunc("/reports", h.createReport).Methods(http.MethodPost)
	r.HandleFunc("/reports/{id}", h.getReport).Methods(http.MethodGet)
	r.HandleFunc("/reports/{id}", h.deleteReport).Methods(http.MethodDelete)
	r.HandleFunc("/reports/{id}/cancel", h.cancelReport).Methods(http.MethodPost)
	r.HandleFunc("/reports/{id}/log", h.reportLog).Methods(http.MethodGet)
	r.HandleFunc("/reports/{id}/export", h.exportReport).Methods(http.MethodGet)
	r.HandleFunc("/reports/{id}/platforms/{platform}/data", h.mergeData).Methods(http.MethodPost)

	r.HandleFunc("/subjects", h.listSubjects).Methods(http.MethodGet)
	r.HandleFunc("/subjects", h.addSubject).Methods(http.MethodPost)
	r.HandleFunc("/subjects/{id}", h.deleteSubject).Methods(http.MethodDelete)
	return r
}

// NewServer returns an http.Server serving the job API on addr.
func NewServer(addr string, jobs Jobs) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewRouter(jobs),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type handler struct {
	jobs Jobs
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h handler) createReport(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateReportRequest
	if !decode(w, r, &req) {
		return
	}
	resp := h.jobs.CreateReport(r.Context(), req)
	reply(w, http.StatusCreated, resp)
}

func (h handler) listReports(w http.ResponseWriter, r *http.Request) {
	reply(w, http.StatusOK, h.jobs.ListReports(r.Context()))
}

func (h handler) getReport(w http.ResponseWriter, r *http.Request) {
	reply(w, http.StatusOK, h.jobs.GetReport(r.Context(), mux.Vars(r)["id"]))
}

func (h handler) deleteReport(w http.ResponseWriter, r *http.Request) {
	reply(w, http.StatusOK, h.jobs.DeleteReport(r.Context(), mux.Vars(r)["id"]))
}

func (h handler) cancelReport(w http.ResponseWriter, r *http.Request) {
	reply(w, http.StatusOK, h.jobs.CancelReport(r.Context(), mux.Vars(r)["id"]))
}

func (h handler) reportLog(w http.ResponseWriter, r *http.Request) {
	reply(w, http.StatusOK, h.jobs.GetReportLog(r.Context(), mux.Vars(r)["id"]))
}

func (h handler) mergeData(w http.ResponseWriter, r *http.Request) {
	var points []model.PlatformPoint
	if !decode(w, r, &points) {
		return
	}
	vars := mux.Vars(r)
	reply(w, http.StatusOK, h.jobs.MergePlatformData(r.Context(), vars["id"], vars["platform"], points))
}

// exportReport renders into memory first so a failure can still be
// reported as a JSON error.
func (h handler) exportReport(w http.ResponseWriter, r *http.Request) {
	f, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}
	var buf bytes.Buffer
	rep, err := h.jobs.Export(r.Context(), mux.Vars(r)["id"], f, &buf)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(rep, f)))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.WarnContext(r.Context(), "writing export", "report_id", rep.ID, "error", err)
	}
}

func (h handler) listSubjects(w http.ResponseWriter, r *http.Request) {
	reply(w, http.StatusOK, h.jobs.ListSubjects(r.Context()))
}

func (h handler) addSubject(w http.ResponseWriter, r *http.Request) {
	var p subject.AddParams
	if !decode(w, r, &p) {
		return
	}
	reply(w, http.StatusCreated, h.jobs.AddSubject(r.Context(), p))
}

func (h handler) deleteSubject(w http.ResponseWriter, r *http.Request) {
	reply(w, http.StatusOK, h.jobs.DeleteSubject(r.Context(), mux.Vars(r)["id"]))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, fmt.Errorf("%w: decoding body: %w", model.ErrInvalidRequest, err))
		return false
	}
	return true
}

func reply(w http.ResponseWriter, okStatus int, resp enveloped) {
	status := okStatus
	if err := resp.Err(); err != nil {
		status = statusOf(err)
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), orchestrator.Response{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "error", err)
	}
}
