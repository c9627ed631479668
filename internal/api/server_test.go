package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sentimentjester/jester/internal/api"
	"github.com/sentimentjester/jester/internal/export"
	"github.com/sentimentjester/jester/internal/model"
	"github.com/sentimentjester/jester/internal/orchestrator"
	"github.com/sentimentjester/jester/internal/subject"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	reports  map[string]model.Report
	data     []model.DataPoint
	created  orchestrator.CreateReportRequest
	merged   []model.PlatformPoint
	subjects []model.Subject
	err      error
}

func newFake() *fakeJobs {
	v := 70.0
	return &fakeJobs{
		reports: map[string]model.Report{
			"r1": {
				ID: "r1", SubjectID: "btc", SubjectName: "Bitcoin", ReportName: "weekly",
				TimeRange:      model.TimeRange{Start: 1714500000, End: 1714600000},
				Platforms:      map[model.Platform]bool{model.Reddit: true},
				Status:         model.StatusCompleted,
				PlatformStatus: map[model.Platform]model.Status{model.Reddit: model.StatusCompleted},
			},
		},
		data: []model.DataPoint{{Timestamp: 1714500000, Reddit: &v}},
	}
}

func (f *fakeJobs) get(id string) (model.Report, error) {
	r, ok := f.reports[id]
	if !ok {
		return model.Report{}, model.ErrNotFound
	}
	return r, nil
}

func (f *fakeJobs) CreateReport(_ context.Context, req orchestrator.CreateReportRequest) orchestrator.CreateReportResponse {
	if len(req.Platforms) == 0 {
		return orchestrator.CreateReportResponse{Response: orchestrator.Failed(model.ErrInvalidRequest)}
	}
	f.created = req
	return orchestrator.CreateReportResponse{Response: orchestrator.OK(), ReportID: "r2"}
}

func (f *fakeJobs) ListReports(context.Context) orchestrator.ListReportsResponse {
	var ret []model.Report
	for _, r := range f.reports {
		ret = append(ret, r)
	}
	return orchestrator.ListReportsResponse{Response: orchestrator.OK(), Reports: ret}
}

func (f *fakeJobs) GetReport(_ context.Context, id string) orchestrator.GetReportResponse {
	r, err := f.get(id)
	if err != nil {
		return orchestrator.GetReportResponse{Response: orchestrator.Failed(err)}
	}
	return orchestrator.GetReportResponse{Response: orchestrator.OK(), Report: &r, ResultData: f.data}
}

func (f *fakeJobs) CancelReport(_ context.Context, id string) orchestrator.Response {
	if _, err := f.get(id); err != nil {
		return orchestrator.Failed(err)
	}
	return orchestrator.OK()
}

func (f *fakeJobs) DeleteReport(_ context.Context, id string) orchestrator.Response {
	if _, err := f.get(id); err != nil {
		return orchestrator.Failed(err)
	}
	delete(f.reports, id)
	return orchestrator.OK()
}

func (f *fakeJobs) GetReportLog(_ context.Context, id string) orchestrator.LogResponse {
	if f.err != nil {
		return orchestrator.LogResponse{Response: orchestrator.Failed(f.err)}
	}
	return orchestrator.LogResponse{Response: orchestrator.OK(), LogContent: "[reddit] collector started\n"}
}

func (f *fakeJobs) MergePlatformData(_ context.Context, id, platform string, points []model.PlatformPoint) orchestrator.Response {
	if _, err := model.ParsePlatform(platform); err != nil {
		return orchestrator.Failed(err)
	}
	if _, err := f.get(id); err != nil {
		return orchestrator.Failed(err)
	}
	f.merged = points
	return orchestrator.OK()
}

func (f *fakeJobs) Export(_ context.Context, id string, format export.Format, w io.Writer) (model.Report, error) {
	r, err := f.get(id)
	if err != nil {
		return model.Report{}, err
	}
	return r, export.Write(w, format, f.data)
}

func (f *fakeJobs) AddSubject(_ context.Context, p subject.AddParams) orchestrator.SubjectResponse {
	if p.Name == "" {
		return orchestrator.SubjectResponse{Response: orchestrator.Failed(model.ErrInvalidRequest)}
	}
	s := model.Subject{ID: "s1", Name: p.Name}
	f.subjects = append(f.subjects, s)
	return orchestrator.SubjectResponse{Response: orchestrator.OK(), Subject: &s}
}

func (f *fakeJobs) ListSubjects(context.Context) orchestrator.ListSubjectsResponse {
	return orchestrator.ListSubjectsResponse{Response: orchestrator.OK(), Subjects: f.subjects}
}

func (f *fakeJobs) DeleteSubject(_ context.Context, id string) orchestrator.Response {
	return orchestrator.Failed(model.ErrNotFound)
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, rd))
	return w
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		method   string
		target   string
		body     string
		status   int
		success  bool
	}{
		{"list", http.MethodGet, "/reports", "", http.StatusOK, true},
		{"get", http.MethodGet, "/reports/r1", "", http.StatusOK, true},
		{"get unknown", http.MethodGet, "/reports/nope", "", http.StatusNotFound, false},
		{"create", http.MethodPost, "/reports", `{"subjectId":"btc","startDate":"2024-05-01","endDate":1714600000,"platforms":{"reddit":true}}`, http.StatusCreated, true},
		{"create invalid", http.MethodPost, "/reports", `{"subjectId":"btc"}`, http.StatusBadRequest, false},
		{"create bad json", http.MethodPost, "/reports", `{"subjectId":`, http.StatusBadRequest, false},
		{"create bad platform", http.MethodPost, "/reports", `{"platforms":{"myspace":true}}`, http.StatusBadRequest, false},
		{"cancel", http.MethodPost, "/reports/r1/cancel", "", http.StatusOK, true},
		{"cancel unknown", http.MethodPost, "/reports/nope/cancel", "", http.StatusNotFound, false},
		{"log", http.MethodGet, "/reports/r1/log", "", http.StatusOK, true},
		{"merge", http.MethodPost, "/reports/r1/platforms/reddit/data", `[{"timestamp":1714500000,"score":1}]`, http.StatusOK, true},
		{"merge bad platform", http.MethodPost, "/reports/r1/platforms/myspace/data", `[]`, http.StatusBadRequest, false},
		{"subjects", http.MethodGet, "/subjects", "", http.StatusOK, true},
		{"add subject", http.MethodPost, "/subjects", `{"name":"Bitcoin","subreddit":"Bitcoin"}`, http.StatusCreated, true},
		{"add subject invalid", http.MethodPost, "/subjects", `{}`, http.StatusBadRequest, false},
		{"delete subject", http.MethodDelete, "/subjects/s9", "", http.StatusNotFound, false},
		{"delete", http.MethodDelete, "/reports/r1", "", http.StatusOK, true},
	}
	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			h := api.NewRouter(newFake())
			w := serve(t, h, tt.method, tt.target, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			require.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp orchestrator.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Equal(t, tt.success, resp.Success)
			if !tt.success {
				require.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestCreateReport_Dates(t *testing.T) {
	t.Parallel()
	jobs := newFake()
	w := serve(t, api.NewRouter(jobs), http.MethodPost, "/reports",
		`{"subjectId":"btc","subjectName":"Bitcoin","reportName":"x","startDate":"2024-05-01","endDate":"1714600000","platforms":{"twitter":true}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp orchestrator.CreateReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "r2", resp.ReportID)
	require.Equal(t, orchestrator.Date(1714521600), jobs.created.StartDate)
	require.Equal(t, orchestrator.Date(1714600000), jobs.created.EndDate)
	require.Equal(t, map[model.Platform]bool{model.Twitter: true}, jobs.created.Platforms)
}

func TestGetReport(t *testing.T) {
	t.Parallel()
	w := serve(t, api.NewRouter(newFake()), http.MethodGet, "/reports/r1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Equal(t, true, raw["success"])
	rep := raw["report"].(map[string]any)
	require.Equal(t, map[string]any{"reddit": "completed"}, rep["platformStatus"])
	data := raw["resultData"].([]any)
	require.Len(t, data, 1)
	require.Equal(t, map[string]any{"timestamp": 1714500000.0, "reddit": 70.0, "twitter": nil, "youtube": nil}, data[0])
}

func TestExport(t *testing.T) {
	t.Parallel()
	h := api.NewRouter(newFake())

	w := serve(t, h, http.MethodGet, "/reports/r1/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="Bitcoin_1714500000_1714600000.csv"`, w.Header().Get("Content-Disposition"))
	require.Equal(t, "timestamp,date,reddit,twitter,youtube\n1714500000,2024-04-30,70,,\n", w.Body.String())

	w = serve(t, h, http.MethodGet, "/reports/r1/export?format=excel", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, export.XLSX.ContentType(), w.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(w.Body.String(), "PK"), "xlsx is a zip archive")

	w = serve(t, h, http.MethodGet, "/reports/r1/export?format=pdf", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = serve(t, h, http.MethodGet, "/reports/nope/export", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestLog_Errors(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    error
		then     int
	}{
		{"missing", model.ErrNotFound, http.StatusNotFound},
		{"store", model.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			jobs := newFake()
			jobs.err = tt.given
			w := serve(t, api.NewRouter(jobs), http.MethodGet, "/reports/r1/log", "")
			require.Equal(t, tt.then, w.Code)
		})
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	w := serve(t, api.NewRouter(newFake()), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = serve(t, api.NewRouter(newFake()), http.MethodPost, "/health", "")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
