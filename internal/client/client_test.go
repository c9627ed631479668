package client_test

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/sentimentjester/jester/internal/api"
	"github.com/sentimentjester/jester/internal/client"
	"github.com/sentimentjester/jester/internal/export"
	"github.com/sentimentjester/jester/internal/model"
	"github.com/sentimentjester/jester/internal/orchestrator"
	"github.com/sentimentjester/jester/internal/subject"
	"github.com/stretchr/testify/require"
)

// stubJobs answers every call with canned data for report "r1".
type stubJobs struct {
	merged []model.PlatformPoint
}

var r1 = model.Report{
	ID: "r1", SubjectName: "Bitcoin",
	TimeRange: model.TimeRange{Start: 1714500000, End: 1714600000},
	Platforms: map[model.Platform]bool{model.YouTube: true},
	Status:    model.StatusRunning,
}

func notFound(id string) bool { return id != r1.ID }

func (s *stubJobs) CreateReport(_ context.Context, req orchestrator.CreateReportRequest) orchestrator.CreateReportResponse {
	if req.SubjectID == "" {
		return orchestrator.CreateReportResponse{Response: orchestrator.Failed(model.ErrInvalidRequest)}
	}
	return orchestrator.CreateReportResponse{Response: orchestrator.OK(), ReportID: "r1"}
}

func (s *stubJobs) ListReports(context.Context) orchestrator.ListReportsResponse {
	return orchestrator.ListReportsResponse{Response: orchestrator.OK(), Reports: []model.Report{r1}}
}

func (s *stubJobs) GetReport(_ context.Context, id string) orchestrator.GetReportResponse {
	if notFound(id) {
		return orchestrator.GetReportResponse{Response: orchestrator.Failed(model.ErrNotFound)}
	}
	r := r1
	return orchestrator.GetReportResponse{Response: orchestrator.OK(), Report: &r}
}

func (s *stubJobs) CancelReport(_ context.Context, id string) orchestrator.Response {
	if notFound(id) {
		return orchestrator.Failed(model.ErrNotFound)
	}
	return orchestrator.OK()
}

func (s *stubJobs) DeleteReport(ctx context.Context, id string) orchestrator.Response {
	return s.CancelReport(ctx, id)
}

func (s *stubJobs) GetReportLog(_ context.Context, id string) orchestrator.LogResponse {
	return orchestrator.LogResponse{Response: orchestrator.OK(), LogContent: "[youtube] started pid=1\n"}
}

func (s *stubJobs) MergePlatformData(_ context.Context, id, platform string, points []model.PlatformPoint) orchestrator.Response {
	if platform != model.YouTube.String() {
		return orchestrator.Failed(model.ErrInvalidRequest)
	}
	s.merged = points
	return orchestrator.OK()
}

func (s *stubJobs) Export(_ context.Context, id string, f export.Format, w io.Writer) (model.Report, error) {
	if notFound(id) {
		return model.Report{}, model.ErrNotFound
	}
	return r1, export.Write(w, f, model.EmptySeries(r1.TimeRange))
}

func (s *stubJobs) AddSubject(_ context.Context, p subject.AddParams) orchestrator.SubjectResponse {
	return orchestrator.SubjectResponse{Response: orchestrator.OK(), Subject: &model.Subject{ID: "s1", Name: p.Name}}
}

func (s *stubJobs) ListSubjects(context.Context) orchestrator.ListSubjectsResponse {
	return orchestrator.ListSubjectsResponse{Response: orchestrator.OK(), Subjects: []model.Subject{{ID: "s1", Name: "Bitcoin"}}}
}

func (s *stubJobs) DeleteSubject(_ context.Context, id string) orchestrator.Response {
	return orchestrator.Failed(model.ErrStoreUnavailable)
}

func newClient(t *testing.T) (*client.Client, *stubJobs) {
	t.Helper()
	jobs := &stubJobs{}
	srv := httptest.NewServer(api.NewRouter(jobs))
	t.Cleanup(srv.Close)
	return client.New(srv.URL), jobs
}

func TestClient_Reports(t *testing.T) {
	t.Parallel()
	c, jobs := newClient(t)
	ctx := t.Context()

	id, err := c.CreateReport(ctx, orchestrator.CreateReportRequest{SubjectID: "btc", StartDate: 1714500000, EndDate: 1714600000})
	require.NoError(t, err)
	require.Equal(t, "r1", id)

	_, err = c.CreateReport(ctx, orchestrator.CreateReportRequest{})
	require.ErrorIs(t, err, model.ErrInvalidRequest)

	reports, err := c.ListReports(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, model.StatusRunning, reports[0].Status)
	require.True(t, reports[0].Platforms[model.YouTube])

	got, err := c.GetReport(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "Bitcoin", got.Report.SubjectName)

	_, err = c.GetReport(ctx, "nope")
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, c.CancelReport(ctx, "r1"))
	require.ErrorIs(t, c.DeleteReport(ctx, "nope"), model.ErrNotFound)

	log, err := c.ReportLog(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "[youtube] started pid=1\n", log)

	v := 0.5
	require.NoError(t, c.MergePlatformData(ctx, "r1", model.YouTube, []model.PlatformPoint{{Timestamp: 1714500000, Score: &v}}))
	require.Len(t, jobs.merged, 1)
	require.Equal(t, 0.5, *jobs.merged[0].Score)
	require.ErrorIs(t, c.MergePlatformData(ctx, "r1", model.Reddit, nil), model.ErrInvalidRequest)
}

func TestClient_Export(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)
	ctx := t.Context()

	b, err := c.Export(ctx, "r1", "csv")
	require.NoError(t, err)
	require.Equal(t, "timestamp,date,reddit,twitter,youtube\n1714500000,2024-04-30,,,\n1714586400,2024-05-01,,,\n", string(b))

	_, err = c.Export(ctx, "nope", "csv")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = c.Export(ctx, "r1", "pdf")
	require.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestClient_Subjects(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)
	ctx := t.Context()

	s, err := c.AddSubject(ctx, subject.AddParams{Name: "Bitcoin", Subreddit: "Bitcoin"})
	require.NoError(t, err)
	require.Equal(t, "s1", s.ID)

	subjects, err := c.ListSubjects(ctx)
	require.NoError(t, err)
	require.Len(t, subjects, 1)

	require.ErrorIs(t, c.DeleteSubject(ctx, "s1"), model.ErrStoreUnavailable)
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)
	require.NoError(t, c.Health(t.Context()))

	require.Error(t, client.New("http://127.0.0.1:1").Health(t.Context()))
}
