// Package client talks to a running jester server over its HTTP job API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sentimentjester/jester/internal/model"
	"github.com/sentimentjester/jester/internal/orchestrator"
	"github.com/sentimentjester/jester/internal/subject"
)

type Client struct {
	client *resty.Client
}

func New(baseURL string) *Client {
	return &Client{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "jester-cli/1.0"),
	}
}

func (c *Client) CreateReport(ctx context.Context, req orchestrator.CreateReportRequest) (string, error) {
	var out orchestrator.CreateReportResponse
	if err := c.do(ctx, http.MethodPost, "/reports", req, &out); err != nil {
		return "", err
	}
	return out.ReportID, nil
}

func (c *Client) ListReports(ctx context.Context) ([]model.Report, error) {
	var out orchestrator.ListReportsResponse
	if err := c.do(ctx, http.MethodGet, "/reports", nil, &out); err != nil {
		return nil, err
	}
	return out.Reports, nil
}

func (c *Client) GetReport(ctx context.Context, id string) (orchestrator.GetReportResponse, error) {
	var out orchestrator.GetReportResponse
	err := c.do(ctx, http.MethodGet, "/reports/"+id, nil, &out)
	return out, err
}

func (c *Client) CancelReport(ctx context.Context, id string) error {
	var out orchestrator.Response
	return c.do(ctx, http.MethodPost, "/reports/"+id+"/cancel", nil, &out)
}

func (c *Client) DeleteReport(ctx context.Context, id string) error {
	var out orchestrator.Response
	return c.do(ctx, http.MethodDelete, "/reports/"+id, nil, &out)
}

func (c *Client) ReportLog(ctx context.Context, id string) (string, error) {
	var out orchestrator.LogResponse
	if err := c.do(ctx, http.MethodGet, "/reports/"+id+"/log", nil, &out); err != nil {
		return "", err
	}
	return out.LogContent, nil
}

func (c *Client) MergePlatformData(ctx context.Context, id string, p model.Platform, points []model.PlatformPoint) error {
	var out orchestrator.Response
	return c.do(ctx, http.MethodPost, "/reports/"+id+"/platforms/"+p.String()+"/data", points, &out)
}

// Export returns the rendered result of report id in format (csv or xlsx).
func (c *Client) Export(ctx context.Context, id, format string) ([]byte, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("format", format).
		Get("/reports/" + id + "/export")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		var out orchestrator.Response
		_ = json.Unmarshal(resp.Body(), &out)
		return nil, apiError(resp.StatusCode(), out.Error)
	}
	return resp.Body(), nil
}

func (c *Client) AddSubject(ctx context.Context, p subject.AddParams) (model.Subject, error) {
	var out orchestrator.SubjectResponse
	if err := c.do(ctx, http.MethodPost, "/subjects", p, &out); err != nil {
		return model.Subject{}, err
	}
	if out.Subject == nil {
		return model.Subject{}, errors.New("server returned no subject")
	}
	return *out.Subject, nil
}

func (c *Client) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	var out orchestrator.ListSubjectsResponse
	if err := c.do(ctx, http.MethodGet, "/subjects", nil, &out); err != nil {
		return nil, err
	}
	return out.Subjects, nil
}

func (c *Client) DeleteSubject(ctx context.Context, id string) error {
	var out orchestrator.Response
	return c.do(ctx, http.MethodDelete, "/subjects/"+id, nil, &out)
}

// Health returns nil when the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode())
	}
	return nil
}

// do sends body as JSON and decodes the envelope into out. A response
// without success is returned as an error.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	var env orchestrator.Response
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%s %s: status %d: decoding response: %w", method, path, resp.StatusCode(), err)
	}
	if !env.Success {
		return apiError(resp.StatusCode(), env.Error)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

// apiError maps an HTTP status back to the sentinel errors of the server.
func apiError(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", model.ErrNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", model.ErrInvalidRequest, msg)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", model.ErrStoreUnavailable, msg)
	}
	return fmt.Errorf("server error %d: %s", status, msg)
}
