package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go-monitor-bulletin/internal/bulletin"
)

// Envelope is the response wrapper used by every manager endpoint.
type Envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// EnvelopeError is a response whose code is not zero. Msg is meant to be
// shown to the user as is.
type EnvelopeError struct {
	Code int
	Msg  string
}

func (e *EnvelopeError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("manager returned code %d", e.Code)
	}
	return fmt.Sprintf("manager returned code %d: %s", e.Code, e.Msg)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("manager status=%d", e.Status)
	}
	return fmt.Sprintf("manager status=%d body=%s", e.Status, e.Body)
}

// Message extracts the user-facing text of a failed call.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var envErr *EnvelopeError
	if errors.As(err, &envErr) && envErr.Msg != "" {
		return envErr.Msg
	}
	return err.Error()
}

// Observer receives one callback per upstream call.
type Observer func(operation string, durationSeconds float64, err error)

// Client talks to the monitoring manager (or another bulletin service) over
// the {code,msg,data} envelope API.
type Client struct {
	endpoint string
	http     *http.Client
	observe  Observer
}

// NewClient returns a client for the manager at endpoint. An empty endpoint
// yields a disabled client.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

// WithObserver installs a per-call hook, used for upstream metrics.
func (c *Client) WithObserver(fn Observer) *Client {
	c.observe = fn
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

func (c *Client) Endpoint() string {
	if c == nil {
		return ""
	}
	return c.endpoint
}

// ListDefines fetches one page of bulletin defines. page is zero-based.
func (c *Client) ListDefines(ctx context.Context, page, size int) (bulletin.Page[bulletin.Define], error) {
	q := pageQuery(page, size)
	out, err := call[bulletin.Page[bulletin.Define]](ctx, c, "ListDefines", http.MethodGet, "/api/bulletin?"+q.Encode(), nil)
	return out, err
}

func (c *Client) CreateDefine(ctx context.Context, def bulletin.Define) error {
	_, err := call[json.RawMessage](ctx, c, "CreateDefine", http.MethodPost, "/api/bulletin", def)
	return err
}

func (c *Client) UpdateDefine(ctx context.Context, def bulletin.Define) error {
	_, err := call[json.RawMessage](ctx, c, "UpdateDefine", http.MethodPut, "/api/bulletin", def)
	return err
}

func (c *Client) DeleteDefines(ctx context.Context, names []string) error {
	q := url.Values{}
	for _, n := range names {
		q.Add("names", n)
	}
	_, err := call[json.RawMessage](ctx, c, "DeleteDefines", http.MethodDelete, "/api/bulletin?"+q.Encode(), nil)
	return err
}

// GetReportMetricData fetches the report samples of one page of defines. The
// page is nil when the response carries no data.
func (c *Client) GetReportMetricData(ctx context.Context, page, size int) (*bulletin.Page[bulletin.ReportSample], error) {
	q := pageQuery(page, size)
	return call[*bulletin.Page[bulletin.ReportSample]](ctx, c, "GetReportMetricData", http.MethodGet, "/api/bulletin/metrics?"+q.Encode(), nil)
}

// ListApplications returns app key -> display name.
func (c *Client) ListApplications(ctx context.Context, lang string) (map[string]string, error) {
	q := url.Values{}
	if lang != "" {
		q.Set("lang", lang)
	}
	out, err := call[map[string]string](ctx, c, "ListApplications", http.MethodGet, "/api/apps/defines?"+q.Encode(), nil)
	if out == nil && err == nil {
		out = map[string]string{}
	}
	return out, err
}

func (c *Client) ListMonitorsForApp(ctx context.Context, app string) ([]bulletin.Monitor, error) {
	out, err := call[[]bulletin.Monitor](ctx, c, "ListMonitorsForApp", http.MethodGet, "/api/monitors/"+url.PathEscape(app)+"/app", nil)
	if out == nil && err == nil {
		out = []bulletin.Monitor{}
	}
	return out, err
}

func (c *Client) GetApplicationHierarchy(ctx context.Context, lang, app string) ([]bulletin.HierarchyNode, error) {
	q := url.Values{}
	if lang != "" {
		q.Set("lang", lang)
	}
	out, err := call[[]bulletin.HierarchyNode](ctx, c, "GetApplicationHierarchy", http.MethodGet, "/api/apps/hierarchy/"+url.PathEscape(app)+"?"+q.Encode(), nil)
	if out == nil && err == nil {
		out = []bulletin.HierarchyNode{}
	}
	return out, err
}

// GetMonitorMetricData reads the latest collection of one metric.
func (c *Client) GetMonitorMetricData(ctx context.Context, monitorID int64, metric string) (*bulletin.MetricData, error) {
	path := "/api/monitor/" + strconv.FormatInt(monitorID, 10) + "/metrics/" + url.PathEscape(metric)
	return call[*bulletin.MetricData](ctx, c, "GetMonitorMetricData", http.MethodGet, path, nil)
}

// Ping checks that the manager answers at all.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListApplications(ctx, "")
	return err
}

func pageQuery(page, size int) url.Values {
	q := url.Values{}
	q.Set("pageIndex", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(size))
	return q
}

func call[T any](ctx context.Context, c *Client, operation, method, path string, body any) (T, error) {
	start := time.Now()
	out, err := do[T](ctx, c, method, path, body)
	if c.observe != nil {
		c.observe(operation, time.Since(start).Seconds(), err)
	}
	return out, err
}

func do[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T
	if !c.Enabled() {
		return zero, errors.New("manager endpoint not configured")
	}

	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return zero, err
		}
		reader = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return zero, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		blob, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		// error statuses may still carry an envelope with a message
		var env Envelope[json.RawMessage]
		if json.Unmarshal(blob, &env) == nil && env.Code != 0 {
			return zero, &EnvelopeError{Code: env.Code, Msg: env.Msg}
		}
		return zero, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(blob))}
	}

	var env Envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return zero, fmt.Errorf("decode manager response: %w", err)
	}
	if env.Code != 0 {
		return zero, &EnvelopeError{Code: env.Code, Msg: env.Msg}
	}
	return env.Data, nil
}
