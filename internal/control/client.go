package control

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"camera2url/internal/api"
	"camera2url/internal/capture"
)

// ErrDaemonUnreachable is returned when no daemon answers on the control address.
var ErrDaemonUnreachable = errors.New("daemon is not reachable")

// Client talks to a running daemon's control API.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the control API at addr (host:port or URL).
func NewClient(addr string, timeout time.Duration) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	r := resty.New().
		SetBaseURL(addr).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: r}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx).SetError(&errorResponse{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*errorResponse); ok && e.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, e.Error, resp.StatusCode())
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode())
	}
	return nil
}

// Status fetches GET /status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, resty.MethodGet, "/status", nil, &out)
	return out, err
}

// History fetches GET /history. A limit of 0 returns every record.
func (c *Client) History(ctx context.Context, limit int) (HistoryResponse, error) {
	path := "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out HistoryResponse
	err := c.do(ctx, resty.MethodGet, path, nil, &out)
	return out, err
}

// ClearHistory calls DELETE /history.
func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, resty.MethodDelete, "/history", nil, nil)
}

// Capture requests a manual capture.
func (c *Client) Capture(ctx context.Context) (capture.Status, error) {
	var out capture.Status
	err := c.do(ctx, resty.MethodPost, "/capture", nil, &out)
	return out, err
}

// StartTimer starts timer mode. A zero request keeps the daemon's policy.
func (c *Client) StartTimer(ctx context.Context, req TimerRequest) (capture.Status, error) {
	var out capture.Status
	err := c.do(ctx, resty.MethodPost, "/timer/start", req, &out)
	return out, err
}

// StopTimer stops timer mode.
func (c *Client) StopTimer(ctx context.Context) (capture.Status, error) {
	var out capture.Status
	err := c.do(ctx, resty.MethodPost, "/timer/stop", nil, &out)
	return out, err
}

// ReloadTarget asks the daemon to adopt the store's current target.
func (c *Client) ReloadTarget(ctx context.Context) error {
	return c.do(ctx, resty.MethodPost, "/targets/reload", nil, nil)
}

// Targets fetches GET /targets.
func (c *Client) Targets(ctx context.Context) ([]api.TargetConfig, error) {
	var out []api.TargetConfig
	err := c.do(ctx, resty.MethodGet, "/targets", nil, &out)
	return out, err
}
