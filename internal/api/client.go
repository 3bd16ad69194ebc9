// Package api implements the upload client: it turns a photo and a
// TargetConfig into a single multipart HTTP exchange and classifies the
// outcome, producing text summaries of both sides for diagnostics.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrInvalidURL is wrapped by ParseTargetURL failures.
var ErrInvalidURL = errors.New("invalid target url")

// Client is the HTTP client wrapper used to deliver photos.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	HTTPClient *http.Client // underlying http.Client, no overall request timeout

	now      func() time.Time
	boundary func() string
}

// NewClient creates a client with connection pooling. Only dial and TLS
// handshake timeouts are set; an upload itself is not time-limited.
func NewClient() *Client {
	return &Client{
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// ParseTargetURL checks that raw is an absolute http or https URL with a host.
func ParseTargetURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// Upload sends photo to target as multipart/form-data. On success it returns
// the exchange; every failure is returned as *UploadErrorReport.
func (c *Client) Upload(ctx context.Context, photo []byte, target TargetConfig) (UploadExchange, error) {
	notBuilt := fmt.Sprintf("Could not build request for %s.", target.URL)

	u, err := ParseTargetURL(target.URL)
	if err != nil {
		return UploadExchange{}, &UploadErrorReport{Message: "Invalid URL.", RequestSummary: notBuilt, cause: err}
	}

	verb := target.Verb
	if verb == "" {
		verb = DefaultVerb
	}
	if !verb.Valid() {
		return UploadExchange{}, &UploadErrorReport{
			Message:        fmt.Sprintf("Unsupported method %s.", verb),
			RequestSummary: notBuilt,
		}
	}

	body, payload, err := c.buildBody(photo, target.Note)
	if err != nil {
		return UploadExchange{}, &UploadErrorReport{Message: "Could not build request body.", RequestSummary: notBuilt, cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, string(verb), u.String(), bytes.NewReader(payload))
	if err != nil {
		return UploadExchange{}, &UploadErrorReport{Message: "Invalid URL.", RequestSummary: notBuilt, cause: err}
	}
	req.ContentLength = int64(len(payload))
	req.Header.Set("Content-Type", body.contentType())
	req.Header.Set("Content-Length", strconv.Itoa(len(payload)))

	requestSummary := body.requestSummary(string(verb), u.String(), req.Header)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return UploadExchange{}, &UploadErrorReport{
			Message:        "Network error: " + err.Error(),
			RequestSummary: requestSummary,
			cause:          err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 100 || resp.StatusCode > 999 {
		return UploadExchange{}, &UploadErrorReport{
			Message:        "Unexpected response type.",
			RequestSummary: requestSummary,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return UploadExchange{}, &UploadErrorReport{
			Message:        "Network error: failed to read response body: " + err.Error(),
			RequestSummary: requestSummary,
			cause:          err,
		}
	}

	responseSummary := describeResponse(resp, data)
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return UploadExchange{
			StatusCode:      resp.StatusCode,
			RequestSummary:  requestSummary,
			ResponseSummary: responseSummary,
		}, nil
	}

	return UploadExchange{}, &UploadErrorReport{
		Message:         fmt.Sprintf("Server returned status %d.", resp.StatusCode),
		RequestSummary:  requestSummary,
		ResponseSummary: &responseSummary,
	}
}

// buildBody assembles the optional note part and the photo part.
func (c *Client) buildBody(photo []byte, note string) (*multipartBody, []byte, error) {
	body, err := newMultipartBody(c.newBoundary())
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(note) != "" {
		if err := body.addText("note", note); err != nil {
			return nil, nil, err
		}
	}
	filename := fmt.Sprintf("photo-%d.jpg", c.clock().Unix())
	if err := body.addFile("file", filename, "image/jpeg", photo); err != nil {
		return nil, nil, err
	}
	payload, err := body.finish()
	if err != nil {
		return nil, nil, err
	}
	return body, payload, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Client) newBoundary() string {
	if c.boundary != nil {
		return c.boundary()
	}
	return "Boundary-" + uuid.NewString()
}

// describeResponse renders status, sorted headers and the body as text,
// base64 for non UTF-8 content, or "(empty body)".
func describeResponse(resp *http.Response, body []byte) string {
	var rendered string
	switch {
	case len(body) == 0:
		rendered = "(empty body)"
	case utf8.Valid(body):
		rendered = string(body)
	default:
		rendered = base64.StdEncoding.EncodeToString(body)
	}

	return fmt.Sprintf("HTTP %d\nHeaders:\n%s\n\nBody:\n%s",
		resp.StatusCode, formatHeaders(resp.Header), rendered)
}
