package probe

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/infradash/infradash/pkg/types"
)

const (
	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 5 * time.Second

	// maxBodySize caps how much of a health response is read.
	maxBodySize = 1 << 20
)

// Failure reasons reported in ProbeResult.Error.
const (
	ReasonConnection = "Connection failed"
	ReasonTimeout    = "Connection timeout"
	ReasonBadJSON    = "Invalid JSON response"
)

// Prober is implemented by Client and by test fakes.
type Prober interface {
	Probe(ctx context.Context, url string) types.ProbeResult
}

// Options configures a Client.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Client issues health probes. It builds its HTTP client once and reuses it.
type Client struct {
	client  *http.Client
	timeout time.Duration
}

// New returns a Client for opts. A zero Timeout means DefaultTimeout.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // user-configured
		},
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		client:  &http.Client{Transport: transport},
		timeout: opts.Timeout,
	}
}

// NewWithHTTPClient wraps an existing http.Client, e.g. httptest.Server.Client().
func NewWithHTTPClient(c *http.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{client: c, timeout: timeout}
}

// Probe GETs url within the client timeout and decodes the JSON body.
func (c *Client) Probe(ctx context.Context, url string) types.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Debug("probe: build request failed", "url", url, "err", err)
		return types.ProbeError(ReasonConnection)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Debug("probe: request failed", "url", url, "err", err)
		if isTimeout(err) {
			return types.ProbeError(ReasonTimeout)
		}
		return types.ProbeError(ReasonConnection)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize)) //nolint:errcheck
		return types.ProbeError(fmt.Sprintf("API error: HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		slog.Debug("probe: read body failed", "url", url, "err", err)
		if isTimeout(err) {
			return types.ProbeError(ReasonTimeout)
		}
		return types.ProbeError(ReasonConnection)
	}

	var res types.ProbeResult
	if err := json.Unmarshal(body, &res); err != nil {
		slog.Debug("probe: decode body failed", "url", url, "err", err)
		return types.ProbeError(ReasonBadJSON)
	}
	return res
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
