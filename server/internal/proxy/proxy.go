package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/registry"
)

// Defaults for the upstream HTTP client.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxIdleConns    = 100
	DefaultMaxConnsPerHost = 10

	// maxBodySize caps request and response bodies read by the proxy (10MB).
	maxBodySize = 10 * 1024 * 1024
)

// ErrInvalidBody is returned for request bodies that are not valid JSON.
var ErrInvalidBody = errors.New("request body is not valid JSON")

// Recorder receives one call per proxied request. metrics.Registry implements it.
type Recorder interface {
	ProxyRequest(api string, code int)
}

// Options configures the upstream HTTP client.
type Options struct {
	Timeout            time.Duration
	MaxIdleConns       int
	MaxConnsPerHost    int
	InsecureSkipVerify bool
	Recorder           Recorder
}

// Request is one inbound call to forward.
type Request struct {
	// API is a descriptor id or name.
	API string

	// Subpath is appended after /api/{name}; a leading slash is added if missing.
	Subpath string

	Method string
	Header http.Header
	Query  url.Values

	// Body is the raw JSON request body; ignored unless Method is POST, PUT or PATCH.
	Body []byte
}

// Result is the outcome of Forward: the HTTP status to answer with and the envelope.
type Result struct {
	StatusCode int
	Envelope   types.Envelope
}

// Proxy forwards requests to registered upstream APIs. It is safe for concurrent use.
type Proxy struct {
	registry *registry.Registry
	client   *http.Client
	rec      Recorder
}

// New creates a Proxy with its own pooled HTTP client.
func New(reg *registry.Registry, opts Options) *Proxy {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = DefaultMaxIdleConns
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = DefaultMaxConnsPerHost
	}
	transport := &http.Transport{
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	return &Proxy{
		registry: reg,
		client:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		rec:      opts.Recorder,
	}
}

// NewWithHTTPClient creates a Proxy that sends requests through c.
func NewWithHTTPClient(reg *registry.Registry, c *http.Client, rec Recorder) *Proxy {
	return &Proxy{registry: reg, client: c, rec: rec}
}

// Close releases idle upstream connections.
func (p *Proxy) Close() {
	p.client.CloseIdleConnections()
}

// Forward sends req to the resolved upstream and wraps the answer.
func (p *Proxy) Forward(ctx context.Context, req Request) Result {
	d, ok := p.registry.Resolve(req.API)
	if !ok {
		return errorResult(http.StatusNotFound, req.API,
			fmt.Sprintf("API '%s' not found. Available APIs: %s", req.API, strings.Join(p.registry.Names(), ", ")))
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target := TargetURL(d, req.Subpath)
	if method == http.MethodGet && len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var body io.Reader
	if hasBody(method) && len(bytes.TrimSpace(req.Body)) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, req.Body); err != nil {
			return errorResult(http.StatusBadRequest, d.Name, ErrInvalidBody.Error())
		}
		body = &buf
	}

	out, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return errorResult(http.StatusInternalServerError, d.Name, err.Error())
	}
	out.Header = forwardHeaders(req.Header)

	slog.Info("proxy: forwarding", "api", d.ID, "method", method, "target", target)

	resp, err := p.client.Do(out)
	if err != nil {
		slog.Error("proxy: upstream request failed", "api", d.ID, "target", target, "err", err)
		return errorResult(http.StatusInternalServerError, d.Name, transportMessage(d.Name, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		slog.Error("proxy: read upstream body failed", "api", d.ID, "err", err)
		return errorResult(http.StatusInternalServerError, d.Name, transportMessage(d.Name, err))
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 {
		var raw json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return errorResult(http.StatusInternalServerError, d.Name,
				fmt.Sprintf("Invalid JSON response from %s API: %v", d.Name, err))
		}
	}

	env := types.Envelope{
		Status:     types.EnvelopeError,
		StatusCode: resp.StatusCode,
		Message:    statusText(resp),
		API:        d.Name,
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		env.Status = types.EnvelopeSuccess
	}
	if len(data) > 0 {
		env.Data = json.RawMessage(data)
	}
	return Result{StatusCode: resp.StatusCode, Envelope: env}
}

// TargetURL builds the upstream URL for subpath on d.
func TargetURL(d types.APIDescriptor, subpath string) string {
	prefix := "/api/" + d.Name
	if subpath != "" && !strings.HasPrefix(subpath, "/") {
		subpath = "/" + subpath
	}
	if subpath == prefix || strings.HasPrefix(subpath, prefix+"/") || strings.HasPrefix(subpath, prefix+"?") {
		return d.BaseURL + subpath
	}
	return d.BaseURL + prefix + subpath
}

// forwardHeaders applies the allow-list: Content-Type is fixed, Authorization,
// Tenant and Language are copied (matched case-insensitively), the rest dropped.
func forwardHeaders(in http.Header) http.Header {
	out := http.Header{}
	out.Set("Content-Type", "application/json")
	for k, vs := range in {
		if len(vs) == 0 || vs[0] == "" {
			continue
		}
		switch strings.ToLower(k) {
		case "authorization":
			out.Set("Authorization", vs[0])
		case "tenant":
			out.Set("Tenant", vs[0])
		case "language":
			out.Set("Language", vs[0])
		}
	}
	return out
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// transportMessage turns a client error into a readable envelope message.
func transportMessage(api string, err error) string {
	var ne interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Sprintf("Request to %s API timed out", api)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Sprintf("Failed to connect to %s API", api)
	}
	return err.Error()
}

// statusText returns the reason phrase of resp, e.g. "Not Found".
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

func errorResult(code int, api, msg string) Result {
	return Result{
		StatusCode: code,
		Envelope: types.Envelope{
			Status:     types.EnvelopeError,
			StatusCode: code,
			Message:    msg,
			API:        api,
		},
	}
}
