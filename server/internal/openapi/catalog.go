package openapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/registry"
)

const (
	// DefaultTTL is how long a fetched summary is served from cache.
	DefaultTTL = 5 * time.Minute

	// DefaultTimeout bounds one document fetch.
	DefaultTimeout = 10 * time.Second

	maxDocSize = 5 * 1024 * 1024
)

var (
	// ErrUnknownAPI is returned for ids the registry does not know.
	ErrUnknownAPI = errors.New("openapi: unknown API")

	// ErrFetch wraps every failure to retrieve or parse a document.
	ErrFetch = errors.New("openapi: fetch failed")
)

// Operation is one method+path pair of the document.
type Operation struct {
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	OperationID string   `json:"operationId,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Deprecated  bool     `json:"deprecated,omitempty"`
}

// Summary is the reduced view of one API's OpenAPI document.
type Summary struct {
	APIID           string      `json:"api_id"`
	Name            string      `json:"name"`
	SpecURL         string      `json:"spec_url"`
	OpenAPI         string      `json:"openapi"`
	Title           string      `json:"title"`
	Version         string      `json:"version"`
	Description     string      `json:"description,omitempty"`
	Servers         []string    `json:"servers"`
	Operations      []Operation `json:"operations"`
	ValidationError string      `json:"validation_error,omitempty"`
	FetchedAt       time.Time   `json:"fetched_at"`
}

// Options configures a Catalog.
type Options struct {
	TTL     time.Duration
	Timeout time.Duration
}

type entry struct {
	summary *Summary
	expires time.Time
}

// Catalog fetches and caches summaries. It is safe for concurrent use.
type Catalog struct {
	reg    *registry.Registry
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]entry
}

// NewCatalog creates a Catalog for the APIs in reg. A nil client uses one
// with opts.Timeout.
func NewCatalog(reg *registry.Registry, client *http.Client, opts Options) *Catalog {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Catalog{
		reg:    reg,
		client: client,
		ttl:    opts.TTL,
		now:    time.Now,
		cache:  make(map[string]entry),
	}
}

// SpecURL is where d publishes its OpenAPI document.
func SpecURL(d types.APIDescriptor) string {
	return d.BaseURL + "/api/" + d.Name + "/openapi.json"
}

// Summary returns the summary for the API with the given id, fetching the
// document when the cached copy is missing or stale.
func (c *Catalog) Summary(ctx context.Context, id string) (*Summary, error) {
	d, ok := c.reg.ByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAPI, id)
	}

	now := c.now()
	c.mu.Lock()
	e, hit := c.cache[id]
	c.mu.Unlock()
	if hit && now.Before(e.expires) {
		return e.summary, nil
	}

	s, err := c.fetch(ctx, d)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[id] = entry{summary: s, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return s, nil
}

// Invalidate drops every cached summary.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]entry)
	c.mu.Unlock()
}

func (c *Catalog) fetch(ctx context.Context, d types.APIDescriptor) (*Summary, error) {
	specURL := SpecURL(d)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, specURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, specURL, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, specURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrFetch, specURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, specURL, err)
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: parse: %v", ErrFetch, specURL, err)
	}

	s := summarize(doc)
	s.APIID = d.ID
	s.Name = d.Name
	s.SpecURL = specURL
	s.FetchedAt = c.now()
	if err := doc.Validate(ctx); err != nil {
		s.ValidationError = err.Error()
	}
	return s, nil
}

// summarize reduces doc to a Summary with operations sorted by path, then method.
func summarize(doc *openapi3.T) *Summary {
	s := &Summary{
		OpenAPI:    doc.OpenAPI,
		Servers:    []string{},
		Operations: []Operation{},
	}
	if doc.Info != nil {
		s.Title = doc.Info.Title
		s.Version = doc.Info.Version
		s.Description = doc.Info.Description
	}
	for _, srv := range doc.Servers {
		if srv != nil {
			s.Servers = append(s.Servers, srv.URL)
		}
	}
	if doc.Paths != nil {
		for path, item := range doc.Paths.Map() {
			if item == nil {
				continue
			}
			for method, op := range item.Operations() {
				if op == nil {
					continue
				}
				s.Operations = append(s.Operations, Operation{
					Method:      strings.ToUpper(method),
					Path:        path,
					OperationID: op.OperationID,
					Summary:     op.Summary,
					Tags:        op.Tags,
					Deprecated:  op.Deprecated,
				})
			}
		}
	}
	sort.Slice(s.Operations, func(i, j int) bool {
		a, b := s.Operations[i], s.Operations[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Method < b.Method
	})
	return s
}
