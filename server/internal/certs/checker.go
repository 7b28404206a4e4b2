package certs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"math"
	"net"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/registry"
)

// Certificate states.
const (
	StateValid       = "valid"
	StateExpiring    = "expiring"
	StateExpired     = "expired"
	StateUnreachable = "unreachable"
)

const (
	// DefaultTimeout bounds one TLS dial.
	DefaultTimeout = 10 * time.Second

	// expiringDays is the threshold below which a certificate is "expiring".
	expiringDays = 30

	maxParallel = 8
)

// Status describes the leaf certificate served by one API.
type Status struct {
	APIID    string `json:"api_id"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	AuthType string `json:"auth_type"`
	Status   string `json:"status"`
	NotAfter string `json:"not_after,omitempty"`
	Issuer   string `json:"issuer,omitempty"`
	Subject  string `json:"subject,omitempty"`
	DaysLeft int    `json:"days_left"`
	Error    string `json:"error,omitempty"`
}

// Options configures the TLS dial.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool

	// RootCAs overrides the system pool when set.
	RootCAs *x509.CertPool
}

// Checker inspects certificates of the APIs in a registry.
type Checker struct {
	reg  *registry.Registry
	opts Options
	now  func() time.Time
}

// NewChecker creates a Checker over reg.
func NewChecker(reg *registry.Registry, opts Options) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Checker{reg: reg, opts: opts, now: time.Now}
}

// CheckAll inspects every https API concurrently, in registry order.
func (c *Checker) CheckAll(ctx context.Context) []Status {
	apis := c.reg.All()
	results := make([]*Status, len(apis))

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, d := range apis {
		g.Go(func() error {
			results[i] = c.Check(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Status, 0, len(apis))
	for _, s := range results {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// Check dials d's base URL and describes the leaf certificate.
// Returns nil for non-https APIs.
func (c *Checker) Check(ctx context.Context, d types.APIDescriptor) *Status {
	u, err := url.Parse(d.BaseURL)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &Status{
		APIID:    d.ID,
		Name:     d.Name,
		Endpoint: d.BaseURL,
		AuthType: "none",
	}
	if d.RequiresAuth {
		cs.AuthType = "token"
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName:         u.Hostname(),
			RootCAs:            c.opts.RootCAs,
			InsecureSkipVerify: c.opts.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = StateUnreachable
		cs.Error = err.Error()
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = StateUnreachable
		return cs
	}

	leaf := peerCerts[0]
	cs.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	cs.Issuer = leaf.Issuer.CommonName
	cs.Subject = leaf.Subject.CommonName
	cs.Status, cs.DaysLeft = classify(leaf.NotAfter, c.now())
	return cs
}

func classify(notAfter, now time.Time) (string, int) {
	daysLeft := notAfter.Sub(now).Hours() / 24
	days := int(math.Floor(daysLeft))
	switch {
	case daysLeft <= 0:
		return StateExpired, days
	case daysLeft <= expiringDays:
		return StateExpiring, days
	default:
		return StateValid, days
	}
}
