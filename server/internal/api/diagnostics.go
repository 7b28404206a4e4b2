package api

import (
	"fmt"
	"sort"
	"strings"

	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/health"
)

// Thresholds on the slower of the two probes.
const (
	slowResponseMs     = 1000
	verySlowResponseMs = 3000
)

// DiagnosticHint is one human-readable insight about an API's health.
// The dashboard shows these as chips on the API card.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	// Value is an optional number tied to the hint, e.g. response time.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a status, critical first.
func computeDiagnostics(st types.APIStatus) []DiagnosticHint {
	if st.Health == nil {
		return []DiagnosticHint{{
			Key:   "not_checked",
			Level: "info",
			Title: "Not checked yet",
			Detail: "No health record is cached for this API. " +
				"Open the API list without ?cached=1 or wait for the next broadcast to probe it.",
		}}
	}

	var hints []DiagnosticHint
	hints = append(hints, probeHints("liveness", st.Health.Liveness, st)...)
	hints = append(hints, probeHints("readiness", st.Health.Readiness, st)...)

	ms := float64(st.Health.ResponseTimeMs)
	switch {
	case ms >= verySlowResponseMs:
		hints = append(hints, DiagnosticHint{
			Key:   "very_slow",
			Level: "warning",
			Title: fmt.Sprintf("%.0f ms health checks", ms),
			Detail: fmt.Sprintf("The slower health probe took %.0f ms. Probes give up after the "+
				"configured timeout, so this API is close to being reported as timed out.", ms),
			Value: &ms,
		})
	case ms >= slowResponseMs:
		hints = append(hints, DiagnosticHint{
			Key:    "slow",
			Level:  "info",
			Title:  fmt.Sprintf("%.0f ms health checks", ms),
			Detail: fmt.Sprintf("The slower health probe took %.0f ms.", ms),
			Value:  &ms,
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "Healthy",
			Detail: fmt.Sprintf("%s answers both probes: liveness %q, readiness %q.", st.Name, st.Health.Liveness.Status, st.Health.Readiness.Status),
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

func probeHints(kind string, p types.ProbeResult, st types.APIStatus) []DiagnosticHint {
	url := health.ProbeURL(st.APIDescriptor, kind)
	switch {
	case p.Failed():
		detail := fmt.Sprintf("The %s probe at %s failed: %s.", kind, url, p.Error)
		if strings.Contains(p.Error, "timeout") {
			detail += " The API did not answer within the probe timeout."
		}
		if st.RequiresAuth && strings.Contains(p.Error, "HTTP 401") {
			detail += " A token is configured for this API; check that it is still valid."
		}
		return []DiagnosticHint{{
			Key:    kind + "_failed",
			Level:  "critical",
			Title:  strings.ToUpper(kind[:1]) + kind[1:] + " failed",
			Detail: detail,
		}}
	case !health.Accepted(p.Status):
		return []DiagnosticHint{{
			Key:   kind + "_status",
			Level: "warning",
			Title: fmt.Sprintf("%s: %s", kind, p.Status),
			Detail: fmt.Sprintf("The %s probe at %s answered with status %q, which is not one of "+
				"ok, ready, alive, pass, healthy, up or 200.", kind, url, p.Status),
		}}
	}
	return nil
}
