package health

import (
	"strings"

	"github.com/infradash/infradash/pkg/types"
)

// acceptedStatuses are the probe status values, compared case-insensitively,
// that count as passing.
var acceptedStatuses = map[string]struct{}{
	"ok":      {},
	"ready":   {},
	"alive":   {},
	"pass":    {},
	"healthy": {},
	"200":     {},
	"up":      {},
}

// Accepted reports whether a single probe status counts as passing.
func Accepted(status string) bool {
	_, ok := acceptedStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// IsHealthy reports whether both halves of rec passed.
func IsHealthy(rec *types.HealthRecord) bool {
	return rec != nil && Accepted(rec.Liveness.Status) && Accepted(rec.Readiness.Status)
}

// Verdict maps rec to a Status; a missing record is unknown.
func Verdict(rec *types.HealthRecord) types.Status {
	switch {
	case rec == nil:
		return types.StatusUnknown
	case IsHealthy(rec):
		return types.StatusHealthy
	default:
		return types.StatusUnhealthy
	}
}
