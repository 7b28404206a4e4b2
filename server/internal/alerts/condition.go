package alerts

import (
	"strconv"
	"strings"

	"github.com/infradash/infradash/pkg/types"
)

// evalCondition evaluates a rule condition string against an API status.
//
// Supported expressions (field operator value):
//
//	status == unhealthy
//	status != healthy
//	liveness != ok
//	readiness == error
//	response_ms > 2000
//
// Probe fields (liveness, readiness, response_ms) never fire for an API that
// has not been checked yet.
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, st types.APIStatus) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "status":
		return compareString(string(st.Status), op, rhs), 0

	case "liveness", "readiness":
		if st.Health == nil {
			return false, 0
		}
		probe := st.Health.Liveness
		if field == "readiness" {
			probe = st.Health.Readiness
		}
		return compareString(probe.Status, op, rhs), 0

	case "response_ms":
		if st.Health == nil {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		v := float64(st.Health.ResponseTimeMs)
		return compareFloat(v, op, threshold), v

	default:
		return false, 0
	}
}

// validCondition reports whether cond names a known field and operator.
func validCondition(cond string) bool {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false
	}
	switch parts[0] {
	case "status", "liveness", "readiness":
		return parts[1] == "==" || parts[1] == "!="
	case "response_ms":
		_, err := strconv.ParseFloat(parts[2], 64)
		switch parts[1] {
		case ">", ">=", "<", "<=", "==", "!=":
			return err == nil
		}
	}
	return false
}

func compareString(v, op, want string) bool {
	eq := strings.EqualFold(strings.TrimSpace(v), want)
	switch op {
	case "==":
		return eq
	case "!=":
		return !eq
	default:
		return false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
