package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// ProbeStatusError is the status value of a probe that failed on our side
// (transport error, timeout, non-OK HTTP status, unreadable body).
const ProbeStatusError = "error"

// ProbeResult is one half of a HealthRecord: the body of an upstream liveness
// or readiness endpoint. Upstreams are free-form, so only status is required;
// known optional fields are lifted out and everything else lands in Extra.
// MarshalJSON re-emits Extra at the top level, so a successful body round-trips
// unchanged.
type ProbeResult struct {
	Status    string
	Timestamp string
	Uptime    *float64
	Checks    any
	Error     string
	Extra     map[string]any
}

// ProbeError builds the error-shaped result used for failed probes.
func ProbeError(reason string) ProbeResult {
	return ProbeResult{Status: ProbeStatusError, Error: reason}
}

// Failed reports whether the probe failed on our side.
func (p ProbeResult) Failed() bool {
	return p.Status == ProbeStatusError && p.Error != ""
}

func (p ProbeResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+5)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["status"] = p.Status
	if p.Timestamp != "" {
		out["timestamp"] = p.Timestamp
	}
	if p.Uptime != nil {
		out["uptime"] = *p.Uptime
	}
	if p.Checks != nil {
		out["checks"] = p.Checks
	}
	if p.Error != "" {
		out["error"] = p.Error
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts any JSON object. A numeric or boolean status is kept as
// its literal text ("200", "true"); fields with unexpected types stay in Extra.
func (p *ProbeResult) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	*p = ProbeResult{}
	for k, v := range raw {
		switch k {
		case "status":
			switch s := v.(type) {
			case string:
				p.Status = s
				continue
			case json.Number:
				p.Status = s.String()
				continue
			case bool:
				p.Status = strconv.FormatBool(s)
				continue
			}
		case "timestamp":
			if s, ok := v.(string); ok {
				p.Timestamp = s
				continue
			}
		case "uptime":
			if n, ok := v.(json.Number); ok {
				if f, err := n.Float64(); err == nil {
					p.Uptime = &f
					continue
				}
			}
		case "checks":
			p.Checks = v
			continue
		case "error":
			if s, ok := v.(string); ok {
				p.Error = s
				continue
			}
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	return nil
}

// HealthRecord is the combined outcome of one liveness + readiness probe pair.
type HealthRecord struct {
	Liveness  ProbeResult `json:"liveness"`
	Readiness ProbeResult `json:"readiness"`

	// FetchedAt is when the probe pair completed. Records older than the
	// monitor TTL are treated as absent.
	FetchedAt time.Time `json:"fetchedAt"`

	// ResponseTimeMs is the slower of the two probes, in milliseconds.
	ResponseTimeMs int64 `json:"responseTimeMs"`
}

// APIStatus is the per-request view of one API: its descriptor, the latest
// health record and the verdict derived from it. It is never stored.
type APIStatus struct {
	APIDescriptor
	Status      Status        `json:"status"`
	Health      *HealthRecord `json:"health"`
	LastChecked time.Time     `json:"lastChecked"`
}
