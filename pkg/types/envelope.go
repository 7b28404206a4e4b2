package types

import "encoding/json"

// Envelope status values.
const (
	EnvelopeSuccess = "success"
	EnvelopeError   = "error"
)

// Envelope wraps every response returned through the proxy path.
// Data holds the upstream JSON body verbatim, or null.
type Envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	API        string          `json:"api"`
}
