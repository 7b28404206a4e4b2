package types

// APIDescriptor is the static metadata of one configured upstream API.
// Descriptors are immutable once built; a config reload replaces them wholesale.
type APIDescriptor struct {
	// ID is name plus the sanitized base URL. Unique within a registry snapshot.
	ID string `json:"id"`

	// Name builds the upstream path prefix /api/{name}. Not unique: the same API
	// may be registered once per environment.
	Name string `json:"name"`

	// BaseURL is the upstream origin plus optional path prefix, without trailing slashes.
	BaseURL string `json:"baseUrl"`

	// Label is an optional human-readable tag, usually the environment name.
	Label string `json:"label,omitempty"`

	// RequiresAuth is true when the config entry carried a bearer token.
	// The token itself is never stored; callers supply it per request.
	RequiresAuth bool `json:"requiresAuth"`
}

// Status is the computed health verdict of one API.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)
