// Package ws implements the WebSocket hub behind /dashboard/v1/ws.
//
// Hub keeps a set of connected dashboard clients. On connect a client gets
// the cached status of every API right away (no probing); afterwards Run
// re-checks all APIs every interval (default 60s) and broadcasts the result.
//
// Message format sent to clients:
//
//	{
//	  "event":        "status",
//	  "generated_at": "2026-01-02T15:04:05Z",
//	  "data":         [ /* same schema as GET /dashboard/v1/apis */ ]
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
