// Package types defines the shared data model of infradash: API descriptors
// produced by the config parser, health records produced by the monitor, the
// derived per-API status view, and the proxy response envelope.
//
// JSON field names follow the wire format consumed by the dashboard UI
// (camelCase for descriptors and health, snake_case for the envelope).
package types
