// Package openapi fetches the OpenAPI document each upstream publishes at
// {baseUrl}/api/{name}/openapi.json and reduces it to a summary for the
// dashboard: title, version, servers and the list of operations.
//
// Summaries are cached per API id for a short TTL so that dashboard refreshes
// do not refetch documents on every request.
package openapi
