// Package proxy forwards client calls for a registered API to its upstream and
// wraps the upstream answer in the uniform envelope
//
//	{status, status_code, message, data, api}
//
// Routing: /api/{apiname}[/{path...}] resolves apiname as a descriptor id
// first, then as a name (first match). The upstream URL is
// {baseUrl}/api/{name}{path}; a path already starting with /api/{name} is not
// prefixed twice.
//
// Only Authorization, Tenant and Language are forwarded; every other inbound
// header is dropped and Content-Type is always application/json. Bodies of
// POST/PUT/PATCH are forwarded as JSON, query parameters only on GET.
//
// Failures never escape as raw errors: unknown APIs produce a 404 envelope,
// transport problems a 500 envelope with a readable message.
package proxy
