// Package certs inspects the TLS leaf certificate of every https API in the
// registry. Plain-http APIs are skipped; there is nothing to inspect.
package certs
