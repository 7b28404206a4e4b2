// Package apiconfig parses the compact API_CONFIGS string into API descriptors.
//
// Grammar: a comma-separated list of entries, each
//
//	name:url[:label[:token]]
//
// The url may itself contain colons (scheme, port), so the url is located with
// a URL-shaped pattern rather than by splitting on colons. When the pattern does
// not match, the remainder falls back to a naive colon split.
//
// Parse never fails. Malformed entries are dropped with a warning, so an empty
// or fully-invalid input yields an empty list. Tokens are only used to set
// RequiresAuth and are never retained.
package apiconfig
