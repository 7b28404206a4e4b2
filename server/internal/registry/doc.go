// Package registry holds the API descriptors parsed from API_CONFIGS for the
// lifetime of the process. Reload re-parses and swaps the whole snapshot
// atomically, so readers never observe a partial update.
//
// Lookups:
//   - ByID: exact, unambiguous; use this internally.
//   - FirstByName: legacy by-name lookup returning the first match. Several
//     descriptors may share a name (one per environment), so callers must
//     tolerate picking an arbitrary-but-stable one.
//   - Resolve: ByID, then FirstByName; used by the proxy routes where the
//     URL segment may be either.
package registry
