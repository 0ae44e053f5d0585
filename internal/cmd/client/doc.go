// Package client provides the `tether` command-line client.
//
// The CLI talks to a running relay's admin API (/_tether/v1) to inspect and
// drive the offline write queue from a terminal. It is primarily intended
// for developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. The standalone binary reads TETHER_URL and
// defaults to http://127.0.0.1:8470.
//
// Usage
//
//	tether queue list                       # tenants with a backlog
//	tether queue list --tenant acme --limit 20
//	tether queue sync --tenant acme         # replay now, print the result
//	tether queue drop --id 1726833600000-3f2a9c1b7d4e
//	tether events --tenant acme             # tail sync-complete events
//	tether version
//
// Notes
//
//   - queue sync exits non-zero when the pass stops before draining; the
//     remaining records stay queued.
//   - queue drop discards a record permanently; it is never replayed.
package client
