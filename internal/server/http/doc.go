// Package httpserver exposes the relay over HTTP: every path is proxied to
// the upstream through the interceptor, while /_tether/v1 carries health,
// queue administration, manual sync and the sync-complete event streams
// (SSE and WebSocket). Prometheus metrics are served on /metrics.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8470")
package httpserver
