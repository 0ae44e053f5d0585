// Package serverrun exposes the Run entrypoint used by the CLI to start the
// relay runtime and its HTTP surface, handling lifecycle and shutdown.
//
// Example:
//
//	cfg, _ := serverrun.BuildConfig("tether.yaml", nil)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
