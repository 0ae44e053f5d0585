// Package log provides tether's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. It is backed by zap; callers never
// import zap directly, which keeps the field helpers the only logging API in
// the codebase.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat("text"),
//	)
//	l = l.With(log.Component("relay"), log.Tenant("t1"))
//	l.Info("replay finished", log.Int("replayed", 3))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config (level, text or
// json format, and an output of stderr, stdout, null, or a file path).
//
// # Interop
//
// RedirectStdLog routes the standard library logger, which Pebble writes to,
// through a Logger.
package log
