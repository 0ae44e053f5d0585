// Package errs defines the relay's error taxonomy on top of cockroachdb/errors.
//
// Every error that crosses a component boundary is marked with exactly one of
// the sentinel kinds below, so callers classify with errors.Is regardless of
// how many times the error was wrapped on the way up.
package errs

import (
	cr "github.com/cockroachdb/errors"
)

var (
	// ErrNetworkUnavailable means the device has no connectivity.
	ErrNetworkUnavailable = cr.New("network unavailable")
	// ErrServerError means the device is online but the upstream call failed.
	ErrServerError = cr.New("server error")
	// ErrStorage means the durable queue store could not persist or read a record.
	ErrStorage = cr.New("storage error")
	// ErrReplayFailure means a queued record could not be reissued during replay.
	ErrReplayFailure = cr.New("replay failure")
	// ErrQueueFull means the per-tenant backlog limit was reached. It is also
	// marked as ErrStorage: the write was not queued.
	ErrQueueFull = cr.New("queue full")
	// ErrInvalid marks malformed input (unknown method, empty tenant, ...).
	ErrInvalid = cr.New("invalid input")
)

func New(msg string) error {
	return cr.New(msg)
}

func Newf(format string, args ...any) error {
	return cr.Newf(format, args...)
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return cr.Wrapf(err, format, args...)
}

// Mark tags err with kind. A nil err yields kind itself.
func Mark(err error, kind error) error {
	if err == nil {
		return kind
	}
	return cr.Mark(err, kind)
}

// Storage wraps err with msg and marks it as ErrStorage.
func Storage(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Mark(cr.Wrap(err, msg), ErrStorage)
}

// Invalidf builds an ErrInvalid-marked error.
func Invalidf(format string, args ...any) error {
	return cr.Mark(cr.Newf(format, args...), ErrInvalid)
}

func Is(err, kind error) bool {
	return cr.Is(err, kind)
}
