package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"

	"go.uber.org/zap"
)

// Config is the declarative logger configuration.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	// Output is "stderr" (default), "stdout", "null", or a file path.
	Output string `json:"output" yaml:"output"`
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := cfg.Format
	switch format {
	case "", "text":
		format = "text"
	case "json":
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	case "null":
		return NewNop(), nil
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output: %w", err)
		}
		out = f
	}
	return NewLogger(WithLevel(level), WithFormat(format), WithWriter(out)), nil
}

// RedirectStdLog routes the standard library logger (used by Pebble) into l
// at info level. It returns a function restoring the previous output.
func RedirectStdLog(l Logger) func() {
	if zl, ok := l.(*zapLogger); ok {
		return zap.RedirectStdLog(zl.z.WithOptions(zap.AddCallerSkip(-1)))
	}
	prevFlags, prevOut := stdlog.Flags(), stdlog.Writer()
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{l: l})
	return func() {
		stdlog.SetFlags(prevFlags)
		stdlog.SetOutput(prevOut)
	}
}

type stdWriter struct{ l Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	w.l.Info(msg)
	return len(p), nil
}
