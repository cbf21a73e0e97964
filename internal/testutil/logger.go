// Package testutil holds helpers shared by the package test suites.
package testutil

import (
	"bytes"
	"log/slog"
	"testing"
)

// NewTestLogger returns a debug-level slog.Logger routed through t.Log, so
// engine output shows up interleaved with test output under -v and stays
// quiet otherwise.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&logSink{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// logSink adapts testing.TB to io.Writer. The handler terminates every
// record with a newline; t.Log adds its own, so strip it.
type logSink struct {
	t testing.TB
}

func (s *logSink) Write(p []byte) (int, error) {
	s.t.Helper()
	s.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}
