package rhi

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards every record. Enabled reports false so replay never
// builds attributes for a disabled logger.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr is read by the replay worker, recorders and backends while
// SetLogger may swap it.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for rhi and the backends in this module.
// By default, rhi produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore the silent
// default.
//
// Log levels used by rhi:
//   - [slog.LevelDebug]: per-list replay details, pipeline cache misses
//   - [slog.LevelInfo]: device and backend lifecycle
//   - [slog.LevelWarn]: stale entries skipped during replay
//   - [slog.LevelError]: device faults
//
// Every record carries the list ID and label where one applies, so stale
// warnings can be matched to the Diagnostic delivered to OnDiagnostic.
// To see skipped entries of one device without replay chatter:
//
//	rhi.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelWarn,
//	})).With("device", dev.Info().Name))
//
// A stale entry is then logged as
//
//	level=WARN msg="rhi: skipped stale entry" device=trace list=7 label=frame entry=3 op=UpdateBuffer ref=Buffer#2@0
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger used by rhi.
// Backend packages call this so they share one logger configuration.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
