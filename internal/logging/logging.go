// Package logging builds the zerolog logger used by hospitalcore binaries and
// adapts it to the core service interfaces.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"hospitalcore/internal/core"
)

// New returns a timestamped logger writing to out (stdout when nil). format is
// "json" or "console".
func New(level, format string, out io.Writer) (zerolog.Logger, error) {
	if out == nil {
		out = os.Stdout
	}
	lvl := zerolog.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level: %w", err)
		}
		lvl = parsed
	}
	switch strings.ToLower(format) {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// Adapter implements core.Logger on a zerolog logger.
type Adapter struct {
	log zerolog.Logger
}

var _ core.Logger = Adapter{}

// NewAdapter wraps log.
func NewAdapter(log zerolog.Logger) Adapter {
	return Adapter{log: log}
}

func (a Adapter) Debug(msg string, args ...any) { emit(a.log.Debug(), msg, args) }
func (a Adapter) Info(msg string, args ...any)  { emit(a.log.Info(), msg, args) }
func (a Adapter) Warn(msg string, args ...any)  { emit(a.log.Warn(), msg, args) }
func (a Adapter) Error(msg string, args ...any) { emit(a.log.Error(), msg, args) }

// emit attaches alternating key/value args. A trailing key without a value is
// logged under "!BADKEY".
func emit(evt *zerolog.Event, msg string, args []any) {
	if evt == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			evt = evt.Interface("!BADKEY", args[i])
			break
		}
		key := fmt.Sprint(args[i])
		switch v := args[i+1].(type) {
		case error:
			if key == "error" {
				evt = evt.Err(v)
			} else {
				evt = evt.AnErr(key, v)
			}
		case string:
			evt = evt.Str(key, v)
		case time.Duration:
			evt = evt.Dur(key, v)
		case fmt.Stringer:
			evt = evt.Stringer(key, v)
		default:
			evt = evt.Interface(key, v)
		}
	}
	evt.Msg(msg)
}

// AuditRecorder writes audit entries as structured log lines.
type AuditRecorder struct {
	log zerolog.Logger
}

var _ core.AuditRecorder = AuditRecorder{}

// NewAuditRecorder logs audit entries with component=audit.
func NewAuditRecorder(log zerolog.Logger) AuditRecorder {
	return AuditRecorder{log: log.With().Str("component", "audit").Logger()}
}

// Record implements core.AuditRecorder.
func (r AuditRecorder) Record(_ context.Context, entry core.AuditEntry) {
	evt := r.log.Info()
	if entry.Status == core.AuditStatusError {
		evt = r.log.Warn().Str("error", entry.Error)
	}
	evt.
		Str("operation", entry.Operation).
		Str("entity", string(entry.Entity)).
		Str("action", string(entry.Action)).
		Str("entity_id", entry.EntityID).
		Str("actor", entry.Actor).
		Str("status", string(entry.Status)).
		Dur("duration", entry.Duration).
		Time("at", entry.Timestamp).
		Msg("audit")
}
