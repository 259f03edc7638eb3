package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/tideflow/internal/types"
)

const redacted = "[REDACTED]"

var levels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a configured level name to a slog.Level. An empty name
// is info.
func ParseLevel(name string) (slog.Level, error) {
	level, ok := levels[strings.ToLower(name)]
	if !ok {
		return slog.LevelInfo, types.NewErrorf(types.CONFIG_VALIDATION_FAILED,
			"invalid log level: %s (must be one of: debug, info, warn, error)", name)
	}
	return level, nil
}

// NewLogger builds the process logger. A nil w means the destination named
// by cfg.Output; for a file destination the opened file is returned as the
// closer and the caller owns it.
func NewLogger(cfg LoggingConfig, w io.Writer) (*slog.Logger, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, types.WrapError(types.CONFIG_VALIDATION_FAILED, "invalid logging configuration", err)
	}
	level, _ := ParseLevel(cfg.Level)

	var closer io.Closer
	if w == nil {
		out, c, err := openOutput(cfg.Output)
		if err != nil {
			return nil, nil, err
		}
		w, closer = out, c
	}
	return slog.New(NewHandler(w, cfg.Format, level)), closer, nil
}

func openOutput(name string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(name) {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, types.WrapError(types.CONFIG_VALIDATION_FAILED, "failed to open log file "+name, err)
	}
	return f, f, nil
}

// NewHandler returns a json or text handler that masks secret-bearing
// attributes and stamps records logged with a span in their context with
// trace_id and span_id.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: maskSecret}
	if strings.EqualFold(format, "text") {
		return spanHandler{slog.NewTextHandler(w, opts)}
	}
	return spanHandler{slog.NewJSONHandler(w, opts)}
}

type spanHandler struct {
	slog.Handler
}

func (h spanHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r = r.Clone()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanHandler{h.Handler.WithAttrs(attrs)}
}

func (h spanHandler) WithGroup(name string) slog.Handler {
	return spanHandler{h.Handler.WithGroup(name)}
}

// Keys compare case-insensitively with underscores and dashes removed.
var (
	keyNormalizer = strings.NewReplacer("_", "", "-", "")
	secretKeys    = map[string]bool{
		"apikey":        true,
		"secret":        true,
		"secretkey":     true,
		"password":      true,
		"token":         true,
		"credential":    true,
		"authorization": true,
	}
)

func maskSecret(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	key := keyNormalizer.Replace(strings.ToLower(a.Key))
	if secretKeys[key] {
		return slog.String(a.Key, redacted)
	}
	return a
}
