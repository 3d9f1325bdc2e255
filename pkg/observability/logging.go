package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a structured logger for viewer components
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new structured logger writing JSON to stdout
func NewLogger(component string, level slog.Level) *Logger {
	return NewLoggerTo(os.Stdout, component, level)
}

// NewLoggerTo creates a structured logger writing JSON to w
func NewLoggerTo(w io.Writer, component string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(w, opts)

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "scormview"),
	)

	return &Logger{Logger: logger}
}

// Discard returns a logger that drops everything. Used when callers pass nil.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// ParseLevel maps a config level name to a slog level; unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a logger sharing the handler with a different component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("subcomponent", name))}
}

// WithContext returns a logger carrying the trace and span ids of ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return &Logger{
		Logger: l.Logger.With(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		),
	}
}

// WithSession returns a logger with session-specific fields
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("session_id", sessionID),
		),
	}
}

// WithAttempt returns a logger scoped to one load attempt
func (l *Logger) WithAttempt(attempt int) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.Int("attempt", attempt),
		),
	}
}

// StageChanged logs a load stage transition
func (l *Logger) StageChanged(from, to string) {
	l.Info("stage changed",
		slog.String("from", from),
		slog.String("to", to),
	)
}

// FetchCompleted logs a finished archive download
func (l *Logger) FetchCompleted(url string, bytes int, durationMS float64) {
	l.Info("archive fetched",
		slog.String("url", url),
		slog.Int("bytes", bytes),
		slog.Float64("duration_ms", durationMS),
	)
}

// EntrySkipped logs an archive entry that could not be extracted
func (l *Logger) EntrySkipped(path string, err error) {
	l.Warn("archive entry skipped",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}

// ExtractionCompleted logs a finished extraction pass
func (l *Logger) ExtractionCompleted(files, skipped int) {
	l.Info("archive extracted",
		slog.Int("files", files),
		slog.Int("skipped", skipped),
	)
}

// EntryPointResolved logs the chosen launch document
func (l *Logger) EntryPointResolved(path, tier, strategy string) {
	l.Info("entry point resolved",
		slog.String("path", path),
		slog.String("tier", tier),
		slog.String("strategy", strategy),
	)
}

// PublishFailed logs a frame the runtime API could not be published into
func (l *Logger) PublishFailed(frameID string, err error) {
	l.Warn("runtime api publish failed",
		slog.String("frame_id", frameID),
		slog.String("error", err.Error()),
	)
}

// MessageRelayed logs a message forwarded between host and content
func (l *Logger) MessageRelayed(direction, kind string, payloadSize int) {
	l.Debug("message relayed",
		slog.String("direction", direction),
		slog.String("kind", kind),
		slog.Int("payload_size", payloadSize),
	)
}

// NavigationAttempt logs one step of the navigation fallback chain
func (l *Logger) NavigationAttempt(direction, strategy string, ok bool) {
	l.Debug("navigation attempt",
		slog.String("direction", direction),
		slog.String("strategy", strategy),
		slog.Bool("ok", ok),
	)
}

// BlankScreenSuspected logs the soft blank-screen heuristic firing
func (l *Logger) BlankScreenSuspected(reason string) {
	l.Warn("blank screen suspected",
		slog.String("reason", reason),
	)
}

// LoadFailed logs a terminal pipeline failure
func (l *Logger) LoadFailed(code string, retryable bool, err error) {
	l.Error("package load failed",
		slog.String("code", code),
		slog.Bool("retryable", retryable),
		slog.String("error", err.Error()),
	)
}
