package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var Log *slog.Logger

// Options selects level, format and sink for Init. Empty fields fall back
// to DAVHOST_LOG_LEVEL, DAVHOST_LOG_FORMAT and DAVHOST_LOG_SINK.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	Sink   string // stdout|stderr|file:<path>
}

// Init initializes the global slog logger.
func Init(opts Options) {
	lvl := firstNonEmpty(opts.Level, os.Getenv("DAVHOST_LOG_LEVEL"))
	format := firstNonEmpty(opts.Format, os.Getenv("DAVHOST_LOG_FORMAT"))
	sink := firstNonEmpty(opts.Sink, os.Getenv("DAVHOST_LOG_SINK"))
	Log = New(openSink(sink), ParseLevel(lvl), format)
	slog.SetDefault(Log)
}

// New builds a logger writing to w.
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDefault returns l when set, otherwise the global logger, otherwise a
// discarding logger.
func OrDefault(l *slog.Logger) *slog.Logger {
	switch {
	case l != nil:
		return l
	case Log != nil:
		return Log
	default:
		return Discard()
	}
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func openSink(sink string) io.Writer {
	switch {
	case sink == "stderr":
		return os.Stderr
	case strings.HasPrefix(sink, "file:"):
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err == nil {
			return f
		}
		// fallback to stdout
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
	}
	return os.Stdout
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}
