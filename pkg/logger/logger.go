// Package logger provides structured logging for the filesync daemon on
// top of log/slog, rendered in the daemon's plain-text line format.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// MaxSize is the rotation threshold in bytes.
	MaxSize int
	// MaxBackups is the number of rotated archives to keep.
	MaxBackups int
}

// New creates a structured logger writing the daemon's line format to the
// configured log file. The returned LevelVar allows live level changes
// (the monitor flips it when env.ini is edited).
func New(cfg Config) (*slog.Logger, *slog.LevelVar, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	name := cfg.Filename
	if name == "" {
		name = "filesync.log"
	}

	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))

	writer := SetupWriter(cfg, name)
	return slog.New(NewLineHandler(writer, level)), level, nil
}

// SetupWriter configures the rotating file writer. Rotation and archive
// retention are delegated to lumberjack; max_log_size arrives in bytes and
// is mapped onto whole megabytes, never below one.
func SetupWriter(cfg Config, name string) io.Writer {
	maxMB := cfg.MaxSize / (1024 * 1024)
	if maxMB < 1 {
		maxMB = 1
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    maxMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
}

// ParseLevel parses a string log level. Legal values are info, debug and
// error; anything else falls back to info, matching the daemon's contract.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelToken renders a level as the fixed-width token used in log lines.
func LevelToken(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN "
	case level >= slog.LevelInfo:
		return "INFO "
	default:
		return "DEBUG"
	}
}

// LineHandler is a slog.Handler that renders records as
//
//	[LEVEL] YYYY-MM-DD HH:MM:SS.mmm: message key=value ...
//
// Writes are serialized so concurrent workers never interleave lines.
type LineHandler struct {
	mu    *sync.Mutex
	out   io.Writer
	level *slog.LevelVar
	attrs []slog.Attr
}

// NewLineHandler creates a LineHandler writing to out, gated by level.
func NewLineHandler(out io.Writer, level *slog.LevelVar) *LineHandler {
	return &LineHandler{mu: &sync.Mutex{}, out: out, level: level}
}

// Enabled reports whether records at the given level are emitted.
func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle renders and writes one record.
func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(LevelToken(r.Level))
	b.WriteString("] ")
	b.WriteString(r.Time.Format("2006-01-02 15:04:05.000"))
	b.WriteString(": ")
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

// WithAttrs returns a handler that prepends the given attributes.
func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup is accepted but groups are flattened; the line format has no
// nesting.
func (h *LineHandler) WithGroup(string) slog.Handler { return h }

func writeAttr(b *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}
