package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"sonar-exporter/internal/config"
)

const (
	ansiReset   = "\x1b[0m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"

	levelPanic = slog.LevelError + 4
)

var (
	levelPattern = regexp.MustCompile(`\blevel=(DEBUG|INFO|WARN|ERROR|PANIC)\b`)
	tokenPattern = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|\b\d{1,3}(?:\.\d{1,3}){3}(?::\d+)?\b|\b\d+(?:\.\d+)?(?:ns|µs|ms|s|m|h)?\b`)
)

// New builds a slog logger that fans out to the enabled sinks.
// Params: cfg validated logging section.
// Returns: logger, close function for file sinks, or init error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)

	if cfg.Console.Enabled {
		var out io.Writer = os.Stdout
		if cfg.Console.Format == "line" && isatty.IsTerminal(os.Stdout.Fd()) {
			out = &colorLineWriter{dst: os.Stdout}
		}
		handler, err := newHandler(out, cfg.Console)
		if err != nil {
			return nil, nil, fmt.Errorf("log.console: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		handler, err := newHandler(rotator, cfg.File)
		if err != nil {
			_ = rotator.Close()
			return nil, nil, fmt.Errorf("log.file: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, rotator)
	}

	closeFn := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closeFn, nil
	}
	return slog.New(fanoutHandler(handlers)), closeFn, nil
}

// newHandler creates one sink handler.
// Params: w destination; sink format and level options.
// Returns: slog handler or error for unknown values.
func newHandler(w io.Writer, sink config.LogSinkConfig) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelName,
	}

	switch sink.Format {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "line", "":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", sink.Format)
	}
}

// parseLevel maps config level names to slog levels.
// Params: value lower-case level name.
// Returns: slog level or error.
func parseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "panic":
		return levelPanic, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", value)
	}
}

func replaceLevelName(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key != slog.LevelKey {
		return attr
	}
	if level, ok := attr.Value.Any().(slog.Level); ok && level >= levelPanic {
		attr.Value = slog.StringValue("PANIC")
	}
	return attr
}

// fanoutHandler dispatches each record to every wrapped handler.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, handler := range h {
		next[i] = handler.WithAttrs(attrs)
	}
	return next
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, handler := range h {
		next[i] = handler.WithGroup(name)
	}
	return next
}

// colorLineWriter paints text handler lines for interactive terminals.
// The whole line takes the level color; quoted strings, IPs and numbers are highlighted.
type colorLineWriter struct {
	dst io.Writer
}

// Write colorizes one rendered log line.
// Params: p is one line produced by slog.TextHandler.
// Returns: len(p) on success or destination write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	line := string(p)
	newline := strings.HasSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\n")

	base := levelColor(line)
	if base == "" {
		if _, err := io.WriteString(w.dst, string(p)); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	var b strings.Builder
	b.Grow(len(line) + 64)
	b.WriteString(base)
	last := 0
	for _, loc := range tokenPattern.FindAllStringIndex(line, -1) {
		b.WriteString(line[last:loc[0]])
		token := line[loc[0]:loc[1]]
		b.WriteString(tokenColor(token))
		b.WriteString(token)
		b.WriteString(ansiReset)
		b.WriteString(base)
		last = loc[1]
	}
	b.WriteString(line[last:])
	b.WriteString(ansiReset)
	if newline {
		b.WriteByte('\n')
	}

	if _, err := io.WriteString(w.dst, b.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

func levelColor(line string) string {
	match := levelPattern.FindStringSubmatch(line)
	if match == nil {
		return ""
	}
	switch match[1] {
	case "DEBUG":
		return ansiMagenta
	case "INFO":
		return ansiBlue
	case "WARN":
		return ansiYellow
	default:
		return ansiRed
	}
}

func tokenColor(token string) string {
	switch {
	case strings.HasPrefix(token, `"`):
		return ansiGreen
	case strings.Count(token, ".") == 3:
		return ansiCyan
	default:
		return ansiYellow
	}
}
