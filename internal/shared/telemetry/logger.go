package telemetry

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Options configures the process-wide logger.
type Options struct {
	Level   string
	Format  string // json or console
	Service string
	Output  io.Writer
}

var (
	mu     sync.RWMutex
	logger = newLogger(Options{})
)

// Setup replaces the process-wide logger. Binaries call it once at startup.
func Setup(opts Options) {
	l := newLogger(opts)
	mu.Lock()
	logger = l
	mu.Unlock()
}

func newLogger(opts Options) zerolog.Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = time.RFC3339

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	var zl zerolog.Logger
	if strings.EqualFold(opts.Format, "console") {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339})
	} else {
		zl = zerolog.New(output)
	}

	ctx := zl.With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	return ctx.Logger().Level(parseLevel(opts.Level))
}

func parseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug writes a debug-level log line with the given fields.
func Debug(msg string, fields map[string]any) {
	write(zerolog.DebugLevel, msg, fields)
}

// Info writes an info-level log line with the given fields.
func Info(msg string, fields map[string]any) {
	write(zerolog.InfoLevel, msg, fields)
}

// Warn writes a warn-level log line with the given fields.
func Warn(msg string, fields map[string]any) {
	write(zerolog.WarnLevel, msg, fields)
}

// Error writes an error-level log line with the given fields.
func Error(msg string, fields map[string]any) {
	write(zerolog.ErrorLevel, msg, fields)
}

func write(level zerolog.Level, msg string, fields map[string]any) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	evt := l.WithLevel(level)
	if evt == nil {
		return
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			evt = evt.AnErr(k, err)
			continue
		}
		evt = evt.Interface(k, v)
	}
	evt.Msg(msg)
}
