package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes structured logs through zerolog. Error lines are also fed to
// the collector attached with AddCollector, which every child created by
// Named shares, including children created before the collector.
type Logger struct {
	zl   zerolog.Logger
	sink *atomic.Pointer[LogCollector]
}

type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json or console
	Output  string // stdout, stderr, or file path
	Service string // stamped on every line when set
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), sink: new(atomic.Pointer[LogCollector])}
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	ctx := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(4)
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	return &Logger{zl: ctx.Logger(), sink: new(atomic.Pointer[LogCollector])}, nil
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger(), sink: l.sink}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(l.zl.Warn(), msg, fields) }

func (l *Logger) Error(msg string, fields ...Field) {
	l.write(l.zl.Error(), msg, fields)
	if c := l.sink.Load(); c != nil {
		c.AddLog("error", msg, fieldMap(fields), caller(1))
	}
}

func (l *Logger) write(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		f.add(e)
	}
	e.Msg(msg)
}

// AddCollector starts aggregating error lines, replacing any previous
// collector.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if old := l.sink.Swap(NewLogCollector(cfg)); old != nil {
		old.Close()
	}
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	if old := l.sink.Swap(nil); old != nil {
		old.Close()
	}
}

// RecentErrors returns the aggregated error entries seen since the last
// flush plus the most recently flushed batch.
func (l *Logger) RecentErrors() []AggregatedLogEntry {
	if c := l.sink.Load(); c != nil {
		return c.Recent()
	}
	return nil
}

// caller returns dir/file.go:line of the frame skip levels above it.
func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
}

// Field is one structured key/value pair.
type Field struct {
	Key   string
	Value interface{}
	add   func(e *zerolog.Event)
}

func fieldMap(fields []Field) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

func String(key, v string) Field {
	return Field{Key: key, Value: v, add: func(e *zerolog.Event) { e.Str(key, v) }}
}

func Strings(key string, v []string) Field {
	return Field{Key: key, Value: strings.Join(v, ","), add: func(e *zerolog.Event) { e.Strs(key, v) }}
}

func Int(key string, v int) Field {
	return Field{Key: key, Value: v, add: func(e *zerolog.Event) { e.Int(key, v) }}
}

func Int64(key string, v int64) Field {
	return Field{Key: key, Value: v, add: func(e *zerolog.Event) { e.Int64(key, v) }}
}

func Float64(key string, v float64) Field {
	return Field{Key: key, Value: v, add: func(e *zerolog.Event) { e.Float64(key, v) }}
}

func Bool(key string, v bool) Field {
	return Field{Key: key, Value: v, add: func(e *zerolog.Event) { e.Bool(key, v) }}
}

// Duration logs v in milliseconds.
func Duration(key string, v time.Duration) Field {
	return Field{Key: key, Value: v.Milliseconds(), add: func(e *zerolog.Event) { e.Dur(key, v) }}
}

func Time(key string, v time.Time) Field {
	return Field{Key: key, Value: v.UTC().Format(time.RFC3339), add: func(e *zerolog.Event) { e.Time(key, v) }}
}

func Any(key string, v interface{}) Field {
	return Field{Key: key, Value: v, add: func(e *zerolog.Event) { e.Interface(key, v) }}
}

// Error logs err under "error". A nil err logs nothing.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", add: func(*zerolog.Event) {}}
	}
	return Field{Key: "error", Value: err.Error(), add: func(e *zerolog.Event) { e.Err(err) }}
}
