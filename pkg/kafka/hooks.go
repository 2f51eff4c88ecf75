package kafka

import (
	"context"
	"fmt"
	"time"

	applogger "SignalPipe/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Record headers understood by both ends of the bus.
const (
	SchemaHeader = "schema"
	traceHeader  = "trace_id"
)

// Hook observes each delivery attempt. A Before error skips the handler and
// counts as a failed attempt.
type Hook interface {
	Before(ctx context.Context, km kafka.Message) (context.Context, error)
	After(ctx context.Context, km kafka.Message, err error)
}

// HookError is returned when a hook itself fails.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *HookError) Unwrap() error { return e.Err }

// HookFuncs builds a Hook from optional functions.
type HookFuncs struct {
	BeforeFn func(context.Context, kafka.Message) (context.Context, error)
	AfterFn  func(context.Context, kafka.Message, error)
}

func (h HookFuncs) Before(ctx context.Context, km kafka.Message) (context.Context, error) {
	if h.BeforeFn == nil {
		return ctx, nil
	}
	return h.BeforeFn(ctx, km)
}

func (h HookFuncs) After(ctx context.Context, km kafka.Message, err error) {
	if h.AfterFn != nil {
		h.AfterFn(ctx, km, err)
	}
}

// HookChain runs hooks in order on Before and in reverse on After. Hook
// panics are contained.
type HookChain []Hook

// NewHookChain drops nil hooks.
func NewHookChain(hooks ...Hook) HookChain {
	out := make(HookChain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (c HookChain) Before(ctx context.Context, km kafka.Message) (context.Context, error) {
	for _, h := range c {
		next, herr := safeBefore(h, ctx, km)
		if herr != nil {
			return ctx, herr
		}
		ctx = next
	}
	return ctx, nil
}

func (c HookChain) After(ctx context.Context, km kafka.Message, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		func() {
			defer func() { _ = recover() }()
			c[i].After(ctx, km, err)
		}()
	}
}

func safeBefore(h Hook, ctx context.Context, km kafka.Message) (out context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = ctx, &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("hook panic: %v", r)}
		}
	}()
	return h.Before(ctx, km)
}

type ctxKey int

const (
	startKey ctxKey = iota
	traceKey
)

// WithTraceID stores a trace id on ctx. Empty ids are ignored.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey, id)
}

// TraceID returns the trace id stored in ctx, if any.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceKey).(string)
	return v
}

// ExtractTraceID reads the trace header of a record.
func ExtractTraceID(km kafka.Message) string {
	return header(km, traceHeader)
}

func header(km kafka.Message, key string) string {
	for _, h := range km.Headers {
		if h.Key == key && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return ""
}

// NewLoggingHook carries the trace id into the handler context and logs
// failed or slow deliveries.
func NewLoggingHook(l *applogger.Logger, slow time.Duration) Hook {
	return HookFuncs{
		BeforeFn: func(ctx context.Context, km kafka.Message) (context.Context, error) {
			ctx = context.WithValue(ctx, startKey, time.Now())
			return WithTraceID(ctx, ExtractTraceID(km)), nil
		},
		AfterFn: func(ctx context.Context, km kafka.Message, err error) {
			if err != nil {
				l.Warn("kafka handler error",
					applogger.String("topic", km.Topic),
					applogger.String("schema", header(km, SchemaHeader)),
					applogger.Int64("offset", km.Offset),
					applogger.String("trace_id", TraceID(ctx)),
					applogger.Error(err))
				return
			}
			start, ok := ctx.Value(startKey).(time.Time)
			if !ok || slow <= 0 {
				return
			}
			if d := time.Since(start); d > slow {
				l.Warn("kafka handler slow",
					applogger.String("topic", km.Topic),
					applogger.Int("partition", km.Partition),
					applogger.Duration("took", d))
			}
		},
	}
}
