package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SensorPull/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Delivery is the message a hook sees. BeforeHandle may replace
// Message.Value; the handler receives the result.
type Delivery struct {
	Message kafka.Message
	Attempt int
}

// ConsumerHook wraps each handler attempt. AfterHandle runs for every
// BeforeHandle, with the handler's error or the hook's own.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, d *Delivery) (context.Context, error)
	AfterHandle(ctx context.Context, d *Delivery, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ *Delivery) (context.Context, error) {
	return ctx, nil
}

func (NoopHook) AfterHandle(context.Context, *Delivery, error) {}

// HookError is a rejection by a hook. The consumer does not retry it.
type HookError struct {
	Hook string
	Err  error
}

func (e *HookError) Error() string { return fmt.Sprintf("hook %s: %v", e.Hook, e.Err) }
func (e *HookError) Unwrap() error { return e.Err }

// HookFuncs adapts plain functions; nil fields are skipped.
type HookFuncs struct {
	Before func(ctx context.Context, d *Delivery) (context.Context, error)
	After  func(ctx context.Context, d *Delivery, err error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, d *Delivery) (context.Context, error) {
	if h.Before == nil {
		return ctx, nil
	}
	return h.Before(ctx, d)
}

func (h HookFuncs) AfterHandle(ctx context.Context, d *Delivery, err error) {
	if h.After != nil {
		h.After(ctx, d, err)
	}
}

// HookChain runs BeforeHandle in order and AfterHandle in reverse. A panic
// inside a hook becomes a HookError.
type HookChain struct {
	hooks []ConsumerHook
}

func NewHookChain(hooks ...ConsumerHook) *HookChain {
	out := make([]ConsumerHook, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	return &HookChain{hooks: out}
}

type chainRanKey struct{}

func (c *HookChain) BeforeHandle(ctx context.Context, d *Delivery) (context.Context, error) {
	ran := 0
	var err error
	for i, h := range c.hooks {
		ctx, err = safeBefore(h, i, ctx, d)
		if err != nil {
			break
		}
		ran++
	}
	return context.WithValue(ctx, chainRanKey{}, ran), err
}

func (c *HookChain) AfterHandle(ctx context.Context, d *Delivery, err error) {
	ran, ok := ctx.Value(chainRanKey{}).(int)
	if !ok {
		ran = len(c.hooks)
	}
	for i := ran - 1; i >= 0; i-- {
		safeAfter(c.hooks[i], ctx, d, err)
	}
}

func safeBefore(h ConsumerHook, idx int, ctx context.Context, d *Delivery) (out context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = ctx, &HookError{Hook: fmt.Sprintf("#%d", idx), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out, err = h.BeforeHandle(ctx, d)
	if out == nil {
		out = ctx
	}
	return out, err
}

func safeAfter(h ConsumerHook, ctx context.Context, d *Delivery, err error) {
	defer func() { _ = recover() }()
	h.AfterHandle(ctx, d, err)
}

type ctxKey string

const (
	CtxStartTime ctxKey = "kafka_start_time"
	CtxTraceID   ctxKey = "kafka_trace_id"
)

// WithTraceID stores id on ctx. Producer.Publish forwards it as a header.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, CtxTraceID, id)
}

// TraceIDFrom returns the trace id set by WithTraceID or TracingHook.
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(CtxTraceID).(string)
	return id
}

func headerValue(msg kafka.Message, keys ...string) string {
	for _, k := range keys {
		for _, h := range msg.Headers {
			if h.Key == k {
				return string(h.Value)
			}
		}
	}
	return ""
}

// JSONPayloadHook rejects payloads that are not a JSON object or array.
func JSONPayloadHook() ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, d *Delivery) (context.Context, error) {
			v := bytes.TrimLeft(d.Message.Value, " \t\r\n")
			if !json.Valid(v) {
				return ctx, &HookError{Hook: "json", Err: errors.New("payload is not valid JSON")}
			}
			if v[0] != '{' && v[0] != '[' {
				return ctx, &HookError{Hook: "json", Err: errors.New("payload must be an object or array")}
			}
			return ctx, nil
		},
	}
}

// TracingHook carries the producer's trace id into ctx and logs failed or
// slow handling. Retries are logged at warn, the rest at error.
func TracingHook(l *logger.Logger, slow time.Duration) ConsumerHook {
	if l == nil {
		l = logger.NewNop()
	}
	return HookFuncs{
		Before: func(ctx context.Context, d *Delivery) (context.Context, error) {
			ctx = context.WithValue(ctx, CtxStartTime, time.Now())
			return WithTraceID(ctx, headerValue(d.Message, headerTraceID, "x-trace-id")), nil
		},
		After: func(ctx context.Context, d *Delivery, err error) {
			start, ok := ctx.Value(CtxStartTime).(time.Time)
			if !ok {
				return
			}
			elapsed := time.Since(start)
			if err == nil && (slow <= 0 || elapsed < slow) {
				return
			}
			fields := []logger.Field{
				logger.String("topic", d.Message.Topic),
				logger.Int("partition", d.Message.Partition),
				logger.Int64("offset", d.Message.Offset),
				logger.Int("attempt", d.Attempt),
				logger.Duration("latency_ms", elapsed),
			}
			if id := TraceIDFrom(ctx); id != "" {
				fields = append(fields, logger.String("trace_id", id))
			}
			switch {
			case err == nil:
				l.Warn("slow kafka handler", fields...)
			case IsPermanent(err):
				l.Error("kafka handler rejected message", append(fields, logger.Error(err))...)
			default:
				l.Warn("kafka handler failed", append(fields, logger.Error(err))...)
			}
		},
	}
}
