package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffWithJitterStaysInRange(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	// large attempts must not overflow into a negative duration
	assert.Greater(t, backoffWithJitter(time.Millisecond, time.Second, 80), time.Duration(0))
}

func TestPermanentWrapping(t *testing.T) {
	base := errors.New("unknown schema")
	err := Permanent(base)

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}

func TestHookChainOrderAndPanicSafety(t *testing.T) {
	type key string
	var order []string
	mk := func(name string) Hook {
		return HookFuncs{
			BeforeFn: func(ctx context.Context, _ kafka.Message) (context.Context, error) {
				order = append(order, "before:"+name)
				prev, _ := ctx.Value(key("path")).(string)
				return context.WithValue(ctx, key("path"), prev+name), nil
			},
			AfterFn: func(context.Context, kafka.Message, error) {
				order = append(order, "after:"+name)
			},
		}
	}
	chain := NewHookChain(mk("a"), nil, mk("b"))
	require.Len(t, chain, 2)

	ctx, err := chain.Before(context.Background(), kafka.Message{})
	require.NoError(t, err)
	assert.Equal(t, "ab", ctx.Value(key("path")))
	chain.After(ctx, kafka.Message{}, nil)
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, order)

	panicky := NewHookChain(HookFuncs{
		BeforeFn: func(context.Context, kafka.Message) (context.Context, error) {
			panic("boom")
		},
		AfterFn: func(context.Context, kafka.Message, error) {
			panic("boom")
		},
	})
	_, err = panicky.Before(context.Background(), kafka.Message{})
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PANIC", he.Code)
	assert.NotPanics(t, func() { panicky.After(context.Background(), kafka.Message{}, nil) })
}

func TestExtractTraceID(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx := WithTraceID(context.Background(), ExtractTraceID(km))
	assert.Equal(t, "abc", TraceID(ctx))
	assert.Equal(t, "", TraceID(context.Background()))
	assert.Equal(t, ctx, WithTraceID(ctx, ""))
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{})
	require.Error(t, err)

	c, err := NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	c.RegisterHandler(HandlerFunc{TopicName: "market-state-changed", Fn: func(context.Context, []byte) error { return nil }})
	c.RegisterHandler(HandlerFunc{TopicName: "market-state-changed", Fn: func(context.Context, []byte) error { return nil }})
	c.RegisterHandler(HandlerFunc{TopicName: "candidates", Fn: func(context.Context, []byte) error { return nil }})
	assert.Equal(t, []string{"candidates", "market-state-changed"}, c.Topics())
	require.NoError(t, c.Stop(context.Background()))
}

func TestDeliverRetriesTransientFailures(t *testing.T) {
	c, err := NewConsumer(ConsumerConfig{
		Brokers:    []string{"localhost:9092"},
		RetryMax:   3,
		BackoffMin: time.Millisecond,
		BackoffMax: 2 * time.Millisecond,
	})
	require.NoError(t, err)

	calls := 0
	h := HandlerFunc{TopicName: "candidates", Fn: func(context.Context, []byte) error {
		calls++
		if calls < 3 {
			return errors.New("store unavailable")
		}
		return nil
	}}
	assert.True(t, c.deliver(context.Background(), h, kafka.Message{Topic: "candidates"}))
	assert.Equal(t, 3, calls)
}

func TestDeliverStopsOnPermanentAndPanic(t *testing.T) {
	var seen []error
	c, err := NewConsumer(ConsumerConfig{
		Brokers:    []string{"localhost:9092"},
		RetryMax:   5,
		BackoffMin: time.Millisecond,
		Hook: HookFuncs{AfterFn: func(_ context.Context, _ kafka.Message, err error) {
			seen = append(seen, err)
		}},
	})
	require.NoError(t, err)

	calls := 0
	bad := HandlerFunc{TopicName: "candidates", Fn: func(context.Context, []byte) error {
		calls++
		return Permanent(errors.New("unknown schema"))
	}}
	assert.True(t, c.deliver(context.Background(), bad, kafka.Message{Topic: "candidates"}))
	assert.Equal(t, 1, calls)
	require.Len(t, seen, 1)
	assert.True(t, IsPermanent(seen[0]))

	boom := HandlerFunc{TopicName: "candidates", Fn: func(context.Context, []byte) error { panic("nil map") }}
	assert.True(t, c.deliver(context.Background(), boom, kafka.Message{Topic: "candidates"}))
}

func TestDeliverAbortsWhenCancelledDuringBackoff(t *testing.T) {
	c, err := NewConsumer(ConsumerConfig{
		Brokers:    []string{"localhost:9092"},
		RetryMax:   3,
		BackoffMin: time.Hour,
		BackoffMax: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := HandlerFunc{TopicName: "candidates", Fn: func(context.Context, []byte) error {
		cancel()
		return errors.New("timeout")
	}}
	assert.False(t, c.deliver(ctx, h, kafka.Message{Topic: "candidates"}))
}

func TestNewProducerValidatesConfig(t *testing.T) {
	_, err := NewProducer(ProducerConfig{})
	require.Error(t, err)

	_, err = NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, Compression: "brotli"})
	require.Error(t, err)

	p, err := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	assert.Equal(t, "snappy", p.comp)
	assert.Equal(t, 10*time.Millisecond, p.writer.BatchTimeout)
	require.NoError(t, p.Publish(context.Background(), "market-state-changed"))
	require.NoError(t, p.Close())
}
