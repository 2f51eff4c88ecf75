package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	applogger "SignalPipe/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// HandlerFunc adapts a function to MessageHandler for a fixed topic.
type HandlerFunc struct {
	TopicName string
	Fn        func(context.Context, []byte) error
}

func (h HandlerFunc) Topic() string { return h.TopicName }

func (h HandlerFunc) Handle(ctx context.Context, data []byte) error { return h.Fn(ctx, data) }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The message goes straight to
// the DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	FromStart  bool
	RetryMax   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	DLQTopic   string
	MinBytes   int
	MaxBytes   int
	Logger     *applogger.Logger
	Hook       Hook
}

// Consumer reads each registered topic on its own goroutine. Messages of a
// topic are handled one at a time in offset order, and the offset is
// committed only once the message was handled or quarantined.
type Consumer struct {
	cfg      ConsumerConfig
	log      *applogger.Logger
	hook     Hook
	handlers map[string]MessageHandler
	dlq      *kafka.Writer

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	readers []*kafka.Reader
}

// NewConsumer validates cfg and fills in defaults. Readers are only opened
// by Start.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: brokers are required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "signalpipe"
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}
	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger,
		hook:     cfg.Hook,
		handlers: make(map[string]MessageHandler),
	}
	if c.log == nil {
		c.log = applogger.Nop()
	}
	if c.hook == nil {
		c.hook = HookFuncs{}
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	initConsumerMetricsOnce()
	return c, nil
}

// RegisterHandler binds a handler to its topic. The first registration for
// a topic wins.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// Topics returns the registered topics in sorted order.
func (c *Consumer) Topics() []string {
	out := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Start opens one reader per registered topic. Without handlers it does
// nothing.
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.handlers) == 0 || c.group != nil {
		return nil
	}

	offset := kafka.LastOffset
	if c.cfg.FromStart {
		offset = kafka.FirstOffset
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.group, ctx = errgroup.WithContext(ctx)

	for _, topic := range c.Topics() {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: offset,
		})
		c.readers = append(c.readers, r)
		h := c.handlers[topic]
		c.group.Go(func() error { return c.consume(ctx, r, h) })
	}

	c.log.Info("kafka consumer started",
		applogger.String("group", c.cfg.GroupID),
		applogger.Any("topics", c.Topics()))
	return nil
}

// Stop cancels the readers and waits for in-flight handlers, bounded by ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.group != nil {
		c.cancel()
		done := make(chan error, 1)
		go func() { done <- c.group.Wait() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer: stop: %w", ctx.Err())
		}
		for _, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka reader close", applogger.String("topic", r.Config().Topic), applogger.Error(cerr))
			}
		}
		c.readers = nil
		c.group = nil
	}
	if c.dlq != nil {
		if cerr := c.dlq.Close(); cerr != nil {
			c.log.Warn("kafka dlq writer close", applogger.Error(cerr))
		}
		c.dlq = nil
	}
	return err
}

func (c *Consumer) consume(ctx context.Context, r *kafka.Reader, h MessageHandler) error {
	topic := r.Config().Topic
	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("kafka fetch", applogger.String("topic", topic), applogger.Error(err))
			if !sleepCtx(ctx, 200*time.Millisecond) {
				return nil
			}
			continue
		}
		if !c.deliver(ctx, h, km) {
			return nil
		}
		c.commit(ctx, r, km)
	}
}

// deliver runs the handler with retries. It returns false only when ctx was
// cancelled during a backoff, leaving the offset uncommitted for redelivery.
func (c *Consumer) deliver(ctx context.Context, h MessageHandler, km kafka.Message) bool {
	start := time.Now()
	var (
		err      error
		attempts int
	)
	for {
		attempts++
		err = c.attempt(ctx, h, km)
		if err == nil || IsPermanent(err) || attempts > c.cfg.RetryMax {
			break
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)) {
			return false
		}
	}
	consumerLatency.WithLabelValues(km.Topic).Observe(time.Since(start).Seconds())

	if err == nil {
		consumerMsgs.WithLabelValues(km.Topic, "ok").Inc()
		return true
	}
	consumerMsgs.WithLabelValues(km.Topic, "dlq").Inc()
	c.log.Error("kafka message quarantined",
		applogger.String("topic", km.Topic),
		applogger.Int("partition", km.Partition),
		applogger.Int64("offset", km.Offset),
		applogger.Int("attempts", attempts),
		applogger.Bool("permanent", IsPermanent(err)),
		applogger.Error(err))
	c.quarantine(km, err)
	return true
}

func (c *Consumer) attempt(ctx context.Context, h MessageHandler, km kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	hctx, err := c.hook.Before(ctx, km)
	if err != nil {
		return err
	}
	err = h.Handle(hctx, km.Value)
	c.hook.After(hctx, km, err)
	return err
}

func (c *Consumer) quarantine(km kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	headers := []kafka.Header{
		{Key: "source_topic", Value: []byte(km.Topic)},
		{Key: "source_offset", Value: []byte(fmt.Sprint(km.Offset))},
		{Key: "error", Value: []byte(cause.Error())},
	}
	for _, h := range km.Headers {
		if h.Key == SchemaHeader || h.Key == traceHeader {
			headers = append(headers, h)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.dlq.WriteMessages(ctx, kafka.Message{Key: km.Key, Value: km.Value, Headers: headers}); err != nil {
		c.log.Error("kafka dlq write", applogger.String("dlq", c.cfg.DLQTopic), applogger.Error(err))
	}
}

func (c *Consumer) commit(ctx context.Context, r *kafka.Reader, km kafka.Message) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		if err = r.CommitMessages(ctx, km); err == nil || ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt)) {
			return
		}
	}
	c.log.Warn("kafka commit failed",
		applogger.String("topic", km.Topic),
		applogger.Int64("offset", km.Offset),
		applogger.Error(err))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt <= 32 {
		if d := min << uint(attempt-1); d > 0 && d < max {
			exp = d
		}
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

var (
	consumerMsgs    *prometheus.CounterVec
	consumerLatency *prometheus.HistogramVec
	consumerOnce    sync.Once
)

func initConsumerMetricsOnce() {
	consumerOnce.Do(func() {
		consumerMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalpipe",
			Subsystem: "kafka_consumer",
			Name:      "messages_total",
			Help:      "Messages consumed, by outcome.",
		}, []string{"topic", "result"})
		consumerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signalpipe",
			Subsystem: "kafka_consumer",
			Name:      "handle_seconds",
			Help:      "Handling time per message including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"})
	})
}
