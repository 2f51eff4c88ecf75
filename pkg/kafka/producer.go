package kafka

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// ProducerConfig configures Producer. Zero fields take the defaults applied
// by NewProducer.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int // -1 waits for all in-sync replicas
	Compression  string
	MaxAttempts  int
	BatchSize    int
	BatchBytes   int
	Linger       time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	Async        bool
	// AutoCreateTopics lets the writer create missing topics on first publish.
	AutoCreateTopics bool
}

func (c *ProducerConfig) setDefaults() {
	if c.Compression == "" {
		c.Compression = "snappy"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchBytes <= 0 {
		c.BatchBytes = 1 << 20
	}
	if c.Linger <= 0 {
		c.Linger = 10 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
}

// Message is one record to publish. Value must already be encoded.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer publishes pipeline events. Records are balanced by key hash so
// every event of one horizon or ticker keeps its order.
type Producer struct {
	writer *kafka.Writer
	comp   string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	cfg.setDefaults()
	comp, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	initProducerMetricsOnce()
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:            comp,
			MaxAttempts:            cfg.MaxAttempts,
			WriteTimeout:           cfg.WriteTimeout,
			ReadTimeout:            cfg.ReadTimeout,
			BatchSize:              cfg.BatchSize,
			BatchBytes:             int64(cfg.BatchBytes),
			BatchTimeout:           cfg.Linger,
			Async:                  cfg.Async,
			AllowAutoTopicCreation: cfg.AutoCreateTopics,
		},
		comp: cfg.Compression,
	}, nil
}

// Publish sends msgs to topic in one write. A trace id carried by ctx is
// attached to every record that does not set its own.
func (p *Producer) Publish(ctx context.Context, topic string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	trace := TraceID(ctx)
	now := time.Now()

	out := make([]kafka.Message, 0, len(msgs))
	var bytes int64
	for _, m := range msgs {
		km := kafka.Message{Topic: topic, Key: m.Key, Value: m.Value, Time: now}
		for k, v := range m.Headers {
			km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		if _, ok := m.Headers[traceHeader]; !ok && trace != "" {
			km.Headers = append(km.Headers, kafka.Header{Key: traceHeader, Value: []byte(trace)})
		}
		out = append(out, km)
		bytes += int64(len(m.Value))
	}

	start := time.Now()
	err := p.writer.WriteMessages(ctx, out...)
	observeProducer(topic, p.comp, bytes, len(out), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func parseCompression(s string) (kafka.Compression, error) {
	switch strings.ToLower(s) {
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

var (
	producerMsgs    *prometheus.CounterVec
	producerBytes   *prometheus.CounterVec
	producerLatency *prometheus.HistogramVec
	producerOnce    sync.Once
)

func initProducerMetricsOnce() {
	producerOnce.Do(func() {
		producerMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalpipe",
			Subsystem: "kafka_producer",
			Name:      "messages_total",
			Help:      "Records published, by outcome.",
		}, []string{"topic", "result"})
		producerBytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalpipe",
			Subsystem: "kafka_producer",
			Name:      "bytes_total",
			Help:      "Uncompressed payload bytes published.",
		}, []string{"topic", "compression"})
		producerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signalpipe",
			Subsystem: "kafka_producer",
			Name:      "publish_seconds",
			Help:      "WriteMessages latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"})
	})
}

func observeProducer(topic, comp string, bytes int64, count int, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMsgs.WithLabelValues(topic, result).Add(float64(count))
	producerBytes.WithLabelValues(topic, comp).Add(float64(bytes))
	producerLatency.WithLabelValues(topic).Observe(dur.Seconds())
}
