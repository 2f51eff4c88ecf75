package repository

import (
	"context"
	"fmt"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	pkgkafka "SignalPipe/pkg/kafka"
)

// Topics names the bus channel of each payload.
type Topics struct {
	MarketState   string
	Attention     string
	Candidates    string
	Opportunities string
	Trades        string
	Calibration   string
}

// messageWriter is the part of the Kafka producer the bus needs.
type messageWriter interface {
	Publish(ctx context.Context, topic string, msgs ...pkgkafka.Message) error
	Close() error
}

// KafkaBus implements Publisher for Kafka. Every payload travels inside a
// versioned envelope.
type KafkaBus struct {
	producer messageWriter
	topics   Topics
}

// NewKafkaBus creates the Kafka publisher.
func NewKafkaBus(producer *pkgkafka.Producer, topics Topics) *KafkaBus {
	return newKafkaBus(producer, topics)
}

func newKafkaBus(w messageWriter, topics Topics) *KafkaBus {
	return &KafkaBus{producer: w, topics: topics}
}

var _ domrepo.Publisher = (*KafkaBus)(nil)

func (b *KafkaBus) send(ctx context.Context, topic, schema, key string, payload interface{}) error {
	data, err := models.Encode(schema, payload)
	if err != nil {
		return err
	}
	msg := pkgkafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: map[string]string{pkgkafka.SchemaHeader: schema},
	}
	if err := b.producer.Publish(ctx, topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", schema, err)
	}
	return nil
}

func (b *KafkaBus) PublishMarketState(ctx context.Context, c models.MarketStateChange) error {
	return b.send(ctx, b.topics.MarketState, models.SchemaMarketStateChange, "market_state", c)
}

func (b *KafkaBus) PublishAttention(ctx context.Context, s models.AttentionState) error {
	return b.send(ctx, b.topics.Attention, models.SchemaAttentionState, "attention_state", s)
}

func (b *KafkaBus) PublishCandidates(ctx context.Context, l models.CandidateList) error {
	return b.send(ctx, b.topics.Candidates, models.SchemaCandidateList, string(l.Horizon), l)
}

func (b *KafkaBus) PublishOpportunities(ctx context.Context, r models.OpportunityRank) error {
	return b.send(ctx, b.topics.Opportunities, models.SchemaOpportunityRank, string(r.Horizon), r)
}

func (b *KafkaBus) PublishExecution(ctx context.Context, e models.ExecutionEvent) error {
	return b.send(ctx, b.topics.Trades, models.SchemaExecutionEvent, e.Ticker, e)
}

func (b *KafkaBus) PublishCalibration(ctx context.Context, s models.CalibrationState) error {
	return b.send(ctx, b.topics.Calibration, models.SchemaCalibrationState, "calibration_state", s)
}

func (b *KafkaBus) Close() error {
	if b.producer != nil {
		return b.producer.Close()
	}
	return nil
}

// Subscribe adapts a typed handler to a Kafka topic. Payloads that fail the
// envelope check are marked permanent so the consumer quarantines them.
func Subscribe[T any](topic, schema string, fn func(context.Context, T) error) pkgkafka.MessageHandler {
	return pkgkafka.HandlerFunc{
		TopicName: topic,
		Fn: func(ctx context.Context, data []byte) error {
			v, err := models.Decode[T](data, schema)
			if err != nil {
				return pkgkafka.Permanent(err)
			}
			return fn(ctx, v)
		},
	}
}
