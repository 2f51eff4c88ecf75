package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu    sync.Mutex
	topic string
	batch []AggregatedLogEntry
	calls int
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batch, _ = payload.([]AggregatedLogEntry)
	p.calls++
	return nil
}

func (p *capturePublisher) snapshot() (string, []AggregatedLogEntry, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.topic, p.batch, p.calls
}

func TestCollectorFoldsDuplicates(t *testing.T) {
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100})
	defer c.Close()

	fields := map[string]interface{}{"ticker": "AAPL"}
	c.AddLog("error", "candle fetch failed", fields, "scanner.go:10")
	c.AddLog("error", "candle fetch failed", fields, "scanner.go:10")
	c.AddLog("error", "publish failed", nil, "bus.go:20")

	recent := c.Recent()
	require.Len(t, recent, 2)

	counts := map[string]int{}
	for _, e := range recent {
		counts[e.Message] = e.Count
	}
	assert.Equal(t, 2, counts["candle fetch failed"])
	assert.Equal(t, 1, counts["publish failed"])
}

func TestCollectorFlushesOnThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 2,
		Topic:          "ops.errors",
		Publisher:      pub,
	})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")

	require.Eventually(t, func() bool {
		_, _, calls := pub.snapshot()
		return calls == 1
	}, time.Second, 10*time.Millisecond)

	topic, batch, _ := pub.snapshot()
	assert.Equal(t, "ops.errors", topic)
	assert.Len(t, batch, 2)

	// flushed entries stay visible to health checks
	assert.Len(t, c.Recent(), 2)
}

func TestLoggerErrorFeedsCollector(t *testing.T) {
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour})
	defer l.RemoveCollector()

	l.Named("scanner").Error("fetch candles", String("ticker", "MSFT"), Error(errors.New("timeout")))

	recent := l.RecentErrors()
	require.Len(t, recent, 1)
	assert.Equal(t, "fetch candles", recent[0].Message)
	assert.Equal(t, "MSFT", recent[0].Fields["ticker"])
	assert.Equal(t, "timeout", recent[0].Fields["error"])
	assert.Contains(t, recent[0].Caller, "logger/collector_test.go:")
}

func TestChildCreatedBeforeCollectorStillFeedsIt(t *testing.T) {
	l := Nop()
	child := l.Named("ranking")
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour})
	defer l.RemoveCollector()

	child.Error("persist rank", Error(errors.New("postgres down")))
	child.Warn("slow cycle")
	require.Len(t, l.RecentErrors(), 1)
}

type failingPublisher struct{}

func (failingPublisher) PublishMessage(context.Context, string, interface{}) error {
	return errors.New("redis down")
}

func TestCollectorCountsPublishFailures(t *testing.T) {
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 1, Publisher: failingPublisher{}})
	defer c.Close()

	c.AddLog("error", "a", map[string]interface{}{"ticker": "AAPL"}, "x.go:1")
	require.Eventually(t, func() bool { return c.PublishFailures() == 1 }, time.Second, 10*time.Millisecond)
}

func TestFingerprintIgnoresFieldOrder(t *testing.T) {
	a := fingerprint("error", "m", "x.go:1", map[string]interface{}{"a": 1, "b": "two"})
	b := fingerprint("error", "m", "x.go:1", map[string]interface{}{"b": "two", "a": 1})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, fingerprint("error", "m", "x.go:2", map[string]interface{}{"a": 1, "b": "two"}))
}
