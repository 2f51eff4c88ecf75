package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Publisher ships flushed batches, e.g. onto the ops queue.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Publisher      Publisher // nil keeps entries in memory only
	KeepLast       int       // entries retained for Recent
}

type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds repeated log lines into counted entries. Two lines are
// the same entry when level, caller, message and field values all match.
type LogCollector struct {
	cfg CollectionConfig

	mu      sync.Mutex
	pending map[uint64]*AggregatedLogEntry
	flushed []AggregatedLogEntry

	publishFailures atomic.Int64
	stop            chan struct{}
	done            sync.WaitGroup
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := CollectionConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.TimeInterval <= 0 {
		c.TimeInterval = 30 * time.Second
	}
	if c.CountThreshold <= 0 {
		c.CountThreshold = 100
	}
	if c.KeepLast <= 0 {
		c.KeepLast = 20
	}
	lc := &LogCollector{
		cfg:     c,
		pending: make(map[uint64]*AggregatedLogEntry),
		stop:    make(chan struct{}),
	}
	lc.done.Add(1)
	go lc.loop()
	return lc
}

func fingerprint(level, message, caller string, fields map[string]interface{}) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s", level, caller, message)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "\x00%s=%v", k, fields[k])
	}
	return h.Sum64()
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := fingerprint(level, message, caller, fields)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.pending[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.pending[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	if len(c.pending) >= c.cfg.CountThreshold {
		c.flushLocked()
	}
}

// Recent returns pending entries followed by the last flushed batch, newest
// first.
func (c *LogCollector) Recent() []AggregatedLogEntry {
	c.mu.Lock()
	out := make([]AggregatedLogEntry, 0, len(c.pending)+len(c.flushed))
	for _, e := range c.pending {
		out = append(out, *e)
	}
	out = append(out, c.flushed...)
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	if len(out) > c.cfg.KeepLast {
		out = out[:c.cfg.KeepLast]
	}
	return out
}

// PublishFailures counts batches the publisher rejected.
func (c *LogCollector) PublishFailures() int64 { return c.publishFailures.Load() }

func (c *LogCollector) loop() {
	defer c.done.Done()
	ticker := time.NewTicker(c.cfg.TimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
		case <-c.stop:
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
			return
		}
	}
}

func (c *LogCollector) flushLocked() {
	if len(c.pending) == 0 {
		return
	}
	batch := make([]AggregatedLogEntry, 0, len(c.pending))
	for _, e := range c.pending {
		batch = append(batch, *e)
	}
	c.pending = make(map[uint64]*AggregatedLogEntry)
	sort.Slice(batch, func(i, j int) bool { return batch[i].Count > batch[j].Count })

	c.flushed = batch
	if len(c.flushed) > c.cfg.KeepLast {
		c.flushed = c.flushed[:c.cfg.KeepLast]
	}

	if c.cfg.Publisher == nil {
		return
	}
	// publishing must not hold the lock nor log through the logger feeding us
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
			c.publishFailures.Add(1)
		}
	}()
}

// Close flushes pending entries and stops the flush loop.
func (c *LogCollector) Close() {
	close(c.stop)
	c.done.Wait()
}
