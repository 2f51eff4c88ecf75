package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"SignalPipe/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// promoteDue moves due retries back onto the main list in one step so two
// consumers never promote the same message.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(due) do
	redis.call('ZREM', KEYS[1], m)
	redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

const promoteBatch = 100

// RedisQueue is a list-backed job queue. Messages are LPUSHed onto
// <prefix>:messages; a worker BLMOVEs one onto <prefix>:processing, runs it
// and removes it. Failures wait in the <prefix>:retry sorted set, scored by
// due time in unix milliseconds, and end in <prefix>:dlq.
type RedisQueue struct {
	log       *logger.Logger
	cfg       QueueConfig
	client    *redis.Client
	keyPrefix string
	consume   bool

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.keyPrefix = prefix }
}

func newRedisQueue(lgr *logger.Logger, cfg *QueueConfig, client *redis.Client, consume bool, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	c := QueueConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	r := &RedisQueue{
		log:       lgr,
		cfg:       c,
		client:    client,
		keyPrefix: "signalpipe:queue",
		consume:   consume,
		jobs:      make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRedisPublisher returns a started queue that only publishes. Any message
// type is accepted.
func NewRedisPublisher(lgr *logger.Logger, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	q := newRedisQueue(lgr, nil, client, false, opts...)
	if err := q.Start(); err != nil {
		q.log.Error("redis publisher start failed", logger.Error(err))
	}
	return q
}

// NewRedisConsumer returns a queue that runs jobs once started. Publishing
// through it is limited to the registered types.
func NewRedisConsumer(lgr *logger.Logger, cfg *QueueConfig, client *redis.Client, jobs []Job, opts ...RedisQueueOption) *RedisQueue {
	q := newRedisQueue(lgr, cfg, client, true, opts...)
	for _, j := range jobs {
		q.jobs[j.Type()] = j
		q.log.Info("job registered", logger.String("job", j.Name()), logger.String("type", j.Type()))
	}
	return q
}

func (r *RedisQueue) key(suffix string) string { return r.keyPrefix + ":" + suffix }

// Start pings Redis and, for consumers, requeues messages left in the
// processing list by a previous run before starting the workers.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	r.running = true
	if !r.consume {
		r.log.Info("redis publisher started", logger.String("prefix", r.keyPrefix))
		return nil
	}

	recovered, err := r.requeueInFlight(ctx)
	if err != nil {
		r.log.Warn("requeue in-flight messages", logger.Error(err))
	} else if recovered > 0 {
		r.log.Warn("requeued in-flight messages", logger.Int("count", recovered))
	}

	runCtx, stop := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < r.cfg.Workers; i++ {
		id := i
		g.Go(func() error { return r.work(gctx, id) })
	}
	g.Go(func() error { return r.promoteLoop(gctx) })
	r.cancel, r.group = stop, g

	r.log.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.String("prefix", r.keyPrefix))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel, g := r.cancel, r.group
	r.mu.Unlock()
	if g == nil {
		return nil
	}

	cancel()
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case <-ctx.Done():
		r.log.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case err := <-done:
		r.log.Info("redis queue stopped")
		return err
	}
}

// Enqueue stores a new message of msgType.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return errors.New("queue not running")
	}
	if r.consume && !known {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key("messages"), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// PublishMessage implements QueueService.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

func (r *RedisQueue) work(ctx context.Context, id int) error {
	r.log.Debug("queue worker started", logger.Int("worker_id", id))
	for ctx.Err() == nil {
		raw, err := r.client.BLMove(ctx, r.key("messages"), r.key("processing"), "RIGHT", "LEFT", time.Second).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return nil
		case err != nil:
			r.log.Error("blmove", logger.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		r.handle(ctx, raw)
	}
	return nil
}

// handle runs one message and always removes it from the processing list,
// unless the process is shutting down mid-job.
func (r *RedisQueue) handle(ctx context.Context, raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.log.Error("undecodable message dropped to dlq", logger.Error(err))
		r.finish(raw, r.key("dlq"), raw)
		return
	}

	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.fail(raw, msg, Permanent(fmt.Errorf("no job for type %s", msg.Type)))
		return
	}

	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	switch {
	case err == nil:
		r.log.Info("job done",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed", time.Since(start)))
		r.finish(raw, "", "")
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		r.log.Warn("job interrupted by shutdown, left for requeue",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()))
	default:
		r.fail(raw, msg, err)
	}
}

func (r *RedisQueue) fail(raw string, msg Message, err error) {
	msg.Attempts++
	msg.LastError = err.Error()
	data, mErr := json.Marshal(msg)
	if mErr != nil {
		r.log.Error("marshal failed message", logger.Error(mErr))
		data = []byte(raw)
	}

	if IsPermanent(err) || msg.Attempts > r.cfg.RetryLimit {
		r.log.Error("job failed, moved to dlq",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Int("attempts", msg.Attempts),
			logger.Error(err))
		r.finish(raw, r.key("dlq"), string(data))
		return
	}

	delay := r.cfg.RetryDelay << (msg.Attempts - 1)
	due := time.Now().Add(delay)
	r.log.Warn("job failed, retry scheduled",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", due.UTC().Format(time.RFC3339)),
		logger.Error(err))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, r.key("retry"), redis.Z{Score: float64(due.UnixMilli()), Member: string(data)})
	pipe.LRem(ctx, r.key("processing"), 1, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("schedule retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

// finish removes raw from the processing list and, when to is set, pushes
// data there in the same transaction.
func (r *RedisQueue) finish(raw, to, data string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pipe := r.client.TxPipeline()
	if to != "" {
		pipe.LPush(ctx, to, data)
	}
	pipe.LRem(ctx, r.key("processing"), 1, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("ack message", logger.Error(err))
	}
}

func (r *RedisQueue) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.promoteRetries(ctx, time.Now()); err != nil && ctx.Err() == nil {
				r.log.Error("promote retries", logger.Error(err))
			}
		}
	}
}

func (r *RedisQueue) promoteRetries(ctx context.Context, now time.Time) (int64, error) {
	return promoteDue.Run(ctx, r.client,
		[]string{r.key("retry"), r.key("messages")},
		strconv.FormatInt(now.UnixMilli(), 10), promoteBatch,
	).Int64()
}

// requeueInFlight moves everything left in the processing list back onto the
// main list. Only one consumer process may share a prefix.
func (r *RedisQueue) requeueInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := r.client.LMove(ctx, r.key("processing"), r.key("messages"), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Pending returns the number of messages waiting in the main list.
func (r *RedisQueue) Pending(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key("messages")).Result()
}

// DeadLetters returns the number of messages parked in the DLQ.
func (r *RedisQueue) DeadLetters(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key("dlq")).Result()
}
