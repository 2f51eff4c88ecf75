package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/domain/service"
	applogger "SignalPipe/pkg/logger"
)

// Tracker keeps the health counters of one component and mirrors them to
// metrics. Event-driven stages use it directly; CycleLoop embeds it.
type Tracker struct {
	name    string
	metrics domrepo.Metrics
	log     *applogger.Logger

	mu     sync.RWMutex
	health models.ComponentHealth
	// consecutive failures; the component reports degraded while > 0
	failing int
}

// NewTracker creates a tracker for the named component.
func NewTracker(name string, metrics domrepo.Metrics, l *applogger.Logger) *Tracker {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Tracker{
		name:    name,
		metrics: metrics,
		log:     l,
		health:  models.ComponentHealth{Name: name},
	}
}

func (t *Tracker) Name() string { return t.name }

// Record stores the outcome of one unit of work.
func (t *Tracker) Record(start time.Time, summary string, err error) {
	d := time.Since(start)
	t.metrics.CycleCompleted(t.name, d, err)

	t.mu.Lock()
	t.health.Cycles++
	t.health.LastCycle = start
	if summary != "" {
		t.health.LastSummary = summary
	}
	if err != nil {
		t.health.Errors++
		t.failing++
	} else {
		t.failing = 0
	}
	t.mu.Unlock()

	if err != nil {
		t.metrics.RecordError(t.name, "cycle")
		t.log.Error("cycle failed",
			applogger.String("component", t.name),
			applogger.Duration("took", d),
			applogger.Error(err),
		)
		return
	}
	t.log.Debug("cycle complete",
		applogger.String("component", t.name),
		applogger.String("summary", summary),
		applogger.Duration("took", d),
	)
}

// SetRunning flips the liveness flag.
func (t *Tracker) SetRunning(running bool) {
	t.mu.Lock()
	t.health.Running = running
	t.mu.Unlock()
}

// Health returns a snapshot.
func (t *Tracker) Health() models.ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := t.health
	h.Degraded = t.failing > 0
	return h
}

// Start and Stop let a bare Tracker stand in for event-driven components whose
// work is driven by the bus consumer.
func (t *Tracker) Start(context.Context) error {
	t.SetRunning(true)
	return nil
}

func (t *Tracker) Stop(context.Context) error {
	t.SetRunning(false)
	return nil
}

// CycleLoop runs a Cycle every interval until stopped. Wake forces an early
// run; forced runs closer together than the wake gap are dropped.
type CycleLoop struct {
	*Tracker
	cycle    service.Cycle
	interval time.Duration
	wakeGap  time.Duration
	runFirst bool

	wakeCh chan struct{}
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	// last forced run
	lastWake time.Time
	now      func() time.Time
}

// LoopOption configures a CycleLoop.
type LoopOption func(*CycleLoop)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) LoopOption {
	return func(l *CycleLoop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithWakeGap sets the minimum spacing between forced runs.
func WithWakeGap(d time.Duration) LoopOption {
	return func(l *CycleLoop) { l.wakeGap = d }
}

// WithoutInitialRun waits a full interval before the first cycle.
func WithoutInitialRun() LoopOption {
	return func(l *CycleLoop) { l.runFirst = false }
}

// NewCycleLoop creates a loop for cycle.
func NewCycleLoop(name string, cycle service.Cycle, metrics domrepo.Metrics, l *applogger.Logger, opts ...LoopOption) *CycleLoop {
	loop := &CycleLoop{
		Tracker:  NewTracker(name, metrics, l),
		cycle:    cycle,
		interval: time.Minute,
		wakeGap:  5 * time.Second,
		runFirst: true,
		wakeCh:   make(chan struct{}, 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(loop)
	}
	return loop
}

// Start launches the loop goroutine. Starting twice is a no-op.
func (l *CycleLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.SetRunning(true)
	go l.run(ctx, l.done)
	l.log.Info("component started",
		applogger.String("component", l.name),
		applogger.Duration("interval", l.interval),
	)
	return nil
}

// Stop cancels the loop and waits for the current cycle to finish or ctx to
// expire.
func (l *CycleLoop) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", l.name, ctx.Err())
	}
	l.SetRunning(false)
	l.log.Info("component stopped", applogger.String("component", l.name))
	return nil
}

// Wake requests an immediate cycle. It reports false when the request was
// throttled or one is already pending.
func (l *CycleLoop) Wake() bool {
	l.mu.Lock()
	now := l.now()
	if !l.lastWake.IsZero() && now.Sub(l.lastWake) < l.wakeGap {
		l.mu.Unlock()
		l.metrics.RecordError(l.name, "wake_throttled")
		return false
	}
	l.lastWake = now
	l.mu.Unlock()

	select {
	case l.wakeCh <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *CycleLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if l.runFirst {
		l.runOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runOnce(ctx)
		case <-l.wakeCh:
			l.runOnce(ctx)
			ticker.Reset(l.interval)
		}
	}
}

// RunOnce executes a single cycle synchronously.
func (l *CycleLoop) RunOnce(ctx context.Context) {
	l.runOnce(ctx)
}

func (l *CycleLoop) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	var (
		summary string
		err     error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		summary, err = l.cycle.RunCycle(ctx)
	}()
	l.Record(start, summary, err)
}
