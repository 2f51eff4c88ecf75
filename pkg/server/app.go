package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"SignalPipe/internal/domain/service"
	"SignalPipe/pkg/config"
	xhttp "SignalPipe/pkg/http"
	pkgkafka "SignalPipe/pkg/kafka"
	applogger "SignalPipe/pkg/logger"
	"SignalPipe/pkg/queue"
)

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

type background struct {
	name string
	fn   func(ctx context.Context)
}

// App encapsulates the process lifecycle: start hooks, background loops,
// pipeline components, the Kafka consumer, the job queue and the HTTP server.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server
	components []service.Component
	consumer   *pkgkafka.Consumer
	jobs       *queue.RedisQueue

	hooks      []hook
	background []background
	wg         sync.WaitGroup
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, srv *xhttp.Server, components ...service.Component) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, log: l, httpServer: srv, components: components}
}

// SetConsumer attaches the Kafka consumer; handlers must be registered.
func (a *App) SetConsumer(c *pkgkafka.Consumer) { a.consumer = c }

// SetJobQueue attaches the job queue worker.
func (a *App) SetJobQueue(q *queue.RedisQueue) { a.jobs = q }

// OnStart registers a hook run before any component starts. A failing hook
// aborts startup.
func (a *App) OnStart(name string, fn func(ctx context.Context) error) {
	a.hooks = append(a.hooks, hook{name: name, fn: fn})
}

// AddBackground registers a loop that runs until the root context ends.
func (a *App) AddBackground(name string, fn func(ctx context.Context)) {
	a.background = append(a.background, background{name: name, fn: fn})
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.shutdown()
		return err
	}
	<-ctx.Done()
	a.log.Info("shutdown signal received")
	a.shutdown()
	return nil
}

// Start brings every part up in dependency order and returns once they are
// running.
func (a *App) Start(ctx context.Context) error {
	for _, h := range a.hooks {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := h.fn(hctx)
		cancel()
		if err != nil {
			return fmt.Errorf("start hook %s: %w", h.name, err)
		}
		a.log.Info("start hook done", applogger.String("hook", h.name))
	}

	for _, b := range a.background {
		a.wg.Add(1)
		go func(b background) {
			defer a.wg.Done()
			b.fn(ctx)
		}(b)
		a.log.Info("background loop started", applogger.String("loop", b.name))
	}

	if a.jobs != nil {
		if err := a.jobs.Start(); err != nil {
			return fmt.Errorf("job queue: %w", err)
		}
	}

	names := make([]string, 0, len(a.components))
	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		names = append(names, c.Name())
	}
	a.log.Info("components started", applogger.Strings("components", names))

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.Strings("topics", a.consumer.Topics()))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	return nil
}

// shutdown stops intake first, then the workers. Infrastructure clients are
// closed by the injector's cleanup.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	a.log.Info("shutting down...")

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}
	for i := len(a.components) - 1; i >= 0; i-- {
		c := a.components[i]
		if err := c.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	if a.jobs != nil {
		if err := a.jobs.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("job queue: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, errors.New("background loops did not exit"))
	}

	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown incomplete", applogger.Error(err))
	}
	a.log.RemoveCollector()
	a.log.Info("shutdown complete")
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg != nil && a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
