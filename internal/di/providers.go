package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/domain/service"
	"SignalPipe/internal/handler/api"
	mid "SignalPipe/internal/middleware"
	internalrepo "SignalPipe/internal/repository"
	"SignalPipe/internal/service/broker"
	"SignalPipe/internal/service/calendar"
	apimetrics "SignalPipe/internal/service/metrics"
	"SignalPipe/internal/service/ratelimit"
	"SignalPipe/internal/service/volatility"
	"SignalPipe/internal/usecase/attention"
	"SignalPipe/internal/usecase/execution"
	"SignalPipe/internal/usecase/marketstate"
	"SignalPipe/internal/usecase/ranking"
	"SignalPipe/internal/usecase/scanner"
	"SignalPipe/internal/usecase/truthtest"
	"SignalPipe/pkg/cache"
	pkgch "SignalPipe/pkg/clickhouse"
	"SignalPipe/pkg/config"
	xhttp "SignalPipe/pkg/http"
	pkgkafka "SignalPipe/pkg/kafka"
	applogger "SignalPipe/pkg/logger"
	"SignalPipe/pkg/metrics"
	"SignalPipe/pkg/postgres"
	"SignalPipe/pkg/queue"
	"SignalPipe/pkg/server"
	"SignalPipe/pkg/util"
)

const truthTestPoll = time.Minute

// Components is the ordered set of lifecycle-managed pipeline stages of this
// process.
type Components []service.Component

// ProvideLogger creates the root logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: "signalpipe",
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	apimetrics.Register()
	return metrics.New()
}

// ProvideCalendar creates the NYSE session calendar.
func ProvideCalendar(cfg *config.Config) (*calendar.NYSE, error) {
	return calendar.New(cfg.Calendar.ExtraHolidays)
}

// ProvideClickHouseClient creates a ClickHouse client. The candle tables are
// created only when clickhouse.init_schema is set.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	client, err := pkgch.NewClient(pkgch.Config{
		Host:             cfg.ClickHouse.Host,
		Port:             cfg.ClickHouse.Port,
		Database:         cfg.ClickHouse.Database,
		User:             cfg.ClickHouse.User,
		Password:         cfg.ClickHouse.Password,
		UseHTTP:          cfg.ClickHouse.UseHTTP,
		DialTimeout:      cfg.ClickHouse.DialTimeout,
		ReadTimeout:      cfg.ClickHouse.ReadTimeout,
		MaxExecutionTime: cfg.ClickHouse.MaxExecutionTime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if cfg.ClickHouse.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.InitSchema(ctx, pkgch.CandleSchema(cfg.ClickHouse.Database)); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvidePostgresClient opens the log database pool and applies the log
// schema when postgres.migrate is set.
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := postgres.NewClient(ctx,
		postgres.WithDSN(cfg.Postgres.DSN),
		postgres.WithPoolSize(cfg.Postgres.MaxConns, cfg.Postgres.MinConns),
		postgres.WithConnectTimeout(cfg.Postgres.ConnectTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}
	if cfg.Postgres.Migrate {
		if err := postgres.Migrate(ctx, client.Pool(), internalrepo.LogSchema()); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return client, client.Close, nil
}

// ProvideRedisCache connects to Redis. The job queue always needs it, even
// when pipeline state is kept in memory.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	rc, err := cache.NewRedisCache(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCacheService picks the state cache for redis.mode.
func ProvideCacheService(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	switch cfg.Redis.Mode {
	case "layered":
		return cache.NewLayeredCache(rc, cfg.Redis.L1TTL)
	case "memory":
		return cache.NewMemoryCache(cfg.Redis.MemoryMaxSize)
	default:
		return rc
	}
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		RequiredAcks: cfg.Kafka.RequiredAcks,
		Compression:  cfg.Kafka.Compression,
		MaxAttempts:  cfg.Kafka.Producer.MaxAttempts,
		BatchSize:    cfg.Kafka.Producer.BatchSize,
		BatchBytes:   cfg.Kafka.Producer.BatchBytes,
		Linger:       cfg.Kafka.Producer.Linger,
		WriteTimeout: cfg.Kafka.Producer.WriteTimeout,
		ReadTimeout:  cfg.Kafka.Producer.ReadTimeout,
		Async:        cfg.Kafka.Producer.Async,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideTopics maps configured topic names.
func ProvideTopics(cfg *config.Config) internalrepo.Topics {
	t := cfg.Kafka.Topics
	return internalrepo.Topics{
		MarketState:   t.MarketState,
		Attention:     t.Attention,
		Candidates:    t.Candidates,
		Opportunities: t.Opportunities,
		Trades:        t.Trades,
		Calibration:   t.Calibration,
	}
}

func ProvideStateStore(c cache.Service) domrepo.StateStore {
	return internalrepo.NewRedisStateStore(c)
}

func ProvideLogStore(pg *postgres.Client) domrepo.LogStore {
	return internalrepo.NewPGLogStore(pg.Pool())
}

func ProvideCandleStore(ch *pkgch.Client, l *applogger.Logger) domrepo.CandleStore {
	return internalrepo.NewCHCandleStore(ch, l.Named("candles"))
}

func ProvidePublisher(producer *pkgkafka.Producer, topics internalrepo.Topics) domrepo.Publisher {
	return internalrepo.NewKafkaBus(producer, topics)
}

// ProvideStreamSource creates the volatility ETF trade stream, nil when no
// stream URL is configured.
func ProvideStreamSource(cfg *config.Config, l *applogger.Logger) *volatility.StreamSource {
	v := cfg.Volatility
	if v.StreamURL == "" {
		return nil
	}
	return volatility.NewStreamSource(volatility.StreamConfig{
		URL:            v.StreamURL,
		APIKey:         v.APIKey,
		Symbol:         v.ETFSymbol,
		Elevated:       v.ETFElevated,
		High:           v.ETFHigh,
		ReconnectDelay: v.ReconnectDelay,
		PingInterval:   v.PingInterval,
		MaxStaleness:   v.MaxStaleness,
	}, l.Named("volatility"))
}

// ProvideVolatility chains the index quote, the ETF stream and the ETF
// candle fallback, in that order.
func ProvideVolatility(cfg *config.Config, stream *volatility.StreamSource, candles domrepo.CandleStore) domrepo.VolatilitySource {
	v := cfg.Volatility
	var sources []domrepo.VolatilitySource
	if v.IndexURL != "" {
		sources = append(sources, volatility.NewIndexSource(volatility.IndexConfig{
			URL:      v.IndexURL,
			Symbol:   v.IndexSymbol,
			APIKey:   v.APIKey,
			Elevated: v.IndexElevated,
			High:     v.IndexHigh,
			Timeout:  v.Timeout,
		}))
	}
	if stream != nil {
		sources = append(sources, stream)
	}
	sources = append(sources, volatility.NewCandleSource(candles, v.ETFSymbol, v.ETFElevated, v.ETFHigh))
	return volatility.NewChain(v.Timeout, sources...)
}

// ProvideRankingEngine is built in every process: /query, /brief and
// /status read through it.
func ProvideRankingEngine(
	cfg *config.Config,
	candles domrepo.CandleStore,
	store domrepo.StateStore,
	pub domrepo.Publisher,
	logs domrepo.LogStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) *ranking.Engine {
	return ranking.NewEngine(ranking.Config{
		TopN:         cfg.Ranking.TopN,
		PersistTopN:  cfg.Ranking.PersistTopN,
		RankTTL:      cfg.Ranking.RankTTL,
		Workers:      cfg.Ranking.Workers,
		FetchTimeout: cfg.Ranking.FetchTimeout,
	}, candles, store, pub, logs, m, l.Named(ranking.Name))
}

func ProvideScanner(
	cfg *config.Config,
	candles domrepo.CandleStore,
	store domrepo.StateStore,
	pub domrepo.Publisher,
	logs domrepo.LogStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) *scanner.Scanner {
	return scanner.NewScanner(scanner.Config{
		Universe:     util.NormalizeSymbols(cfg.Scanner.Universe),
		Workers:      cfg.Scanner.Workers,
		FetchTimeout: cfg.Scanner.FetchTimeout,
		CandidateTTL: cfg.Scanner.CandidateTTL,
	}, candles, store, pub, logs, m, l.Named(scanner.Name))
}

// ProvideBroker creates the paper broker filling at the last 1m close.
func ProvideBroker(cfg *config.Config, candles domrepo.CandleStore) (domrepo.Broker, error) {
	return broker.NewPaperBroker(cfg.Execution.StartingCash, broker.LastClose(candles))
}

// ProvideGateway returns nil when execution does not run in this process.
func ProvideGateway(
	cfg *config.Config,
	store domrepo.StateStore,
	b domrepo.Broker,
	pub domrepo.Publisher,
	logs domrepo.LogStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) (*execution.Gateway, error) {
	if !cfg.Enabled(config.ComponentExecution) {
		return nil, nil
	}
	e := cfg.Execution
	return execution.NewGateway(execution.Config{
		Mode:           e.Mode,
		MinProbability: e.MinProbability,
		Cooldown:       e.Cooldown,
		SeenTTL:        e.SeenTTL,
		Quantity:       e.Quantity,
		BrokerTimeout:  e.BrokerTimeout,
	}, store, b, pub, logs, m, l.Named(execution.Name))
}

func ProvideTruthTestRunner(
	cfg *config.Config,
	cal *calendar.NYSE,
	candles domrepo.CandleStore,
	store domrepo.StateStore,
	pub domrepo.Publisher,
	logs domrepo.LogStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) (*truthtest.Runner, error) {
	t := cfg.TruthTest
	return truthtest.NewRunner(truthtest.Config{
		RunAt:          t.RunAt,
		WindowDays:     t.WindowDays,
		LookbackDays:   t.LookbackDays,
		EntryTolerance: t.EntryTolerance,
		FetchTimeout:   t.FetchTimeout,
	}, cal, candles, store, pub, logs, m, l.Named(truthtest.Name))
}

// ProvideComponents wraps every enabled stage in its lifecycle. Polled stages
// get a cycle loop; event-driven stages run on their own trackers.
func ProvideComponents(
	cfg *config.Config,
	cal *calendar.NYSE,
	vol domrepo.VolatilitySource,
	candles domrepo.CandleStore,
	store domrepo.StateStore,
	pub domrepo.Publisher,
	logs domrepo.LogStore,
	m domrepo.Metrics,
	l *applogger.Logger,
	rank *ranking.Engine,
	scan *scanner.Scanner,
	gw *execution.Gateway,
	runner *truthtest.Runner,
) Components {
	var out Components
	if cfg.Enabled(config.ComponentMarketState) {
		eng := marketstate.NewEngine(cal, vol, store, pub, logs, m, l.Named(marketstate.Name),
			marketstate.WithEventRisk(func() bool { return cfg.MarketState.EventRisk }))
		out = append(out, mid.NewCycleLoop(marketstate.Name, eng, m, l.Named(marketstate.Name),
			mid.WithInterval(cfg.MarketState.PollInterval)))
	}
	if cfg.Enabled(config.ComponentAttention) {
		eng := attention.NewEngine(attention.Config{
			Lookback:     cfg.Attention.Lookback,
			FetchTimeout: cfg.Attention.FetchTimeout,
		}, candles, store, pub, logs, m, l.Named(attention.Name))
		out = append(out, mid.NewCycleLoop(attention.Name, eng, m, l.Named(attention.Name),
			mid.WithInterval(cfg.Attention.PollInterval)))
	}
	if cfg.Enabled(config.ComponentScanner) {
		loop := mid.NewCycleLoop(scanner.Name, scan, m, l.Named(scanner.Name),
			mid.WithInterval(cfg.Scanner.PollInterval))
		scan.SetWaker(loop)
		out = append(out, loop)
	}
	if cfg.Enabled(config.ComponentRanking) {
		out = append(out, rank)
	}
	if gw != nil {
		out = append(out, gw)
	}
	if cfg.Enabled(config.ComponentTruthTest) {
		out = append(out, mid.NewCycleLoop(truthtest.Name, runner, m, l.Named(truthtest.Name),
			mid.WithInterval(truthTestPoll), mid.WithoutInitialRun()))
	}
	return out
}

// ProvideKafkaConsumer subscribes the enabled stages to their input topics.
// The group id carries the component set so differently scoped processes
// each see every message.
func ProvideKafkaConsumer(
	cfg *config.Config,
	l *applogger.Logger,
	rank *ranking.Engine,
	scan *scanner.Scanner,
	gw *execution.Gateway,
) (*pkgkafka.Consumer, error) {
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:    cfg.Kafka.Brokers,
		GroupID:    c.GroupPrefix + "-" + strings.Join(cfg.App.Components, "-"),
		FromStart:  c.FromStart,
		RetryMax:   c.RetryMax,
		BackoffMin: c.BackoffMin,
		BackoffMax: c.BackoffMax,
		DLQTopic:   c.DLQTopic,
		MinBytes:   c.MinBytes,
		MaxBytes:   c.MaxBytes,
		Logger:     l.Named("kafka"),
		Hook:       pkgkafka.NewLoggingHook(l.Named("kafka"), time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	t := cfg.Kafka.Topics
	if cfg.Enabled(config.ComponentScanner) {
		consumer.RegisterHandler(internalrepo.Subscribe(t.MarketState, models.SchemaMarketStateChange, scan.OnMarketStateChange))
	}
	if cfg.Enabled(config.ComponentRanking) {
		consumer.RegisterHandler(internalrepo.Subscribe(t.Candidates, models.SchemaCandidateList, rank.OnCandidates))
		consumer.RegisterHandler(internalrepo.Subscribe(t.Calibration, models.SchemaCalibrationState, rank.OnCalibration))
	}
	if gw != nil {
		consumer.RegisterHandler(internalrepo.Subscribe(t.Opportunities, models.SchemaOpportunityRank, gw.OnOpportunities))
	}
	return consumer, nil
}

// ProvideJobPublisher is the producer side of the job queue used by /run.
func ProvideJobPublisher(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) queue.QueueService {
	return queue.NewRedisPublisher(l.Named("queue"), rc.Client(), queue.WithKeyPrefix(cfg.Queue.KeyPrefix))
}

// ProvideJobConsumer runs backfill jobs; nil unless the truth test runs in
// this process.
func ProvideJobConsumer(cfg *config.Config, rc *cache.RedisCache, runner *truthtest.Runner, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Enabled(config.ComponentTruthTest) {
		return nil
	}
	return queue.NewRedisConsumer(l.Named("queue"), &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(), []queue.Job{truthtest.NewBackfillJob(runner)}, queue.WithKeyPrefix(cfg.Queue.KeyPrefix))
}

// ProvideHandlers builds the HTTP surface.
func ProvideHandlers(
	l *applogger.Logger,
	rank *ranking.Engine,
	jobs queue.QueueService,
	comps Components,
	rc *cache.RedisCache,
	pg *postgres.Client,
	ch *pkgch.Client,
) []xhttp.Handler {
	rl := ratelimit.New()
	reporters := make([]api.HealthReporter, 0, len(comps))
	for _, c := range comps {
		reporters = append(reporters, c)
	}
	checks := map[string]api.Check{
		"redis":      rc.Ping,
		"postgres":   pg.Health,
		"clickhouse": ch.Health,
	}
	hl := l.Named("api")
	return []xhttp.Handler{
		api.NewQueryHandler(hl, rank, cache.NewMemoryCache(64), rl),
		api.NewRunHandler(hl, jobs, rl),
		api.NewHealthHandler(l, reporters, checks),
	}
}

// ProvideApp assembles the process.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	rc *cache.RedisCache,
	store domrepo.StateStore,
	comps Components,
	consumer *pkgkafka.Consumer,
	jobs *queue.RedisQueue,
	stream *volatility.StreamSource,
	handlers []xhttp.Handler,
) *server.App {
	l.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   cfg.Log.CollectorInterval,
		CountThreshold: 100,
		Topic:          cfg.Log.ErrorQueue,
		Publisher:      queue.NewRedisPublisher(l, rc.Client(), queue.WithKeyPrefix(cfg.Queue.KeyPrefix+":ops")),
		KeepLast:       50,
	})

	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l.Named("http")),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins...),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	}

	app := server.New(cfg, l, xhttp.NewServer(handlers, opts...), comps...)
	if len(consumer.Topics()) > 0 {
		app.SetConsumer(consumer)
	}
	if jobs != nil {
		app.SetJobQueue(jobs)
	}
	if stream != nil {
		app.AddBackground("volatility-stream", stream.Run)
	}
	if cfg.Enabled(config.ComponentExecution) {
		enabled := cfg.Execution.EnabledOnStart
		app.OnStart("kill-switch", func(ctx context.Context) error {
			return store.SetExecutionEnabled(ctx, enabled)
		})
	}
	return app
}
