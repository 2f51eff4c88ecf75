package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Config describes the ClickHouse connection. Zero fields take defaults.
type Config struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	UseHTTP     bool
	MaxOpen     int
	MaxIdle     int
	DialTimeout time.Duration
	ReadTimeout time.Duration
	// MaxExecutionTime is sent as the max_execution_time query setting.
	MaxExecutionTime time.Duration
	SkipPing         bool
}

// Client is a read-mostly pool over the candle tables.
type Client struct {
	db       *sql.DB
	database string
}

func options(cfg Config) (*clickhouse.Options, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 9000
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.User == "" {
		cfg.User = "default"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}

	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Protocol:    clickhouse.Native,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
		Settings:    clickhouse.Settings{},
	}
	if cfg.UseHTTP {
		opts.Protocol = clickhouse.HTTP
	}
	if cfg.MaxExecutionTime > 0 {
		opts.Settings["max_execution_time"] = int(cfg.MaxExecutionTime.Seconds())
	}
	return opts, nil
}

// NewClient opens the pool and pings it unless SkipPing is set.
func NewClient(cfg Config) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(opts)
	maxOpen, maxIdle := cfg.MaxOpen, cfg.MaxIdle
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	if !cfg.SkipPing {
		ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("clickhouse ping %s: %w", opts.Addr[0], err)
		}
	}
	return &Client{db: db, database: opts.Auth.Database}, nil
}

func (c *Client) DB() *sql.DB { return c.db }

func (c *Client) Database() string { return c.database }

func (c *Client) Health(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// InitSchema runs idempotent DDL statements in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// CandleSchema returns DDL for the candle tables read by the pipeline, for
// local development stacks. Rows are replaced per (symbol, bucket), so
// readers query with FINAL.
func CandleSchema(database string) []string {
	stmts := []string{fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database)}
	for _, table := range []string{"candles_1m", "candles_5m", "candles_1d"} {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	bucket DateTime64(3, 'UTC'),
	symbol LowCardinality(String),
	open Float64,
	high Float64,
	low Float64,
	close Float64,
	vol Float64
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, bucket)`, database, table))
	}
	return stmts
}
