package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	pkgch "SignalPipe/pkg/clickhouse"
	applogger "SignalPipe/pkg/logger"
)

// CHCandleStore implements CandleStore backed by ClickHouse.
type CHCandleStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, l *applogger.Logger) *CHCandleStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHCandleStore{db: ch.DB(), database: ch.Database(), l: l}
}

const candleColumns = `bucket, symbol, open, high, low, close, vol`

// FINAL collapses ReplacingMergeTree duplicates written by the ingester.
func (s *CHCandleStore) rangeQuery(table string) string {
	return fmt.Sprintf(`
        SELECT %s
        FROM %s FINAL
        WHERE symbol = ? AND bucket >= ? AND bucket <= ?
        ORDER BY bucket ASC
    `, candleColumns, table)
}

func (s *CHCandleStore) latestQuery(table string, bounded bool) string {
	where := "symbol = ?"
	if bounded {
		where += " AND bucket <= ?"
	}
	return fmt.Sprintf(`
        SELECT %s
        FROM %s FINAL
        WHERE %s
        ORDER BY bucket DESC
        LIMIT ?
    `, candleColumns, table, where)
}

func (s *CHCandleStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	table, err := tableForTF(s.database, tf)
	if err != nil {
		return nil, err
	}
	out, err := s.query(ctx, "get_candles", table, symbol, s.rangeQuery(table), symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	return out, nil
}

func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	table, err := tableForTF(s.database, tf)
	if err != nil {
		return nil, err
	}
	tmp, err := s.query(ctx, "latest_candles", table, symbol, s.latestQuery(table, false), symbol, n)
	if err != nil {
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	reverse(tmp)
	return tmp, nil
}

func (s *CHCandleStore) GetCandlesBefore(ctx context.Context, symbol string, at time.Time, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	table, err := tableForTF(s.database, tf)
	if err != nil {
		return nil, err
	}
	tmp, err := s.query(ctx, "candles_before", table, symbol, s.latestQuery(table, true), symbol, at.UTC(), n)
	if err != nil {
		return nil, fmt.Errorf("get candles before: %w", err)
	}
	reverse(tmp)
	return tmp, nil
}

func (s *CHCandleStore) query(ctx context.Context, op, table, symbol, q string, args ...interface{}) ([]models.Candle, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse "+op+" query error",
			applogger.String("table", table),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 256)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			s.l.Error("clickhouse "+op+" scan error",
				applogger.String("table", table),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse "+op+" ok",
		applogger.String("table", table),
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func reverse(c []models.Candle) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

func tableForTF(database string, tf domrepo.Timeframe) (string, error) {
	t := tf.Table()
	if t == "" {
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
	return database + "." + t, nil
}
