package repository

import (
	"context"
	"errors"
	"time"

	"SignalPipe/internal/domain/models"
)

// ErrNoData is returned when a store holds nothing for the requested range.
var ErrNoData = errors.New("no data")

// CandleStore provides read-only access to candle history. Results are
// ordered oldest first.
type CandleStore interface {
	GetCandles(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
	// GetCandlesBefore returns up to n candles with bucket <= at.
	GetCandlesBefore(ctx context.Context, symbol string, at time.Time, n int, tf Timeframe) ([]models.Candle, error)
}
