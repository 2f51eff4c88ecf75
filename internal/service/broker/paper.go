package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrNoPrice          = errors.New("no price for ticker")
	ErrInvalidOrder     = errors.New("invalid order")
)

// PriceFunc resolves the fill price of a ticker.
type PriceFunc func(ctx context.Context, ticker string) (float64, error)

// LastClose prices fills at the latest 1m close from the candle store.
func LastClose(store domrepo.CandleStore) PriceFunc {
	return func(ctx context.Context, ticker string) (float64, error) {
		candles, err := store.GetLatestNCandles(ctx, ticker, 1, domrepo.TF1m)
		if err != nil {
			return 0, err
		}
		last, ok := models.Last(candles)
		if !ok || last.Close <= 0 {
			return 0, fmt.Errorf("%w: %s", ErrNoPrice, ticker)
		}
		return last.Close, nil
	}
}

type holding struct {
	qty      int64
	avgPrice decimal.Decimal
}

// Snapshot is the paper account state.
type Snapshot struct {
	StartingCash string `json:"starting_cash"`
	Cash         string `json:"cash"`
	Orders       int    `json:"orders"`
	OpenTickers  int    `json:"open_tickers"`
}

// PaperBroker fills market orders immediately at the resolved price and keeps
// cash and positions in memory.
type PaperBroker struct {
	mu       sync.Mutex
	price    PriceFunc
	starting decimal.Decimal
	cash     decimal.Decimal
	holdings map[string]*holding
	orders   []models.Order
	now      func() time.Time
}

// NewPaperBroker creates a paper account holding startingCash.
func NewPaperBroker(startingCash string, price PriceFunc) (*PaperBroker, error) {
	cash, err := decimal.NewFromString(startingCash)
	if err != nil {
		return nil, fmt.Errorf("starting cash %q: %w", startingCash, err)
	}
	if cash.IsNegative() {
		return nil, fmt.Errorf("starting cash %q: negative", startingCash)
	}
	return &PaperBroker{
		price:    price,
		starting: cash,
		cash:     cash,
		holdings: make(map[string]*holding),
		now:      time.Now,
	}, nil
}

// SubmitOrder fills a market order. Sells are capped at the held quantity;
// the paper account never goes short.
func (b *PaperBroker) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" || req.Quantity <= 0 {
		return models.Order{}, fmt.Errorf("%w: ticker=%q qty=%d", ErrInvalidOrder, req.Ticker, req.Quantity)
	}
	if req.Side != models.Buy && req.Side != models.Sell {
		return models.Order{}, fmt.Errorf("%w: side %q", ErrInvalidOrder, req.Side)
	}

	px, err := b.price(ctx, ticker)
	if err != nil {
		return models.Order{}, fmt.Errorf("price %s: %w", ticker, err)
	}
	price := decimal.NewFromFloat(px).Round(4)
	qty := decimal.NewFromInt(req.Quantity)
	notional := price.Mul(qty)

	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.holdings[ticker]
	switch req.Side {
	case models.Buy:
		if notional.GreaterThan(b.cash) {
			return models.Order{}, fmt.Errorf("%w: need %s have %s", ErrInsufficientCash, notional.StringFixed(2), b.cash.StringFixed(2))
		}
		b.cash = b.cash.Sub(notional)
		if h == nil {
			h = &holding{avgPrice: decimal.Zero}
			b.holdings[ticker] = h
		}
		total := h.avgPrice.Mul(decimal.NewFromInt(h.qty)).Add(notional)
		h.qty += req.Quantity
		h.avgPrice = total.Div(decimal.NewFromInt(h.qty)).Round(4)
	case models.Sell:
		if h == nil || h.qty < req.Quantity {
			return models.Order{}, fmt.Errorf("%w: sell %d %s exceeds position", ErrInvalidOrder, req.Quantity, ticker)
		}
		b.cash = b.cash.Add(notional)
		h.qty -= req.Quantity
		if h.qty == 0 {
			delete(b.holdings, ticker)
		}
	}

	order := models.Order{
		ID:        uuid.NewString(),
		Ticker:    ticker,
		Side:      req.Side,
		Quantity:  req.Quantity,
		FillPrice: price.String(),
		Status:    "filled",
		CreatedAt: b.now().UTC(),
	}
	b.orders = append(b.orders, order)
	return order, nil
}

// HasOpenPosition reports whether ticker is held.
func (b *PaperBroker) HasOpenPosition(_ context.Context, ticker string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.holdings[strings.ToUpper(ticker)]
	return ok && h.qty > 0, nil
}

// Positions lists open holdings.
func (b *PaperBroker) Positions(context.Context) ([]models.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Position, 0, len(b.holdings))
	for t, h := range b.holdings {
		out = append(out, models.Position{Ticker: t, Quantity: h.qty, AvgPrice: h.avgPrice.String()})
	}
	return out, nil
}

// Snapshot returns the account summary.
func (b *PaperBroker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		StartingCash: b.starting.StringFixed(2),
		Cash:         b.cash.StringFixed(2),
		Orders:       len(b.orders),
		OpenTickers:  len(b.holdings),
	}
}
