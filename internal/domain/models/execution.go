package models

import (
	"fmt"
	"time"
)

// ExecutionStatus is the outcome of one pass through the veto chain.
type ExecutionStatus string

const (
	StatusSubmitted ExecutionStatus = "SUBMITTED"
	StatusBlocked   ExecutionStatus = "BLOCKED"
	StatusSkipped   ExecutionStatus = "SKIPPED"
	StatusRejected  ExecutionStatus = "REJECTED"
	StatusError     ExecutionStatus = "ERROR"
)

// ExecutionIDLayout is the rank-time format inside an execution id.
const ExecutionIDLayout = "2006-01-02T15:04:05"

// ExecutionID derives the deterministic id ticker:horizon:rank_time.
func ExecutionID(ticker string, h Horizon, rankTime time.Time) string {
	return fmt.Sprintf("%s:%s:%s", ticker, h, rankTime.UTC().Format(ExecutionIDLayout))
}

// ExecutionEvent records one execution attempt.
type ExecutionEvent struct {
	ExecutionID string          `json:"execution_id"`
	Ticker      string          `json:"ticker"`
	Horizon     Horizon         `json:"horizon"`
	Status      ExecutionStatus `json:"status"`
	OrderID     *string         `json:"order_id"`
	Why         []string        `json:"why"`
	Probability float64         `json:"probability"`
	MarketState Light           `json:"market_state"`
	Timestamp   time.Time       `json:"timestamp"`
}

// OrderSide is the order direction.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderRequest is a market order sent to a broker.
type OrderRequest struct {
	Ticker   string    `json:"ticker"`
	Side     OrderSide `json:"side"`
	Quantity int64     `json:"quantity"`
	ClientID string    `json:"client_id"`
}

// Order is the broker acknowledgement.
type Order struct {
	ID        string    `json:"id"`
	Ticker    string    `json:"ticker"`
	Side      OrderSide `json:"side"`
	Quantity  int64     `json:"quantity"`
	FillPrice string    `json:"fill_price"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Position is an open holding at the broker.
type Position struct {
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
	AvgPrice string `json:"avg_price"`
}
