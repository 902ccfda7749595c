package trade

import (
	"github.com/shopspring/decimal"
)

// Direction is the side of a binary bet.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Status is the lifecycle state of an operation. pending is the only state
// transitions start from; win, loss and expired are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusWin     Status = "win"
	StatusLoss    Status = "loss"
	StatusExpired Status = "expired"
)

// Operation is one binary bet. Times are unix seconds; Duration is in
// milliseconds as sent on the wire.
type Operation struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	EntryPrice float64         `json:"entry_price"`
	EntryTime  int64           `json:"entry_time"`
	Duration   int64           `json:"duration_ms"`
	ExpiryTime int64           `json:"expiry_time"`
	Amount     decimal.Decimal `json:"amount"`
	Status     Status          `json:"status"`
	Result     decimal.Decimal `json:"result"`

	IsMartingale         bool     `json:"is_martingale,omitempty"`
	MartingaleLevel      int      `json:"martingale_level,omitempty"`
	MainOperationID      string   `json:"main_operation_id,omitempty"`
	MartingaleOperations []string `json:"martingale_operations,omitempty"`
}

// Outcome is the settlement report for an operation, as delivered by either
// the push channel or the reconciliation lookup. Result compares
// case-insensitively against "gain"; anything else settles as a loss.
type Outcome struct {
	Result         string
	ProfitUSDCents int64
}

// PlaceRequest is what the engine hands the broker to open a bet.
type PlaceRequest struct {
	Symbol     string
	Direction  Direction
	Amount     decimal.Decimal
	DurationMs int64
}

// LastResult is the most recent settlement, kept for display.
type LastResult struct {
	OperationID string          `json:"operation_id"`
	Symbol      string          `json:"symbol"`
	Status      Status          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Profit      decimal.Decimal `json:"profit"`
	IsWin       bool            `json:"is_win"`
}
