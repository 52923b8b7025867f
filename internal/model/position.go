package model

import (
	"time"

	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
)

// Position is an open position. CurrentPrice and UnrealizedPnL are filled
// from the price book when the position is read; they are never persisted.
type Position struct {
	ID            string           `json:"id"`
	AccountID     string           `json:"account_id"`
	OrderID       string           `json:"order_id"`
	Symbol        string           `json:"symbol"`
	Side          types.OrderSide  `json:"side"`
	Quantity      decimal.Decimal  `json:"quantity"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	MarginUsed    decimal.Decimal  `json:"margin_used"`
	StopLoss      *decimal.Decimal `json:"stop_loss"`
	TakeProfit    *decimal.Decimal `json:"take_profit"`
	OpenedAt      time.Time        `json:"opened_at"`
	CurrentPrice  *decimal.Decimal `json:"current_price,omitempty"`
	UnrealizedPnL *decimal.Decimal `json:"unrealized_pnl,omitempty"`
}

type ClosedPosition struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	Symbol      string            `json:"symbol"`
	Side        types.OrderSide   `json:"side"`
	Quantity    decimal.Decimal   `json:"quantity"`
	EntryPrice  decimal.Decimal   `json:"entry_price"`
	ExitPrice   decimal.Decimal   `json:"exit_price"`
	RealizedPnL decimal.Decimal   `json:"realized_pnl"`
	MarginUsed  decimal.Decimal   `json:"margin_used"`
	Reason      types.CloseReason `json:"reason"`
	OpenedAt    time.Time         `json:"opened_at"`
	ClosedAt    time.Time         `json:"closed_at"`
}

func (c ClosedPosition) Duration() time.Duration {
	return c.ClosedAt.Sub(c.OpenedAt)
}
