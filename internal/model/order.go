package model

import (
	"time"

	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	Symbol       string            `json:"symbol"`
	Type         types.OrderType   `json:"order_type"`
	Side         types.OrderSide   `json:"side"`
	Quantity     decimal.Decimal   `json:"quantity"`
	Price        *decimal.Decimal  `json:"price"`
	StopPrice    *decimal.Decimal  `json:"stop_price,omitempty"`
	StopLoss     *decimal.Decimal  `json:"stop_loss"`
	TakeProfit   *decimal.Decimal  `json:"take_profit"`
	Status       types.OrderStatus `json:"status"`
	Triggered    bool              `json:"triggered,omitempty"`
	FillPrice    *decimal.Decimal  `json:"fill_price"`
	Commission   decimal.Decimal   `json:"commission"`
	PositionID   string            `json:"position_id,omitempty"`
	CancelReason string            `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (o Order) IsPending() bool {
	return o.Status == types.OrderStatusPending
}
