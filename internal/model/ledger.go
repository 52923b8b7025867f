package model

import (
	"time"

	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
)

type LedgerEntry struct {
	ID            string                `json:"id"`
	AccountID     string                `json:"account_id"`
	Sequence      int64                 `json:"sequence"`
	Type          types.LedgerEntryType `json:"transaction_type"`
	Amount        decimal.Decimal       `json:"amount"`
	BalanceBefore decimal.Decimal       `json:"balance_before"`
	BalanceAfter  decimal.Decimal       `json:"balance_after"`
	Description   string                `json:"description"`
	Reference     string                `json:"reference,omitempty"`
	PrevHash      string                `json:"prev_hash,omitempty"`
	Hash          string                `json:"hash"`
	CreatedAt     time.Time             `json:"created_at"`
}
