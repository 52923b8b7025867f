package model

import (
	"time"

	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
)

// Account is the profile row. Balance only moves through ledger entries.
type Account struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Balance    decimal.Decimal     `json:"balance"`
	MarginUsed decimal.Decimal     `json:"margin_used"`
	KYCStatus  types.KYCStatus     `json:"kyc_status"`
	Status     types.AccountStatus `json:"account_status"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type Instrument struct {
	Symbol         string           `json:"symbol"`
	Class          types.AssetClass `json:"asset_class"`
	ContractSize   decimal.Decimal  `json:"contract_size"`
	Leverage       decimal.Decimal  `json:"leverage"`
	PricePrecision int32            `json:"price_precision"`
}
