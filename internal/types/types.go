package types

type OrderSide string

type OrderType string

type OrderStatus string

type LedgerEntryType string

type KYCStatus string

type AccountStatus string

type AssetClass string

type CloseReason string

type AlertLevel string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

const (
	LedgerEntryTypeDeposit     LedgerEntryType = "deposit"
	LedgerEntryTypeWithdrawal  LedgerEntryType = "withdrawal"
	LedgerEntryTypeFunding     LedgerEntryType = "funding"
	LedgerEntryTypeRealizedPnL LedgerEntryType = "realized_pnl"
	LedgerEntryTypeFee         LedgerEntryType = "fee"
)

const (
	KYCStatusPending     KYCStatus = "pending"
	KYCStatusApproved    KYCStatus = "approved"
	KYCStatusRejected    KYCStatus = "rejected"
	KYCStatusResubmitted KYCStatus = "resubmitted"
)

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

const (
	AssetClassForex  AssetClass = "forex"
	AssetClassMetal  AssetClass = "metal"
	AssetClassIndex  AssetClass = "index"
	AssetClassCrypto AssetClass = "crypto"
	AssetClassStock  AssetClass = "stock"
)

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonStopOut    CloseReason = "stop_out"
)

const (
	AlertLevelNormal     AlertLevel = "normal"
	AlertLevelMarginCall AlertLevel = "margin_call"
	AlertLevelStopOut    AlertLevel = "stop_out"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

func (t LedgerEntryType) Valid() bool {
	switch t {
	case LedgerEntryTypeDeposit, LedgerEntryTypeWithdrawal, LedgerEntryTypeFunding, LedgerEntryTypeRealizedPnL, LedgerEntryTypeFee:
		return true
	}
	return false
}

func (k KYCStatus) Valid() bool {
	switch k {
	case KYCStatusPending, KYCStatusApproved, KYCStatusRejected, KYCStatusResubmitted:
		return true
	}
	return false
}

func (s AccountStatus) Valid() bool {
	return s == AccountStatusActive || s == AccountStatusSuspended
}
