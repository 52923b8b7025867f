package model

import "errors"

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrRiskLimitExceeded  = errors.New("risk limit exceeded")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAlreadyClosed      = errors.New("position already closed")
	ErrAlreadyFilled      = errors.New("order already filled")
	ErrAlreadyCancelled   = errors.New("order already cancelled")
	ErrNotFound           = errors.New("not found")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrNoPrice            = errors.New("no price for symbol")
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidSettings    = errors.New("invalid risk settings")
	ErrConflict           = errors.New("concurrent modification")
	ErrInvalidInput       = errors.New("invalid input")
)

// LimitError names the limit an order tripped. It matches ErrRiskLimitExceeded.
type LimitError struct {
	Limit  string
	Detail string
}

func (e *LimitError) Error() string {
	if e.Detail == "" {
		return "risk limit exceeded: " + e.Limit
	}
	return "risk limit exceeded: " + e.Limit + ": " + e.Detail
}

func (e *LimitError) Unwrap() error {
	return ErrRiskLimitExceeded
}
