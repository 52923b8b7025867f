package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type RiskSettings struct {
	MarginCallLevel     decimal.Decimal `json:"margin_call_level"`
	StopOutLevel        decimal.Decimal `json:"stop_out_level"`
	MaxPositionSize     decimal.Decimal `json:"max_position_size"`
	MaxTotalExposure    decimal.Decimal `json:"max_total_exposure"`
	MaxPositions        int             `json:"max_positions"`
	DailyLossLimit      decimal.Decimal `json:"daily_loss_limit"`
	DailyTradeLimit     int             `json:"daily_trade_limit"`
	EnforceStopLoss     bool            `json:"enforce_stop_loss"`
	MinStopLossDistance decimal.Decimal `json:"min_stop_loss_distance"`
}

func DefaultRiskSettings() RiskSettings {
	return RiskSettings{
		MarginCallLevel:     decimal.NewFromInt(50),
		StopOutLevel:        decimal.NewFromInt(20),
		MaxPositionSize:     decimal.NewFromInt(100),
		MaxTotalExposure:    decimal.NewFromInt(100000),
		MaxPositions:        20,
		DailyLossLimit:      decimal.NewFromInt(5000),
		DailyTradeLimit:     100,
		EnforceStopLoss:     false,
		MinStopLossDistance: decimal.Zero,
	}
}

func (s RiskSettings) Validate() error {
	if !s.StopOutLevel.IsPositive() {
		return fmt.Errorf("%w: stop_out_level must be positive", ErrInvalidSettings)
	}
	if !s.MarginCallLevel.GreaterThan(s.StopOutLevel) {
		return fmt.Errorf("%w: margin_call_level must be above stop_out_level", ErrInvalidSettings)
	}
	if !s.MaxPositionSize.IsPositive() {
		return fmt.Errorf("%w: max_position_size must be positive", ErrInvalidSettings)
	}
	if !s.MaxTotalExposure.IsPositive() {
		return fmt.Errorf("%w: max_total_exposure must be positive", ErrInvalidSettings)
	}
	if s.MaxPositions <= 0 {
		return fmt.Errorf("%w: max_positions must be positive", ErrInvalidSettings)
	}
	if !s.DailyLossLimit.IsPositive() {
		return fmt.Errorf("%w: daily_loss_limit must be positive", ErrInvalidSettings)
	}
	if s.DailyTradeLimit <= 0 {
		return fmt.Errorf("%w: daily_trade_limit must be positive", ErrInvalidSettings)
	}
	if s.MinStopLossDistance.IsNegative() {
		return fmt.Errorf("%w: min_stop_loss_distance cannot be negative", ErrInvalidSettings)
	}
	return nil
}
