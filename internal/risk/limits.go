package risk

import (
	"fmt"

	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
)

// Gate decides whether a KYC status may trade.
type Gate interface {
	Allows(status types.KYCStatus) bool
}

// Inputs is the account side of a limit check.
type Inputs struct {
	Account       model.Account
	Settings      model.RiskSettings
	Metrics       Metrics
	OpenPositions int
	DayRealized   decimal.Decimal
	DayTrades     int
}

// Candidate is the order about to be accepted or filled.
type Candidate struct {
	Symbol   string
	Side     types.OrderSide
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Margin   decimal.Decimal
	StopLoss *decimal.Decimal
}

// CheckLimits returns a *model.LimitError naming the first limit the
// candidate would break.
func CheckLimits(gate Gate, in Inputs, c Candidate) error {
	s := in.Settings
	if gate != nil && !gate.Allows(in.Account.KYCStatus) {
		return &model.LimitError{Limit: "kyc", Detail: "kyc status " + string(in.Account.KYCStatus)}
	}
	if in.Account.Status == types.AccountStatusSuspended {
		return &model.LimitError{Limit: "account_status", Detail: "account suspended"}
	}
	if c.Quantity.GreaterThan(s.MaxPositionSize) {
		return &model.LimitError{Limit: "max_position_size", Detail: fmt.Sprintf("quantity %s above %s", c.Quantity, s.MaxPositionSize)}
	}
	if in.OpenPositions+1 > s.MaxPositions {
		return &model.LimitError{Limit: "max_positions", Detail: fmt.Sprintf("%d open", in.OpenPositions)}
	}
	exposure := in.Account.MarginUsed.Add(c.Margin)
	if exposure.GreaterThan(s.MaxTotalExposure) {
		return &model.LimitError{Limit: "max_total_exposure", Detail: fmt.Sprintf("margin %s above %s", exposure.StringFixed(2), s.MaxTotalExposure)}
	}
	if in.DayTrades+1 > s.DailyTradeLimit {
		return &model.LimitError{Limit: "daily_trade_limit", Detail: fmt.Sprintf("%d trades today", in.DayTrades)}
	}
	loss := in.DayRealized.Add(in.Metrics.UnrealizedPnL).Neg()
	if loss.GreaterThan(s.DailyLossLimit) {
		return &model.LimitError{Limit: "daily_loss_limit", Detail: fmt.Sprintf("loss %s above %s", loss.StringFixed(2), s.DailyLossLimit)}
	}
	if in.Metrics.MarginLevel != nil && in.Metrics.MarginLevel.LessThanOrEqual(s.MarginCallLevel) {
		return &model.LimitError{Limit: "margin_call", Detail: fmt.Sprintf("margin level %s%%", in.Metrics.MarginLevel.StringFixed(2))}
	}
	return CheckStopLoss(s, c.Price, c.StopLoss)
}

// CheckStopLoss enforces the stop-loss requirement and minimum distance
// from the reference price when the account has it switched on.
func CheckStopLoss(s model.RiskSettings, ref decimal.Decimal, stopLoss *decimal.Decimal) error {
	if !s.EnforceStopLoss {
		return nil
	}
	if stopLoss == nil {
		return &model.LimitError{Limit: "stop_loss_required"}
	}
	if s.MinStopLossDistance.IsPositive() && ref.Sub(*stopLoss).Abs().LessThan(s.MinStopLossDistance) {
		return &model.LimitError{Limit: "min_stop_loss_distance", Detail: fmt.Sprintf("stop loss %s within %s of %s", stopLoss, s.MinStopLossDistance, ref)}
	}
	return nil
}
