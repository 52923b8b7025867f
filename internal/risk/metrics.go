package risk

import (
	"math"

	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Pricer interface {
	Price(symbol string) (decimal.Decimal, bool)
}

type Instruments interface {
	Get(symbol string) (model.Instrument, bool)
}

// Metrics are the derived account figures. MarginLevel is nil when no
// margin is used, which reads as an unbounded level.
type Metrics struct {
	Balance       decimal.Decimal  `json:"balance"`
	Equity        decimal.Decimal  `json:"equity"`
	MarginUsed    decimal.Decimal  `json:"margin_used"`
	FreeMargin    decimal.Decimal  `json:"free_margin"`
	MarginLevel   *decimal.Decimal `json:"margin_level"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	OpenPositions int              `json:"open_positions"`
	Level         types.AlertLevel `json:"alert_level"`
}

// MarginLevelPct returns the margin level as a float, +Inf when unbounded.
func (m Metrics) MarginLevelPct() float64 {
	if m.MarginLevel == nil {
		return math.Inf(1)
	}
	f, _ := m.MarginLevel.Float64()
	return f
}

func Compute(balance, unrealized, marginUsed decimal.Decimal) Metrics {
	equity := balance.Add(unrealized)
	m := Metrics{
		Balance:       balance,
		Equity:        equity,
		MarginUsed:    marginUsed,
		FreeMargin:    equity.Sub(marginUsed),
		UnrealizedPnL: unrealized,
		Level:         types.AlertLevelNormal,
	}
	if marginUsed.IsPositive() {
		lvl := equity.Div(marginUsed).Mul(hundred)
		m.MarginLevel = &lvl
	}
	return m
}

// PnL is (exit - entry) * quantity * contract size, negated for sells.
func PnL(side types.OrderSide, entry, exit, quantity, contractSize decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(entry)
	if side == types.OrderSideSell {
		diff = diff.Neg()
	}
	return diff.Mul(quantity).Mul(contractSize)
}

func RequiredMargin(quantity, price decimal.Decimal, inst model.Instrument) decimal.Decimal {
	lev := inst.Leverage
	if !lev.IsPositive() {
		lev = decimal.NewFromInt(1)
	}
	return quantity.Mul(inst.ContractSize).Mul(price).Div(lev)
}

// Notional is the face value of a candidate, quantity * contract size * price.
func Notional(quantity, price decimal.Decimal, inst model.Instrument) decimal.Decimal {
	return quantity.Mul(inst.ContractSize).Mul(price)
}

// Mark fills the volatile fields of a position from the live price. A
// position without a price is marked at entry.
func Mark(p model.Position, prices Pricer, instruments Instruments) model.Position {
	px, ok := prices.Price(p.Symbol)
	if !ok {
		px = p.EntryPrice
	}
	contract := decimal.NewFromInt(1)
	if inst, ok := instruments.Get(p.Symbol); ok {
		contract = inst.ContractSize
	}
	pnl := PnL(p.Side, p.EntryPrice, px, p.Quantity, contract)
	p.CurrentPrice = &px
	p.UnrealizedPnL = &pnl
	return p
}

// Evaluate marks every position and derives the account metrics.
func Evaluate(acc model.Account, settings model.RiskSettings, positions []model.Position, prices Pricer, instruments Instruments) (Metrics, []model.Position) {
	marked := make([]model.Position, len(positions))
	unrealized := decimal.Zero
	for i, p := range positions {
		marked[i] = Mark(p, prices, instruments)
		unrealized = unrealized.Add(*marked[i].UnrealizedPnL)
	}
	m := Compute(acc.Balance, unrealized, acc.MarginUsed)
	m.OpenPositions = len(positions)
	m.Level = Classify(m, settings)
	return m, marked
}

func Classify(m Metrics, s model.RiskSettings) types.AlertLevel {
	if m.MarginLevel == nil {
		return types.AlertLevelNormal
	}
	if m.MarginLevel.LessThanOrEqual(s.StopOutLevel) {
		return types.AlertLevelStopOut
	}
	if m.MarginLevel.LessThanOrEqual(s.MarginCallLevel) {
		return types.AlertLevelMarginCall
	}
	return types.AlertLevelNormal
}
