package risk

import (
	"errors"
	"math"
	"testing"

	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type staticPrices map[string]decimal.Decimal

func (p staticPrices) Price(symbol string) (decimal.Decimal, bool) {
	px, ok := p[symbol]
	return px, ok
}

type staticInstruments map[string]model.Instrument

func (s staticInstruments) Get(symbol string) (model.Instrument, bool) {
	inst, ok := s[symbol]
	return inst, ok
}

var eurusd = model.Instrument{Symbol: "EURUSD", Class: types.AssetClassForex, ContractSize: d("10000"), Leverage: d("10"), PricePrecision: 5}

type allowAll bool

func (a allowAll) Allows(types.KYCStatus) bool { return bool(a) }

func TestComputeUnboundedLevelWithoutMargin(t *testing.T) {
	m := Compute(d("1000"), decimal.Zero, decimal.Zero)
	assert.Nil(t, m.MarginLevel)
	assert.True(t, math.IsInf(m.MarginLevelPct(), 1))
	assert.True(t, m.FreeMargin.Equal(d("1000")))
	assert.Equal(t, types.AlertLevelNormal, Classify(m, model.DefaultRiskSettings()))
}

func TestEURUSDScenario(t *testing.T) {
	margin := RequiredMargin(d("1"), d("1.1000"), eurusd)
	assert.True(t, margin.Equal(d("1100")), "margin %s", margin)

	pnl := PnL(types.OrderSideBuy, d("1.1000"), d("1.1005"), d("1"), eurusd.ContractSize)
	assert.True(t, pnl.Equal(d("5")), "pnl %s", pnl)

	m := Compute(d("50000"), pnl, margin)
	assert.True(t, m.Equity.Equal(d("50005")))
	assert.True(t, m.FreeMargin.Equal(d("48905")))
	require.NotNil(t, m.MarginLevel)
	assert.Equal(t, "4545.9", m.MarginLevel.StringFixed(1))
}

func TestSellPnLIsNegated(t *testing.T) {
	pnl := PnL(types.OrderSideSell, d("1.1000"), d("1.1005"), d("2"), eurusd.ContractSize)
	assert.True(t, pnl.Equal(d("-10")), "pnl %s", pnl)
}

func TestMarginLevelFallsAsPriceFalls(t *testing.T) {
	acc := model.Account{ID: "a", Balance: d("2000"), MarginUsed: d("1100")}
	pos := []model.Position{{ID: "p1", Symbol: "EURUSD", Side: types.OrderSideBuy, Quantity: d("1"), EntryPrice: d("1.1000"), MarginUsed: d("1100")}}
	insts := staticInstruments{"EURUSD": eurusd}

	prev := math.Inf(1)
	for _, px := range []string{"1.1050", "1.1000", "1.0950", "1.0900", "1.0850"} {
		m, marked := Evaluate(acc, model.DefaultRiskSettings(), pos, staticPrices{"EURUSD": d(px)}, insts)
		require.Len(t, marked, 1)
		assert.True(t, marked[0].CurrentPrice.Equal(d(px)))
		assert.Less(t, m.MarginLevelPct(), prev, "price %s", px)
		prev = m.MarginLevelPct()
	}
}

func TestMarkWithoutPriceUsesEntry(t *testing.T) {
	p := model.Position{Symbol: "EURUSD", Side: types.OrderSideBuy, Quantity: d("1"), EntryPrice: d("1.1")}
	marked := Mark(p, staticPrices{}, staticInstruments{"EURUSD": eurusd})
	assert.True(t, marked.CurrentPrice.Equal(d("1.1")))
	assert.True(t, marked.UnrealizedPnL.IsZero())
}

func TestClassify(t *testing.T) {
	s := model.DefaultRiskSettings()
	level := func(v string) Metrics {
		l := d(v)
		return Metrics{MarginLevel: &l}
	}
	assert.Equal(t, types.AlertLevelNormal, Classify(level("50.01"), s))
	assert.Equal(t, types.AlertLevelMarginCall, Classify(level("50"), s))
	assert.Equal(t, types.AlertLevelMarginCall, Classify(level("20.01"), s))
	assert.Equal(t, types.AlertLevelStopOut, Classify(level("20"), s))
	assert.Equal(t, types.AlertLevelStopOut, Classify(level("-5"), s))
}

func baseInputs() Inputs {
	return Inputs{
		Account:  model.Account{ID: "a", Balance: d("10000"), MarginUsed: decimal.Zero, KYCStatus: types.KYCStatusApproved, Status: types.AccountStatusActive},
		Settings: model.DefaultRiskSettings(),
		Metrics:  Compute(d("10000"), decimal.Zero, decimal.Zero),
	}
}

func baseCandidate() Candidate {
	return Candidate{Symbol: "EURUSD", Side: types.OrderSideBuy, Quantity: d("1"), Price: d("1.1"), Margin: d("1100")}
}

func limitOf(t *testing.T, err error) string {
	t.Helper()
	var le *model.LimitError
	require.True(t, errors.As(err, &le), "expected limit error, got %v", err)
	require.ErrorIs(t, err, model.ErrRiskLimitExceeded)
	return le.Limit
}

func TestCheckLimits(t *testing.T) {
	require.NoError(t, CheckLimits(allowAll(true), baseInputs(), baseCandidate()))

	cases := []struct {
		name  string
		gate  Gate
		edit  func(*Inputs, *Candidate)
		limit string
	}{
		{"kyc", allowAll(false), func(*Inputs, *Candidate) {}, "kyc"},
		{"suspended", nil, func(in *Inputs, _ *Candidate) { in.Account.Status = types.AccountStatusSuspended }, "account_status"},
		{"position size", nil, func(_ *Inputs, c *Candidate) { c.Quantity = d("100.01") }, "max_position_size"},
		{"positions", nil, func(in *Inputs, _ *Candidate) { in.OpenPositions = 20 }, "max_positions"},
		{"exposure", nil, func(in *Inputs, c *Candidate) {
			in.Account.MarginUsed = d("99000")
			c.Margin = d("1000.01")
		}, "max_total_exposure"},
		{"trades", nil, func(in *Inputs, _ *Candidate) { in.DayTrades = 100 }, "daily_trade_limit"},
		{"daily loss", nil, func(in *Inputs, _ *Candidate) { in.DayRealized = d("-5000.01") }, "daily_loss_limit"},
		{"margin call", nil, func(in *Inputs, _ *Candidate) {
			in.Metrics = Compute(d("500"), decimal.Zero, d("1000"))
		}, "margin_call"},
		{"stop loss required", nil, func(in *Inputs, _ *Candidate) { in.Settings.EnforceStopLoss = true }, "stop_loss_required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, c := baseInputs(), baseCandidate()
			tc.edit(&in, &c)
			assert.Equal(t, tc.limit, limitOf(t, CheckLimits(tc.gate, in, c)))
		})
	}
}

func TestDailyLossAtLimitIsAllowed(t *testing.T) {
	in := baseInputs()
	in.DayRealized = d("-5000")
	require.NoError(t, CheckLimits(nil, in, baseCandidate()))
}

func TestCheckStopLossDistance(t *testing.T) {
	s := model.DefaultRiskSettings()
	s.EnforceStopLoss = true
	s.MinStopLossDistance = d("0.0020")
	sl := d("1.0990")
	assert.Equal(t, "min_stop_loss_distance", limitOf(t, CheckStopLoss(s, d("1.1000"), &sl)))
	sl = d("1.0980")
	assert.NoError(t, CheckStopLoss(s, d("1.1000"), &sl))

	s.EnforceStopLoss = false
	assert.NoError(t, CheckStopLoss(s, d("1.1000"), nil))
}
