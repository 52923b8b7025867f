package riskwatch_test

import (
	"context"
	"testing"

	"lv-paperdesk/internal/marketdata"
	"lv-paperdesk/internal/riskwatch"
	"lv-paperdesk/internal/testutil"
	"lv-paperdesk/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setup opens EURUSD 0.5 and GBPUSD 0.3 on 1000, using 931 of margin.
func setup(t *testing.T) (*testutil.Env, *riskwatch.Watch) {
	t.Helper()
	env := testutil.New(t)
	env.Account(t, "acc-1", "1000")
	env.SetPrice(t, "EURUSD", "1.1000")
	env.SetPrice(t, "GBPUSD", "1.2700")
	env.Open(t, "acc-1", "EURUSD", types.OrderSideBuy, "0.5")
	env.Open(t, "acc-1", "GBPUSD", types.OrderSideBuy, "0.3")
	return env, riskwatch.New(env.Accounts, env.Book, env.Market, env.Log)
}

func drain(ch chan marketdata.Event) []marketdata.Event {
	var out []marketdata.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestMarginCallFiresOncePerCrossing(t *testing.T) {
	env, w := setup(t)
	ctx := context.Background()

	a, err := w.Check(ctx, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Equal(t, types.AlertLevelNormal, w.Level("acc-1"))

	ch := env.Bus.Subscribe()
	defer env.Bus.Unsubscribe(ch)

	// equity 450 on 931 margin
	env.SetPrice(t, "EURUSD", "0.9900")
	a, err = w.Check(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, types.AlertLevelMarginCall, a.Level)
	assert.True(t, a.Equity.Equal(testutil.D("450")))
	assert.Empty(t, a.Closed)

	var calls int
	for _, evt := range drain(ch) {
		if evt.Type == riskwatch.EventMarginCall {
			calls++
			assert.Equal(t, "acc-1", evt.AccountID)
		}
	}
	assert.Equal(t, 1, calls)

	a, err = w.Check(ctx, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, a, "still in margin call, no repeat alert")

	env.SetPrice(t, "EURUSD", "1.1000")
	a, err = w.Check(ctx, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Equal(t, types.AlertLevelNormal, w.Level("acc-1"))

	env.SetPrice(t, "EURUSD", "0.9900")
	a, err = w.Check(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, types.AlertLevelMarginCall, a.Level)

	list, _ := env.Book.List("acc-1")
	assert.Len(t, list, 2, "margin call never closes positions")
}

func TestStopOutClosesUntilRecovered(t *testing.T) {
	env, w := setup(t)
	ctx := context.Background()

	env.SetPrice(t, "EURUSD", "0.9500")
	env.SetPrice(t, "GBPUSD", "1.2300")
	alerts := w.CheckAll(ctx)
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, types.AlertLevelStopOut, a.Level)
	require.Len(t, a.Closed, 1)
	assert.Equal(t, "EURUSD", a.Closed[0].Symbol)
	assert.Equal(t, types.CloseReasonStopOut, a.Closed[0].Reason)

	acc, err := env.Accounts.Get("acc-1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(testutil.D("250")))

	// 130 equity on 381 margin leaves the account in margin call
	assert.Equal(t, types.AlertLevelMarginCall, w.Level("acc-1"))
	again, err := w.Check(ctx, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestFlatAccountsAreSkipped(t *testing.T) {
	env := testutil.New(t)
	env.Account(t, "acc-1", "1000")
	w := riskwatch.New(env.Accounts, env.Book, env.Market, env.Log)

	assert.Empty(t, w.CheckAll(context.Background()))
	assert.Equal(t, types.AlertLevelNormal, w.Level("acc-1"))

	_, err := w.Check(context.Background(), "missing")
	require.Error(t, err)
}
