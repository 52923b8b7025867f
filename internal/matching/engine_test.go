package matching_test

import (
	"context"
	"testing"

	"lv-paperdesk/internal/matching"
	"lv-paperdesk/internal/orders"
	"lv-paperdesk/internal/testutil"
	"lv-paperdesk/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepFillsCancelsAndCloses(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	engine := matching.NewEngine(env.Accounts, env.Orders, env.Book, env.Market, env.Log)

	env.Account(t, "acc-1", "50000")
	env.Account(t, "acc-2", "2000")
	env.SetPrice(t, "EURUSD", "1.1000")

	protected, err := env.Orders.Submit(ctx, "acc-1", orders.PlaceOrderRequest{
		Symbol: "EURUSD", Side: types.OrderSideBuy, Type: types.OrderTypeMarket,
		Quantity: testutil.D("1"), StopLoss: testutil.P("1.0950"),
	})
	require.NoError(t, err)
	limit, err := env.Orders.Submit(ctx, "acc-1", orders.PlaceOrderRequest{
		Symbol: "EURUSD", Side: types.OrderSideBuy, Type: types.OrderTypeLimit,
		Quantity: testutil.D("1"), Price: testutil.P("1.0900"),
	})
	require.NoError(t, err)
	far, err := env.Orders.Submit(ctx, "acc-1", orders.PlaceOrderRequest{
		Symbol: "EURUSD", Side: types.OrderSideSell, Type: types.OrderTypeLimit,
		Quantity: testutil.D("1"), Price: testutil.P("1.2000"),
	})
	require.NoError(t, err)

	starved, err := env.Orders.Submit(ctx, "acc-2", orders.PlaceOrderRequest{
		Symbol: "EURUSD", Side: types.OrderSideBuy, Type: types.OrderTypeLimit,
		Quantity: testutil.D("1"), Price: testutil.P("1.0900"),
	})
	require.NoError(t, err)
	_, err = env.Ledger.Withdraw(ctx, "acc-2", testutil.D("1500"), "")
	require.NoError(t, err)

	res := engine.Sweep(ctx, []string{"EURUSD"})
	assert.Empty(t, res.Filled, "nothing crossed at 1.1000")
	assert.Empty(t, res.Closed)

	env.SetPrice(t, "EURUSD", "1.0900")
	res = engine.Sweep(ctx, []string{"eurusd"})

	require.Len(t, res.Filled, 1)
	assert.Equal(t, limit.ID, res.Filled[0].ID)
	require.Len(t, res.Cancelled, 1)
	assert.Equal(t, starved.ID, res.Cancelled[0].ID)
	assert.Equal(t, orders.ReasonInsufficientMargin, res.Cancelled[0].CancelReason)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, protected.PositionID, res.Closed[0].ID)
	assert.Equal(t, types.CloseReasonStopLoss, res.Closed[0].Reason)

	pending, err := env.Orders.Pending("acc-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, far.ID, pending[0].ID)

	list, err := env.Book.List("acc-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.Filled[0].PositionID, list[0].ID)
}

func TestSweepWithoutPricesIsNoop(t *testing.T) {
	env := testutil.New(t)
	engine := matching.NewEngine(env.Accounts, env.Orders, env.Book, env.Market, env.Log)
	env.Account(t, "acc-1", "1000")

	res := engine.Sweep(context.Background(), nil)
	assert.Empty(t, res.Filled)
	assert.Empty(t, res.Cancelled)
	assert.Empty(t, res.Closed)
}

func TestRunSweepsOnPriceEvents(t *testing.T) {
	env := testutil.New(t)
	engine := matching.NewEngine(env.Accounts, env.Orders, env.Book, env.Market, env.Log)
	env.Account(t, "acc-1", "50000")

	o, err := env.Orders.Submit(context.Background(), "acc-1", orders.PlaceOrderRequest{
		Symbol: "AAPL", Side: types.OrderSideSell, Type: types.OrderTypeStop,
		Quantity: testutil.D("10"), Price: testutil.P("185"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()
	require.Eventually(t, func() bool { return env.Bus.Subscribers() == 1 }, testTimeout, testTick)

	env.SetPrice(t, "AAPL", "184.50")
	require.Eventually(t, func() bool {
		got, err := env.Orders.Get(context.Background(), "acc-1", o.ID)
		return err == nil && got.Status == types.OrderStatusFilled
	}, testTimeout, testTick)

	cancel()
	require.NoError(t, <-done)
}
