package postgres_test

import (
	"context"
	"os"
	"testing"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/db"
	"lv-paperdesk/internal/kyc"
	"lv-paperdesk/internal/ledger"
	"lv-paperdesk/internal/marketdata"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/orders"
	"lv-paperdesk/internal/positions"
	"lv-paperdesk/internal/store/postgres"
	"lv-paperdesk/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newStore connects to TEST_DB_DSN and applies the schema. Tests skip when
// the variable is unset.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))
	return postgres.New(pool)
}

func TestRoundTripThroughServices(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	id := "pg-" + uuid.NewString()

	market := marketdata.NewService(marketdata.NewCatalog(), marketdata.NewPriceBook(), marketdata.NewBus(), log)
	market.Update(ctx, map[string]decimal.Decimal{"EURUSD": decimal.RequireFromString("1.1000")})

	accs := accounts.NewService(store, log)
	require.NoError(t, accs.Load(ctx))
	_, err := accs.Create(ctx, accounts.NewAccount{ID: id, Name: "pg", KYCStatus: types.KYCStatusApproved})
	require.NoError(t, err)

	led := ledger.NewService(accs, ledger.DefaultFundingMax, log)
	book := positions.NewBook(accs, market, log)
	ord := orders.NewService(accs, book, market, kyc.NewPolicy(false), log)

	_, err = led.Deposit(ctx, id, decimal.RequireFromString("10000"), "wire-1")
	require.NoError(t, err)
	o, err := ord.Submit(ctx, id, orders.PlaceOrderRequest{
		Symbol:   "EURUSD",
		Side:     types.OrderSideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusFilled, o.Status)
	closed, err := book.Close(ctx, id, o.PositionID, decimal.RequireFromString("1.1010"), types.CloseReasonManual)
	require.NoError(t, err)
	require.True(t, closed.RealizedPnL.Equal(decimal.RequireFromString("5")))

	_, err = book.Close(ctx, id, o.PositionID, decimal.RequireFromString("1.1010"), types.CloseReasonManual)
	require.ErrorIs(t, err, model.ErrAlreadyClosed)

	before, err := accs.Snapshot(id)
	require.NoError(t, err)

	reloaded := accounts.NewService(store, log)
	require.NoError(t, reloaded.Load(ctx))
	after, err := reloaded.Snapshot(id)
	require.NoError(t, err)
	assert.True(t, after.Account.Balance.Equal(decimal.RequireFromString("10005")))
	assert.True(t, after.Account.MarginUsed.IsZero())
	assert.Equal(t, before.Sequence, after.Sequence)
	assert.Equal(t, before.LastHash, after.LastHash)
	assert.Empty(t, after.Positions)
	assert.Equal(t, 1, after.DayTrades)

	res, err := ledger.NewService(reloaded, ledger.DefaultFundingMax, log).Verify(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)
	assert.Equal(t, 2, res.Entries)

	history, err := store.OrderHistory(ctx, id, nil, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, o.ID, history[0].ID)

	cp, err := store.ClosedPosition(ctx, id, o.PositionID)
	require.NoError(t, err)
	assert.Equal(t, types.CloseReasonManual, cp.Reason)
}

func TestCommitConflicts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id := "pg-" + uuid.NewString()
	settings := model.DefaultRiskSettings()
	acc := model.Account{ID: id, KYCStatus: types.KYCStatusApproved, Status: types.AccountStatusActive}

	require.NoError(t, store.Commit(ctx, accounts.Commit{Account: acc, Created: true, Settings: &settings}))
	err := store.Commit(ctx, accounts.Commit{Account: acc, Created: true, Settings: &settings})
	require.ErrorIs(t, err, model.ErrAccountExists)

	err = store.Commit(ctx, accounts.Commit{Account: model.Account{ID: "pg-" + uuid.NewString()}, Settings: &settings})
	require.ErrorIs(t, err, model.ErrNotFound)

	err = store.Commit(ctx, accounts.Commit{Account: acc, PrevSequence: 4, Settings: &settings})
	require.ErrorIs(t, err, model.ErrConflict)
}
