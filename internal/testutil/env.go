// Package testutil wires the account core on the memory store for tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/kyc"
	"lv-paperdesk/internal/ledger"
	"lv-paperdesk/internal/marketdata"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/orders"
	"lv-paperdesk/internal/positions"
	"lv-paperdesk/internal/store/memory"
	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type Env struct {
	Log      *zap.Logger
	Store    *memory.Store
	Bus      *marketdata.Bus
	Market   *marketdata.Service
	Accounts *accounts.Service
	Ledger   *ledger.Service
	Book     *positions.Book
	Orders   *orders.Service

	mu  sync.Mutex
	now time.Time
}

func New(t testing.TB) *Env {
	t.Helper()
	log := zaptest.NewLogger(t)
	e := &Env{
		Log:   log,
		Store: memory.New(),
		Bus:   marketdata.NewBus(),
		now:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	e.Market = marketdata.NewService(marketdata.NewCatalog(), marketdata.NewPriceBook(), e.Bus, log)
	e.Accounts = accounts.NewService(e.Store, log)
	e.Accounts.SetClock(e.Now)
	e.Accounts.SetPublisher(e.Bus)
	e.Ledger = ledger.NewService(e.Accounts, ledger.DefaultFundingMax, log)
	e.Book = positions.NewBook(e.Accounts, e.Market, log)
	e.Orders = orders.NewService(e.Accounts, e.Book, e.Market, kyc.NewPolicy(false), log)
	return e
}

// Now is the fixture clock; each call moves it forward a millisecond so
// rows keep a stable order.
func (e *Env) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(time.Millisecond)
	return e.now
}

func (e *Env) Advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	e.mu.Unlock()
}

// Account creates an approved account funded with balance.
func (e *Env) Account(t testing.TB, id, balance string) model.Account {
	t.Helper()
	return e.AccountWith(t, id, balance, nil)
}

func (e *Env) AccountWith(t testing.TB, id, balance string, settings *model.RiskSettings) model.Account {
	t.Helper()
	ctx := context.Background()
	_, err := e.Accounts.Create(ctx, accounts.NewAccount{ID: id, Name: id, KYCStatus: types.KYCStatusApproved, Settings: settings})
	require.NoError(t, err)
	if amt := D(balance); amt.IsPositive() {
		_, err = e.Ledger.Deposit(ctx, id, amt, "seed")
		require.NoError(t, err)
	}
	acc, err := e.Accounts.Get(id)
	require.NoError(t, err)
	return acc
}

func (e *Env) SetPrice(t testing.TB, symbol, price string) {
	t.Helper()
	accepted := e.Market.Update(context.Background(), map[string]decimal.Decimal{symbol: D(price)})
	require.Len(t, accepted, 1)
}

// Open places a market order at the current price and expects it filled.
func (e *Env) Open(t testing.TB, accountID, symbol string, side types.OrderSide, qty string) model.Order {
	t.Helper()
	o, err := e.Orders.Submit(context.Background(), accountID, orders.PlaceOrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     types.OrderTypeMarket,
		Quantity: D(qty),
	})
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusFilled, o.Status)
	return o
}

func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func P(s string) *decimal.Decimal {
	d := D(s)
	return &d
}
