package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func create(t *testing.T, s *Store, id string) {
	t.Helper()
	settings := model.DefaultRiskSettings()
	require.NoError(t, s.Commit(context.Background(), accounts.Commit{
		Account:  model.Account{ID: id, KYCStatus: types.KYCStatusApproved, Status: types.AccountStatusActive},
		Created:  true,
		Settings: &settings,
	}))
}

func entry(seq int64, typ types.LedgerEntryType, amount string, at time.Time) model.LedgerEntry {
	return model.LedgerEntry{
		ID:        "e" + decimal.NewFromInt(seq).String(),
		AccountID: "acc-1",
		Sequence:  seq,
		Type:      typ,
		Amount:    decimal.RequireFromString(amount),
		Hash:      "h" + decimal.NewFromInt(seq).String(),
		CreatedAt: at,
	}
}

func TestCommitChecks(t *testing.T) {
	s := New()
	ctx := context.Background()
	create(t, s, "acc-1")

	err := s.Commit(ctx, accounts.Commit{Account: model.Account{ID: "acc-1"}, Created: true})
	require.ErrorIs(t, err, model.ErrAccountExists)

	err = s.Commit(ctx, accounts.Commit{Account: model.Account{ID: "ghost"}})
	require.ErrorIs(t, err, model.ErrNotFound)

	err = s.Commit(ctx, accounts.Commit{
		Account: model.Account{ID: "acc-1"},
		Entries: []model.LedgerEntry{entry(1, types.LedgerEntryTypeDeposit, "10", t0), entry(3, types.LedgerEntryTypeDeposit, "10", t0)},
	})
	require.ErrorIs(t, err, model.ErrConflict)
	chain, _ := s.LedgerChain(ctx, "acc-1")
	assert.Empty(t, chain, "rejected commit applies nothing")

	require.NoError(t, s.Commit(ctx, accounts.Commit{
		Account: model.Account{ID: "acc-1"},
		Entries: []model.LedgerEntry{entry(1, types.LedgerEntryTypeDeposit, "10", t0)},
	}))
	err = s.Commit(ctx, accounts.Commit{
		Account:      model.Account{ID: "acc-1"},
		PrevSequence: 0,
		Entries:      []model.LedgerEntry{entry(1, types.LedgerEntryTypeDeposit, "10", t0)},
	})
	require.ErrorIs(t, err, model.ErrConflict, "stale writer")
}

func TestFailNextCommitFiresOnce(t *testing.T) {
	s := New()
	s.FailNextCommit(errors.New("io"))
	settings := model.DefaultRiskSettings()
	c := accounts.Commit{Account: model.Account{ID: "acc-1"}, Created: true, Settings: &settings}
	require.EqualError(t, s.Commit(context.Background(), c), "io")
	require.NoError(t, s.Commit(context.Background(), c))
}

func TestLoadAccountsDayCounters(t *testing.T) {
	s := New()
	ctx := context.Background()
	create(t, s, "acc-1")
	yesterday := t0.Add(-24 * time.Hour)
	require.NoError(t, s.Commit(ctx, accounts.Commit{
		Account: model.Account{ID: "acc-1", Balance: decimal.NewFromInt(1030)},
		Entries: []model.LedgerEntry{
			entry(1, types.LedgerEntryTypeDeposit, "1000", yesterday),
			entry(2, types.LedgerEntryTypeRealizedPnL, "50", yesterday),
			entry(3, types.LedgerEntryTypeRealizedPnL, "-30", t0),
			entry(4, types.LedgerEntryTypeRealizedPnL, "10", t0),
		},
		Opened: []model.Position{{ID: "p1", AccountID: "acc-1", Symbol: "EURUSD"}},
		Orders: []model.Order{
			{ID: "o1", Status: types.OrderStatusFilled, UpdatedAt: yesterday},
			{ID: "o2", Status: types.OrderStatusFilled, UpdatedAt: t0},
			{ID: "o3", Status: types.OrderStatusPending, UpdatedAt: t0},
			{ID: "o4", Status: types.OrderStatusCancelled, UpdatedAt: t0},
		},
	}))

	snaps, err := s.LoadAccounts(ctx, accounts.DayStart(t0))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	snap := snaps[0]
	assert.Equal(t, int64(4), snap.Sequence)
	assert.Equal(t, "h4", snap.LastHash)
	assert.True(t, snap.DayRealized.Equal(decimal.NewFromInt(-20)))
	assert.Equal(t, 1, snap.DayTrades)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, "o3", snap.Orders[0].ID)
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Account.Balance.Equal(decimal.NewFromInt(1030)))
}

func TestQueries(t *testing.T) {
	s := New()
	ctx := context.Background()
	create(t, s, "acc-1")
	var entries []model.LedgerEntry
	for i := int64(1); i <= 5; i++ {
		entries = append(entries, entry(i, types.LedgerEntryTypeDeposit, "1", t0))
	}
	require.NoError(t, s.Commit(ctx, accounts.Commit{
		Account: model.Account{ID: "acc-1"},
		Entries: entries,
		Opened:  []model.Position{{ID: "p1"}, {ID: "p2"}},
	}))
	require.NoError(t, s.Commit(ctx, accounts.Commit{
		Account:      model.Account{ID: "acc-1"},
		PrevSequence: 5,
		Closed: []model.ClosedPosition{
			{ID: "p1", ClosedAt: t0.Add(time.Minute)},
			{ID: "p2", ClosedAt: t0.Add(2 * time.Minute)},
		},
		Orders: []model.Order{
			{ID: "a", Status: types.OrderStatusFilled, UpdatedAt: t0.Add(time.Minute)},
			{ID: "b", Status: types.OrderStatusCancelled, UpdatedAt: t0.Add(2 * time.Minute)},
			{ID: "c", Status: types.OrderStatusPending, UpdatedAt: t0.Add(3 * time.Minute)},
		},
	}))

	page, err := s.LedgerEntries(ctx, "acc-1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].Sequence)
	page, err = s.LedgerEntries(ctx, "acc-1", page[1].Sequence, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(3), page[0].Sequence)
	assert.Equal(t, int64(1), page[2].Sequence)

	closed, err := s.ClosedPositions(ctx, "acc-1", nil, 10)
	require.NoError(t, err)
	require.Len(t, closed, 2)
	assert.Equal(t, "p2", closed[0].ID)
	before := t0.Add(2 * time.Minute)
	closed, _ = s.ClosedPositions(ctx, "acc-1", &before, 10)
	require.Len(t, closed, 1)
	assert.Equal(t, "p1", closed[0].ID)

	hist, err := s.OrderHistory(ctx, "acc-1", nil, 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "b", hist[0].ID)
	hist, _ = s.OrderHistory(ctx, "acc-1", nil, 1)
	assert.Len(t, hist, 1)

	_, err = s.Order(ctx, "acc-1", "c")
	require.NoError(t, err)
	_, err = s.Order(ctx, "acc-1", "zzz")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.ClosedPosition(ctx, "acc-1", "p2")
	require.NoError(t, err)
	_, err = s.LedgerChain(ctx, "ghost")
	require.ErrorIs(t, err, model.ErrNotFound)

	snaps, _ := s.LoadAccounts(ctx, accounts.DayStart(t0))
	assert.Empty(t, snaps[0].Positions)
}
