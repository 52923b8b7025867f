package accounts

import (
	"context"
	"time"

	"lv-paperdesk/internal/model"

	"github.com/shopspring/decimal"
)

// Snapshot is what a Store hands back on startup for one account.
type Snapshot struct {
	Account     model.Account
	Settings    model.RiskSettings
	Positions   []model.Position
	Orders      []model.Order
	Sequence    int64
	LastHash    string
	DayRealized decimal.Decimal
	DayTrades   int
}

// Commit is the full write set of one account mutation. Stores apply it
// atomically or not at all.
type Commit struct {
	Account      model.Account
	Created      bool
	PrevSequence int64
	Settings     *model.RiskSettings
	Entries      []model.LedgerEntry
	Opened       []model.Position
	Updated      []model.Position
	Closed       []model.ClosedPosition
	Orders       []model.Order
}

func (c Commit) Empty() bool {
	return !c.Created && c.Settings == nil && len(c.Entries) == 0 && len(c.Opened) == 0 &&
		len(c.Updated) == 0 && len(c.Closed) == 0 && len(c.Orders) == 0
}

type Store interface {
	LoadAccounts(ctx context.Context, dayStart time.Time) ([]Snapshot, error)
	Commit(ctx context.Context, c Commit) error
	Order(ctx context.Context, accountID, orderID string) (model.Order, error)
	ClosedPosition(ctx context.Context, accountID, positionID string) (model.ClosedPosition, error)
	LedgerEntries(ctx context.Context, accountID string, beforeSeq int64, limit int) ([]model.LedgerEntry, error)
	LedgerChain(ctx context.Context, accountID string) ([]model.LedgerEntry, error)
	ClosedPositions(ctx context.Context, accountID string, before *time.Time, limit int) ([]model.ClosedPosition, error)
	OrderHistory(ctx context.Context, accountID string, before *time.Time, limit int) ([]model.Order, error)
}
