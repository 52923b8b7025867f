package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
)

// ErrMarginUnderflow means releasing a position's margin would take the
// account's margin_used below zero; the stored state is inconsistent.
var ErrMarginUnderflow = errors.New("margin used would go negative")

// Tx is a working copy of one account held under the account lock. Changes
// made through it are collected into a Commit and only become visible once
// the Store accepts them.
type Tx struct {
	ctx    context.Context
	store  Store
	state  *State
	now    time.Time
	commit Commit
	dirty  bool
	events []Event
}

// Event is a notification produced by a mutation, published after commit.
type Event struct {
	Type string
	Data any
}

func (tx *Tx) Context() context.Context { return tx.ctx }

func (tx *Tx) Now() time.Time { return tx.now }

// State exposes the working copy. Callers must mutate through Tx methods.
func (tx *Tx) State() *State { return tx.state }

func (tx *Tx) Account() model.Account { return tx.state.Account }

func (tx *Tx) Settings() model.RiskSettings { return tx.state.Settings }

func (tx *Tx) Position(id string) (model.Position, bool) {
	p, ok := tx.state.Positions[id]
	return p, ok
}

func (tx *Tx) PendingOrder(id string) (model.Order, bool) {
	o, ok := tx.state.Orders[id]
	return o, ok
}

// LookupOrder finds an order that is no longer pending.
func (tx *Tx) LookupOrder(id string) (model.Order, error) {
	o, err := tx.store.Order(tx.ctx, tx.state.Account.ID, id)
	if err != nil {
		return o, err
	}
	if o.AccountID != tx.state.Account.ID {
		return model.Order{}, model.ErrNotFound
	}
	return o, nil
}

func (tx *Tx) LookupClosed(positionID string) (model.ClosedPosition, error) {
	return tx.store.ClosedPosition(tx.ctx, tx.state.Account.ID, positionID)
}

// AppendEntry books a ledger entry already validated by the ledger.
func (tx *Tx) AppendEntry(e model.LedgerEntry) {
	tx.state.Account.Balance = e.BalanceAfter
	tx.state.Sequence = e.Sequence
	tx.state.LastHash = e.Hash
	if e.Type == types.LedgerEntryTypeRealizedPnL {
		tx.state.DayRealized = tx.state.DayRealized.Add(e.Amount)
	}
	tx.commit.Entries = append(tx.commit.Entries, e)
}

func (tx *Tx) OpenPosition(p model.Position) {
	tx.state.Positions[p.ID] = p
	tx.state.Account.MarginUsed = tx.state.Account.MarginUsed.Add(p.MarginUsed)
	tx.commit.Opened = append(tx.commit.Opened, p)
}

func (tx *Tx) UpdatePosition(p model.Position) error {
	if _, ok := tx.state.Positions[p.ID]; !ok {
		return model.ErrNotFound
	}
	tx.state.Positions[p.ID] = p
	for i := range tx.commit.Opened {
		if tx.commit.Opened[i].ID == p.ID {
			tx.commit.Opened[i] = p
			return nil
		}
	}
	tx.commit.Updated = append(tx.commit.Updated, p)
	return nil
}

func (tx *Tx) ClosePosition(c model.ClosedPosition) error {
	p, ok := tx.state.Positions[c.ID]
	if !ok {
		return model.ErrNotFound
	}
	margin := tx.state.Account.MarginUsed.Sub(p.MarginUsed)
	if margin.IsNegative() {
		return fmt.Errorf("close %s: %s - %s: %w", c.ID, tx.state.Account.MarginUsed, p.MarginUsed, ErrMarginUnderflow)
	}
	delete(tx.state.Positions, c.ID)
	tx.state.Account.MarginUsed = margin
	tx.commit.Closed = append(tx.commit.Closed, c)
	return nil
}

// PutOrder records an order upsert; terminal orders leave the pending set.
// It returns the order as stored.
func (tx *Tx) PutOrder(o model.Order) model.Order {
	o.UpdatedAt = tx.now
	if o.IsPending() {
		tx.state.Orders[o.ID] = o
	} else {
		delete(tx.state.Orders, o.ID)
	}
	for i := range tx.commit.Orders {
		if tx.commit.Orders[i].ID == o.ID {
			tx.commit.Orders[i] = o
			return o
		}
	}
	tx.commit.Orders = append(tx.commit.Orders, o)
	return o
}

func (tx *Tx) CountTrade() {
	tx.state.DayTrades++
}

func (tx *Tx) SetSettings(s model.RiskSettings) {
	tx.state.Settings = s
	tx.commit.Settings = &s
}

func (tx *Tx) SetKYCStatus(k types.KYCStatus) {
	tx.state.Account.KYCStatus = k
	tx.touch()
}

func (tx *Tx) SetStatus(s types.AccountStatus) {
	tx.state.Account.Status = s
	tx.touch()
}

// Emit queues an event for publication after a successful commit.
func (tx *Tx) Emit(typ string, data any) {
	tx.events = append(tx.events, Event{Type: typ, Data: data})
}

func (tx *Tx) touch() {
	tx.commit.Account = tx.state.Account
	tx.dirty = true
}

func (tx *Tx) rollDay() {
	day := dayKey(tx.now)
	if tx.state.Day == day {
		return
	}
	tx.state.Day = day
	tx.state.DayRealized = decimal.Zero
	tx.state.DayTrades = 0
}

func (tx *Tx) finish() (Commit, bool) {
	c := tx.commit
	if c.Empty() && !tx.dirty {
		return c, false
	}
	tx.state.Account.UpdatedAt = tx.now
	c.Account = tx.state.Account
	return c, true
}
