// Package memory is an in-process accounts.Store used when no database is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
)

type accountData struct {
	account   model.Account
	settings  model.RiskSettings
	ledger    []model.LedgerEntry
	positions map[string]model.Position
	closed    map[string]model.ClosedPosition
	orders    map[string]model.Order
}

type Store struct {
	mu       sync.RWMutex
	accounts map[string]*accountData
	// failNext makes the next Commit fail; tests use it to check rollback.
	failNext error
}

func New() *Store {
	return &Store{accounts: make(map[string]*accountData)}
}

// FailNextCommit makes the next Commit return err without applying it.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *Store) LoadAccounts(_ context.Context, dayStart time.Time) ([]accounts.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]accounts.Snapshot, 0, len(s.accounts))
	for _, a := range s.accounts {
		snap := accounts.Snapshot{
			Account:     a.account,
			Settings:    a.settings,
			DayRealized: decimal.Zero,
		}
		if n := len(a.ledger); n > 0 {
			snap.Sequence = a.ledger[n-1].Sequence
			snap.LastHash = a.ledger[n-1].Hash
		}
		for _, e := range a.ledger {
			if e.Type == types.LedgerEntryTypeRealizedPnL && !e.CreatedAt.Before(dayStart) {
				snap.DayRealized = snap.DayRealized.Add(e.Amount)
			}
		}
		for _, p := range a.positions {
			snap.Positions = append(snap.Positions, p)
		}
		for _, o := range a.orders {
			if o.IsPending() {
				snap.Orders = append(snap.Orders, o)
			}
			if o.Status == types.OrderStatusFilled && !o.UpdatedAt.Before(dayStart) {
				snap.DayTrades++
			}
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.ID < out[j].Account.ID })
	return out, nil
}

func (s *Store) Commit(_ context.Context, c accounts.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	id := c.Account.ID
	a, ok := s.accounts[id]
	if c.Created {
		if ok {
			return model.ErrAccountExists
		}
		a = &accountData{
			positions: make(map[string]model.Position),
			closed:    make(map[string]model.ClosedPosition),
			orders:    make(map[string]model.Order),
		}
	} else if !ok {
		return fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}

	var seq int64
	if n := len(a.ledger); n > 0 {
		seq = a.ledger[n-1].Sequence
	}
	if !c.Created && seq != c.PrevSequence {
		return fmt.Errorf("account %s ledger at %d, expected %d: %w", id, seq, c.PrevSequence, model.ErrConflict)
	}
	for _, e := range c.Entries {
		seq++
		if e.Sequence != seq {
			return fmt.Errorf("account %s entry sequence %d, expected %d: %w", id, e.Sequence, seq, model.ErrConflict)
		}
	}

	// validated; apply
	a.account = c.Account
	if c.Settings != nil {
		a.settings = *c.Settings
	}
	a.ledger = append(a.ledger, c.Entries...)
	for _, p := range c.Opened {
		a.positions[p.ID] = p
	}
	for _, p := range c.Updated {
		a.positions[p.ID] = p
	}
	for _, cp := range c.Closed {
		delete(a.positions, cp.ID)
		a.closed[cp.ID] = cp
	}
	for _, o := range c.Orders {
		a.orders[o.ID] = o
	}
	s.accounts[id] = a
	return nil
}

func (s *Store) account(id string) (*accountData, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

func (s *Store) Order(_ context.Context, accountID, orderID string) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.account(accountID)
	if err != nil {
		return model.Order{}, err
	}
	o, ok := a.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("order %s: %w", orderID, model.ErrNotFound)
	}
	return o, nil
}

func (s *Store) ClosedPosition(_ context.Context, accountID, positionID string) (model.ClosedPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.account(accountID)
	if err != nil {
		return model.ClosedPosition{}, err
	}
	cp, ok := a.closed[positionID]
	if !ok {
		return model.ClosedPosition{}, fmt.Errorf("position %s: %w", positionID, model.ErrNotFound)
	}
	return cp, nil
}

// LedgerEntries lists entries newest first. beforeSeq > 0 restricts to
// entries with a lower sequence.
func (s *Store) LedgerEntries(_ context.Context, accountID string, beforeSeq int64, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	out := make([]model.LedgerEntry, 0, limit)
	for i := len(a.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		e := a.ledger[i]
		if beforeSeq > 0 && e.Sequence >= beforeSeq {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) LedgerChain(_ context.Context, accountID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	out := make([]model.LedgerEntry, len(a.ledger))
	copy(out, a.ledger)
	return out, nil
}

func (s *Store) ClosedPositions(_ context.Context, accountID string, before *time.Time, limit int) ([]model.ClosedPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	all := make([]model.ClosedPosition, 0, len(a.closed))
	for _, cp := range a.closed {
		if before != nil && !cp.ClosedAt.Before(*before) {
			continue
		}
		all = append(all, cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ClosedAt.Equal(all[j].ClosedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].ClosedAt.After(all[j].ClosedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// OrderHistory lists terminal orders newest first.
func (s *Store) OrderHistory(_ context.Context, accountID string, before *time.Time, limit int) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	all := make([]model.Order, 0, len(a.orders))
	for _, o := range a.orders {
		if o.IsPending() {
			continue
		}
		if before != nil && !o.UpdatedAt.Before(*before) {
			continue
		}
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

var _ accounts.Store = (*Store)(nil)
