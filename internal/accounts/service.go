package accounts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Publisher receives events produced by committed mutations.
type Publisher interface {
	PublishAccount(accountID string, typ string, data any)
}

type entry struct {
	mu    sync.Mutex
	state *State
}

// Service is the account registry. Every mutation of an account runs under
// that account's lock; accounts never lock each other.
type Service struct {
	store Store
	log   *zap.Logger
	pub   Publisher
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]*entry),
	}
}

func (s *Service) SetPublisher(pub Publisher) {
	s.pub = pub
}

// SetClock replaces the time source; used by tests and replays.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) Store() Store {
	return s.store
}

// Load replaces the registry content with what the store holds.
func (s *Service) Load(ctx context.Context) error {
	now := s.now()
	snaps, err := s.store.LoadAccounts(ctx, DayStart(now))
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	entries := make(map[string]*entry, len(snaps))
	for _, snap := range snaps {
		entries[snap.Account.ID] = &entry{state: newState(snap, dayKey(now))}
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	s.log.Info("accounts loaded", zap.Int("count", len(entries)))
	return nil
}

type NewAccount struct {
	ID        string
	Name      string
	KYCStatus types.KYCStatus
	Settings  *model.RiskSettings
}

func (s *Service) Create(ctx context.Context, req NewAccount) (model.Account, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return model.Account{}, fmt.Errorf("%w: account id is required", model.ErrInvalidInput)
	}
	kyc := req.KYCStatus
	if kyc == "" {
		kyc = types.KYCStatusPending
	}
	if !kyc.Valid() {
		return model.Account{}, fmt.Errorf("%w: kyc status %q", model.ErrInvalidInput, kyc)
	}
	settings := model.DefaultRiskSettings()
	if req.Settings != nil {
		if err := req.Settings.Validate(); err != nil {
			return model.Account{}, err
		}
		settings = *req.Settings
	}
	now := s.now()
	acc := model.Account{
		ID:         id,
		Name:       strings.TrimSpace(req.Name),
		Balance:    decimal.Zero,
		MarginUsed: decimal.Zero,
		KYCStatus:  kyc,
		Status:     types.AccountStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return model.Account{}, model.ErrAccountExists
	}
	err := s.store.Commit(ctx, Commit{Account: acc, Created: true, Settings: &settings})
	if err != nil {
		return model.Account{}, fmt.Errorf("create account %s: %w", id, err)
	}
	s.entries[id] = &entry{state: newState(Snapshot{Account: acc, Settings: settings}, dayKey(now))}
	s.log.Info("account created", zap.String("account_id", id), zap.String("kyc_status", string(kyc)))
	return acc, nil
}

func (s *Service) get(accountID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[accountID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
	}
	return e, nil
}

// Do runs fn against a working copy of the account under its lock. When fn
// succeeds the collected changes are committed to the store and the copy
// replaces the live state; on any error nothing changes.
func (s *Service) Do(ctx context.Context, accountID string, fn func(tx *Tx) error) error {
	e, err := s.get(accountID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := &Tx{ctx: ctx, store: s.store, state: e.state.clone(), now: s.now()}
	tx.rollDay()
	tx.commit.PrevSequence = e.state.Sequence
	if err := fn(tx); err != nil {
		if errors.Is(err, ErrMarginUnderflow) {
			s.log.Error("account state inconsistent", zap.String("account_id", accountID), zap.Error(err))
		}
		return err
	}
	if c, ok := tx.finish(); ok {
		if err := s.store.Commit(ctx, c); err != nil {
			s.log.Error("account commit failed", zap.String("account_id", accountID), zap.Error(err))
			return fmt.Errorf("commit account %s: %w", accountID, err)
		}
	}
	e.state = tx.state
	if s.pub != nil {
		for _, evt := range tx.events {
			s.pub.PublishAccount(accountID, evt.Type, evt.Data)
		}
	}
	return nil
}

// Snapshot returns a private copy of the account state.
func (s *Service) Snapshot(accountID string) (*State, error) {
	e, err := s.get(accountID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state.clone()
	if st.Day != dayKey(s.now()) {
		st.Day = dayKey(s.now())
		st.DayRealized = decimal.Zero
		st.DayTrades = 0
	}
	return st, nil
}

func (s *Service) Get(accountID string) (model.Account, error) {
	st, err := s.Snapshot(accountID)
	if err != nil {
		return model.Account{}, err
	}
	return st.Account, nil
}

func (s *Service) IDs() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Service) List() []model.Account {
	ids := s.IDs()
	out := make([]model.Account, 0, len(ids))
	for _, id := range ids {
		acc, err := s.Get(id)
		if err != nil {
			continue
		}
		out = append(out, acc)
	}
	return out
}

func (s *Service) UpdateSettings(ctx context.Context, accountID string, settings model.RiskSettings) (model.RiskSettings, error) {
	if err := settings.Validate(); err != nil {
		return model.RiskSettings{}, err
	}
	err := s.Do(ctx, accountID, func(tx *Tx) error {
		tx.SetSettings(settings)
		tx.Emit("risk_settings", settings)
		return nil
	})
	if err != nil {
		return model.RiskSettings{}, err
	}
	return settings, nil
}

func (s *Service) SetKYCStatus(ctx context.Context, accountID string, status types.KYCStatus) (model.Account, error) {
	if !status.Valid() {
		return model.Account{}, fmt.Errorf("%w: kyc status %q", model.ErrInvalidInput, status)
	}
	var out model.Account
	err := s.Do(ctx, accountID, func(tx *Tx) error {
		tx.SetKYCStatus(status)
		out = tx.Account()
		return nil
	})
	if err == nil {
		s.log.Info("kyc status changed", zap.String("account_id", accountID), zap.String("kyc_status", string(status)))
	}
	return out, err
}

func (s *Service) SetStatus(ctx context.Context, accountID string, status types.AccountStatus) (model.Account, error) {
	if !status.Valid() {
		return model.Account{}, fmt.Errorf("%w: account status %q", model.ErrInvalidInput, status)
	}
	var out model.Account
	err := s.Do(ctx, accountID, func(tx *Tx) error {
		tx.SetStatus(status)
		out = tx.Account()
		return nil
	})
	if err == nil {
		s.log.Info("account status changed", zap.String("account_id", accountID), zap.String("status", string(status)))
	}
	return out, err
}
