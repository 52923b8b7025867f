package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/metrics"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

var DefaultFundingMax = decimal.NewFromInt(100000)

type Service struct {
	accounts   *accounts.Service
	fundingMax decimal.Decimal
	log        *zap.Logger
}

func NewService(accountSvc *accounts.Service, fundingMax decimal.Decimal, log *zap.Logger) *Service {
	if !fundingMax.IsPositive() {
		fundingMax = DefaultFundingMax
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{accounts: accountSvc, fundingMax: fundingMax, log: log}
}

func (s *Service) FundingMax() decimal.Decimal { return s.fundingMax }

// Append books one entry inside an open account transaction. The amount
// sign must match the entry type; zero is only accepted for realized P&L.
func Append(tx *accounts.Tx, typ types.LedgerEntryType, amount decimal.Decimal, description, reference string) (model.LedgerEntry, error) {
	if err := checkSign(typ, amount); err != nil {
		return model.LedgerEntry{}, err
	}
	acc := tx.Account()
	before := acc.Balance
	after := before.Add(amount)
	switch typ {
	case types.LedgerEntryTypeWithdrawal:
		if after.IsNegative() || after.LessThan(acc.MarginUsed) {
			return model.LedgerEntry{}, fmt.Errorf("%w: balance %s, margin used %s", model.ErrInsufficientFunds, before.StringFixed(2), acc.MarginUsed.StringFixed(2))
		}
	case types.LedgerEntryTypeFee:
		if after.IsNegative() {
			return model.LedgerEntry{}, fmt.Errorf("%w: balance %s", model.ErrInsufficientFunds, before.StringFixed(2))
		}
	}
	st := tx.State()
	seq := st.Sequence + 1
	e := model.LedgerEntry{
		ID:            uuid.NewString(),
		AccountID:     acc.ID,
		Sequence:      seq,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   description,
		Reference:     reference,
		PrevHash:      st.LastHash,
		CreatedAt:     tx.Now(),
	}
	e.Hash = computeHash(e)
	tx.AppendEntry(e)
	tx.Emit("ledger_entry", e)
	metrics.LedgerEntry(string(typ))
	return e, nil
}

func checkSign(typ types.LedgerEntryType, amount decimal.Decimal) error {
	switch typ {
	case types.LedgerEntryTypeDeposit, types.LedgerEntryTypeFunding:
		if !amount.IsPositive() {
			return fmt.Errorf("%w: %s amount must be positive", model.ErrInvalidAmount, typ)
		}
	case types.LedgerEntryTypeWithdrawal, types.LedgerEntryTypeFee:
		if !amount.IsNegative() {
			return fmt.Errorf("%w: %s amount must be negative", model.ErrInvalidAmount, typ)
		}
	case types.LedgerEntryTypeRealizedPnL:
	default:
		return fmt.Errorf("%w: unknown entry type %q", model.ErrInvalidAmount, typ)
	}
	return nil
}

func computeHash(e model.LedgerEntry) string {
	buf := e.ID + "|" + e.AccountID + "|" + e.Amount.String() + "|" + string(e.Type) + "|" +
		e.BalanceAfter.String() + "|" + strconv.FormatInt(e.Sequence, 10) + "|" + e.PrevHash
	sum := sha256.Sum256([]byte(buf))
	return hex.EncodeToString(sum[:])
}

// ApplyEntry runs Append in its own account transaction.
func (s *Service) ApplyEntry(ctx context.Context, accountID string, typ types.LedgerEntryType, amount decimal.Decimal, description, reference string) (model.LedgerEntry, error) {
	var out model.LedgerEntry
	err := s.accounts.Do(ctx, accountID, func(tx *accounts.Tx) error {
		e, err := Append(tx, typ, amount, description, reference)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}
	s.log.Info("ledger entry",
		zap.String("account_id", accountID),
		zap.String("type", string(typ)),
		zap.String("amount", amount.String()),
		zap.Int64("sequence", out.Sequence),
	)
	return out, nil
}

// Deposit credits paper money on the user's own request. It shares the
// per-call ceiling with Fund.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (model.LedgerEntry, error) {
	if amount.GreaterThan(s.fundingMax) {
		s.log.Warn("deposit above ceiling rejected",
			zap.String("account_id", accountID),
			zap.String("amount", amount.String()),
		)
		return model.LedgerEntry{}, fmt.Errorf("%w: deposit amount exceeds %s", model.ErrInvalidAmount, s.fundingMax.StringFixed(2))
	}
	return s.ApplyEntry(ctx, accountID, types.LedgerEntryTypeDeposit, amount, "Deposit", reference)
}

// Withdraw takes a positive amount and books it as a negative entry.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return model.LedgerEntry{}, fmt.Errorf("%w: withdrawal amount must be positive", model.ErrInvalidAmount)
	}
	return s.ApplyEntry(ctx, accountID, types.LedgerEntryTypeWithdrawal, amount.Neg(), "Withdrawal", reference)
}

// Fund credits paper money on behalf of an admin. The ceiling is checked
// before the account is touched.
func (s *Service) Fund(ctx context.Context, accountID string, amount decimal.Decimal, adminID string) (model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return model.LedgerEntry{}, fmt.Errorf("%w: funding amount must be positive", model.ErrInvalidAmount)
	}
	if amount.GreaterThan(s.fundingMax) {
		s.log.Warn("funding above ceiling rejected",
			zap.String("account_id", accountID),
			zap.String("admin", adminID),
			zap.String("amount", amount.String()),
		)
		return model.LedgerEntry{}, fmt.Errorf("%w: funding amount exceeds %s", model.ErrInvalidAmount, s.fundingMax.StringFixed(2))
	}
	return s.ApplyEntry(ctx, accountID, types.LedgerEntryTypeFunding, amount, "Admin funding", adminID)
}

// History lists entries newest first. beforeSeq <= 0 starts at the latest.
func (s *Service) History(ctx context.Context, accountID string, beforeSeq int64, limit int) ([]model.LedgerEntry, error) {
	if _, err := s.accounts.Get(accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.accounts.Store().LedgerEntries(ctx, accountID, beforeSeq, limit)
}

type VerifyResult struct {
	AccountID string          `json:"account_id"`
	Entries   int             `json:"entries"`
	Balance   decimal.Decimal `json:"balance"`
	Valid     bool            `json:"valid"`
	BrokenAt  int64           `json:"broken_at,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Verify walks the whole chain and checks sequence, balance arithmetic,
// hash links and that the account balance matches the last entry.
func (s *Service) Verify(ctx context.Context, accountID string) (VerifyResult, error) {
	acc, err := s.accounts.Get(accountID)
	if err != nil {
		return VerifyResult{}, err
	}
	chain, err := s.accounts.Store().LedgerChain(ctx, accountID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load ledger chain: %w", err)
	}
	res := VerifyResult{AccountID: accountID, Entries: len(chain), Balance: acc.Balance, Valid: true}
	fail := func(seq int64, reason string) (VerifyResult, error) {
		res.Valid = false
		res.BrokenAt = seq
		res.Reason = reason
		s.log.Warn("ledger chain broken", zap.String("account_id", accountID), zap.Int64("sequence", seq), zap.String("reason", reason))
		return res, nil
	}
	balance := decimal.Zero
	prevHash := ""
	for i, e := range chain {
		if e.Sequence != int64(i+1) {
			return fail(e.Sequence, "sequence gap")
		}
		if !e.BalanceBefore.Equal(balance) {
			return fail(e.Sequence, "balance_before does not match previous balance_after")
		}
		if !e.BalanceAfter.Equal(e.BalanceBefore.Add(e.Amount)) {
			return fail(e.Sequence, "balance_after != balance_before + amount")
		}
		if e.PrevHash != prevHash {
			return fail(e.Sequence, "prev_hash mismatch")
		}
		if computeHash(e) != e.Hash {
			return fail(e.Sequence, "hash mismatch")
		}
		balance = e.BalanceAfter
		prevHash = e.Hash
	}
	if !balance.Equal(acc.Balance) {
		return fail(int64(len(chain)), "account balance differs from last entry")
	}
	return res, nil
}
