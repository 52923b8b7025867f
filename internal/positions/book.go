package positions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/ledger"
	"lv-paperdesk/internal/marketdata"
	"lv-paperdesk/internal/metrics"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/risk"
	"lv-paperdesk/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// MetricsCache serves recent account metrics to readers. Mutations never
// read from it.
type MetricsCache interface {
	GetMetrics(ctx context.Context, accountID string) (risk.Metrics, bool, error)
	SetMetrics(ctx context.Context, accountID string, m risk.Metrics) error
}

type CloseScope string

const (
	ScopeAll    CloseScope = "all"
	ScopeProfit CloseScope = "profit"
	ScopeLoss   CloseScope = "loss"
)

type Book struct {
	accounts *accounts.Service
	market   *marketdata.Service
	cache    MetricsCache
	log      *zap.Logger
}

func NewBook(accountSvc *accounts.Service, market *marketdata.Service, log *zap.Logger) *Book {
	if log == nil {
		log = zap.NewNop()
	}
	return &Book{accounts: accountSvc, market: market, log: log}
}

func (b *Book) SetCache(c MetricsCache) {
	b.cache = c
}

func (b *Book) instrument(symbol string) (model.Instrument, error) {
	inst, ok := b.market.Catalog().Get(symbol)
	if !ok {
		return model.Instrument{}, fmt.Errorf("%w: %s", model.ErrUnknownSymbol, symbol)
	}
	return inst, nil
}

// Evaluate derives metrics and marked positions for a state copy.
func (b *Book) Evaluate(st *accounts.State) (risk.Metrics, []model.Position) {
	return risk.Evaluate(st.Account, st.Settings, st.PositionList(), b.market.Prices(), b.market.Catalog())
}

// Open reserves margin for a filled order and books the position inside
// the caller's transaction.
func (b *Book) Open(tx *accounts.Tx, order model.Order, price decimal.Decimal) (model.Position, error) {
	inst, err := b.instrument(order.Symbol)
	if err != nil {
		return model.Position{}, err
	}
	if !price.IsPositive() {
		return model.Position{}, fmt.Errorf("%w: fill price must be positive", model.ErrInvalidAmount)
	}
	margin := risk.RequiredMargin(order.Quantity, price, inst)
	m, _ := b.Evaluate(tx.State())
	if m.FreeMargin.Sub(margin).IsNegative() {
		return model.Position{}, fmt.Errorf("%w: need %s, free %s", model.ErrInsufficientMargin, margin.StringFixed(2), m.FreeMargin.StringFixed(2))
	}
	p := model.Position{
		ID:         uuid.NewString(),
		AccountID:  tx.Account().ID,
		OrderID:    order.ID,
		Symbol:     inst.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		EntryPrice: price,
		MarginUsed: margin,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
		OpenedAt:   tx.Now(),
	}
	tx.OpenPosition(p)
	tx.Emit("position_opened", p)
	metrics.PositionOpened(inst.Symbol)
	return p, nil
}

// CloseInTx realizes the position at exitPrice: one realized_pnl entry,
// margin released, position moved to closed.
func (b *Book) CloseInTx(tx *accounts.Tx, positionID string, exitPrice decimal.Decimal, reason types.CloseReason) (model.ClosedPosition, error) {
	p, ok := tx.Position(positionID)
	if !ok {
		if _, err := tx.LookupClosed(positionID); err == nil {
			return model.ClosedPosition{}, fmt.Errorf("position %s: %w", positionID, model.ErrAlreadyClosed)
		}
		return model.ClosedPosition{}, fmt.Errorf("position %s: %w", positionID, model.ErrNotFound)
	}
	if !exitPrice.IsPositive() {
		return model.ClosedPosition{}, fmt.Errorf("%w: exit price must be positive", model.ErrInvalidAmount)
	}
	contract := decimal.NewFromInt(1)
	if inst, err := b.instrument(p.Symbol); err == nil {
		contract = inst.ContractSize
	}
	pnl := risk.PnL(p.Side, p.EntryPrice, exitPrice, p.Quantity, contract).Round(2)
	c := model.ClosedPosition{
		ID:          p.ID,
		AccountID:   p.AccountID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Quantity:    p.Quantity,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: pnl,
		MarginUsed:  p.MarginUsed,
		Reason:      reason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    tx.Now(),
	}
	if err := tx.ClosePosition(c); err != nil {
		return model.ClosedPosition{}, err
	}
	desc := fmt.Sprintf("Closed %s %s %s @ %s (%s)", p.Side, p.Quantity, p.Symbol, exitPrice, reason)
	if _, err := ledger.Append(tx, types.LedgerEntryTypeRealizedPnL, pnl, desc, p.ID); err != nil {
		return model.ClosedPosition{}, err
	}
	tx.Emit("position_closed", c)
	metrics.PositionClosed(string(reason))
	return c, nil
}

func (b *Book) Close(ctx context.Context, accountID, positionID string, exitPrice decimal.Decimal, reason types.CloseReason) (model.ClosedPosition, error) {
	var out model.ClosedPosition
	err := b.accounts.Do(ctx, accountID, func(tx *accounts.Tx) error {
		c, err := b.CloseInTx(tx, positionID, exitPrice, reason)
		out = c
		return err
	})
	if err != nil {
		return model.ClosedPosition{}, err
	}
	b.logClose(out)
	return out, nil
}

// CloseAtMarket closes at the live price of the position's symbol.
func (b *Book) CloseAtMarket(ctx context.Context, accountID, positionID string) (model.ClosedPosition, error) {
	var out model.ClosedPosition
	err := b.accounts.Do(ctx, accountID, func(tx *accounts.Tx) error {
		p, ok := tx.Position(positionID)
		if !ok {
			_, err := b.CloseInTx(tx, positionID, decimal.Zero, types.CloseReasonManual)
			return err
		}
		px, ok := b.market.Prices().Price(p.Symbol)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrNoPrice, p.Symbol)
		}
		c, err := b.CloseInTx(tx, positionID, px, types.CloseReasonManual)
		out = c
		return err
	})
	if err != nil {
		return model.ClosedPosition{}, err
	}
	b.logClose(out)
	return out, nil
}

func ParseScope(raw string) (CloseScope, error) {
	switch s := CloseScope(raw); s {
	case ScopeAll, ScopeProfit, ScopeLoss:
		return s, nil
	case "":
		return ScopeAll, nil
	}
	return "", fmt.Errorf("%w: unknown close scope %q", model.ErrInvalidOrder, raw)
}

// CloseByScope closes every priced position matching the scope in one
// transaction. Positions without a live price are left open.
func (b *Book) CloseByScope(ctx context.Context, accountID string, scope CloseScope) ([]model.ClosedPosition, error) {
	var out []model.ClosedPosition
	err := b.accounts.Do(ctx, accountID, func(tx *accounts.Tx) error {
		_, marked := b.Evaluate(tx.State())
		for _, p := range marked {
			if _, ok := b.market.Prices().Price(p.Symbol); !ok {
				continue
			}
			pnl := *p.UnrealizedPnL
			if scope == ScopeProfit && !pnl.IsPositive() {
				continue
			}
			if scope == ScopeLoss && !pnl.IsNegative() {
				continue
			}
			c, err := b.CloseInTx(tx, p.ID, *p.CurrentPrice, types.CloseReasonManual)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range out {
		b.logClose(c)
	}
	return out, nil
}

// ProtectionHit reports whether price crosses the position's stop loss or
// take profit.
func ProtectionHit(p model.Position, price decimal.Decimal) (types.CloseReason, bool) {
	if p.Side == types.OrderSideBuy {
		if p.StopLoss != nil && price.LessThanOrEqual(*p.StopLoss) {
			return types.CloseReasonStopLoss, true
		}
		if p.TakeProfit != nil && price.GreaterThanOrEqual(*p.TakeProfit) {
			return types.CloseReasonTakeProfit, true
		}
		return "", false
	}
	if p.StopLoss != nil && price.GreaterThanOrEqual(*p.StopLoss) {
		return types.CloseReasonStopLoss, true
	}
	if p.TakeProfit != nil && price.LessThanOrEqual(*p.TakeProfit) {
		return types.CloseReasonTakeProfit, true
	}
	return "", false
}

// CloseTriggered re-checks protection under the account lock and closes
// when it still fires. It returns false when nothing was closed.
func (b *Book) CloseTriggered(ctx context.Context, accountID, positionID string, price decimal.Decimal) (model.ClosedPosition, bool, error) {
	var out model.ClosedPosition
	var closed bool
	err := b.accounts.Do(ctx, accountID, func(tx *accounts.Tx) error {
		p, ok := tx.Position(positionID)
		if !ok {
			return nil
		}
		reason, hit := ProtectionHit(p, price)
		if !hit {
			return nil
		}
		c, err := b.CloseInTx(tx, positionID, price, reason)
		if err != nil {
			return err
		}
		out, closed = c, true
		return nil
	})
	if err != nil || !closed {
		return model.ClosedPosition{}, false, err
	}
	b.logClose(out)
	return out, true, nil
}

// StopOut closes the worst performing position until the margin level is
// back above the stop-out level or nothing priced is left open. Positions
// without a live price are never force-closed.
func (b *Book) StopOut(ctx context.Context, accountID string) ([]model.ClosedPosition, error) {
	var out []model.ClosedPosition
	err := b.accounts.Do(ctx, accountID, func(tx *accounts.Tx) error {
		for {
			m, all := b.Evaluate(tx.State())
			if m.MarginLevel == nil || m.MarginLevel.GreaterThan(tx.Settings().StopOutLevel) {
				break
			}
			marked := all[:0]
			for _, p := range all {
				if _, ok := b.market.Prices().Price(p.Symbol); ok {
					marked = append(marked, p)
				}
			}
			if len(marked) == 0 {
				break
			}
			sort.SliceStable(marked, func(i, j int) bool {
				return marked[i].UnrealizedPnL.LessThan(*marked[j].UnrealizedPnL)
			})
			worst := marked[0]
			c, err := b.CloseInTx(tx, worst.ID, *worst.CurrentPrice, types.CloseReasonStopOut)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		if len(out) > 0 {
			tx.Emit("stop_out", map[string]any{"closed": out})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range out {
		b.log.Warn("stop out",
			zap.String("account_id", accountID),
			zap.String("position_id", c.ID),
			zap.String("symbol", c.Symbol),
			zap.String("pnl", c.RealizedPnL.String()),
		)
	}
	if len(out) > 0 {
		metrics.StopOut()
	}
	return out, nil
}

type ProtectionUpdate struct {
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	ClearSL    bool
	ClearTP    bool
}

// UpdateProtection changes stop loss and take profit on an open position.
func (b *Book) UpdateProtection(ctx context.Context, accountID, positionID string, upd ProtectionUpdate) (model.Position, error) {
	var out model.Position
	err := b.accounts.Do(ctx, accountID, func(tx *accounts.Tx) error {
		p, ok := tx.Position(positionID)
		if !ok {
			if _, err := tx.LookupClosed(positionID); err == nil {
				return fmt.Errorf("position %s: %w", positionID, model.ErrAlreadyClosed)
			}
			return fmt.Errorf("position %s: %w", positionID, model.ErrNotFound)
		}
		if upd.ClearSL {
			p.StopLoss = nil
		} else if upd.StopLoss != nil {
			p.StopLoss = upd.StopLoss
		}
		if upd.ClearTP {
			p.TakeProfit = nil
		} else if upd.TakeProfit != nil {
			p.TakeProfit = upd.TakeProfit
		}
		ref := p.EntryPrice
		if px, ok := b.market.Prices().Price(p.Symbol); ok {
			ref = px
		}
		if err := ValidateProtection(p.Side, ref, p.StopLoss, p.TakeProfit); err != nil {
			return err
		}
		if err := risk.CheckStopLoss(tx.Settings(), ref, p.StopLoss); err != nil {
			return err
		}
		if err := tx.UpdatePosition(p); err != nil {
			return err
		}
		tx.Emit("position_updated", p)
		out = p
		return nil
	})
	return out, err
}

// ValidateProtection checks stop loss and take profit sit on the right side
// of the reference price.
func ValidateProtection(side types.OrderSide, ref decimal.Decimal, sl, tp *decimal.Decimal) error {
	if sl != nil && !sl.IsPositive() || tp != nil && !tp.IsPositive() {
		return fmt.Errorf("%w: stop loss and take profit must be positive", model.ErrInvalidOrder)
	}
	if side == types.OrderSideBuy {
		if sl != nil && sl.GreaterThanOrEqual(ref) {
			return fmt.Errorf("%w: buy stop loss must be below %s", model.ErrInvalidOrder, ref)
		}
		if tp != nil && tp.LessThanOrEqual(ref) {
			return fmt.Errorf("%w: buy take profit must be above %s", model.ErrInvalidOrder, ref)
		}
		return nil
	}
	if sl != nil && sl.LessThanOrEqual(ref) {
		return fmt.Errorf("%w: sell stop loss must be above %s", model.ErrInvalidOrder, ref)
	}
	if tp != nil && tp.GreaterThanOrEqual(ref) {
		return fmt.Errorf("%w: sell take profit must be below %s", model.ErrInvalidOrder, ref)
	}
	return nil
}

// UpdatePrices stores a price batch, re-marks the open positions on the
// accepted symbols and publishes them per account as positions_marked. The
// ledger is not touched.
func (b *Book) UpdatePrices(ctx context.Context, prices map[string]decimal.Decimal) []string {
	accepted := b.market.Update(ctx, prices)
	if len(accepted) == 0 {
		return nil
	}
	for id, marked := range b.Marks(accepted) {
		b.market.Bus().PublishAccount(id, marketdata.EventPositionsMarked, marked)
	}
	return accepted
}

// Marks returns, per account, the open positions on symbols marked at the
// current prices. Accounts without such positions are left out.
func (b *Book) Marks(symbols []string) map[string][]model.Position {
	touched := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		touched[sym] = struct{}{}
	}
	out := make(map[string][]model.Position)
	for _, id := range b.accounts.IDs() {
		st, err := b.accounts.Snapshot(id)
		if err != nil {
			continue
		}
		for _, p := range st.PositionList() {
			if _, ok := touched[p.Symbol]; !ok {
				continue
			}
			out[id] = append(out[id], risk.Mark(p, b.market.Prices(), b.market.Catalog()))
		}
	}
	return out
}

var _ marketdata.PriceSink = (*Book)(nil)

// Metrics serves from the cache when it has a fresh value.
func (b *Book) Metrics(ctx context.Context, accountID string) (risk.Metrics, error) {
	if b.cache != nil {
		if m, ok, err := b.cache.GetMetrics(ctx, accountID); err == nil && ok {
			return m, nil
		} else if err != nil {
			b.log.Debug("metrics cache read failed", zap.Error(err))
		}
	}
	m, err := b.FreshMetrics(accountID)
	if err != nil {
		return risk.Metrics{}, err
	}
	if b.cache != nil {
		if err := b.cache.SetMetrics(ctx, accountID, m); err != nil {
			b.log.Debug("metrics cache write failed", zap.Error(err))
		}
	}
	return m, nil
}

// FreshMetrics always evaluates the authoritative state.
func (b *Book) FreshMetrics(accountID string) (risk.Metrics, error) {
	st, err := b.accounts.Snapshot(accountID)
	if err != nil {
		return risk.Metrics{}, err
	}
	m, _ := b.Evaluate(st)
	return m, nil
}

func (b *Book) List(accountID string) ([]model.Position, error) {
	st, err := b.accounts.Snapshot(accountID)
	if err != nil {
		return nil, err
	}
	_, marked := b.Evaluate(st)
	return marked, nil
}

func (b *Book) Closed(ctx context.Context, accountID string, before *time.Time, limit int) ([]model.ClosedPosition, error) {
	if _, err := b.accounts.Get(accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return b.accounts.Store().ClosedPositions(ctx, accountID, before, limit)
}

func (b *Book) logClose(c model.ClosedPosition) {
	b.log.Info("position closed",
		zap.String("account_id", c.AccountID),
		zap.String("position_id", c.ID),
		zap.String("symbol", c.Symbol),
		zap.String("reason", string(c.Reason)),
		zap.String("pnl", c.RealizedPnL.String()),
	)
}
