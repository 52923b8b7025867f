package matching

import (
	"context"
	"errors"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/marketdata"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/orders"
	"lv-paperdesk/internal/positions"
	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine triggers pending orders and position stop loss / take profit when
// a price update crosses them.
type Engine struct {
	accounts *accounts.Service
	orders   *orders.Service
	book     *positions.Book
	market   *marketdata.Service
	log      *zap.Logger
}

func NewEngine(accountSvc *accounts.Service, orderSvc *orders.Service, book *positions.Book, market *marketdata.Service, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{accounts: accountSvc, orders: orderSvc, book: book, market: market, log: log.Named("matcher")}
}

type SweepResult struct {
	Filled    []model.Order
	Cancelled []model.Order
	Closed    []model.ClosedPosition
}

// Run sweeps on every price event until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ch := e.market.Bus().SubscribeTypes(100, marketdata.EventPrices)
	defer e.market.Bus().Unsubscribe(ch)
	e.log.Info("matcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if evt.Type != marketdata.EventPrices {
				continue
			}
			upd, ok := evt.Data.(marketdata.PricesUpdate)
			if !ok {
				continue
			}
			symbols := make([]string, 0, len(upd.Prices))
			for sym := range upd.Prices {
				symbols = append(symbols, sym)
			}
			e.Sweep(ctx, symbols)
		}
	}
}

// Sweep checks every account against the current prices of symbols. An
// empty symbol list checks all priced symbols.
func (e *Engine) Sweep(ctx context.Context, symbols []string) SweepResult {
	prices := make(map[string]decimal.Decimal)
	if len(symbols) == 0 {
		prices = e.market.Prices().Snapshot()
	}
	for _, sym := range symbols {
		if px, ok := e.market.Prices().Price(sym); ok {
			prices[marketdata.NormalizeSymbol(sym)] = px
		}
	}
	var res SweepResult
	if len(prices) == 0 {
		return res
	}
	for _, id := range e.accounts.IDs() {
		if ctx.Err() != nil {
			return res
		}
		st, err := e.accounts.Snapshot(id)
		if err != nil {
			continue
		}
		for _, o := range st.OrderList() {
			px, ok := prices[o.Symbol]
			if !ok {
				continue
			}
			if !orders.ShouldArm(o, px) && !orders.ShouldFill(o, px) {
				continue
			}
			out, filled, err := e.orders.Match(ctx, id, o.ID, px)
			switch {
			case filled:
				res.Filled = append(res.Filled, out)
			case err != nil && out.Status == types.OrderStatusCancelled:
				res.Cancelled = append(res.Cancelled, out)
			case err != nil && !errors.Is(err, model.ErrNotFound):
				e.log.Error("match failed", zap.String("account_id", id), zap.String("order_id", o.ID), zap.Error(err))
			}
		}
		for _, p := range st.PositionList() {
			px, ok := prices[p.Symbol]
			if !ok {
				continue
			}
			if _, hit := positions.ProtectionHit(p, px); !hit {
				continue
			}
			c, closed, err := e.book.CloseTriggered(ctx, id, p.ID, px)
			if err != nil {
				e.log.Error("protective close failed", zap.String("account_id", id), zap.String("position_id", p.ID), zap.Error(err))
				continue
			}
			if closed {
				res.Closed = append(res.Closed, c)
			}
		}
	}
	if n := len(res.Filled) + len(res.Cancelled) + len(res.Closed); n > 0 {
		e.log.Debug("sweep", zap.Int("filled", len(res.Filled)), zap.Int("cancelled", len(res.Cancelled)), zap.Int("closed", len(res.Closed)))
	}
	return res
}
