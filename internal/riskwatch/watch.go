package riskwatch

import (
	"context"
	"sync"
	"time"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/marketdata"
	"lv-paperdesk/internal/metrics"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/positions"
	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventMarginCall      = "margin_call"
	EventStopOut         = "stop_out_alert"
	EventAccountSnapshot = "account_snapshot"
)

type Alert struct {
	AccountID   string                 `json:"account_id"`
	Level       types.AlertLevel       `json:"level"`
	MarginLevel *decimal.Decimal       `json:"margin_level"`
	Equity      decimal.Decimal        `json:"equity"`
	Closed      []model.ClosedPosition `json:"closed,omitempty"`
	At          time.Time              `json:"at"`
}

// Watch re-evaluates every account with open positions on each price tick.
// Margin-call alerts fire once per crossing; a stop-out level triggers
// forced closing through the position book.
type Watch struct {
	accounts *accounts.Service
	book     *positions.Book
	market   *marketdata.Service
	log      *zap.Logger

	mu   sync.Mutex
	last map[string]types.AlertLevel
}

func New(accountSvc *accounts.Service, book *positions.Book, market *marketdata.Service, log *zap.Logger) *Watch {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watch{
		accounts: accountSvc,
		book:     book,
		market:   market,
		log:      log.Named("riskwatch"),
		last:     make(map[string]types.AlertLevel),
	}
}

func (w *Watch) Run(ctx context.Context) error {
	ch := w.market.Bus().SubscribeTypes(100, marketdata.EventPrices)
	defer w.market.Bus().Unsubscribe(ch)
	w.log.Info("risk watch started")
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
			w.CheckAll(ctx)
		}
	}
}

func (w *Watch) CheckAll(ctx context.Context) []Alert {
	var alerts []Alert
	for _, id := range w.accounts.IDs() {
		if ctx.Err() != nil {
			break
		}
		a, err := w.Check(ctx, id)
		if err != nil {
			w.log.Error("risk check failed", zap.String("account_id", id), zap.Error(err))
			continue
		}
		if a != nil {
			alerts = append(alerts, *a)
		}
	}
	return alerts
}

// Check evaluates one account and returns the alert raised, if any.
func (w *Watch) Check(ctx context.Context, accountID string) (*Alert, error) {
	st, err := w.accounts.Snapshot(accountID)
	if err != nil {
		return nil, err
	}
	if len(st.Positions) == 0 {
		w.setLevel(accountID, types.AlertLevelNormal)
		return nil, nil
	}
	m, _ := w.book.Evaluate(st)
	w.market.Bus().PublishAccount(accountID, EventAccountSnapshot, m)
	metrics.MarginLevel(m.MarginLevelPct())

	switch m.Level {
	case types.AlertLevelStopOut:
		closed, err := w.book.StopOut(ctx, accountID)
		if err != nil {
			return nil, err
		}
		after, err := w.book.FreshMetrics(accountID)
		if err != nil {
			return nil, err
		}
		a := &Alert{AccountID: accountID, Level: types.AlertLevelStopOut, MarginLevel: m.MarginLevel, Equity: m.Equity, Closed: closed, At: w.accounts.Now()}
		w.market.Bus().PublishAccount(accountID, EventStopOut, a)
		w.setLevel(accountID, after.Level)
		w.log.Warn("stop out executed",
			zap.String("account_id", accountID),
			zap.Int("closed", len(closed)),
			zap.Float64("margin_level", m.MarginLevelPct()),
			zap.Float64("margin_level_after", after.MarginLevelPct()),
		)
		return a, nil
	case types.AlertLevelMarginCall:
		if w.setLevel(accountID, types.AlertLevelMarginCall) == types.AlertLevelMarginCall {
			return nil, nil
		}
		a := &Alert{AccountID: accountID, Level: types.AlertLevelMarginCall, MarginLevel: m.MarginLevel, Equity: m.Equity, At: w.accounts.Now()}
		w.market.Bus().PublishAccount(accountID, EventMarginCall, a)
		metrics.MarginCall()
		w.log.Warn("margin call", zap.String("account_id", accountID), zap.Float64("margin_level", m.MarginLevelPct()))
		return a, nil
	}
	w.setLevel(accountID, types.AlertLevelNormal)
	return nil, nil
}

// setLevel stores the level and returns the previous one.
func (w *Watch) setLevel(accountID string, lvl types.AlertLevel) types.AlertLevel {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.last[accountID]
	w.last[accountID] = lvl
	return prev
}

func (w *Watch) Level(accountID string) types.AlertLevel {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lvl, ok := w.last[accountID]; ok {
		return lvl
	}
	return types.AlertLevelNormal
}
