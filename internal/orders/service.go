package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/ledger"
	"lv-paperdesk/internal/marketdata"
	"lv-paperdesk/internal/metrics"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/positions"
	"lv-paperdesk/internal/risk"
	"lv-paperdesk/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	ReasonUser               = "user"
	ReasonInsufficientMargin = "insufficient_margin"
	ReasonInsufficientFunds  = "insufficient_funds"
)

type Service struct {
	accounts   *accounts.Service
	book       *positions.Book
	market     *marketdata.Service
	gate       risk.Gate
	commission decimal.Decimal
	log        *zap.Logger
}

func NewService(accountSvc *accounts.Service, book *positions.Book, market *marketdata.Service, gate risk.Gate, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		accounts:   accountSvc,
		book:       book,
		market:     market,
		gate:       gate,
		commission: decimal.Zero,
		log:        log,
	}
}

// SetCommissionRate sets the fee charged on fills as a fraction of notional.
func (s *Service) SetCommissionRate(rate decimal.Decimal) {
	if rate.IsNegative() {
		rate = decimal.Zero
	}
	s.commission = rate
}

type PlaceOrderRequest struct {
	Symbol     string
	Side       types.OrderSide
	Type       types.OrderType
	Quantity   decimal.Decimal
	Price      *decimal.Decimal
	StopPrice  *decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

func positive(v *decimal.Decimal) bool {
	return v != nil && v.IsPositive()
}

// validate checks the order shape and returns the instrument and the price
// the order is expected to fill at.
func (s *Service) validate(o model.Order) (model.Instrument, decimal.Decimal, error) {
	inst, ok := s.market.Catalog().Get(o.Symbol)
	if !ok {
		return model.Instrument{}, decimal.Zero, fmt.Errorf("%w: %s", model.ErrUnknownSymbol, o.Symbol)
	}
	if !o.Side.Valid() {
		return inst, decimal.Zero, fmt.Errorf("%w: side must be buy or sell", model.ErrInvalidOrder)
	}
	if !o.Type.Valid() {
		return inst, decimal.Zero, fmt.Errorf("%w: unknown order type %q", model.ErrInvalidOrder, o.Type)
	}
	if !o.Quantity.IsPositive() {
		return inst, decimal.Zero, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidOrder)
	}
	var ref decimal.Decimal
	switch o.Type {
	case types.OrderTypeMarket:
		px, ok := s.market.Prices().Price(inst.Symbol)
		if !ok {
			return inst, decimal.Zero, fmt.Errorf("%w: %s", model.ErrNoPrice, inst.Symbol)
		}
		ref = px
	case types.OrderTypeLimit, types.OrderTypeStop:
		if !positive(o.Price) {
			return inst, decimal.Zero, fmt.Errorf("%w: %s order needs a positive price", model.ErrInvalidOrder, o.Type)
		}
		ref = *o.Price
	case types.OrderTypeStopLimit:
		if !positive(o.Price) || !positive(o.StopPrice) {
			return inst, decimal.Zero, fmt.Errorf("%w: stop_limit order needs positive price and stop_price", model.ErrInvalidOrder)
		}
		ref = *o.Price
	}
	if err := positions.ValidateProtection(o.Side, ref, o.StopLoss, o.TakeProfit); err != nil {
		return inst, decimal.Zero, err
	}
	return inst, ref, nil
}

func (s *Service) inputs(tx *accounts.Tx) risk.Inputs {
	st := tx.State()
	m, _ := s.book.Evaluate(st)
	return risk.Inputs{
		Account:       st.Account,
		Settings:      st.Settings,
		Metrics:       m,
		OpenPositions: len(st.Positions),
		DayRealized:   st.DayRealized,
		DayTrades:     st.DayTrades,
	}
}

// Submit validates and accepts an order. Market orders fill immediately at
// the live price; others stay pending for the matcher.
func (s *Service) Submit(ctx context.Context, accountID string, req PlaceOrderRequest) (model.Order, error) {
	o := model.Order{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Symbol:     marketdata.NormalizeSymbol(req.Symbol),
		Type:       req.Type,
		Side:       req.Side,
		Quantity:   req.Quantity,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     types.OrderStatusPending,
		Commission: decimal.Zero,
	}
	if req.Type != types.OrderTypeMarket {
		o.Price = req.Price
	}
	if req.Type == types.OrderTypeStopLimit {
		o.StopPrice = req.StopPrice
	}
	inst, ref, err := s.validate(o)
	if err != nil {
		metrics.OrderRejected("invalid")
		return model.Order{}, err
	}
	err = s.accounts.Do(ctx, accountID, func(tx *accounts.Tx) error {
		o.CreatedAt = tx.Now()
		cand := risk.Candidate{
			Symbol:   inst.Symbol,
			Side:     o.Side,
			Quantity: o.Quantity,
			Price:    ref,
			Margin:   risk.RequiredMargin(o.Quantity, ref, inst),
			StopLoss: o.StopLoss,
		}
		if err := risk.CheckLimits(s.gate, s.inputs(tx), cand); err != nil {
			return err
		}
		o = tx.PutOrder(o)
		tx.Emit("order_placed", o)
		if o.Type == types.OrderTypeMarket {
			filled, err := s.fillInTx(tx, o, ref)
			if err != nil {
				return err
			}
			o = filled
		}
		return nil
	})
	if err != nil {
		var le *model.LimitError
		if errors.As(err, &le) {
			metrics.OrderRejected(le.Limit)
		} else {
			metrics.OrderRejected("other")
		}
		s.log.Info("order rejected", zap.String("account_id", accountID), zap.String("symbol", o.Symbol), zap.Error(err))
		return model.Order{}, err
	}
	metrics.OrderPlaced(string(o.Type))
	s.log.Info("order placed",
		zap.String("account_id", accountID),
		zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("type", string(o.Type)),
		zap.String("side", string(o.Side)),
		zap.String("qty", o.Quantity.String()),
		zap.String("status", string(o.Status)),
	)
	return o, nil
}

// fillInTx opens the position and charges commission for a pending order.
func (s *Service) fillInTx(tx *accounts.Tx, o model.Order, price decimal.Decimal) (model.Order, error) {
	p, err := s.book.Open(tx, o, price)
	if err != nil {
		return o, err
	}
	fee := decimal.Zero
	if s.commission.IsPositive() {
		if inst, ok := s.market.Catalog().Get(o.Symbol); ok {
			fee = risk.Notional(o.Quantity, price, inst).Mul(s.commission).Round(2)
		}
	}
	if fee.IsPositive() {
		desc := fmt.Sprintf("Commission %s %s %s", o.Side, o.Quantity, o.Symbol)
		if _, err := ledger.Append(tx, types.LedgerEntryTypeFee, fee.Neg(), desc, o.ID); err != nil {
			return o, err
		}
	}
	px := price
	o.Status = types.OrderStatusFilled
	o.FillPrice = &px
	o.Commission = fee
	o.PositionID = p.ID
	o = tx.PutOrder(o)
	tx.CountTrade()
	tx.Emit("order_filled", o)
	return o, nil
}

// terminal resolves an order id that is not pending into the matching error.
func terminal(tx *accounts.Tx, orderID string) (model.Order, error) {
	o, err := tx.LookupOrder(orderID)
	if err != nil {
		return model.Order{}, fmt.Errorf("order %s: %w", orderID, model.ErrNotFound)
	}
	switch o.Status {
	case types.OrderStatusFilled:
		return o, fmt.Errorf("order %s: %w", orderID, model.ErrAlreadyFilled)
	case types.OrderStatusCancelled:
		return o, fmt.Errorf("order %s: %w", orderID, model.ErrAlreadyCancelled)
	}
	return o, fmt.Errorf("order %s: %w", orderID, model.ErrNotFound)
}

// Fill fills a pending order at price. When the fill breaks margin, funds or
// a risk limit the order is cancelled and the cause returned.
func (s *Service) Fill(ctx context.Context, accountID, orderID string, price decimal.Decimal) (model.Order, error) {
	return s.fillWith(ctx, accountID, orderID, func(tx *accounts.Tx, o model.Order) (model.Order, bool, error) {
		filled, err := s.fillAtChecked(tx, o, price)
		return filled, err == nil, err
	})
}

func (s *Service) fillAtChecked(tx *accounts.Tx, o model.Order, price decimal.Decimal) (model.Order, error) {
	inst, ok := s.market.Catalog().Get(o.Symbol)
	if !ok {
		return o, fmt.Errorf("%w: %s", model.ErrUnknownSymbol, o.Symbol)
	}
	cand := risk.Candidate{
		Symbol:   o.Symbol,
		Side:     o.Side,
		Quantity: o.Quantity,
		Price:    price,
		Margin:   risk.RequiredMargin(o.Quantity, price, inst),
	}
	// KYC, margin call and stop-loss rules were checked when the order was
	// accepted; the fill only re-checks capacity limits.
	in := s.inputs(tx)
	in.Settings.EnforceStopLoss = false
	in.Metrics.MarginLevel = nil
	if err := risk.CheckLimits(nil, in, cand); err != nil {
		return o, err
	}
	return s.fillInTx(tx, o, price)
}

type matchFunc func(tx *accounts.Tx, o model.Order) (model.Order, bool, error)

func (s *Service) fillWith(ctx context.Context, accountID, orderID string, fn matchFunc) (model.Order, error) {
	var out model.Order
	var filled bool
	err := s.accounts.Do(ctx, accountID, func(tx *accounts.Tx) error {
		o, ok := tx.PendingOrder(orderID)
		if !ok {
			_, err := terminal(tx, orderID)
			return err
		}
		res, done, err := fn(tx, o)
		if err != nil {
			return err
		}
		out, filled = res, done
		return nil
	})
	if err == nil {
		if filled {
			metrics.OrderFilled(string(out.Type))
			s.log.Info("order filled",
				zap.String("account_id", accountID),
				zap.String("order_id", orderID),
				zap.String("position_id", out.PositionID),
				zap.String("price", out.FillPrice.String()),
			)
		}
		return out, nil
	}
	reason := cancelReason(err)
	if reason == "" {
		return model.Order{}, err
	}
	cancelled, cerr := s.cancel(ctx, accountID, orderID, reason)
	if cerr != nil {
		s.log.Error("cancel after failed fill", zap.String("order_id", orderID), zap.Error(cerr))
		return model.Order{}, err
	}
	s.log.Warn("order cancelled on fill", zap.String("account_id", accountID), zap.String("order_id", orderID), zap.String("reason", reason))
	return cancelled, err
}

func cancelReason(err error) string {
	var le *model.LimitError
	switch {
	case errors.Is(err, model.ErrInsufficientMargin):
		return ReasonInsufficientMargin
	case errors.Is(err, model.ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.As(err, &le):
		return le.Limit
	}
	return ""
}

// Match evaluates a pending order against price under the account lock:
// stop_limit orders arm on their stop price, everything else fills when the
// trigger is crossed. It reports whether the order filled.
func (s *Service) Match(ctx context.Context, accountID, orderID string, price decimal.Decimal) (model.Order, bool, error) {
	o, err := s.fillWith(ctx, accountID, orderID, func(tx *accounts.Tx, o model.Order) (model.Order, bool, error) {
		if ShouldArm(o, price) {
			o.Triggered = true
			o = tx.PutOrder(o)
			tx.Emit("order_triggered", o)
			s.log.Info("stop limit armed", zap.String("order_id", o.ID), zap.String("price", price.String()))
		}
		if !ShouldFill(o, price) {
			return o, false, nil
		}
		res, err := s.fillAtChecked(tx, o, price)
		return res, err == nil, err
	})
	if err != nil && (errors.Is(err, model.ErrAlreadyFilled) || errors.Is(err, model.ErrAlreadyCancelled)) {
		return o, false, nil
	}
	return o, err == nil && o.Status == types.OrderStatusFilled, err
}

// ShouldArm reports whether an unarmed stop_limit order's stop price is hit.
func ShouldArm(o model.Order, price decimal.Decimal) bool {
	if o.Type != types.OrderTypeStopLimit || o.Triggered || o.StopPrice == nil {
		return false
	}
	if o.Side == types.OrderSideBuy {
		return price.GreaterThanOrEqual(*o.StopPrice)
	}
	return price.LessThanOrEqual(*o.StopPrice)
}

// ShouldFill reports whether a pending order fills at price.
func ShouldFill(o model.Order, price decimal.Decimal) bool {
	if !o.IsPending() || o.Price == nil {
		return false
	}
	limit := *o.Price
	buy := o.Side == types.OrderSideBuy
	switch o.Type {
	case types.OrderTypeLimit:
		return buy && price.LessThanOrEqual(limit) || !buy && price.GreaterThanOrEqual(limit)
	case types.OrderTypeStop:
		return buy && price.GreaterThanOrEqual(limit) || !buy && price.LessThanOrEqual(limit)
	case types.OrderTypeStopLimit:
		if !o.Triggered {
			return false
		}
		return buy && price.LessThanOrEqual(limit) || !buy && price.GreaterThanOrEqual(limit)
	}
	return false
}

// Cancel moves a pending order to cancelled. Cancelling a cancelled order
// returns it unchanged; a filled order returns ErrAlreadyFilled.
func (s *Service) Cancel(ctx context.Context, accountID, orderID string) (model.Order, error) {
	o, err := s.cancel(ctx, accountID, orderID, ReasonUser)
	if errors.Is(err, model.ErrAlreadyCancelled) {
		return o, nil
	}
	if err == nil {
		metrics.OrderCancelled(ReasonUser)
		s.log.Info("order cancelled", zap.String("account_id", accountID), zap.String("order_id", orderID))
	}
	return o, err
}

func (s *Service) cancel(ctx context.Context, accountID, orderID, reason string) (model.Order, error) {
	var out model.Order
	err := s.accounts.Do(ctx, accountID, func(tx *accounts.Tx) error {
		o, ok := tx.PendingOrder(orderID)
		if !ok {
			t, err := terminal(tx, orderID)
			out = t
			return err
		}
		o.Status = types.OrderStatusCancelled
		o.CancelReason = reason
		o = tx.PutOrder(o)
		tx.Emit("order_cancelled", o)
		out = o
		return nil
	})
	if err == nil && reason != ReasonUser {
		metrics.OrderCancelled(reason)
	}
	return out, err
}

type ModifyOrderRequest struct {
	Quantity   *decimal.Decimal
	Price      *decimal.Decimal
	StopPrice  *decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	ClearSL    bool
	ClearTP    bool
}

// Modify changes a pending order and re-validates it. Filled and cancelled
// orders are final.
func (s *Service) Modify(ctx context.Context, accountID, orderID string, req ModifyOrderRequest) (model.Order, error) {
	var out model.Order
	err := s.accounts.Do(ctx, accountID, func(tx *accounts.Tx) error {
		o, ok := tx.PendingOrder(orderID)
		if !ok {
			_, err := terminal(tx, orderID)
			return err
		}
		if o.Type == types.OrderTypeMarket {
			return fmt.Errorf("%w: market orders cannot be modified", model.ErrInvalidOrder)
		}
		if req.Quantity != nil {
			o.Quantity = *req.Quantity
		}
		if req.Price != nil {
			o.Price = req.Price
		}
		if req.StopPrice != nil && o.Type == types.OrderTypeStopLimit && !o.Triggered {
			o.StopPrice = req.StopPrice
		}
		if req.ClearSL {
			o.StopLoss = nil
		} else if req.StopLoss != nil {
			o.StopLoss = req.StopLoss
		}
		if req.ClearTP {
			o.TakeProfit = nil
		} else if req.TakeProfit != nil {
			o.TakeProfit = req.TakeProfit
		}
		_, ref, err := s.validate(o)
		if err != nil {
			return err
		}
		settings := tx.Settings()
		if o.Quantity.GreaterThan(settings.MaxPositionSize) {
			return &model.LimitError{Limit: "max_position_size", Detail: fmt.Sprintf("quantity %s above %s", o.Quantity, settings.MaxPositionSize)}
		}
		if err := risk.CheckStopLoss(settings, ref, o.StopLoss); err != nil {
			return err
		}
		o = tx.PutOrder(o)
		tx.Emit("order_modified", o)
		out = o
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}
	s.log.Info("order modified", zap.String("account_id", accountID), zap.String("order_id", orderID))
	return out, nil
}

// Pending lists the account's pending orders oldest first.
func (s *Service) Pending(accountID string) ([]model.Order, error) {
	st, err := s.accounts.Snapshot(accountID)
	if err != nil {
		return nil, err
	}
	return st.OrderList(), nil
}

func (s *Service) History(ctx context.Context, accountID string, before *time.Time, limit int) ([]model.Order, error) {
	if _, err := s.accounts.Get(accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.accounts.Store().OrderHistory(ctx, accountID, before, limit)
}

// Get finds an order of the account in any state.
func (s *Service) Get(ctx context.Context, accountID, orderID string) (model.Order, error) {
	st, err := s.accounts.Snapshot(accountID)
	if err != nil {
		return model.Order{}, err
	}
	if o, ok := st.Orders[orderID]; ok {
		return o, nil
	}
	o, err := s.accounts.Store().Order(ctx, accountID, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if o.AccountID != accountID {
		return model.Order{}, model.ErrNotFound
	}
	return o, nil
}
