// Package postgres implements accounts.Store on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) LoadAccounts(ctx context.Context, dayStart time.Time) ([]accounts.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		select p.id, p.name, p.balance, p.margin_used, p.kyc_status, p.account_status, p.created_at, p.updated_at,
		       r.margin_call_level, r.stop_out_level, r.max_position_size, r.max_total_exposure, r.max_positions,
		       r.daily_loss_limit, r.daily_trade_limit, r.enforce_stop_loss, r.min_stop_loss_distance,
		       p.ledger_seq,
		       coalesce((select hash from ledger l where l.account_id = p.id order by sequence desc limit 1), ''),
		       coalesce((select sum(amount) from ledger l where l.account_id = p.id and l.transaction_type = 'realized_pnl' and l.created_at >= $1), 0),
		       (select count(*) from orders o where o.account_id = p.id and o.status = 'filled' and o.updated_at >= $1)
		from profiles p
		join risk_settings r on r.account_id = p.id
		order by p.id`, dayStart)
	if err != nil {
		return nil, fmt.Errorf("postgres: load accounts: %w", err)
	}
	var snaps []accounts.Snapshot
	index := map[string]int{}
	for rows.Next() {
		var snap accounts.Snapshot
		a := &snap.Account
		st := &snap.Settings
		var kyc, status string
		if err := rows.Scan(&a.ID, &a.Name, &a.Balance, &a.MarginUsed, &kyc, &status, &a.CreatedAt, &a.UpdatedAt,
			&st.MarginCallLevel, &st.StopOutLevel, &st.MaxPositionSize, &st.MaxTotalExposure, &st.MaxPositions,
			&st.DailyLossLimit, &st.DailyTradeLimit, &st.EnforceStopLoss, &st.MinStopLossDistance,
			&snap.Sequence, &snap.LastHash, &snap.DayRealized, &snap.DayTrades); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		a.KYCStatus = types.KYCStatus(kyc)
		a.Status = types.AccountStatus(status)
		index[a.ID] = len(snaps)
		snaps = append(snaps, snap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	posRows, err := s.pool.Query(ctx, `select `+positionCols+` from positions order by opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	positions, err := scanPositions(posRows)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if i, ok := index[p.AccountID]; ok {
			snaps[i].Positions = append(snaps[i].Positions, p)
		}
	}

	orderRows, err := s.pool.Query(ctx, `select `+orderCols+` from orders where status = 'pending' order by created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load orders: %w", err)
	}
	orders, err := scanOrders(orderRows)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if i, ok := index[o.AccountID]; ok {
			snaps[i].Orders = append(snaps[i].Orders, o)
		}
	}
	return snaps, nil
}

// Commit writes one account mutation in a serializable transaction. The
// profile row carries the last ledger sequence; a mismatch with
// PrevSequence means another writer got there first.
func (s *Store) Commit(ctx context.Context, c accounts.Commit) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	a := c.Account
	newSeq := c.PrevSequence + int64(len(c.Entries))
	if c.Created {
		_, err := tx.Exec(ctx, `
			insert into profiles (id, name, balance, margin_used, kyc_status, account_status, ledger_seq, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.ID, a.Name, a.Balance, a.MarginUsed, string(a.KYCStatus), string(a.Status), newSeq, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return model.ErrAccountExists
			}
			return fmt.Errorf("postgres: insert profile: %w", err)
		}
	} else {
		tag, err := tx.Exec(ctx, `
			update profiles set name = $2, balance = $3, margin_used = $4, kyc_status = $5, account_status = $6,
			       ledger_seq = $7, updated_at = $8
			where id = $1 and ledger_seq = $9`,
			a.ID, a.Name, a.Balance, a.MarginUsed, string(a.KYCStatus), string(a.Status), newSeq, a.UpdatedAt, c.PrevSequence)
		if err != nil {
			return fmt.Errorf("postgres: update profile: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `select exists(select 1 from profiles where id = $1)`, a.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("account %s: %w", a.ID, model.ErrNotFound)
			}
			return fmt.Errorf("account %s: %w", a.ID, model.ErrConflict)
		}
	}

	if st := c.Settings; st != nil {
		_, err := tx.Exec(ctx, `
			insert into risk_settings (account_id, margin_call_level, stop_out_level, max_position_size, max_total_exposure,
			       max_positions, daily_loss_limit, daily_trade_limit, enforce_stop_loss, min_stop_loss_distance, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			on conflict (account_id) do update set
			       margin_call_level = excluded.margin_call_level, stop_out_level = excluded.stop_out_level,
			       max_position_size = excluded.max_position_size, max_total_exposure = excluded.max_total_exposure,
			       max_positions = excluded.max_positions, daily_loss_limit = excluded.daily_loss_limit,
			       daily_trade_limit = excluded.daily_trade_limit, enforce_stop_loss = excluded.enforce_stop_loss,
			       min_stop_loss_distance = excluded.min_stop_loss_distance, updated_at = now()`,
			a.ID, st.MarginCallLevel, st.StopOutLevel, st.MaxPositionSize, st.MaxTotalExposure,
			st.MaxPositions, st.DailyLossLimit, st.DailyTradeLimit, st.EnforceStopLoss, st.MinStopLossDistance)
		if err != nil {
			return fmt.Errorf("postgres: upsert risk settings: %w", err)
		}
	}

	batch := &pgx.Batch{}
	for _, e := range c.Entries {
		batch.Queue(`
			insert into ledger (id, account_id, sequence, transaction_type, amount, balance_before, balance_after,
			       description, reference, prev_hash, hash, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			e.ID, e.AccountID, e.Sequence, string(e.Type), e.Amount, e.BalanceBefore, e.BalanceAfter,
			e.Description, e.Reference, e.PrevHash, e.Hash, e.CreatedAt)
	}
	for _, p := range c.Opened {
		batch.Queue(`
			insert into positions (id, account_id, order_id, symbol, side, quantity, entry_price, margin_used,
			       stop_loss, take_profit, opened_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			p.ID, p.AccountID, p.OrderID, p.Symbol, string(p.Side), p.Quantity, p.EntryPrice, p.MarginUsed,
			p.StopLoss, p.TakeProfit, p.OpenedAt)
	}
	for _, p := range c.Updated {
		batch.Queue(`update positions set stop_loss = $2, take_profit = $3 where id = $1`, p.ID, p.StopLoss, p.TakeProfit)
	}
	for _, cp := range c.Closed {
		batch.Queue(`delete from positions where id = $1`, cp.ID)
		batch.Queue(`
			insert into closed_positions (id, account_id, symbol, side, quantity, entry_price, exit_price,
			       realized_pnl, margin_used, reason, opened_at, closed_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			cp.ID, cp.AccountID, cp.Symbol, string(cp.Side), cp.Quantity, cp.EntryPrice, cp.ExitPrice,
			cp.RealizedPnL, cp.MarginUsed, string(cp.Reason), cp.OpenedAt, cp.ClosedAt)
	}
	for _, o := range c.Orders {
		batch.Queue(`
			insert into orders (id, account_id, symbol, order_type, side, quantity, price, stop_price, stop_loss,
			       take_profit, status, triggered, fill_price, commission, position_id, cancel_reason, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			on conflict (id) do update set
			       quantity = excluded.quantity, price = excluded.price, stop_price = excluded.stop_price,
			       stop_loss = excluded.stop_loss, take_profit = excluded.take_profit, status = excluded.status,
			       triggered = excluded.triggered, fill_price = excluded.fill_price, commission = excluded.commission,
			       position_id = excluded.position_id, cancel_reason = excluded.cancel_reason,
			       updated_at = excluded.updated_at`,
			o.ID, o.AccountID, o.Symbol, string(o.Type), string(o.Side), o.Quantity, o.Price, o.StopPrice, o.StopLoss,
			o.TakeProfit, string(o.Status), o.Triggered, o.FillPrice, o.Commission, o.PositionID, o.CancelReason,
			o.CreatedAt, o.UpdatedAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("account %s: %w", a.ID, model.ErrConflict)
			}
			return fmt.Errorf("postgres: write account %s: %w", a.ID, err)
		}
	}
	return tx.Commit(ctx)
}

const positionCols = `id, account_id, order_id, symbol, side, quantity, entry_price, margin_used, stop_loss, take_profit, opened_at`

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		var p model.Position
		var side string
		if err := rows.Scan(&p.ID, &p.AccountID, &p.OrderID, &p.Symbol, &side, &p.Quantity, &p.EntryPrice,
			&p.MarginUsed, &p.StopLoss, &p.TakeProfit, &p.OpenedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Side = types.OrderSide(side)
		out = append(out, p)
	}
	return out, rows.Err()
}

const orderCols = `id, account_id, symbol, order_type, side, quantity, price, stop_price, stop_loss, take_profit,
	status, triggered, fill_price, commission, position_id, cancel_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	var typ, side, status string
	err := row.Scan(&o.ID, &o.AccountID, &o.Symbol, &typ, &side, &o.Quantity, &o.Price, &o.StopPrice, &o.StopLoss,
		&o.TakeProfit, &status, &o.Triggered, &o.FillPrice, &o.Commission, &o.PositionID, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}
	o.Type = types.OrderType(typ)
	o.Side = types.OrderSide(side)
	o.Status = types.OrderStatus(status)
	return o, nil
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) Order(ctx context.Context, accountID, orderID string) (model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `select `+orderCols+` from orders where id = $1 and account_id = $2`, orderID, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, fmt.Errorf("order %s: %w", orderID, model.ErrNotFound)
	}
	return o, err
}

const closedCols = `id, account_id, symbol, side, quantity, entry_price, exit_price, realized_pnl, margin_used, reason, opened_at, closed_at`

func scanClosed(row pgx.Row) (model.ClosedPosition, error) {
	var cp model.ClosedPosition
	var side, reason string
	err := row.Scan(&cp.ID, &cp.AccountID, &cp.Symbol, &side, &cp.Quantity, &cp.EntryPrice, &cp.ExitPrice,
		&cp.RealizedPnL, &cp.MarginUsed, &reason, &cp.OpenedAt, &cp.ClosedAt)
	if err != nil {
		return model.ClosedPosition{}, err
	}
	cp.Side = types.OrderSide(side)
	cp.Reason = types.CloseReason(reason)
	return cp, nil
}

func (s *Store) ClosedPosition(ctx context.Context, accountID, positionID string) (model.ClosedPosition, error) {
	cp, err := scanClosed(s.pool.QueryRow(ctx, `select `+closedCols+` from closed_positions where id = $1 and account_id = $2`, positionID, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ClosedPosition{}, fmt.Errorf("position %s: %w", positionID, model.ErrNotFound)
	}
	return cp, err
}

const ledgerCols = `id, account_id, sequence, transaction_type, amount, balance_before, balance_after, description,
	reference, prev_hash, hash, created_at`

func scanLedger(rows pgx.Rows) ([]model.LedgerEntry, error) {
	defer rows.Close()
	out := []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Sequence, &typ, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
			&e.Description, &e.Reference, &e.PrevHash, &e.Hash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger: %w", err)
		}
		e.Type = types.LedgerEntryType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LedgerEntries(ctx context.Context, accountID string, beforeSeq int64, limit int) ([]model.LedgerEntry, error) {
	if beforeSeq <= 0 {
		beforeSeq = 1<<63 - 1
	}
	rows, err := s.pool.Query(ctx, `select `+ledgerCols+` from ledger where account_id = $1 and sequence < $2
		order by sequence desc limit $3`, accountID, beforeSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: ledger entries: %w", err)
	}
	return scanLedger(rows)
}

func (s *Store) LedgerChain(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `select `+ledgerCols+` from ledger where account_id = $1 order by sequence`, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: ledger chain: %w", err)
	}
	return scanLedger(rows)
}

func (s *Store) ClosedPositions(ctx context.Context, accountID string, before *time.Time, limit int) ([]model.ClosedPosition, error) {
	rows, err := s.pool.Query(ctx, `select `+closedCols+` from closed_positions
		where account_id = $1 and ($2::timestamptz is null or closed_at < $2)
		order by closed_at desc, id desc limit $3`, accountID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: closed positions: %w", err)
	}
	defer rows.Close()
	out := []model.ClosedPosition{}
	for rows.Next() {
		cp, err := scanClosed(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan closed position: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *Store) OrderHistory(ctx context.Context, accountID string, before *time.Time, limit int) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, `select `+orderCols+` from orders
		where account_id = $1 and status <> 'pending' and ($2::timestamptz is null or updated_at < $2)
		order by updated_at desc, id desc limit $3`, accountID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: order history: %w", err)
	}
	out, err := scanOrders(rows)
	if out == nil {
		out = []model.Order{}
	}
	return out, err
}

var _ accounts.Store = (*Store)(nil)
