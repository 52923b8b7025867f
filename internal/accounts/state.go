package accounts

import (
	"sort"
	"time"

	"lv-paperdesk/internal/model"

	"github.com/shopspring/decimal"
)

// State is the authoritative in-memory view of one account. Only pending
// orders and open positions are held; terminal rows live in the Store.
type State struct {
	Account     model.Account
	Settings    model.RiskSettings
	Positions   map[string]model.Position
	Orders      map[string]model.Order
	Sequence    int64
	LastHash    string
	Day         string
	DayRealized decimal.Decimal
	DayTrades   int
}

func newState(snap Snapshot, day string) *State {
	st := &State{
		Account:     snap.Account,
		Settings:    snap.Settings,
		Positions:   make(map[string]model.Position, len(snap.Positions)),
		Orders:      make(map[string]model.Order, len(snap.Orders)),
		Sequence:    snap.Sequence,
		LastHash:    snap.LastHash,
		Day:         day,
		DayRealized: snap.DayRealized,
		DayTrades:   snap.DayTrades,
	}
	for _, p := range snap.Positions {
		st.Positions[p.ID] = p
	}
	for _, o := range snap.Orders {
		if o.IsPending() {
			st.Orders[o.ID] = o
		}
	}
	return st
}

func (s *State) clone() *State {
	out := *s
	out.Positions = make(map[string]model.Position, len(s.Positions))
	for k, v := range s.Positions {
		out.Positions[k] = v
	}
	out.Orders = make(map[string]model.Order, len(s.Orders))
	for k, v := range s.Orders {
		out.Orders[k] = v
	}
	return &out
}

// PositionList returns open positions oldest first.
func (s *State) PositionList() []model.Position {
	out := make([]model.Position, 0, len(s.Positions))
	for _, p := range s.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// OrderList returns pending orders oldest first.
func (s *State) OrderList() []model.Order {
	out := make([]model.Order, 0, len(s.Orders))
	for _, o := range s.Orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
