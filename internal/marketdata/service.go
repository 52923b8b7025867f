package marketdata

import (
	"context"
	"time"

	"lv-paperdesk/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Mirror copies the price book to a shared cache so other processes and
// restarts see the latest marks.
type Mirror interface {
	SetPrices(ctx context.Context, prices map[string]decimal.Decimal, at time.Time) error
	GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// PriceSink takes a price batch and returns the accepted symbols. The
// position book implements it to re-mark open positions on every batch.
type PriceSink interface {
	UpdatePrices(ctx context.Context, prices map[string]decimal.Decimal) []string
}

type PriceSinkFunc func(ctx context.Context, prices map[string]decimal.Decimal) []string

func (f PriceSinkFunc) UpdatePrices(ctx context.Context, prices map[string]decimal.Decimal) []string {
	return f(ctx, prices)
}

type PricesUpdate struct {
	Prices map[string]string `json:"prices"`
	TS     int64             `json:"ts"`
}

type Service struct {
	catalog *Catalog
	prices  *PriceBook
	bus     *Bus
	mirror  Mirror
	log     *zap.Logger
	now     func() time.Time
}

func NewService(catalog *Catalog, prices *PriceBook, bus *Bus, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		catalog: catalog,
		prices:  prices,
		bus:     bus,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetMirror(m Mirror) {
	s.mirror = m
}

func (s *Service) Catalog() *Catalog { return s.catalog }

func (s *Service) Prices() *PriceBook { return s.prices }

func (s *Service) Bus() *Bus { return s.bus }

// Update stores a batch of prices and announces it on the bus. Unknown
// symbols and non-positive prices are skipped. It returns the accepted
// symbols.
func (s *Service) Update(ctx context.Context, prices map[string]decimal.Decimal) []string {
	at := s.now()
	accepted := make(map[string]decimal.Decimal, len(prices))
	payload := PricesUpdate{Prices: make(map[string]string, len(prices)), TS: at.UnixMilli()}
	for sym, px := range prices {
		inst, ok := s.catalog.Get(sym)
		if !ok {
			continue
		}
		if !s.prices.Set(inst.Symbol, px, at) {
			continue
		}
		accepted[inst.Symbol] = px
		payload.Prices[inst.Symbol] = px.StringFixed(inst.PricePrecision)
	}
	if len(accepted) == 0 {
		return nil
	}
	metrics.PriceUpdates(len(accepted))
	if s.mirror != nil {
		if err := s.mirror.SetPrices(ctx, accepted, at); err != nil {
			s.log.Warn("price mirror write failed", zap.Error(err))
		}
	}
	s.bus.Publish(Event{Type: EventPrices, Data: payload})
	out := make([]string, 0, len(accepted))
	for sym := range accepted {
		out = append(out, sym)
	}
	return out
}

// Warm seeds the price book from the mirror, falling back to catalog seeds.
func (s *Service) Warm(ctx context.Context) {
	at := s.now()
	symbols := s.catalog.Symbols()
	cached := map[string]decimal.Decimal{}
	if s.mirror != nil {
		got, err := s.mirror.GetPrices(ctx, symbols)
		if err != nil {
			s.log.Warn("price mirror read failed", zap.Error(err))
		} else {
			cached = got
		}
	}
	for _, sym := range symbols {
		if px, ok := cached[sym]; ok {
			s.prices.Set(sym, px, at)
			continue
		}
		if px, ok := s.catalog.Seed(sym); ok {
			s.prices.Set(sym, px, at)
		}
	}
	s.log.Info("price book warmed", zap.Int("symbols", len(symbols)), zap.Int("from_cache", len(cached)))
}
