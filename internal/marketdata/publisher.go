package marketdata

import (
	"context"
	"math"
	"math/rand"
	"time"

	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// per-tick standard deviation of the relative move, by asset class
var classVolatility = map[types.AssetClass]float64{
	types.AssetClassForex:  0.00008,
	types.AssetClassMetal:  0.0003,
	types.AssetClassIndex:  0.0002,
	types.AssetClassCrypto: 0.0008,
	types.AssetClassStock:  0.0004,
}

// SimFeed random-walks every catalog instrument from its last price and
// pushes the batch into its sink on each tick.
type SimFeed struct {
	svc      *Service
	sink     PriceSink
	interval time.Duration
	rng      *rand.Rand
	log      *zap.Logger
}

func NewSimFeed(svc *Service, sink PriceSink, interval time.Duration, seed int64) *SimFeed {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if sink == nil {
		sink = PriceSinkFunc(svc.Update)
	}
	return &SimFeed{
		svc:      svc,
		sink:     sink,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		log:      svc.log.Named("simfeed"),
	}
}

func (f *SimFeed) Run(ctx context.Context) error {
	f.log.Info("simulated feed started", zap.Duration("interval", f.interval))
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.sink.UpdatePrices(ctx, f.Step())
		}
	}
}

// Step computes the next price for every instrument without publishing.
func (f *SimFeed) Step() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, inst := range f.svc.catalog.List() {
		last, ok := f.svc.prices.Price(inst.Symbol)
		if !ok {
			last, ok = f.svc.catalog.Seed(inst.Symbol)
			if !ok {
				continue
			}
		}
		vol := classVolatility[inst.Class]
		if vol == 0 {
			vol = 0.0002
		}
		lastF, _ := last.Float64()
		next := lastF * math.Exp(f.rng.NormFloat64()*vol)
		if next <= 0 || math.IsNaN(next) || math.IsInf(next, 0) {
			continue
		}
		out[inst.Symbol] = decimal.NewFromFloat(next).Round(inst.PricePrecision)
	}
	return out
}
