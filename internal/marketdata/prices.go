package marketdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

// PriceBook holds the last price per symbol. Writes are last-write-wins.
type PriceBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewPriceBook() *PriceBook {
	return &PriceBook{quotes: make(map[string]Quote)}
}

func (p *PriceBook) Set(symbol string, price decimal.Decimal, at time.Time) bool {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" || !price.IsPositive() {
		return false
	}
	p.mu.Lock()
	p.quotes[symbol] = Quote{Symbol: symbol, Price: price, At: at}
	p.mu.Unlock()
	return true
}

func (p *PriceBook) Price(symbol string) (decimal.Decimal, bool) {
	p.mu.RLock()
	q, ok := p.quotes[NormalizeSymbol(symbol)]
	p.mu.RUnlock()
	if !ok {
		return decimal.Zero, false
	}
	return q.Price, true
}

func (p *PriceBook) Quote(symbol string) (Quote, bool) {
	p.mu.RLock()
	q, ok := p.quotes[NormalizeSymbol(symbol)]
	p.mu.RUnlock()
	return q, ok
}

func (p *PriceBook) Snapshot() map[string]decimal.Decimal {
	p.mu.RLock()
	out := make(map[string]decimal.Decimal, len(p.quotes))
	for k, q := range p.quotes {
		out[k] = q.Price
	}
	p.mu.RUnlock()
	return out
}
