package marketdata

import (
	"sort"
	"strings"

	"lv-paperdesk/internal/model"
	"lv-paperdesk/internal/types"

	"github.com/shopspring/decimal"
)

// classSpec is the contract size and leverage every instrument of an asset
// class trades with. Margin = quantity * contract size * price / leverage.
type classSpec struct {
	contractSize int64
	leverage     int64
}

var classSpecs = map[types.AssetClass]classSpec{
	types.AssetClassForex:  {contractSize: 10000, leverage: 10},
	types.AssetClassMetal:  {contractSize: 100, leverage: 20},
	types.AssetClassIndex:  {contractSize: 1, leverage: 20},
	types.AssetClassCrypto: {contractSize: 1, leverage: 2},
	types.AssetClassStock:  {contractSize: 1, leverage: 5},
}

type listing struct {
	symbol    string
	class     types.AssetClass
	precision int32
	seed      string
}

var defaultListings = []listing{
	{"EURUSD", types.AssetClassForex, 5, "1.10000"},
	{"GBPUSD", types.AssetClassForex, 5, "1.27000"},
	{"AUDUSD", types.AssetClassForex, 5, "0.66000"},
	{"NZDUSD", types.AssetClassForex, 5, "0.61000"},
	{"XAUUSD", types.AssetClassMetal, 2, "2350.00"},
	{"XAGUSD", types.AssetClassMetal, 3, "29.500"},
	{"US500", types.AssetClassIndex, 1, "5200.0"},
	{"NAS100", types.AssetClassIndex, 1, "18200.0"},
	{"BTCUSD", types.AssetClassCrypto, 2, "65000.00"},
	{"ETHUSD", types.AssetClassCrypto, 2, "3200.00"},
	{"AAPL", types.AssetClassStock, 2, "190.00"},
	{"TSLA", types.AssetClassStock, 2, "180.00"},
}

type Catalog struct {
	items map[string]model.Instrument
	seeds map[string]decimal.Decimal
}

func NewCatalog() *Catalog {
	c := &Catalog{
		items: make(map[string]model.Instrument, len(defaultListings)),
		seeds: make(map[string]decimal.Decimal, len(defaultListings)),
	}
	for _, l := range defaultListings {
		c.Add(l.symbol, l.class, l.precision)
		c.seeds[l.symbol] = decimal.RequireFromString(l.seed)
	}
	return c
}

// Add registers an instrument using its asset class contract terms.
func (c *Catalog) Add(symbol string, class types.AssetClass, precision int32) {
	spec, ok := classSpecs[class]
	if !ok {
		spec = classSpecs[types.AssetClassStock]
	}
	symbol = NormalizeSymbol(symbol)
	c.items[symbol] = model.Instrument{
		Symbol:         symbol,
		Class:          class,
		ContractSize:   decimal.NewFromInt(spec.contractSize),
		Leverage:       decimal.NewFromInt(spec.leverage),
		PricePrecision: precision,
	}
}

func (c *Catalog) Get(symbol string) (model.Instrument, bool) {
	inst, ok := c.items[NormalizeSymbol(symbol)]
	return inst, ok
}

func (c *Catalog) List() []model.Instrument {
	out := make([]model.Instrument, 0, len(c.items))
	for _, inst := range c.items {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (c *Catalog) Symbols() []string {
	list := c.List()
	out := make([]string, len(list))
	for i, inst := range list {
		out[i] = inst.Symbol
	}
	return out
}

// Seed is the starting price the simulated feed walks from.
func (c *Catalog) Seed(symbol string) (decimal.Decimal, bool) {
	p, ok := c.seeds[NormalizeSymbol(symbol)]
	return p, ok
}

func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "-", "")
}
