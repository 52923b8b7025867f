package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"lv-paperdesk/internal/marketdata"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PriceCache keeps the last price of each symbol in a hash at
// "paperdesk:price:{symbol}" with fields "price" and "ts" (unix nanos).
type PriceCache struct {
	rdb *redis.Client
}

func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.rdb}
}

func priceKey(symbol string) string {
	return "paperdesk:price:" + symbol
}

func (pc *PriceCache) SetPrices(ctx context.Context, prices map[string]decimal.Decimal, at time.Time) error {
	if len(prices) == 0 {
		return nil
	}
	ts := strconv.FormatInt(at.UnixNano(), 10)
	pipe := pc.rdb.Pipeline()
	for sym, px := range prices {
		pipe.HSet(ctx, priceKey(sym), map[string]any{"price": px.String(), "ts": ts})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set prices: %w", err)
	}
	return nil
}

// GetPrices returns cached prices; symbols without an entry are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGet(ctx, priceKey(sym), "price")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices: %w", err)
	}
	for sym, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		px, err := decimal.NewFromString(raw)
		if err != nil || !px.IsPositive() {
			continue
		}
		out[sym] = px
	}
	return out, nil
}

var _ marketdata.Mirror = (*PriceCache)(nil)
