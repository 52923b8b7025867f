package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lv-paperdesk/internal/positions"
	"lv-paperdesk/internal/risk"

	"github.com/redis/go-redis/v9"
)

const DefaultMetricsTTL = time.Second

// MetricsCache stores JSON encoded account metrics with a short TTL.
type MetricsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewMetricsCache(c *Client, ttl time.Duration) *MetricsCache {
	if ttl <= 0 {
		ttl = DefaultMetricsTTL
	}
	return &MetricsCache{rdb: c.rdb, ttl: ttl}
}

func metricsKey(accountID string) string {
	return "paperdesk:metrics:" + accountID
}

func (mc *MetricsCache) GetMetrics(ctx context.Context, accountID string) (risk.Metrics, bool, error) {
	raw, err := mc.rdb.Get(ctx, metricsKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return risk.Metrics{}, false, nil
	}
	if err != nil {
		return risk.Metrics{}, false, fmt.Errorf("redis: get metrics %s: %w", accountID, err)
	}
	var m risk.Metrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return risk.Metrics{}, false, fmt.Errorf("redis: decode metrics %s: %w", accountID, err)
	}
	return m, true, nil
}

func (mc *MetricsCache) SetMetrics(ctx context.Context, accountID string, m risk.Metrics) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := mc.rdb.Set(ctx, metricsKey(accountID), raw, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set metrics %s: %w", accountID, err)
	}
	return nil
}

var _ positions.MetricsCache = (*MetricsCache)(nil)
