package kline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dexwatch/internal/model"
)

// Cache memoizes candle responses in redis with a short TTL. It is purely an
// optimization: every miss or redis failure falls through to recomputation
// from the raw events.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func cacheKey(chainID uint64, pairAddress string, interval model.Interval, r Range) string {
	return fmt.Sprintf("kline:%d:%s:%s:%d:%d:%d", chainID, pairAddress, interval, r.FromTime, r.ToTime, r.Limit)
}

func (c *Cache) Get(ctx context.Context, chainID uint64, pairAddress string, interval model.Interval, r Range) ([]model.Candle, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, cacheKey(chainID, pairAddress, interval, r)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("candle cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var candles []model.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		c.logger.Warn("candle cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return candles, true
}

func (c *Cache) Put(ctx context.Context, chainID uint64, pairAddress string, interval model.Interval, r Range, candles []model.Candle) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(candles)
	if err != nil {
		c.logger.Warn("candle cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKey(chainID, pairAddress, interval, r), data, c.ttl).Err(); err != nil {
		c.logger.Warn("candle cache write failed", zap.Error(err))
	}
}
