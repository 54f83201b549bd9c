package kline

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dexwatch/internal/model"
	"dexwatch/internal/store"
)

// Range bounds a candle query by time window and/or bucket count. A zero
// ToTime means "now"; a positive Limit keeps only the most recent buckets.
type Range struct {
	FromTime uint64
	ToTime   uint64
	Limit    int
}

// Aggregator computes OHLCV candles on demand from stored swap events. The
// raw events are the single source of truth; the optional cache only
// memoizes results and candles stay recomputable at any time.
type Aggregator struct {
	events store.EventStore
	cache  *Cache
	logger *zap.Logger
}

func NewAggregator(events store.EventStore, cache *Cache, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{events: events, cache: cache, logger: logger}
}

// Candles returns the non-empty buckets for a pair in ascending bucket order.
// Gap filling is left to the caller.
func (a *Aggregator) Candles(ctx context.Context, chainID uint64, pairAddress string, interval model.Interval, r Range) ([]model.Candle, error) {
	if _, err := model.ParseInterval(string(interval)); err != nil {
		return nil, err
	}

	if a.cache != nil {
		if candles, ok := a.cache.Get(ctx, chainID, pairAddress, interval, r); ok {
			return candles, nil
		}
	}

	pair, err := a.events.GetPair(ctx, chainID, pairAddress)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, fmt.Errorf("unknown pair %s on chain %d", pairAddress, chainID)
	}

	swaps, err := a.events.ListEvents(ctx, store.EventFilter{
		ChainID:     chainID,
		PairAddress: pairAddress,
		Kind:        model.KindSwap,
		FromTime:    r.FromTime,
		ToTime:      r.ToTime,
	})
	if err != nil {
		return nil, err
	}

	candles := Compute(*pair, swaps, interval)
	if r.Limit > 0 && len(candles) > r.Limit {
		candles = candles[len(candles)-r.Limit:]
	}

	if a.cache != nil {
		a.cache.Put(ctx, chainID, pairAddress, interval, r, candles)
	}
	return candles, nil
}

// Compute aggregates swap events into candles. Events must be in ascending
// (block_number, log_index) order, which fixes open and close within each
// bucket. Degenerate swaps are excluded, so the price division can never hit
// a zero denominator.
func Compute(pair model.TradingPair, swaps []model.Event, interval model.Interval) []model.Candle {
	seconds := interval.Seconds()
	if seconds == 0 {
		return nil
	}

	byBucket := make(map[uint64]*model.Candle)
	order := make([]uint64, 0)

	for _, event := range swaps {
		if event.Kind != model.KindSwap || event.Swap == nil {
			continue
		}
		trade, ok := tradeOf(pair, *event.Swap)
		if !ok {
			continue
		}

		bucket := event.Timestamp / seconds * seconds
		candle, exists := byBucket[bucket]
		if !exists {
			candle = &model.Candle{
				ChainID:     pair.ChainID,
				PairAddress: pair.Address,
				Interval:    interval,
				BucketStart: bucket,
				Open:        trade.price,
				High:        trade.price,
				Low:         trade.price,
			}
			byBucket[bucket] = candle
			order = append(order, bucket)
		}

		if trade.price.GreaterThan(candle.High) {
			candle.High = trade.price
		}
		if trade.price.LessThan(candle.Low) {
			candle.Low = trade.price
		}
		candle.Close = trade.price
		candle.VolumeBase = candle.VolumeBase.Add(trade.baseVolume)
		candle.VolumeQuote = candle.VolumeQuote.Add(trade.quoteVolume)
		candle.TradeCount++
	}

	sortBuckets(order)
	candles := make([]model.Candle, 0, len(order))
	for _, bucket := range order {
		candles = append(candles, *byBucket[bucket])
	}
	return candles
}

// trade is one valid swap expressed in the fixed pair convention: token0 is
// base, token1 is quote, price is quote per base.
type trade struct {
	price       decimal.Decimal
	baseVolume  decimal.Decimal
	quoteVolume decimal.Decimal
}

// tradeOf derives the trade from raw swap amounts, adjusting by token
// decimals. Swaps with zero on either side of the traded direction are
// invalid and excluded.
func tradeOf(pair model.TradingPair, swap model.SwapData) (trade, bool) {
	d0, d1 := pair.DecimalsOrDefault()

	switch {
	case swap.Amount0In.IsPositive() && swap.Amount1Out.IsPositive():
		// Selling base: token0 in, token1 out.
		base := swap.Amount0In.Shift(-d0)
		quote := swap.Amount1Out.Shift(-d1)
		return trade{price: quote.Div(base), baseVolume: base, quoteVolume: quote}, true

	case swap.Amount1In.IsPositive() && swap.Amount0Out.IsPositive():
		// Buying base: token1 in, token0 out.
		base := swap.Amount0Out.Shift(-d0)
		quote := swap.Amount1In.Shift(-d1)
		return trade{price: quote.Div(base), baseVolume: base, quoteVolume: quote}, true

	default:
		return trade{}, false
	}
}

func sortBuckets(buckets []uint64) {
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })
}
