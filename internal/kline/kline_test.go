package kline

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"dexwatch/internal/model"
	"dexwatch/internal/store"
)

func decimals(n int32) *int32 {
	return &n
}

func testPair() model.TradingPair {
	return model.TradingPair{
		ChainID:        56,
		Address:        "0x1111111111111111111111111111111111111111",
		Token0:         "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Token1:         "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Token0Decimals: decimals(0),
		Token1Decimals: decimals(0),
	}
}

// swapEvent builds a base-sell swap: amount0 of token0 in, amount1 of token1
// out, so price = amount1 / amount0.
func swapEvent(block, logIndex, ts uint64, amount0In, amount1Out int64) model.Event {
	return model.Event{
		ChainID:     56,
		Kind:        model.KindSwap,
		PairAddress: "0x1111111111111111111111111111111111111111",
		BlockNumber: block,
		TxHash:      fmt.Sprintf("0xswap%d", block),
		LogIndex:    logIndex,
		Timestamp:   ts,
		Swap: &model.SwapData{
			Amount0In:  decimal.NewFromInt(amount0In),
			Amount1Out: decimal.NewFromInt(amount1Out),
		},
	}
}

func TestComputeBuckets(t *testing.T) {
	// Trades at 00:00:05 (price 10), 00:00:40 (price 12), 00:01:10 (price 9)
	// with a 1m interval land in two buckets.
	swaps := []model.Event{
		swapEvent(1, 0, 5, 1, 10),
		swapEvent(2, 0, 40, 1, 12),
		swapEvent(3, 0, 70, 1, 9),
	}

	candles := Compute(testPair(), swaps, model.Interval1m)
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}

	first := candles[0]
	if first.BucketStart != 0 {
		t.Fatalf("first bucket start: %d", first.BucketStart)
	}
	if first.Open.String() != "10" || first.High.String() != "12" || first.Low.String() != "10" || first.Close.String() != "12" {
		t.Fatalf("first candle mismatch: %+v", first)
	}
	if first.TradeCount != 2 {
		t.Fatalf("first candle trades: %d", first.TradeCount)
	}

	second := candles[1]
	if second.BucketStart != 60 {
		t.Fatalf("second bucket start: %d", second.BucketStart)
	}
	if second.Open.String() != "9" || second.High.String() != "9" || second.Low.String() != "9" || second.Close.String() != "9" {
		t.Fatalf("second candle mismatch: %+v", second)
	}
	if second.TradeCount != 1 {
		t.Fatalf("second candle trades: %d", second.TradeCount)
	}
}

func TestComputeVolumes(t *testing.T) {
	swaps := []model.Event{
		swapEvent(1, 0, 10, 2, 20),
		swapEvent(1, 1, 20, 3, 36),
	}

	candles := Compute(testPair(), swaps, model.Interval1m)
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if candles[0].VolumeBase.String() != "5" {
		t.Fatalf("base volume: %s", candles[0].VolumeBase)
	}
	if candles[0].VolumeQuote.String() != "56" {
		t.Fatalf("quote volume: %s", candles[0].VolumeQuote)
	}
}

func TestComputeDecimalAdjustment(t *testing.T) {
	pair := testPair()
	pair.Token0Decimals = decimals(18)
	pair.Token1Decimals = decimals(6)

	// 1 token0 (18 decimals) sold for 3000 token1 (6 decimals).
	raw0, _ := decimal.NewFromString("1000000000000000000")
	raw1, _ := decimal.NewFromString("3000000000")
	swaps := []model.Event{
		{
			ChainID:     56,
			Kind:        model.KindSwap,
			PairAddress: pair.Address,
			BlockNumber: 1,
			Timestamp:   30,
			TxHash:      "0xadj",
			Swap: &model.SwapData{
				Amount0In:  raw0,
				Amount1Out: raw1,
			},
		},
	}

	candles := Compute(pair, swaps, model.Interval1m)
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if candles[0].Open.String() != "3000" {
		t.Fatalf("adjusted price: %s", candles[0].Open)
	}
	if candles[0].VolumeBase.String() != "1" || candles[0].VolumeQuote.String() != "3000" {
		t.Fatalf("adjusted volumes: %+v", candles[0])
	}
}

func TestComputeBuyDirection(t *testing.T) {
	// Buying base: token1 in, token0 out. Price is still quote per base.
	swaps := []model.Event{
		{
			ChainID:     56,
			Kind:        model.KindSwap,
			PairAddress: testPair().Address,
			BlockNumber: 1,
			Timestamp:   10,
			TxHash:      "0xbuy",
			Swap: &model.SwapData{
				Amount1In:  decimal.NewFromInt(30),
				Amount0Out: decimal.NewFromInt(2),
			},
		},
	}

	candles := Compute(testPair(), swaps, model.Interval1m)
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if candles[0].Open.String() != "15" {
		t.Fatalf("price: %s", candles[0].Open)
	}
	if candles[0].VolumeBase.String() != "2" || candles[0].VolumeQuote.String() != "30" {
		t.Fatalf("volumes: %+v", candles[0])
	}
}

func TestComputeExcludesDegenerateSwaps(t *testing.T) {
	swaps := []model.Event{
		// Both in-amounts zero.
		{
			ChainID: 56, Kind: model.KindSwap, PairAddress: testPair().Address,
			BlockNumber: 1, Timestamp: 10, TxHash: "0xz1",
			Swap: &model.SwapData{Amount0Out: decimal.NewFromInt(5)},
		},
		// In and out on the same side only.
		{
			ChainID: 56, Kind: model.KindSwap, PairAddress: testPair().Address,
			BlockNumber: 2, Timestamp: 20, TxHash: "0xz2",
			Swap: &model.SwapData{Amount0In: decimal.NewFromInt(5), Amount0Out: decimal.NewFromInt(5)},
		},
		swapEvent(3, 0, 30, 1, 10),
	}

	candles := Compute(testPair(), swaps, model.Interval1m)
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if candles[0].TradeCount != 1 {
		t.Fatalf("degenerate swaps were counted: %+v", candles[0])
	}
}

func TestAggregatorLimit(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()

	pair := testPair()
	if _, err := mem.InsertPairIfAbsent(ctx, pair); err != nil {
		t.Fatalf("insert pair: %v", err)
	}
	swaps := []model.Event{
		swapEvent(1, 0, 5, 1, 10),
		swapEvent(2, 0, 70, 1, 11),
		swapEvent(3, 0, 130, 1, 12),
	}
	if _, err := mem.InsertEventBatch(ctx, swaps); err != nil {
		t.Fatalf("insert events: %v", err)
	}

	agg := NewAggregator(mem, nil, nil)
	candles, err := agg.Candles(ctx, pair.ChainID, pair.Address, model.Interval1m, Range{Limit: 2})
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].BucketStart != 60 || candles[1].BucketStart != 120 {
		t.Fatalf("limit kept wrong buckets: %d, %d", candles[0].BucketStart, candles[1].BucketStart)
	}
}

func TestAggregatorUnknownPair(t *testing.T) {
	agg := NewAggregator(store.NewMemoryStore(), nil, nil)
	if _, err := agg.Candles(context.Background(), 56, "0xdeadbeef00000000000000000000000000000000", model.Interval1m, Range{}); err == nil {
		t.Fatalf("expected error for unknown pair")
	}
}

func TestAggregatorRejectsBadInterval(t *testing.T) {
	agg := NewAggregator(store.NewMemoryStore(), nil, nil)
	if _, err := agg.Candles(context.Background(), 56, "0x1", model.Interval("7m"), Range{}); err == nil {
		t.Fatalf("expected error for unsupported interval")
	}
}
