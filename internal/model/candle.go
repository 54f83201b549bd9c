package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Interval is a fixed kline bucket width.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

var intervalSeconds = map[Interval]uint64{
	Interval1m:  60,
	Interval5m:  300,
	Interval15m: 900,
	Interval30m: 1800,
	Interval1h:  3600,
	Interval4h:  14400,
	Interval1d:  86400,
}

// ParseInterval validates an interval string.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalSeconds[iv]; !ok {
		return "", fmt.Errorf("unsupported interval: %s", s)
	}
	return iv, nil
}

// Seconds returns the bucket width in seconds.
func (i Interval) Seconds() uint64 {
	return intervalSeconds[i]
}

// Candle is a derived OHLCV bucket. Prices are quote per base with token0 as
// base and token1 as quote for every pair. Candles are recomputable from raw
// swap events at any time.
type Candle struct {
	ChainID     uint64          `json:"chain_id"`
	PairAddress string          `json:"pair_address"`
	Interval    Interval        `json:"interval"`
	BucketStart uint64          `json:"bucket_start"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	VolumeBase  decimal.Decimal `json:"volume_base"`
	VolumeQuote decimal.Decimal `json:"volume_quote"`
	TradeCount  int64           `json:"trade_count"`
}
