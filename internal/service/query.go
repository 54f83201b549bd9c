package service

import (
	"context"

	"go.uber.org/zap"

	"dexwatch/internal/hub"
	"dexwatch/internal/kline"
	"dexwatch/internal/model"
	"dexwatch/internal/scanner"
	"dexwatch/internal/store"
)

// Query is the facade a transport layer talks to: event store reads, candle
// aggregation, live subscriptions, and scanner health. It carries no routing
// or serialization of its own.
type Query struct {
	events     store.EventStore
	candles    *kline.Aggregator
	hub        *hub.Hub
	supervisor *scanner.Supervisor
	logger     *zap.Logger
}

func NewQuery(events store.EventStore, candles *kline.Aggregator, h *hub.Hub, sv *scanner.Supervisor, logger *zap.Logger) *Query {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Query{
		events:     events,
		candles:    candles,
		hub:        h,
		supervisor: sv,
		logger:     logger,
	}
}

// Pairs lists trading pairs on a chain, paginated.
func (q *Query) Pairs(ctx context.Context, chainID uint64, limit, offset int) ([]model.TradingPair, error) {
	return q.events.ListPairs(ctx, chainID, limit, offset)
}

// Trades lists swap events for a pair inside a time range.
func (q *Query) Trades(ctx context.Context, chainID uint64, pairAddress string, fromTime, toTime uint64, limit, offset int) ([]model.Event, error) {
	return q.events.ListEvents(ctx, store.EventFilter{
		ChainID:     chainID,
		PairAddress: pairAddress,
		Kind:        model.KindSwap,
		FromTime:    fromTime,
		ToTime:      toTime,
		Limit:       limit,
		Offset:      offset,
	})
}

// Liquidity lists mint or burn events for a pair inside a time range.
func (q *Query) Liquidity(ctx context.Context, chainID uint64, pairAddress string, kind model.EventKind, fromTime, toTime uint64, limit, offset int) ([]model.Event, error) {
	return q.events.ListEvents(ctx, store.EventFilter{
		ChainID:     chainID,
		PairAddress: pairAddress,
		Kind:        kind,
		FromTime:    fromTime,
		ToTime:      toTime,
		Limit:       limit,
		Offset:      offset,
	})
}

// SenderHistory lists events sent by one address across chains, newest
// first.
func (q *Query) SenderHistory(ctx context.Context, sender string, limit, offset int) ([]model.Event, error) {
	return q.events.ListEventsBySender(ctx, sender, limit, offset)
}

// Candles returns OHLCV buckets for a pair.
func (q *Query) Candles(ctx context.Context, chainID uint64, pairAddress string, interval model.Interval, r kline.Range) ([]model.Candle, error) {
	return q.candles.Candles(ctx, chainID, pairAddress, interval, r)
}

// Subscribe attaches a live event subscriber.
func (q *Query) Subscribe(queueSize int) *hub.Subscription {
	return q.hub.Subscribe(queueSize)
}

// Unsubscribe detaches a subscriber and closes its stream.
func (q *Query) Unsubscribe(sub *hub.Subscription) {
	q.hub.Unsubscribe(sub)
}

// Health snapshots every scanner's status.
func (q *Query) Health() []scanner.Status {
	if q.supervisor == nil {
		return nil
	}
	return q.supervisor.Status()
}
