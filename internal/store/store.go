package store

import (
	"context"
	"errors"

	"dexwatch/internal/model"
)

// ErrCheckpointRegression is returned when Advance is called with a block
// below the current checkpoint. Only operator rollback may move a checkpoint
// backwards.
var ErrCheckpointRegression = errors.New("checkpoint regression")

// EventFilter narrows event reads. Zero values mean "no constraint" except
// ChainID and PairAddress, which are required for pair-scoped listing.
type EventFilter struct {
	ChainID     uint64
	PairAddress string
	Kind        model.EventKind
	FromTime    uint64
	ToTime      uint64
	Limit       int
	Offset      int
}

// EventStore is durable, deduplicated, append-only event storage. All writers
// go through insert-or-ignore semantics; events are immutable facts.
type EventStore interface {
	// InsertEventBatch stores a batch atomically and returns how many rows
	// were actually inserted. Duplicates by (chain, tx_hash, log_index) are
	// skipped silently.
	InsertEventBatch(ctx context.Context, events []model.Event) (int, error)

	// InsertPairIfAbsent stores a trading pair keyed by (chain, address),
	// reporting whether a row was created.
	InsertPairIfAbsent(ctx context.Context, pair model.TradingPair) (bool, error)

	GetPair(ctx context.Context, chainID uint64, address string) (*model.TradingPair, error)
	ListPairs(ctx context.Context, chainID uint64, limit, offset int) ([]model.TradingPair, error)

	// PairAddresses returns every known pair address for a chain, for the
	// swap scanner's address filter.
	PairAddresses(ctx context.Context, chainID uint64) ([]string, error)

	// ListEvents returns events matching the filter in ascending
	// (block_number, log_index) order.
	ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error)

	// ListEventsBySender returns events sent by one address across chains,
	// newest first.
	ListEventsBySender(ctx context.Context, sender string, limit, offset int) ([]model.Event, error)
}

// CheckpointStore tracks scan progress per (chain, category). Safe for
// concurrent use across distinct (chain, category) pairs; the scanner
// serializes calls for one pair.
type CheckpointStore interface {
	// Init creates the checkpoint row with startBlock if it does not exist.
	Init(ctx context.Context, chainID uint64, category model.EventCategory, startBlock uint64) error

	Get(ctx context.Context, chainID uint64, category model.EventCategory) (model.Checkpoint, bool, error)

	// Advance atomically replaces the checkpoint. Fails with
	// ErrCheckpointRegression when newBlock is below the stored value.
	Advance(ctx context.Context, chainID uint64, category model.EventCategory, newBlock uint64) error

	// Rollback is the operator escape hatch for deep reorgs: it sets the
	// checkpoint unconditionally. Re-scanning is safe because event writes
	// are idempotent.
	Rollback(ctx context.Context, chainID uint64, category model.EventCategory, block uint64) error
}
