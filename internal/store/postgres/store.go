package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dexwatch/internal/model"
	"dexwatch/internal/store"
)

// Store provides Postgres persistence for events, pairs, and checkpoints.
// Event writes use insert-or-ignore on the identity key so overlapping block
// ranges and concurrent backfills are no-ops instead of duplicates.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertEventBatch stores a batch in one transaction and returns the number
// of newly inserted rows. Duplicates by (chain_id, tx_hash, log_index) are
// silently skipped.
func (s *Store) InsertEventBatch(ctx context.Context, events []model.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, event := range events {
		payload, err := marshalPayload(event)
		if err != nil {
			return 0, err
		}
		batch.Queue(`
			INSERT INTO events (
				chain_id, tx_hash, log_index, kind, pair_address, sender, block_number, ts, payload
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
		`,
			int64(event.ChainID),
			event.TxHash,
			int64(event.LogIndex),
			string(event.Kind),
			event.PairAddress,
			event.Sender,
			int64(event.BlockNumber),
			int64(event.Timestamp),
			payload,
		)
	}

	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for range events {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, err
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) InsertPairIfAbsent(ctx context.Context, pair model.TradingPair) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO trading_pairs (
			chain_id, address, token0, token1,
			token0_symbol, token1_symbol, token0_name, token1_name,
			token0_decimals, token1_decimals,
			created_block, created_tx_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (chain_id, address) DO NOTHING
	`,
		int64(pair.ChainID),
		pair.Address,
		pair.Token0,
		pair.Token1,
		pair.Token0Symbol,
		pair.Token1Symbol,
		pair.Token0Name,
		pair.Token1Name,
		pair.Token0Decimals,
		pair.Token1Decimals,
		int64(pair.CreatedBlock),
		pair.CreatedTxHash,
		int64(pair.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetPair(ctx context.Context, chainID uint64, address string) (*model.TradingPair, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT chain_id, address, token0, token1,
			token0_symbol, token1_symbol, token0_name, token1_name,
			token0_decimals, token1_decimals,
			created_block, created_tx_hash, created_at
		FROM trading_pairs
		WHERE chain_id = $1 AND lower(address) = lower($2)
	`, int64(chainID), address)

	pair, err := scanPair(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &pair, nil
}

func (s *Store) ListPairs(ctx context.Context, chainID uint64, limit, offset int) ([]model.TradingPair, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, address, token0, token1,
			token0_symbol, token1_symbol, token0_name, token1_name,
			token0_decimals, token1_decimals,
			created_block, created_tx_hash, created_at
		FROM trading_pairs
		WHERE chain_id = $1
		ORDER BY created_block, address
		LIMIT $2 OFFSET $3
	`, int64(chainID), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pairs := make([]model.TradingPair, 0, limit)
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

func (s *Store) PairAddresses(ctx context.Context, chainID uint64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address FROM trading_pairs WHERE chain_id = $1 ORDER BY address
	`, int64(chainID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	addresses := make([]string, 0, 256)
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, err
		}
		addresses = append(addresses, address)
	}
	return addresses, rows.Err()
}

func (s *Store) ListEvents(ctx context.Context, filter store.EventFilter) ([]model.Event, error) {
	query := `
		SELECT chain_id, tx_hash, log_index, kind, pair_address, sender, block_number, ts, payload
		FROM events
		WHERE chain_id = $1`
	args := []interface{}{int64(filter.ChainID)}

	if filter.PairAddress != "" {
		args = append(args, filter.PairAddress)
		query += ` AND lower(pair_address) = lower($` + strconv.Itoa(len(args)) + `)`
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND kind = $` + strconv.Itoa(len(args))
	}
	if filter.FromTime != 0 {
		args = append(args, int64(filter.FromTime))
		query += ` AND ts >= $` + strconv.Itoa(len(args))
	}
	if filter.ToTime != 0 {
		args = append(args, int64(filter.ToTime))
		query += ` AND ts <= $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY block_number, log_index`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	return s.queryEvents(ctx, query, args...)
}

func (s *Store) ListEventsBySender(ctx context.Context, sender string, limit, offset int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryEvents(ctx, `
		SELECT chain_id, tx_hash, log_index, kind, pair_address, sender, block_number, ts, payload
		FROM events
		WHERE lower(sender) = lower($1)
		ORDER BY block_number DESC, log_index DESC
		LIMIT $2 OFFSET $3
	`, sender, limit, offset)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...interface{}) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.Event, 0, 128)
	for rows.Next() {
		var (
			event    model.Event
			chainID  int64
			logIndex int64
			block    int64
			ts       int64
			kind     string
			payload  []byte
		)
		if err := rows.Scan(&chainID, &event.TxHash, &logIndex, &kind, &event.PairAddress, &event.Sender, &block, &ts, &payload); err != nil {
			return nil, err
		}
		event.ChainID = uint64(chainID)
		event.LogIndex = uint64(logIndex)
		event.BlockNumber = uint64(block)
		event.Timestamp = uint64(ts)
		event.Kind = model.EventKind(kind)
		if err := unmarshalPayload(&event, payload); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) Init(ctx context.Context, chainID uint64, category model.EventCategory, startBlock uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (chain_id, category, last_block, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (chain_id, category) DO NOTHING
	`, int64(chainID), string(category), int64(startBlock))
	return err
}

func (s *Store) Get(ctx context.Context, chainID uint64, category model.EventCategory) (model.Checkpoint, bool, error) {
	cp := model.Checkpoint{ChainID: chainID, Category: category}
	var lastBlock int64
	row := s.pool.QueryRow(ctx, `
		SELECT last_block, updated_at FROM checkpoints WHERE chain_id = $1 AND category = $2
	`, int64(chainID), string(category))
	if err := row.Scan(&lastBlock, &cp.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, err
	}
	cp.LastBlock = uint64(lastBlock)
	return cp, true, nil
}

// Advance replaces the checkpoint, refusing to move it backwards. The guard
// lives in the UPDATE predicate so concurrent writers cannot race past it.
func (s *Store) Advance(ctx context.Context, chainID uint64, category model.EventCategory, newBlock uint64) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (chain_id, category, last_block, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (chain_id, category) DO UPDATE
		SET last_block = EXCLUDED.last_block, updated_at = now()
		WHERE checkpoints.last_block <= EXCLUDED.last_block
	`, int64(chainID), string(category), int64(newBlock))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCheckpointRegression
	}
	return nil
}

func (s *Store) Rollback(ctx context.Context, chainID uint64, category model.EventCategory, block uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (chain_id, category, last_block, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (chain_id, category) DO UPDATE
		SET last_block = EXCLUDED.last_block, updated_at = now()
	`, int64(chainID), string(category), int64(block))
	return err
}

func marshalPayload(event model.Event) ([]byte, error) {
	var payload interface{}
	switch event.Kind {
	case model.KindPairCreated:
		payload = event.PairCreated
	case model.KindSwap:
		payload = event.Swap
	case model.KindMint:
		payload = event.Mint
	case model.KindBurn:
		payload = event.Burn
	default:
		return nil, fmt.Errorf("unknown event kind: %s", event.Kind)
	}
	if payload == nil {
		return nil, fmt.Errorf("event %s has no %s payload", event.Key(), event.Kind)
	}
	return json.Marshal(payload)
}

func unmarshalPayload(event *model.Event, payload []byte) error {
	switch event.Kind {
	case model.KindPairCreated:
		event.PairCreated = &model.PairCreatedData{}
		return json.Unmarshal(payload, event.PairCreated)
	case model.KindSwap:
		event.Swap = &model.SwapData{}
		return json.Unmarshal(payload, event.Swap)
	case model.KindMint:
		event.Mint = &model.MintData{}
		return json.Unmarshal(payload, event.Mint)
	case model.KindBurn:
		event.Burn = &model.BurnData{}
		return json.Unmarshal(payload, event.Burn)
	default:
		return fmt.Errorf("unknown event kind: %s", event.Kind)
	}
}

func scanPair(row pgx.Row) (model.TradingPair, error) {
	var (
		pair    model.TradingPair
		chainID int64
		block   int64
		created int64
	)
	err := row.Scan(
		&chainID,
		&pair.Address,
		&pair.Token0,
		&pair.Token1,
		&pair.Token0Symbol,
		&pair.Token1Symbol,
		&pair.Token0Name,
		&pair.Token1Name,
		&pair.Token0Decimals,
		&pair.Token1Decimals,
		&block,
		&pair.CreatedTxHash,
		&created,
	)
	if err != nil {
		return model.TradingPair{}, err
	}
	pair.ChainID = uint64(chainID)
	pair.CreatedBlock = uint64(block)
	pair.CreatedAt = uint64(created)
	return pair, nil
}
