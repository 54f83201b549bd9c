package postgres

import "context"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS trading_pairs (
		chain_id        BIGINT NOT NULL,
		address         TEXT   NOT NULL,
		token0          TEXT   NOT NULL,
		token1          TEXT   NOT NULL,
		token0_symbol   TEXT,
		token1_symbol   TEXT,
		token0_name     TEXT,
		token1_name     TEXT,
		token0_decimals INT,
		token1_decimals INT,
		created_block   BIGINT NOT NULL,
		created_tx_hash TEXT   NOT NULL,
		created_at      BIGINT NOT NULL,
		inserted_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (chain_id, address)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		chain_id     BIGINT NOT NULL,
		tx_hash      TEXT   NOT NULL,
		log_index    BIGINT NOT NULL,
		kind         TEXT   NOT NULL,
		pair_address TEXT   NOT NULL,
		sender       TEXT   NOT NULL,
		block_number BIGINT NOT NULL,
		ts           BIGINT NOT NULL,
		payload      JSONB  NOT NULL,
		inserted_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (chain_id, tx_hash, log_index)
	)`,
	`CREATE INDEX IF NOT EXISTS events_pair_idx
		ON events (chain_id, pair_address, kind, ts)`,
	`CREATE INDEX IF NOT EXISTS events_sender_idx
		ON events (sender, block_number)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		chain_id   BIGINT NOT NULL,
		category   TEXT   NOT NULL,
		last_block BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (chain_id, category)
	)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
