package model

import "time"

// Checkpoint marks the last fully processed block for one (chain, category)
// scanner. LastBlock is inclusive and only moves forward in normal operation.
type Checkpoint struct {
	ChainID   uint64        `json:"chain_id"`
	Category  EventCategory `json:"category"`
	LastBlock uint64        `json:"last_block"`
	UpdatedAt time.Time     `json:"updated_at"`
}
