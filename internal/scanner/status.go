package scanner

import (
	"time"

	"dexwatch/internal/model"
)

// State is the scanner's position in its processing loop.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateDecoding
	StatePersisting
	StateCheckpointing
	StateBackingOff
	// StateStalled is reportable but non-terminal: retries continue at the
	// backoff ceiling.
	StateStalled
	// StateFailed is terminal for this scanner only; other scanners keep
	// running. Recovery requires operator intervention.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDecoding:
		return "decoding"
	case StatePersisting:
		return "persisting"
	case StateCheckpointing:
		return "checkpointing"
	case StateBackingOff:
		return "backing_off"
	case StateStalled:
		return "stalled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of one scanner, the per-(chain,
// category) health signal.
type Status struct {
	ChainID   uint64              `json:"chain_id"`
	Category  model.EventCategory `json:"category"`
	State     State               `json:"-"`
	StateName string              `json:"state"`
	LastBlock uint64              `json:"last_block"`
	Retries   int                 `json:"retries"`
	LastError string              `json:"last_error,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}
