package model

import "fmt"

// DecodeError records a decode failure for a single log. It never fails the
// batch it came from.
type DecodeError struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Reason      string `json:"reason"`
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode log %s:%d (topic0 %s): %s", e.TxHash, e.LogIndex, e.Topic0, e.Reason)
}
