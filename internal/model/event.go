package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// EventKind identifies the decoded event type.
type EventKind string

const (
	KindPairCreated EventKind = "pair_created"
	KindSwap        EventKind = "swap"
	KindMint        EventKind = "mint"
	KindBurn        EventKind = "burn"
)

// EventCategory partitions checkpoint progress. Factory events are discovered
// independently of pair events: a pair must exist before its logs are scanned.
type EventCategory string

const (
	CategoryFactory EventCategory = "factory"
	CategorySwap    EventCategory = "swap"
)

func ParseCategory(s string) (EventCategory, error) {
	switch EventCategory(s) {
	case CategoryFactory:
		return CategoryFactory, nil
	case CategorySwap:
		return CategorySwap, nil
	default:
		return "", fmt.Errorf("unknown event category: %s", s)
	}
}

// Event is a decoded on-chain event. Exactly one of the payload pointers is
// set, matching Kind. Identity is (ChainID, TxHash, LogIndex); events are
// immutable once stored.
type Event struct {
	ChainID     uint64    `json:"chain_id"`
	Kind        EventKind `json:"kind"`
	PairAddress string    `json:"pair_address"`
	Sender      string    `json:"sender"`
	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint64    `json:"log_index"`
	Timestamp   uint64    `json:"timestamp"`

	PairCreated *PairCreatedData `json:"pair_created,omitempty"`
	Swap        *SwapData        `json:"swap,omitempty"`
	Mint        *MintData        `json:"mint,omitempty"`
	Burn        *BurnData        `json:"burn,omitempty"`
}

// Key returns the identity key used for deduplication.
func (e Event) Key() string {
	return fmt.Sprintf("%d:%s:%d", e.ChainID, e.TxHash, e.LogIndex)
}

// PairCreatedData is the decoded PairCreated payload. PairAddress on the
// enclosing Event holds the new pair; the event itself is emitted by the
// factory.
type PairCreatedData struct {
	Token0    string `json:"token0"`
	Token1    string `json:"token1"`
	PairIndex uint64 `json:"pair_index"`
}

// SwapData is the decoded Swap payload. Amounts are raw token units.
type SwapData struct {
	To         string          `json:"to"`
	Amount0In  decimal.Decimal `json:"amount0_in"`
	Amount1In  decimal.Decimal `json:"amount1_in"`
	Amount0Out decimal.Decimal `json:"amount0_out"`
	Amount1Out decimal.Decimal `json:"amount1_out"`
}

// MintData is the decoded Mint payload.
type MintData struct {
	Amount0 decimal.Decimal `json:"amount0"`
	Amount1 decimal.Decimal `json:"amount1"`
}

// BurnData is the decoded Burn payload.
type BurnData struct {
	To      string          `json:"to"`
	Amount0 decimal.Decimal `json:"amount0"`
	Amount1 decimal.Decimal `json:"amount1"`
}
