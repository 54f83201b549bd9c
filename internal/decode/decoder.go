package decode

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"dexwatch/internal/model"
)

// Decoder maps raw EVM logs to domain events. Decoding is pure: it never
// touches the network and malformed input yields a *model.DecodeError, never
// a panic.
type Decoder struct {
	factoryABI  abi.ABI
	pairABI     abi.ABI
	topicToName map[common.Hash]string
}

// NewDecoder builds a decoder for the factory and pair event signatures.
func NewDecoder() (*Decoder, error) {
	factory, err := FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	pair, err := PairABI()
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}

	return &Decoder{
		factoryABI: factory,
		pairABI:    pair,
		topicToName: map[common.Hash]string{
			factory.Events["PairCreated"].ID: "PairCreated",
			pair.Events["Swap"].ID:           "Swap",
			pair.Events["Mint"].ID:           "Mint",
			pair.Events["Burn"].ID:           "Burn",
		},
	}, nil
}

// FactoryTopics returns the topic0 filter for factory scanning.
func (d *Decoder) FactoryTopics() []common.Hash {
	return []common.Hash{d.factoryABI.Events["PairCreated"].ID}
}

// PairTopics returns the topic0 filter for pair scanning.
func (d *Decoder) PairTopics() []common.Hash {
	return []common.Hash{
		d.pairABI.Events["Swap"].ID,
		d.pairABI.Events["Mint"].ID,
		d.pairABI.Events["Burn"].ID,
	}
}

// CanDecode checks whether topic0 is a supported signature.
func (d *Decoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.topicToName[topic0]
	return ok
}

// Decode converts a raw log into a domain event. The block timestamp is
// supplied by the caller since logs do not carry it.
func (d *Decoder) Decode(chainID uint64, log types.Log, timestamp uint64) (*model.Event, error) {
	if len(log.Topics) == 0 {
		return nil, d.failure(chainID, log, "missing topics")
	}
	name, ok := d.topicToName[log.Topics[0]]
	if !ok {
		return nil, d.failure(chainID, log, "unknown signature")
	}

	event := model.Event{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Timestamp:   timestamp,
	}

	var err error
	switch name {
	case "PairCreated":
		err = d.decodePairCreated(log, &event)
	case "Swap":
		err = d.decodeSwap(log, &event)
	case "Mint":
		err = d.decodeMint(log, &event)
	case "Burn":
		err = d.decodeBurn(log, &event)
	}
	if err != nil {
		return nil, d.failure(chainID, log, err.Error())
	}
	return &event, nil
}

func (d *Decoder) decodePairCreated(log types.Log, event *model.Event) error {
	abiEvent := d.factoryABI.Events["PairCreated"]
	topics, err := indexedTopics(abiEvent, log.Topics)
	if err != nil {
		return err
	}

	var indexed struct {
		Token0 common.Address
		Token1 common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(abiEvent.Inputs), topics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(abiEvent, log.Data)
	if err != nil {
		return err
	}
	if len(values) != 2 {
		return fmt.Errorf("unexpected PairCreated values: %d", len(values))
	}
	pair, err := asAddress(values[0])
	if err != nil {
		return err
	}
	pairIndex, err := asBigInt(values[1])
	if err != nil {
		return err
	}
	if !pairIndex.IsUint64() {
		return fmt.Errorf("pair index out of range: %s", pairIndex)
	}

	event.Kind = model.KindPairCreated
	event.PairAddress = pair.Hex()
	event.Sender = log.Address.Hex()
	event.PairCreated = &model.PairCreatedData{
		Token0:    indexed.Token0.Hex(),
		Token1:    indexed.Token1.Hex(),
		PairIndex: pairIndex.Uint64(),
	}
	return nil
}

func (d *Decoder) decodeSwap(log types.Log, event *model.Event) error {
	abiEvent := d.pairABI.Events["Swap"]
	topics, err := indexedTopics(abiEvent, log.Topics)
	if err != nil {
		return err
	}

	var indexed struct {
		Sender common.Address
		To     common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(abiEvent.Inputs), topics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(abiEvent, log.Data)
	if err != nil {
		return err
	}
	if len(values) != 4 {
		return fmt.Errorf("unexpected Swap values: %d", len(values))
	}
	amounts, err := asDecimals(values)
	if err != nil {
		return err
	}

	event.Kind = model.KindSwap
	event.PairAddress = log.Address.Hex()
	event.Sender = indexed.Sender.Hex()
	event.Swap = &model.SwapData{
		To:         indexed.To.Hex(),
		Amount0In:  amounts[0],
		Amount1In:  amounts[1],
		Amount0Out: amounts[2],
		Amount1Out: amounts[3],
	}
	return nil
}

func (d *Decoder) decodeMint(log types.Log, event *model.Event) error {
	abiEvent := d.pairABI.Events["Mint"]
	topics, err := indexedTopics(abiEvent, log.Topics)
	if err != nil {
		return err
	}

	var indexed struct {
		Sender common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(abiEvent.Inputs), topics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(abiEvent, log.Data)
	if err != nil {
		return err
	}
	if len(values) != 2 {
		return fmt.Errorf("unexpected Mint values: %d", len(values))
	}
	amounts, err := asDecimals(values)
	if err != nil {
		return err
	}

	event.Kind = model.KindMint
	event.PairAddress = log.Address.Hex()
	event.Sender = indexed.Sender.Hex()
	event.Mint = &model.MintData{
		Amount0: amounts[0],
		Amount1: amounts[1],
	}
	return nil
}

func (d *Decoder) decodeBurn(log types.Log, event *model.Event) error {
	abiEvent := d.pairABI.Events["Burn"]
	topics, err := indexedTopics(abiEvent, log.Topics)
	if err != nil {
		return err
	}

	var indexed struct {
		Sender common.Address
		To     common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(abiEvent.Inputs), topics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(abiEvent, log.Data)
	if err != nil {
		return err
	}
	if len(values) != 2 {
		return fmt.Errorf("unexpected Burn values: %d", len(values))
	}
	amounts, err := asDecimals(values)
	if err != nil {
		return err
	}

	event.Kind = model.KindBurn
	event.PairAddress = log.Address.Hex()
	event.Sender = indexed.Sender.Hex()
	event.Burn = &model.BurnData{
		To:      indexed.To.Hex(),
		Amount0: amounts[0],
		Amount1: amounts[1],
	}
	return nil
}

func (d *Decoder) failure(chainID uint64, log types.Log, reason string) *model.DecodeError {
	topic0 := ""
	if len(log.Topics) > 0 {
		topic0 = log.Topics[0].Hex()
	}
	return &model.DecodeError{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topic0:      topic0,
		Reason:      reason,
	}
}

func indexedTopics(event abi.Event, topics []common.Hash) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return topics[1:], nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, data []byte) ([]interface{}, error) {
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}

func asAddress(value interface{}) (common.Address, error) {
	addr, ok := value.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("expected address, got %T", value)
	}
	return addr, nil
}

func asBigInt(value interface{}) (*big.Int, error) {
	n, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected big.Int, got %T", value)
	}
	return n, nil
}

func asDecimals(values []interface{}) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(values))
	for _, value := range values {
		n, err := asBigInt(value)
		if err != nil {
			return nil, err
		}
		if n.Sign() < 0 {
			return nil, fmt.Errorf("negative amount: %s", n)
		}
		out = append(out, decimal.NewFromBigInt(n, 0))
	}
	return out, nil
}
