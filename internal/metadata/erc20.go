package metadata

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dexwatch/internal/model"
)

const erc20ABIJSON = `[
  {"constant": true, "inputs": [], "name": "symbol", "outputs": [{"name": "", "type": "string"}], "type": "function"},
  {"constant": true, "inputs": [], "name": "name", "outputs": [{"name": "", "type": "string"}], "type": "function"},
  {"constant": true, "inputs": [], "name": "decimals", "outputs": [{"name": "", "type": "uint8"}], "type": "function"}
]`

// ContractCaller is the eth_call surface the enricher needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenMeta is best-effort ERC20 metadata. Any field may be nil when the
// token contract does not answer.
type TokenMeta struct {
	Symbol   *string
	Name     *string
	Decimals *int32
}

// Enricher fills token metadata on newly discovered pairs. Lookups are
// cached for the process lifetime; failures are logged and leave fields nil.
type Enricher struct {
	caller ContractCaller
	abi    abi.ABI
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[common.Address]TokenMeta
}

func NewEnricher(caller ContractCaller, logger *zap.Logger) (*Enricher, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		caller: caller,
		abi:    parsed,
		logger: logger,
		cache:  make(map[common.Address]TokenMeta),
	}, nil
}

// Enrich fills symbol/name/decimals for both tokens of the pair.
func (e *Enricher) Enrich(ctx context.Context, pair *model.TradingPair) {
	if e == nil || e.caller == nil || pair == nil {
		return
	}

	meta0 := e.tokenMeta(ctx, pair.Token0)
	pair.Token0Symbol = meta0.Symbol
	pair.Token0Name = meta0.Name
	pair.Token0Decimals = meta0.Decimals

	meta1 := e.tokenMeta(ctx, pair.Token1)
	pair.Token1Symbol = meta1.Symbol
	pair.Token1Name = meta1.Name
	pair.Token1Decimals = meta1.Decimals
}

func (e *Enricher) tokenMeta(ctx context.Context, address string) TokenMeta {
	if !common.IsHexAddress(address) {
		return TokenMeta{}
	}
	token := common.HexToAddress(address)

	e.mu.RLock()
	meta, ok := e.cache[token]
	e.mu.RUnlock()
	if ok {
		return meta
	}

	if symbol, err := e.callString(ctx, token, "symbol"); err == nil {
		meta.Symbol = &symbol
	} else {
		e.logger.Warn("token symbol lookup failed", zap.String("token", address), zap.Error(err))
	}
	if name, err := e.callString(ctx, token, "name"); err == nil {
		meta.Name = &name
	} else {
		e.logger.Warn("token name lookup failed", zap.String("token", address), zap.Error(err))
	}
	if decimals, err := e.callDecimals(ctx, token); err == nil {
		meta.Decimals = &decimals
	} else {
		e.logger.Warn("token decimals lookup failed", zap.String("token", address), zap.Error(err))
	}

	e.mu.Lock()
	e.cache[token] = meta
	e.mu.Unlock()
	return meta
}

func (e *Enricher) call(ctx context.Context, token common.Address, method string) ([]interface{}, error) {
	input, err := e.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	output, err := e.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	values, err := e.abi.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty %s response", method)
	}
	return values, nil
}

func (e *Enricher) callString(ctx context.Context, token common.Address, method string) (string, error) {
	values, err := e.call(ctx, token, method)
	if err != nil {
		return "", err
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", values[0])
	}
	return s, nil
}

func (e *Enricher) callDecimals(ctx context.Context, token common.Address) (int32, error) {
	values, err := e.call(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("expected uint8, got %T", values[0])
	}
	return int32(d), nil
}
