package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dexwatch/internal/chain"
	"dexwatch/internal/decode"
	"dexwatch/internal/model"
	"dexwatch/internal/store"
)

var (
	factoryAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	token0Addr  = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	token1Addr  = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	pairAddr    = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	senderAddr  = common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
)

type fakeSource struct {
	mu        sync.Mutex
	head      uint64
	logs      []types.Log
	filterErr error
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, fromBlock, toBlock uint64, addresses []common.Address, _ []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.filterErr != nil {
		return nil, f.filterErr
	}
	matched := make([]types.Log, 0)
	for _, log := range f.logs {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		for _, addr := range addresses {
			if log.Address == addr {
				matched = append(matched, log)
				break
			}
		}
	}
	return matched, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return number * 10, nil
}

func (f *fakeSource) setFilterErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterErr = err
}

type capturePublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *capturePublisher) Publish(events []model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func topicOf(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func pairCreatedLog(t *testing.T, block, index uint64) types.Log {
	t.Helper()
	abi, err := decode.FactoryABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	data, err := abi.Events["PairCreated"].Inputs.NonIndexed().Pack(pairAddr, big.NewInt(1))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return types.Log{
		Address:     factoryAddr,
		Topics:      []common.Hash{abi.Events["PairCreated"].ID, topicOf(token0Addr), topicOf(token1Addr)},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block*1000 + index))),
		Index:       uint(index),
	}
}

func swapLog(t *testing.T, block, index uint64) types.Log {
	t.Helper()
	abi, err := decode.PairABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	data, err := abi.Events["Swap"].Inputs.NonIndexed().Pack(big.NewInt(100), big.NewInt(0), big.NewInt(0), big.NewInt(250))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return types.Log{
		Address:     pairAddr,
		Topics:      []common.Hash{abi.Events["Swap"].ID, topicOf(senderAddr), topicOf(senderAddr)},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block*1000 + index))),
		Index:       uint(index),
	}
}

func newTestScanner(t *testing.T, cfg Config, source LogSource, mem *store.MemoryStore, publisher Publisher) *Scanner {
	t.Helper()
	decoder, err := decode.NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	s, err := New(cfg, source, mem, mem, decoder, publisher, nil, nil, nil)
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	return s
}

func factoryConfig() Config {
	return Config{
		ChainID:        1,
		Category:       model.CategoryFactory,
		FactoryAddress: factoryAddr,
		BatchSize:      1000,
		Confirmations:  10,
	}
}

func TestFactoryTickPersistsAndCheckpoints(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	source := &fakeSource{head: 110, logs: []types.Log{pairCreatedLog(t, 50, 0)}}
	publisher := &capturePublisher{}

	s := newTestScanner(t, factoryConfig(), source, mem, publisher)

	saturated, err := s.tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if saturated {
		t.Fatalf("batch should not be saturated")
	}

	events, err := mem.ListEvents(ctx, store.EventFilter{ChainID: 1, Kind: model.KindPairCreated})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Timestamp != 500 {
		t.Fatalf("timestamp not resolved from block: %d", events[0].Timestamp)
	}

	pair, err := mem.GetPair(ctx, 1, pairAddr.Hex())
	if err != nil {
		t.Fatalf("get pair: %v", err)
	}
	if pair == nil {
		t.Fatalf("pair row missing")
	}
	if pair.Token0 != token0Addr.Hex() || pair.Token1 != token1Addr.Hex() {
		t.Fatalf("pair tokens mismatch: %+v", pair)
	}

	// head 110 minus 10 confirmations.
	cp, ok, err := mem.Get(ctx, 1, model.CategoryFactory)
	if err != nil || !ok {
		t.Fatalf("checkpoint missing: ok=%v err=%v", ok, err)
	}
	if cp.LastBlock != 100 {
		t.Fatalf("checkpoint: %d", cp.LastBlock)
	}

	if publisher.count() != 1 {
		t.Fatalf("published events: %d", publisher.count())
	}
}

func TestReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	source := &fakeSource{head: 110, logs: []types.Log{pairCreatedLog(t, 50, 0)}}

	s := newTestScanner(t, factoryConfig(), source, mem, nil)

	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	// Simulate a crash after persisting but before checkpointing: the same
	// range is scanned again.
	if err := mem.Rollback(ctx, 1, model.CategoryFactory, 0); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	s.last = 0

	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	events, err := mem.ListEvents(ctx, store.EventFilter{ChainID: 1})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("duplicate rows after re-ingest: %d", len(events))
	}
}

func TestConfirmationDepthExcludesShallowBlocks(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	source := &fakeSource{head: 100, logs: []types.Log{pairCreatedLog(t, 96, 0)}}

	cfg := factoryConfig()
	cfg.Confirmations = 5
	s := newTestScanner(t, cfg, source, mem, nil)

	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	events, err := mem.ListEvents(ctx, store.EventFilter{ChainID: 1})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("unconfirmed block was ingested")
	}
	cp, _, err := mem.Get(ctx, 1, model.CategoryFactory)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if cp.LastBlock != 95 {
		t.Fatalf("checkpoint past safe head: %d", cp.LastBlock)
	}

	// Once block 96 is 5 deep it becomes eligible.
	source.head = 101
	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	events, err = mem.ListEvents(ctx, store.EventFilter{ChainID: 1})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("confirmed block not ingested: %d events", len(events))
	}
}

func TestTransientFailureLeavesCheckpointAndRetries(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	source := &fakeSource{head: 110, logs: []types.Log{pairCreatedLog(t, 50, 0)}}
	source.setFilterErr(fmt.Errorf("connection refused"))

	s := newTestScanner(t, factoryConfig(), source, mem, nil)

	_, err := s.tick(ctx)
	if err == nil {
		t.Fatalf("expected tick failure")
	}
	if !chain.IsTransient(err) {
		t.Fatalf("filter error should be transient: %v", err)
	}
	if _, ok, _ := mem.Get(ctx, 1, model.CategoryFactory); ok {
		t.Fatalf("checkpoint advanced on a failed tick")
	}

	// The retry covers the same range with no gap.
	source.setFilterErr(nil)
	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("retry tick: %v", err)
	}
	events, err := mem.ListEvents(ctx, store.EventFilter{ChainID: 1})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after retry, got %d", len(events))
	}
}

func TestSwapScannerWaitsForFactoryCheckpoint(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	if err := mem.Init(ctx, 1, model.CategoryFactory, 50); err != nil {
		t.Fatalf("init factory checkpoint: %v", err)
	}
	if _, err := mem.InsertPairIfAbsent(ctx, model.TradingPair{ChainID: 1, Address: pairAddr.Hex()}); err != nil {
		t.Fatalf("insert pair: %v", err)
	}

	source := &fakeSource{head: 200, logs: []types.Log{swapLog(t, 60, 0)}}
	cfg := Config{
		ChainID:   1,
		Category:  model.CategorySwap,
		BatchSize: 1000,
	}
	s := newTestScanner(t, cfg, source, mem, nil)

	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	cp, ok, err := mem.Get(ctx, 1, model.CategorySwap)
	if err != nil || !ok {
		t.Fatalf("swap checkpoint missing: ok=%v err=%v", ok, err)
	}
	if cp.LastBlock != 50 {
		t.Fatalf("swap scanner ran ahead of factory discovery: %d", cp.LastBlock)
	}
	events, err := mem.ListEvents(ctx, store.EventFilter{ChainID: 1})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("swap beyond factory checkpoint was ingested")
	}

	// Factory catches up; the pending swap becomes scannable.
	if err := mem.Advance(ctx, 1, model.CategoryFactory, 200); err != nil {
		t.Fatalf("advance factory: %v", err)
	}
	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	events, err = mem.ListEvents(ctx, store.EventFilter{ChainID: 1, Kind: model.KindSwap})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 swap, got %d", len(events))
	}
}

func TestSwapScannerIdlesBeforeFactoryDiscovery(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()

	// Fresh deployment: the factory scanner has not initialized its
	// checkpoint yet. The swap scanner must not advance, or pairs discovered
	// in this range later would have their events permanently skipped.
	source := &fakeSource{head: 200}
	cfg := Config{
		ChainID:       1,
		Category:      model.CategorySwap,
		BatchSize:     1000,
		Confirmations: 10,
	}
	s := newTestScanner(t, cfg, source, mem, nil)

	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if _, ok, _ := mem.Get(ctx, 1, model.CategorySwap); ok {
		t.Fatalf("swap checkpoint advanced before factory discovery began")
	}
	if s.last != 0 {
		t.Fatalf("scanner position moved: %d", s.last)
	}

	// Factory discovery starts; the swap scanner follows it.
	if err := mem.Init(ctx, 1, model.CategoryFactory, 50); err != nil {
		t.Fatalf("init factory checkpoint: %v", err)
	}
	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	cp, ok, err := mem.Get(ctx, 1, model.CategorySwap)
	if err != nil || !ok {
		t.Fatalf("swap checkpoint missing: ok=%v err=%v", ok, err)
	}
	if cp.LastBlock != 50 {
		t.Fatalf("swap checkpoint: %d", cp.LastBlock)
	}
}

func TestFetchErrorNeverTreatedAsEmptyRange(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	source := &fakeSource{head: 110, logs: []types.Log{pairCreatedLog(t, 50, 0)}}
	source.setFilterErr(fmt.Errorf("backend returned null"))

	s := newTestScanner(t, factoryConfig(), source, mem, nil)

	// A provider failure must surface, not read as "no logs": checkpointing
	// past it would skip the range forever.
	if _, err := s.tick(ctx); err == nil {
		t.Fatalf("expected tick failure")
	}
	if _, ok, _ := mem.Get(ctx, 1, model.CategoryFactory); ok {
		t.Fatalf("checkpoint advanced past a failed fetch")
	}

	source.setFilterErr(nil)
	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("retry tick: %v", err)
	}
	events, err := mem.ListEvents(ctx, store.EventFilter{ChainID: 1})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected the range to be refetched, got %d events", len(events))
	}
}

func TestMalformedLogIsSkipped(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()

	bad := pairCreatedLog(t, 40, 0)
	bad.Data = bad.Data[:3]
	good := pairCreatedLog(t, 50, 1)
	source := &fakeSource{head: 110, logs: []types.Log{bad, good}}

	s := newTestScanner(t, factoryConfig(), source, mem, nil)

	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	events, err := mem.ListEvents(ctx, store.EventFilter{ChainID: 1})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected only the valid log, got %d events", len(events))
	}
	if events[0].BlockNumber != 50 {
		t.Fatalf("wrong event survived: %+v", events[0])
	}
	cp, _, err := mem.Get(ctx, 1, model.CategoryFactory)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if cp.LastBlock != 100 {
		t.Fatalf("checkpoint blocked by malformed log: %d", cp.LastBlock)
	}
}

func TestSaturatedBatchReportsMore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	source := &fakeSource{head: 2010}

	cfg := factoryConfig()
	cfg.Confirmations = 10
	s := newTestScanner(t, cfg, source, mem, nil)

	saturated, err := s.tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !saturated {
		t.Fatalf("full batch should report saturation")
	}
	cp, _, err := mem.Get(ctx, 1, model.CategoryFactory)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if cp.LastBlock != 1000 {
		t.Fatalf("checkpoint after full batch: %d", cp.LastBlock)
	}
}

func TestRunHaltsOnCheckpointRegression(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	source := &fakeSource{head: 110}

	cfg := factoryConfig()
	cfg.StartBlock = 0
	s := newTestScanner(t, cfg, source, mem, nil)

	// Another writer moved the checkpoint ahead of what this scanner will
	// try to write.
	if err := mem.Advance(ctx, 1, model.CategoryFactory, 500); err != nil {
		t.Fatalf("advance: %v", err)
	}
	s.last = 0

	_, err := s.tick(ctx)
	if err == nil {
		t.Fatalf("expected regression error")
	}
	if !errors.Is(err, store.ErrCheckpointRegression) {
		t.Fatalf("expected ErrCheckpointRegression, got %v", err)
	}
}
