package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"dexwatch/internal/model"
)

// MemoryStore is an in-memory EventStore + CheckpointStore used by tests and
// local runs without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	events      map[string]model.Event
	order       []string
	pairs       map[string]model.TradingPair
	checkpoints map[string]model.Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      make(map[string]model.Event),
		pairs:       make(map[string]model.TradingPair),
		checkpoints: make(map[string]model.Checkpoint),
	}
}

func pairKey(chainID uint64, address string) string {
	return keyOf(chainID, strings.ToLower(address))
}

func checkpointKey(chainID uint64, category model.EventCategory) string {
	return keyOf(chainID, string(category))
}

func keyOf(chainID uint64, suffix string) string {
	return strconv.FormatUint(chainID, 10) + ":" + strings.ToLower(suffix)
}

// InsertEventBatch implements insert-or-ignore keyed on the event identity.
func (s *MemoryStore) InsertEventBatch(_ context.Context, events []model.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, event := range events {
		key := event.Key()
		if _, ok := s.events[key]; ok {
			continue
		}
		s.events[key] = event
		s.order = append(s.order, key)
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) InsertPairIfAbsent(_ context.Context, pair model.TradingPair) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(pair.ChainID, pair.Address)
	if _, ok := s.pairs[key]; ok {
		return false, nil
	}
	s.pairs[key] = pair
	return true, nil
}

func (s *MemoryStore) GetPair(_ context.Context, chainID uint64, address string) (*model.TradingPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pair, ok := s.pairs[pairKey(chainID, address)]
	if !ok {
		return nil, nil
	}
	return &pair, nil
}

func (s *MemoryStore) ListPairs(_ context.Context, chainID uint64, limit, offset int) ([]model.TradingPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := make([]model.TradingPair, 0)
	for _, pair := range s.pairs {
		if pair.ChainID == chainID {
			pairs = append(pairs, pair)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].CreatedBlock != pairs[j].CreatedBlock {
			return pairs[i].CreatedBlock < pairs[j].CreatedBlock
		}
		return pairs[i].Address < pairs[j].Address
	})
	return paginatePairs(pairs, limit, offset), nil
}

func (s *MemoryStore) PairAddresses(_ context.Context, chainID uint64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addresses := make([]string, 0, len(s.pairs))
	for _, pair := range s.pairs {
		if pair.ChainID == chainID {
			addresses = append(addresses, pair.Address)
		}
	}
	sort.Strings(addresses)
	return addresses, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]model.Event, 0)
	for _, key := range s.order {
		event := s.events[key]
		if event.ChainID != filter.ChainID {
			continue
		}
		if filter.PairAddress != "" && !strings.EqualFold(event.PairAddress, filter.PairAddress) {
			continue
		}
		if filter.Kind != "" && event.Kind != filter.Kind {
			continue
		}
		if filter.FromTime != 0 && event.Timestamp < filter.FromTime {
			continue
		}
		if filter.ToTime != 0 && event.Timestamp > filter.ToTime {
			continue
		}
		matched = append(matched, event)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].BlockNumber != matched[j].BlockNumber {
			return matched[i].BlockNumber < matched[j].BlockNumber
		}
		return matched[i].LogIndex < matched[j].LogIndex
	})
	return paginateEvents(matched, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) ListEventsBySender(_ context.Context, sender string, limit, offset int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]model.Event, 0)
	for _, key := range s.order {
		event := s.events[key]
		if strings.EqualFold(event.Sender, sender) {
			matched = append(matched, event)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].BlockNumber != matched[j].BlockNumber {
			return matched[i].BlockNumber > matched[j].BlockNumber
		}
		return matched[i].LogIndex > matched[j].LogIndex
	})
	return paginateEvents(matched, limit, offset), nil
}

func (s *MemoryStore) Init(_ context.Context, chainID uint64, category model.EventCategory, startBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := checkpointKey(chainID, category)
	if _, ok := s.checkpoints[key]; ok {
		return nil
	}
	s.checkpoints[key] = model.Checkpoint{
		ChainID:   chainID,
		Category:  category,
		LastBlock: startBlock,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, chainID uint64, category model.EventCategory) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[checkpointKey(chainID, category)]
	return cp, ok, nil
}

func (s *MemoryStore) Advance(_ context.Context, chainID uint64, category model.EventCategory, newBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := checkpointKey(chainID, category)
	current, ok := s.checkpoints[key]
	if ok && newBlock < current.LastBlock {
		return ErrCheckpointRegression
	}
	s.checkpoints[key] = model.Checkpoint{
		ChainID:   chainID,
		Category:  category,
		LastBlock: newBlock,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) Rollback(_ context.Context, chainID uint64, category model.EventCategory, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[checkpointKey(chainID, category)] = model.Checkpoint{
		ChainID:   chainID,
		Category:  category,
		LastBlock: block,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func paginateEvents(events []model.Event, limit, offset int) []model.Event {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(events) {
		return nil
	}
	events = events[offset:]
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}

func paginatePairs(pairs []model.TradingPair, limit, offset int) []model.TradingPair {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(pairs) {
		return nil
	}
	pairs = pairs[offset:]
	if limit > 0 && limit < len(pairs) {
		pairs = pairs[:limit]
	}
	return pairs
}
