package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dexwatch/internal/chain"
	"dexwatch/internal/decode"
	"dexwatch/internal/model"
	"dexwatch/internal/store"
)

// LogSource is what a scanner asks of a chain node.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Publisher receives each persisted batch for live fan-out. Delivery is
// best-effort and must never block.
type Publisher interface {
	Publish(events []model.Event)
}

// PairEnricher fills best-effort token metadata on a newly discovered pair.
// Failures leave fields nil and never fail ingestion.
type PairEnricher interface {
	Enrich(ctx context.Context, pair *model.TradingPair)
}

// Config holds the per-(chain, category) scanner settings.
type Config struct {
	ChainID        uint64
	Category       model.EventCategory
	FactoryAddress common.Address
	StartBlock     uint64
	BatchSize      uint64
	Confirmations  uint64
	PollInterval   time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	// StallAfter is the number of consecutive failed retries before the
	// scanner reports Stalled. Retries continue at the backoff ceiling.
	StallAfter int
}

// Scanner advances the checkpoint for one (chain, category) pair by polling,
// fetching, decoding, persisting, and checkpointing batches of blocks. The
// persist-then-checkpoint order is the crash-safety invariant: a crash
// between the two re-processes the same range, and idempotent writes make
// that a no-op.
type Scanner struct {
	cfg         Config
	source      LogSource
	events      store.EventStore
	checkpoints store.CheckpointStore
	decoder     *decode.Decoder
	publisher   Publisher
	enricher    PairEnricher
	logger      *zap.Logger
	metrics     *Metrics

	mu     sync.RWMutex
	status Status

	last    uint64
	retries int
}

// New builds a scanner. publisher, enricher, and metrics may be nil.
func New(
	cfg Config,
	source LogSource,
	events store.EventStore,
	checkpoints store.CheckpointStore,
	decoder *decode.Decoder,
	publisher Publisher,
	enricher PairEnricher,
	metrics *Metrics,
	logger *zap.Logger,
) (*Scanner, error) {
	if source == nil {
		return nil, fmt.Errorf("log source is nil")
	}
	if events == nil || checkpoints == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if decoder == nil {
		return nil, fmt.Errorf("decoder is nil")
	}
	if cfg.BatchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if cfg.Category == model.CategoryFactory && cfg.FactoryAddress == (common.Address{}) {
		return nil, fmt.Errorf("factory address is required for factory scanning")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(
		zap.Uint64("chain_id", cfg.ChainID),
		zap.String("category", string(cfg.Category)),
	)

	return &Scanner{
		cfg:         cfg,
		source:      source,
		events:      events,
		checkpoints: checkpoints,
		decoder:     decoder,
		publisher:   publisher,
		enricher:    enricher,
		logger:      logger,
		metrics:     metrics,
		status: Status{
			ChainID:  cfg.ChainID,
			Category: cfg.Category,
		},
	}, nil
}

// Status returns a snapshot of the scanner's health.
func (s *Scanner) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.StateName = st.State.String()
	return st
}

func (s *Scanner) setState(state State) {
	s.mu.Lock()
	s.status.State = state
	s.status.LastBlock = s.last
	s.status.Retries = s.retries
	s.status.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ObserveState(s.cfg.ChainID, s.cfg.Category, state)
	}
}

func (s *Scanner) setError(err error) {
	s.mu.Lock()
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastError = ""
	}
	s.mu.Unlock()
}

// Run executes the scan loop until ctx is cancelled or an unrecoverable
// failure occurs. A cancelled tick leaves the checkpoint untouched.
func (s *Scanner) Run(ctx context.Context) error {
	if err := s.checkpoints.Init(ctx, s.cfg.ChainID, s.cfg.Category, s.cfg.StartBlock); err != nil {
		return fmt.Errorf("init checkpoint: %w", err)
	}
	cp, ok, err := s.checkpoints.Get(ctx, s.cfg.ChainID, s.cfg.Category)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if ok {
		s.last = cp.LastBlock
	} else {
		s.last = s.cfg.StartBlock
	}
	s.logger.Info("scanner start",
		zap.Uint64("last_block", s.last),
		zap.Uint64("batch_size", s.cfg.BatchSize),
		zap.Uint64("confirmations", s.cfg.Confirmations),
	)

	for {
		saturated, err := s.tick(ctx)
		switch {
		case err == nil:
			s.retries = 0
			s.setError(nil)
			s.setState(StateIdle)
			if saturated {
				// Catching up a lagging chain: keep going without the
				// poll delay, one full batch after another.
				continue
			}
			if err := sleepCtx(ctx, s.cfg.PollInterval); err != nil {
				return err
			}

		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err

		case errors.Is(err, store.ErrCheckpointRegression):
			s.setError(err)
			s.setState(StateFailed)
			s.logger.Error("checkpoint invariant violated, scanner halted", zap.Error(err))
			return err

		case chain.IsTransient(err) || isPersistence(err):
			s.retries++
			s.setError(err)
			delay := backoff(s.cfg.BaseBackoff, s.cfg.MaxBackoff, s.retries-1)
			if s.retries >= s.cfg.StallAfter {
				s.setState(StateStalled)
				s.logger.Warn("scanner stalled", zap.Int("retries", s.retries), zap.Error(err))
			} else {
				s.setState(StateBackingOff)
				s.logger.Warn("tick failed, backing off",
					zap.Int("retries", s.retries),
					zap.Duration("delay", delay),
					zap.Error(err),
				)
			}
			if s.metrics != nil {
				s.metrics.ObserveBackoff(s.cfg.ChainID, s.cfg.Category)
			}
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}

		default:
			s.setError(err)
			s.setState(StateFailed)
			s.logger.Error("unrecoverable scanner failure", zap.Error(err))
			return err
		}
	}
}

// tick runs one Fetch→Decode→Persist→Checkpoint pass. It reports whether the
// batch was full, meaning more confirmed blocks are already waiting.
func (s *Scanner) tick(ctx context.Context) (bool, error) {
	s.setState(StateFetching)

	head, err := s.source.LatestBlockNumber(ctx)
	if err != nil {
		return false, chain.Transient(err)
	}
	if head < s.cfg.Confirmations {
		s.setState(StateIdle)
		return false, nil
	}
	safe := head - s.cfg.Confirmations

	from := s.last + 1
	to := from + s.cfg.BatchSize - 1
	if to > safe {
		to = safe
	}

	if s.cfg.Category == model.CategorySwap {
		// The swap scanner never runs ahead of factory discovery, so a
		// pair is always known before its log stream is scanned. Until
		// the factory checkpoint exists no block is known to be covered,
		// and advancing here would skip pairs discovered later.
		factoryCp, ok, err := s.checkpoints.Get(ctx, s.cfg.ChainID, model.CategoryFactory)
		if err != nil {
			return false, &persistenceError{err: err}
		}
		if !ok {
			s.setState(StateIdle)
			return false, nil
		}
		if to > factoryCp.LastBlock {
			to = factoryCp.LastBlock
		}
	}

	if to < from {
		s.setState(StateIdle)
		return false, nil
	}

	addresses, topics, err := s.rangeFilter(ctx)
	if err != nil {
		return false, err
	}

	events := make([]model.Event, 0)
	if len(addresses) > 0 {
		logs, err := s.source.FilterLogs(ctx, from, to, addresses, topics)
		if err != nil {
			return false, chain.Transient(err)
		}

		s.setState(StateDecoding)
		events, err = s.decodeBatch(ctx, logs)
		if err != nil {
			return false, err
		}
	}

	s.setState(StatePersisting)
	inserted, err := s.events.InsertEventBatch(ctx, events)
	if err != nil {
		return false, &persistenceError{err: err}
	}
	if err := s.storePairs(ctx, events); err != nil {
		return false, &persistenceError{err: err}
	}

	if s.publisher != nil && len(events) > 0 {
		s.publisher.Publish(events)
	}

	s.setState(StateCheckpointing)
	if err := s.checkpoints.Advance(ctx, s.cfg.ChainID, s.cfg.Category, to); err != nil {
		if errors.Is(err, store.ErrCheckpointRegression) {
			return false, err
		}
		return false, &persistenceError{err: err}
	}
	s.last = to

	if s.metrics != nil {
		s.metrics.ObserveBatch(s.cfg.ChainID, s.cfg.Category, to, inserted)
	}
	if len(events) > 0 || inserted > 0 {
		s.logger.Info("batch complete",
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Int("events", len(events)),
			zap.Int("inserted", inserted),
		)
	}

	return to-from+1 == s.cfg.BatchSize, nil
}

// rangeFilter returns the address and topic0 filters for this category. For
// the swap category only known pairs are scanned; an empty address list means
// there is nothing to fetch yet, but the checkpoint still advances.
func (s *Scanner) rangeFilter(ctx context.Context) ([]common.Address, []common.Hash, error) {
	if s.cfg.Category == model.CategoryFactory {
		return []common.Address{s.cfg.FactoryAddress}, s.decoder.FactoryTopics(), nil
	}

	raw, err := s.events.PairAddresses(ctx, s.cfg.ChainID)
	if err != nil {
		return nil, nil, &persistenceError{err: err}
	}
	addresses := make([]common.Address, 0, len(raw))
	for _, addr := range raw {
		if !common.IsHexAddress(addr) {
			s.logger.Warn("skipping unparseable pair address", zap.String("address", addr))
			continue
		}
		addresses = append(addresses, common.HexToAddress(addr))
	}
	return addresses, s.decoder.PairTopics(), nil
}

// decodeBatch decodes every log, logging and skipping individual failures. A
// single malformed log never blocks the valid logs around it.
func (s *Scanner) decodeBatch(ctx context.Context, logs []types.Log) ([]model.Event, error) {
	events := make([]model.Event, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		ts, err := s.source.BlockTimestamp(ctx, log.BlockNumber)
		if err != nil {
			return nil, chain.Transient(err)
		}
		event, err := s.decoder.Decode(s.cfg.ChainID, log, ts)
		if err != nil {
			s.logger.Warn("decode failed, skipping log", zap.Error(err))
			if s.metrics != nil {
				s.metrics.ObserveDecodeFailure(s.cfg.ChainID, s.cfg.Category)
			}
			continue
		}
		events = append(events, *event)
	}
	return events, nil
}

// storePairs inserts a TradingPair row for every PairCreated event in the
// batch, enriched with best-effort token metadata.
func (s *Scanner) storePairs(ctx context.Context, events []model.Event) error {
	for _, event := range events {
		if event.Kind != model.KindPairCreated || event.PairCreated == nil {
			continue
		}
		pair := model.TradingPair{
			ChainID:       event.ChainID,
			Address:       event.PairAddress,
			Token0:        event.PairCreated.Token0,
			Token1:        event.PairCreated.Token1,
			CreatedBlock:  event.BlockNumber,
			CreatedTxHash: event.TxHash,
			CreatedAt:     event.Timestamp,
		}
		if s.enricher != nil {
			s.enricher.Enrich(ctx, &pair)
		}
		created, err := s.events.InsertPairIfAbsent(ctx, pair)
		if err != nil {
			return err
		}
		if created {
			s.logger.Info("new trading pair",
				zap.String("pair", pair.Address),
				zap.String("token0", pair.Token0),
				zap.String("token1", pair.Token1),
				zap.Uint64("block", pair.CreatedBlock),
			)
		}
	}
	return nil
}

type persistenceError struct {
	err error
}

func (e *persistenceError) Error() string {
	return "persistence: " + e.err.Error()
}

func (e *persistenceError) Unwrap() error {
	return e.err
}

func isPersistence(err error) bool {
	var pe *persistenceError
	return errors.As(err, &pe)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
