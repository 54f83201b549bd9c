package scanner

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Supervisor owns an arena of independent scanners, one per (chain,
// category). Scanner failures are isolated: one scanner entering Failed never
// halts the others.
type Supervisor struct {
	scanners []*Scanner
	logger   *zap.Logger
}

func NewSupervisor(logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{logger: logger}
}

// Add registers a scanner to run.
func (sv *Supervisor) Add(s *Scanner) {
	sv.scanners = append(sv.scanners, s)
}

// Run starts every scanner on its own goroutine and blocks until ctx is
// cancelled and all scanners have stopped. Scanner errors are logged, not
// propagated: a failed scanner stays down until the operator intervenes.
func (sv *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range sv.scanners {
		wg.Add(1)
		go func(s *Scanner) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				sv.logger.Error("scanner stopped",
					zap.Uint64("chain_id", s.cfg.ChainID),
					zap.String("category", string(s.cfg.Category)),
					zap.Error(err),
				)
			}
		}(s)
	}
	wg.Wait()
}

// Status snapshots every scanner's health.
func (sv *Supervisor) Status() []Status {
	out := make([]Status, 0, len(sv.scanners))
	for _, s := range sv.scanners {
		out = append(out, s.Status())
	}
	return out
}
