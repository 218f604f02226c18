// Package supervisor wires the scan loop, shutdown ordering and health
// reporting described in SPEC_FULL.md §5 and §10: one scan task, one
// snapshot task, per-venue subscriptions, and an orderly drain of
// in-flight executions on shutdown.
//
// Grounded on the teacher's core/engine.go Start/Stop/mainLoop/GetStats
// shape: a single main loop reading off a channel of ticks, a background
// monitor loop, and a stats accessor for the operator surface. This
// generalizes that single-feed loop into a per-mapping scan over both
// venues' books, and adds the explicit cancel-then-drain shutdown ordering
// the teacher's simple close(stopCh) doesn't need for a single in-flight
// order.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/execution"
	"github.com/arbtrader/arbtrader/internal/state"
	"github.com/arbtrader/arbtrader/internal/types"
)

// BookSource is the subset of venue.Adapter the supervisor needs to pull a
// current order book for a scan pass.
type BookSource interface {
	GetOrderBook(ctx context.Context, contract string) (types.OrderBook, error)
}

// Adapters pairs the two venues' book sources.
type Adapters struct {
	V1 BookSource
	V2 BookSource
}

// Matcher is the subset of matcher.Matcher the supervisor depends on.
type Matcher interface {
	ActiveMappings() []types.EventMapping
	CanTrade(types.EventMapping) bool
}

// Detector is the subset of detector.Detector the supervisor depends on.
type Detector interface {
	Detect(now time.Time, mapping types.EventMapping, v1Book, v2Book types.OrderBook) (types.Opportunity, bool)
}

// Executor is the subset of execution.Engine the supervisor depends on.
type Executor interface {
	Execute(ctx context.Context, mapping types.EventMapping, opp types.Opportunity, v1Book, v2Book types.OrderBook) execution.Result
}

// CircuitBreaker is the subset of circuitbreaker.Breaker the supervisor
// depends on.
type CircuitBreaker interface {
	IsPaused() bool
}

// StateStore is the subset of state.Store the supervisor depends on for
// heartbeats and the auto-save cadence.
type StateStore interface {
	Current() state.Snapshot
	Snapshot(state.Snapshot) error
}

// OpportunityRecorder is the subset of repository.Repository the supervisor
// uses to append every detected opportunity to the audit trail. Optional:
// a nil recorder simply skips persistence.
type OpportunityRecorder interface {
	SaveOpportunity(types.Opportunity) error
}

// Config carries the scan cadence.
type Config struct {
	ScanInterval time.Duration
}

// Health is the point-in-time operator-facing status snapshot described in
// SPEC_FULL.md §10.
type Health struct {
	Running        bool
	Paused         bool
	ActiveMappings int
	LastScanAt     time.Time
	LastScanErr    string
	DailyPnL       decimal.Decimal
	ScanCount      int64
}

// Supervisor runs the scan loop and coordinates graceful shutdown.
type Supervisor struct {
	cfg      Config
	adapters Adapters
	matcher  Matcher
	detector Detector
	executor Executor
	cb       CircuitBreaker
	store    StateStore
	recorder OpportunityRecorder
	log      zerolog.Logger

	mu      sync.RWMutex
	running bool
	health  Health

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Supervisor. recorder may be nil.
func New(cfg Config, adapters Adapters, m Matcher, det Detector, exec Executor, cb CircuitBreaker, store StateStore, recorder OpportunityRecorder, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg: cfg, adapters: adapters, matcher: m, detector: det, executor: exec, cb: cb, store: store, recorder: recorder,
		log: log.With().Str("component", "supervisor").Logger(),
	}
}

// Start launches the scan loop in the background. It returns once the loop
// goroutine is running.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.health.Running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.scanLoop(runCtx)

	s.log.Info().Msg("supervisor started")
}

// Shutdown cancels the scan loop, waits for any in-flight execution's
// per-mapping lock to drain (the execution.Engine's own mutex makes this
// implicit: a new Execute call will simply not be issued after cancel), and
// takes a final state snapshot — the ordering SPEC_FULL.md §5 requires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.health.Running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("shutdown wait exceeded deadline; proceeding to final snapshot anyway")
	}

	if s.store != nil {
		if err := s.store.Snapshot(s.store.Current()); err != nil {
			s.log.Error().Err(err).Msg("final snapshot failed during shutdown")
			return err
		}
	}
	s.log.Info().Msg("supervisor shut down cleanly")
	return nil
}

func (s *Supervisor) scanLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.ScanInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

// ScanOnce runs a single scan pass synchronously, for the CLI `scan`
// command — independent of the ticker-driven scanLoop cadence.
func (s *Supervisor) ScanOnce(ctx context.Context) {
	s.scanOnce(ctx)
}

func (s *Supervisor) scanOnce(ctx context.Context) {
	now := time.Now().UTC()
	var lastErr error

	if s.cb != nil && s.cb.IsPaused() {
		s.recordScan(now, nil, len(s.matcher.ActiveMappings()))
		return
	}

	mappings := s.matcher.ActiveMappings()
	for _, mapping := range mappings {
		if ctx.Err() != nil {
			return
		}
		if !s.matcher.CanTrade(mapping) {
			continue
		}

		v1Book, err := s.adapters.V1.GetOrderBook(ctx, mapping.V1Contract)
		if err != nil {
			lastErr = err
			continue
		}
		v2Book, err := s.adapters.V2.GetOrderBook(ctx, mapping.V2Contract)
		if err != nil {
			lastErr = err
			continue
		}

		opp, ok := s.detector.Detect(now, mapping, v1Book, v2Book)
		if !ok {
			continue
		}

		if s.recorder != nil {
			if err := s.recorder.SaveOpportunity(opp); err != nil {
				s.log.Warn().Err(err).Str("mapping_id", mapping.ID).Msg("failed to persist opportunity")
			}
		}

		s.executor.Execute(ctx, mapping, opp, v1Book, v2Book)
	}

	s.recordScan(now, lastErr, len(mappings))
}

func (s *Supervisor) recordScan(at time.Time, err error, activeMappings int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.LastScanAt = at
	s.health.ActiveMappings = activeMappings
	s.health.ScanCount++
	if err != nil {
		s.health.LastScanErr = err.Error()
	} else {
		s.health.LastScanErr = ""
	}
}

// Health returns a snapshot of the supervisor's current status for the CLI
// `status`/`health` surfaces.
func (s *Supervisor) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.health
	if s.cb != nil {
		h.Paused = s.cb.IsPaused()
	}
	if s.store != nil {
		h.DailyPnL = s.store.Current().DailyPnL
	}
	return h
}
