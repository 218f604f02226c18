// Package circuitbreaker implements the global kill switch described in
// SPEC_FULL.md §4.3: a single-writer, many-reader flag driven by a closed
// FailureKind taxonomy, with idempotent pause/resume persisted through
// StateStore.
//
// Grounded on the teacher's risk/circuit_breaker.go, which trips on a
// consecutive-loss streak and a daily-loss percentage. This generalizes that
// shape from a single loss-streak counter to the per-FailureKind auto-pause
// rule table SPEC_FULL.md §4.3 specifies.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbtrader/arbtrader/internal/types"
)

// Config carries the auto-pause thresholds from SPEC_FULL.md §6.
type Config struct {
	MaxConsecutiveFailures  int
	MaxAsymmetricExecutions int
}

// Breaker is the circuit breaker. All state transitions go through a single
// mutex with a short critical section, per SPEC_FULL.md §5.
type Breaker struct {
	mu sync.RWMutex

	cfg Config
	log zerolog.Logger

	paused              bool
	reason              string
	pausedAt            time.Time
	consecutiveFailures int
	asymmetricCount     int

	onPersist func(state types.CircuitBreakerState)
	onAlert   func(severity, title, detail string)
}

// New creates a Breaker. onPersist is called synchronously inside pause()
// and resume() so the caller (the composition root, wiring StateStore) can
// guarantee durability before pause() returns, matching the
// "pause is durable before any caller observes paused=true" ordering
// guarantee in SPEC_FULL.md §5.
func New(cfg Config, log zerolog.Logger, onPersist func(types.CircuitBreakerState), onAlert func(severity, title, detail string)) *Breaker {
	return &Breaker{
		cfg:       cfg,
		log:       log.With().Str("component", "circuitbreaker").Logger(),
		onPersist: onPersist,
		onAlert:   onAlert,
	}
}

// IsPaused reports the current pause state.
func (b *Breaker) IsPaused() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.paused
}

// Pause idempotently engages the breaker. The first call records the
// reason and timestamp; subsequent calls while already paused are no-ops on
// those fields (invariant 10 in SPEC_FULL.md §9).
func (b *Breaker) Pause(reason string) {
	b.mu.Lock()
	alreadyPaused := b.paused
	if !alreadyPaused {
		b.paused = true
		b.reason = reason
		b.pausedAt = time.Now().UTC()
		// Persist while still holding the lock, so no IsPaused reader can
		// see paused=true before the pause has been handed to onPersist.
		if b.onPersist != nil {
			b.onPersist(b.snapshotLocked())
		}
	}
	b.mu.Unlock()

	if alreadyPaused {
		return
	}

	b.log.Error().Str("reason", reason).Msg("circuit breaker paused")
	if b.onAlert != nil {
		b.onAlert("critical", "circuit breaker paused", reason)
	}
}

// Resume clears the breaker and all counters.
func (b *Breaker) Resume() {
	b.mu.Lock()
	b.paused = false
	b.reason = ""
	b.pausedAt = time.Time{}
	b.consecutiveFailures = 0
	b.asymmetricCount = 0
	state := b.snapshotLocked()
	b.mu.Unlock()

	b.log.Info().Msg("circuit breaker resumed")
	if b.onPersist != nil {
		b.onPersist(state)
	}
}

// RecordFailure increments the relevant counters and auto-pauses per the
// rule table in SPEC_FULL.md §4.3.
func (b *Breaker) RecordFailure(kind types.FailureKind) {
	b.mu.Lock()
	switch kind {
	case types.FailureExecution:
		b.consecutiveFailures++
	case types.FailureAsymmetric:
		b.asymmetricCount++
		b.consecutiveFailures++
	default:
		b.consecutiveFailures++
	}
	trip, reason := b.shouldTripLocked(kind)
	b.mu.Unlock()

	if trip {
		b.Pause(reason)
	}
}

func (b *Breaker) shouldTripLocked(kind types.FailureKind) (bool, string) {
	if b.paused {
		return false, ""
	}
	switch kind {
	case types.FailureExecution:
		if b.consecutiveFailures >= max(b.cfg.MaxConsecutiveFailures, 1) {
			return true, string(types.FailureExecution)
		}
	case types.FailureAsymmetric:
		return true, string(types.FailureAsymmetric)
	case types.FailureConnLost:
		return true, string(types.FailureConnLost)
	case types.FailureDailyLoss:
		return true, string(types.FailureDailyLoss)
	case types.FailureStateUnrec:
		return true, string(types.FailureStateUnrec)
	case types.FailureRateLimited:
		// No auto-pause; the detector loop is expected to slow itself down.
	}
	return false, ""
}

// RecordSuccess resets only the consecutive-failure counter, leaving
// asymmetric history intact.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

// Snapshot returns the breaker's current persisted-shape state.
func (b *Breaker) Snapshot() types.CircuitBreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Breaker) snapshotLocked() types.CircuitBreakerState {
	return types.CircuitBreakerState{
		Paused:              b.paused,
		Reason:              b.reason,
		PausedAt:            b.pausedAt,
		ConsecutiveFailures: b.consecutiveFailures,
		AsymmetricCount:     b.asymmetricCount,
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
