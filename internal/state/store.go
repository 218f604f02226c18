// Package state implements the durable process state described in
// SPEC_FULL.md §4.2: daily counters, circuit-breaker flag, open positions
// and a heartbeat, persisted as a single atomically-replaced snapshot file.
//
// Grounded on the pack's 0xtitan6-polymarket-mm/internal/store/store.go
// write-to-.tmp-then-rename pattern, generalized from one file per market to
// a single snapshot document.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/types"
)

// Snapshot is the persisted state document (SPEC_FULL.md §6).
type Snapshot struct {
	DailyPnL          decimal.Decimal        `json:"daily_pnl"`
	DailyTradeCount   int                    `json:"daily_trade_count"`
	DailyVolume       decimal.Decimal        `json:"daily_volume"`
	TradingDate       string                 `json:"trading_date"`
	CB                CircuitBreakerSnapshot `json:"cb"`
	Positions         []types.Position       `json:"positions"`
	LastHeartbeat     time.Time              `json:"last_heartbeat"`
	LastSuccessfulTrade *time.Time           `json:"last_successful_trade,omitempty"`

	// Extra preserves any fields this version of the code doesn't know
	// about, so upgrades never silently drop operator-visible state. Not
	// tagged: round-tripped by hand in MarshalJSON/UnmarshalJSON below.
	Extra map[string]json.RawMessage `json:"-"`
}

// knownSnapshotFields lists the JSON keys Snapshot's own fields occupy, so
// UnmarshalJSON can separate them from whatever Extra should carry forward.
var knownSnapshotFields = map[string]bool{
	"daily_pnl": true, "daily_trade_count": true, "daily_volume": true,
	"trading_date": true, "cb": true, "positions": true,
	"last_heartbeat": true, "last_successful_trade": true,
}

// snapshotAlias avoids infinite recursion into Snapshot's own
// Marshal/UnmarshalJSON when delegating to the default struct codec.
type snapshotAlias Snapshot

// MarshalJSON folds Extra's unknown fields back in alongside the known ones,
// so a round trip through an older or newer binary never loses state.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(snapshotAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(s.Extra)+8)
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if !knownSnapshotFields[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields normally and stashes any key this
// version of the code doesn't recognize into Extra.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var alias snapshotAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !knownSnapshotFields[k] {
			extra[k] = v
		}
	}

	*s = Snapshot(alias)
	if len(extra) > 0 {
		s.Extra = extra
	}
	return nil
}

// CircuitBreakerSnapshot is the persisted circuit-breaker state.
type CircuitBreakerSnapshot struct {
	Paused   bool       `json:"paused"`
	Reason   string     `json:"reason,omitempty"`
	PausedAt *time.Time `json:"paused_at,omitempty"`
}

func zeroSnapshot(today string) Snapshot {
	return Snapshot{
		DailyPnL:        decimal.Zero,
		DailyTradeCount: 0,
		DailyVolume:     decimal.Zero,
		TradingDate:     today,
		Positions:       nil,
		LastHeartbeat:   time.Now().UTC(),
	}
}

// Store persists a single Snapshot to a JSON file with atomic replacement.
type Store struct {
	path string
	mu   sync.Mutex

	cur Snapshot

	ioFailures int
}

// Open creates a Store backed by the given file path, creating its parent
// directory if necessary.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// today returns today's UTC date in the YYYY-MM-DD form used by
// TradingDate.
func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// Load reads the last snapshot. If none exists, it returns a zero state for
// today. If the persisted trading_date differs from today (UTC), daily
// fields are reset before the snapshot is returned — the rollover is
// guaranteed to happen before any caller observes the state.
func (s *Store) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.cur = zeroSnapshot(today())
			return s.cur, nil
		}
		return Snapshot{}, fmt.Errorf("read state: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal state: %w", err)
	}

	if snap.TradingDate != today() {
		snap.TradingDate = today()
		snap.DailyPnL = decimal.Zero
		snap.DailyTradeCount = 0
		snap.DailyVolume = decimal.Zero
	}

	s.cur = snap
	return snap, nil
}

// Snapshot atomically replaces the on-disk snapshot with the given state,
// stamping the heartbeat at write time. The write never leaves a partial
// file visible: content lands in a .tmp file, fsynced, then renamed over
// the target (rename is atomic on the filesystems this engine targets).
func (s *Store) Snapshot(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.LastHeartbeat = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		s.ioFailures++
		return fmt.Errorf("open temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.ioFailures++
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.ioFailures++
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		s.ioFailures++
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.ioFailures++
		return fmt.Errorf("rename state file: %w", err)
	}

	s.ioFailures = 0
	s.cur = snap
	return nil
}

// IOFailures reports how many consecutive snapshot writes have failed.
// The circuit breaker escalates to StateUnrecoverable once this crosses a
// configured threshold.
func (s *Store) IOFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioFailures
}

// RecordTrade increments the day's counters and advances the last-trade
// timestamp. Callers are expected to follow this with a Snapshot to persist
// it; RecordTrade only mutates the in-memory current snapshot.
func (s *Store) RecordTrade(realizedPnL, volume decimal.Decimal) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur.DailyPnL = s.cur.DailyPnL.Add(realizedPnL)
	s.cur.DailyVolume = s.cur.DailyVolume.Add(volume)
	s.cur.DailyTradeCount++
	now := time.Now().UTC()
	s.cur.LastSuccessfulTrade = &now
	return s.cur
}

// SetCB updates the in-memory circuit-breaker snapshot. The caller is
// responsible for calling Snapshot afterward; SetCB itself does not persist
// because CircuitBreaker.pause/resume control exactly when that must
// happen synchronously (pause must be durable before the caller proceeds).
func (s *Store) SetCB(paused bool, reason string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur.CB.Paused = paused
	if paused {
		if s.cur.CB.Reason == "" {
			s.cur.CB.Reason = reason
			now := time.Now().UTC()
			s.cur.CB.PausedAt = &now
		}
	} else {
		s.cur.CB.Reason = ""
		s.cur.CB.PausedAt = nil
	}
	return s.cur
}

// Current returns the in-memory snapshot without touching disk.
func (s *Store) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// SetPositions replaces the position set held in the in-memory snapshot.
func (s *Store) SetPositions(positions []types.Position) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Positions = positions
	return s.cur
}

// StateAge reports how long ago the snapshot's heartbeat was recorded.
func (snap Snapshot) StateAge(now time.Time) time.Duration {
	if snap.LastHeartbeat.IsZero() {
		return time.Duration(0)
	}
	return now.Sub(snap.LastHeartbeat)
}

// RunAutoSave runs the dedicated auto-snapshot task described in
// SPEC_FULL.md §4.2, snapshotting the current in-memory state at the given
// cadence until ctx is cancelled. onFailure is invoked (non-blocking) after
// every failed write so the caller can escalate to the circuit breaker once
// IOFailures crosses its configured threshold.
func (s *Store) RunAutoSave(ctx context.Context, interval time.Duration, onFailure func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Snapshot(s.Current()); err != nil && onFailure != nil {
				onFailure(err)
			}
		}
	}
}
