package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadMissingReturnsZeroState(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	snap, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, today(), snap.TradingDate)
	require.True(t, snap.DailyPnL.IsZero())
	require.Equal(t, 0, snap.DailyTradeCount)
}

func TestStore_SnapshotThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	_, err = s.Load()
	require.NoError(t, err)

	in := Snapshot{
		DailyPnL:        decimal.NewFromFloat(12.5),
		DailyTradeCount: 3,
		DailyVolume:     decimal.NewFromInt(300),
		TradingDate:     today(),
		CB:              CircuitBreakerSnapshot{Paused: false},
	}
	require.NoError(t, s.Snapshot(in))

	s2, err := Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	out, err := s2.Load()
	require.NoError(t, err)

	require.True(t, in.DailyPnL.Equal(out.DailyPnL))
	require.Equal(t, in.DailyTradeCount, out.DailyTradeCount)
	require.True(t, in.DailyVolume.Equal(out.DailyVolume))
}

func TestStore_DailyRolloverZeroesCountersBeforeReturn(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	stale := Snapshot{
		DailyPnL:        decimal.NewFromFloat(99),
		DailyTradeCount: 10,
		DailyVolume:     decimal.NewFromInt(1000),
		TradingDate:     "2000-01-01",
	}
	require.NoError(t, s.Snapshot(stale))

	fresh, err := Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	out, err := fresh.Load()
	require.NoError(t, err)

	require.Equal(t, today(), out.TradingDate)
	require.True(t, out.DailyPnL.IsZero())
	require.Equal(t, 0, out.DailyTradeCount)
}

func TestStore_SetCBIsIdempotentOnReasonAndTimestamp(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	_, err = s.Load()
	require.NoError(t, err)

	first := s.SetCB(true, "asymmetric_execution")
	time.Sleep(time.Millisecond)
	second := s.SetCB(true, "different_reason")

	require.Equal(t, first.CB.Reason, second.CB.Reason)
	require.Equal(t, first.CB.PausedAt, second.CB.PausedAt)

	resumed := s.SetCB(false, "")
	require.False(t, resumed.CB.Paused)
	require.Empty(t, resumed.CB.Reason)
	require.Nil(t, resumed.CB.PausedAt)
}

// TestStore_UnknownFieldsSurviveRoundTrip guards the "forward-compatible:
// unknown fields preserved on read" invariant from SPEC_FULL.md §6: a field
// written by a newer binary must not be silently dropped by an older one.
func TestStore_UnknownFieldsSurviveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	raw := map[string]any{
		"daily_pnl":          "1.5",
		"daily_trade_count":  1,
		"daily_volume":       "10",
		"trading_date":       today(),
		"cb":                 map[string]any{"paused": false},
		"last_heartbeat":     time.Now().UTC().Format(time.RFC3339Nano),
		"future_field_v2":    "unknown to this binary",
		"future_nested_blob": map[string]any{"a": 1},
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	s, err := Open(path)
	require.NoError(t, err)
	snap, err := s.Load()
	require.NoError(t, err)
	require.Contains(t, snap.Extra, "future_field_v2")
	require.Contains(t, snap.Extra, "future_nested_blob")

	require.NoError(t, s.Snapshot(snap))

	roundTripped, err := os.ReadFile(path)
	require.NoError(t, err)
	var back map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(roundTripped, &back))
	require.Contains(t, back, "future_field_v2")
	require.Contains(t, back, "future_nested_blob")
}
