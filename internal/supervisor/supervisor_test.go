package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arbtrader/arbtrader/internal/execution"
	"github.com/arbtrader/arbtrader/internal/state"
	"github.com/arbtrader/arbtrader/internal/types"
)

type fakeBookSource struct{}

func (fakeBookSource) GetOrderBook(ctx context.Context, contract string) (types.OrderBook, error) {
	return types.OrderBook{Contract: contract}, nil
}

type fakeMatcher struct{ mappings []types.EventMapping }

func (f *fakeMatcher) ActiveMappings() []types.EventMapping { return f.mappings }
func (f *fakeMatcher) CanTrade(m types.EventMapping) bool   { return m.Active }

type fakeDetector struct{ calls int }

func (f *fakeDetector) Detect(now time.Time, mapping types.EventMapping, v1, v2 types.OrderBook) (types.Opportunity, bool) {
	f.calls++
	return types.Opportunity{}, false
}

type fakeExecutor struct{ calls int }

func (f *fakeExecutor) Execute(ctx context.Context, mapping types.EventMapping, opp types.Opportunity, v1, v2 types.OrderBook) execution.Result {
	f.calls++
	return execution.Result{}
}

type fakeCB struct{ paused bool }

func (f *fakeCB) IsPaused() bool { return f.paused }

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.Open(t.TempDir() + "/state.json")
	require.NoError(t, err)
	_, err = store.Load()
	require.NoError(t, err)
	return store
}

func TestSupervisor_ScanVisitsEveryActiveMapping(t *testing.T) {
	matcher := &fakeMatcher{mappings: []types.EventMapping{{ID: "m1", Active: true}, {ID: "m2", Active: true}}}
	det := &fakeDetector{}
	exec := &fakeExecutor{}
	store := newTestStore(t)

	s := New(Config{ScanInterval: 10 * time.Millisecond}, Adapters{V1: fakeBookSource{}, V2: fakeBookSource{}}, matcher, det, exec, &fakeCB{}, store, nil, zerolog.Nop())
	s.scanOnce(context.Background())

	require.Equal(t, 2, det.calls)
	require.Equal(t, 0, exec.calls, "no opportunity was detected so the executor must not be invoked")
}

func TestSupervisor_SkipsScanWhenCircuitBreakerPaused(t *testing.T) {
	matcher := &fakeMatcher{mappings: []types.EventMapping{{ID: "m1", Active: true}}}
	det := &fakeDetector{}
	store := newTestStore(t)

	s := New(Config{}, Adapters{V1: fakeBookSource{}, V2: fakeBookSource{}}, matcher, det, &fakeExecutor{}, &fakeCB{paused: true}, store, nil, zerolog.Nop())
	s.scanOnce(context.Background())

	require.Equal(t, 0, det.calls, "a paused circuit breaker must skip detection entirely")
}

func TestSupervisor_StartThenShutdownTakesFinalSnapshot(t *testing.T) {
	matcher := &fakeMatcher{}
	store := newTestStore(t)
	store.RecordTrade(decimal.NewFromFloat(1.5), decimal.NewFromFloat(10))

	s := New(Config{ScanInterval: 5 * time.Millisecond}, Adapters{V1: fakeBookSource{}, V2: fakeBookSource{}}, matcher, &fakeDetector{}, &fakeExecutor{}, &fakeCB{}, store, nil, zerolog.Nop())

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	require.False(t, s.Health().Running)
}

func TestSupervisor_HealthReflectsPausedAndDailyPnL(t *testing.T) {
	store := newTestStore(t)
	store.RecordTrade(decimal.NewFromFloat(2), decimal.NewFromFloat(5))

	s := New(Config{}, Adapters{V1: fakeBookSource{}, V2: fakeBookSource{}}, &fakeMatcher{}, &fakeDetector{}, &fakeExecutor{}, &fakeCB{paused: true}, store, nil, zerolog.Nop())

	h := s.Health()
	require.True(t, h.Paused)
	require.True(t, h.DailyPnL.Equal(decimal.NewFromFloat(2)))
}
