package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arbtrader/arbtrader/internal/config"
	"github.com/arbtrader/arbtrader/internal/supervisor"
	"github.com/arbtrader/arbtrader/internal/types"
)

type fakeCB struct{ paused bool }

func (f *fakeCB) IsPaused() bool { return f.paused }
func (f *fakeCB) Pause(reason string) { f.paused = true }
func (f *fakeCB) Resume()             { f.paused = false }

type fakeEngine struct{ mode types.OperatingMode }

func (f *fakeEngine) Mode() types.OperatingMode    { return f.mode }
func (f *fakeEngine) SetMode(m types.OperatingMode) { f.mode = m }

type fakeMatcher struct{ mappings []types.EventMapping }

func (f *fakeMatcher) ActiveMappings() []types.EventMapping { return f.mappings }

type fakeDetector struct{ opp types.Opportunity; has bool }

func (f *fakeDetector) Cached(mappingID string, now time.Time) (types.Opportunity, bool) {
	return f.opp, f.has
}

type fakeRisk struct {
	positions []types.Position
	exposure  decimal.Decimal
	pnl       decimal.Decimal
}

func (f *fakeRisk) Positions() []types.Position   { return f.positions }
func (f *fakeRisk) TotalExposure() decimal.Decimal { return f.exposure }
func (f *fakeRisk) DailyPnL() decimal.Decimal      { return f.pnl }

type fakeSupervisor struct {
	health    supervisor.Health
	scanCalls int
}

func (f *fakeSupervisor) Health() supervisor.Health { return f.health }
func (f *fakeSupervisor) ScanOnce(ctx context.Context) { f.scanCalls++ }
func (f *fakeSupervisor) Start(ctx context.Context)    {}

func newTestShell() (*Shell, *bytes.Buffer, *fakeCB, *fakeEngine, *fakeSupervisor) {
	cb := &fakeCB{}
	engine := &fakeEngine{mode: types.ModeDryRun}
	sup := &fakeSupervisor{health: supervisor.Health{Running: true, DailyPnL: decimal.NewFromInt(5)}}
	out := &bytes.Buffer{}
	cfg := &config.Config{OperatingMode: config.ModeDryRun}
	shell := New(Deps{
		Config:   cfg,
		Sup:      sup,
		CB:       cb,
		Engine:   engine,
		Matcher:  &fakeMatcher{},
		Detector: &fakeDetector{},
		Risk:     &fakeRisk{exposure: decimal.Zero, pnl: decimal.Zero},
	}, zerolog.Nop(), out)
	return shell, out, cb, engine, sup
}

func TestShell_PauseAndResumeDriveCircuitBreaker(t *testing.T) {
	shell, out, cb, _, _ := newTestShell()

	require.NoError(t, shell.dispatch("pause"))
	require.True(t, cb.paused)
	require.Contains(t, out.String(), "paused")

	out.Reset()
	require.NoError(t, shell.dispatch("resume"))
	require.False(t, cb.paused)
}

func TestShell_LiveRequiresConfirmFlag(t *testing.T) {
	shell, _, _, engine, _ := newTestShell()

	err := shell.dispatch("live")
	require.Error(t, err)
	require.Equal(t, types.ModeDryRun, engine.Mode())

	err = shell.dispatch("live --confirm")
	require.NoError(t, err)
	require.Equal(t, types.ModeLive, engine.Mode())
}

func TestShell_ScanDelegatesToSupervisor(t *testing.T) {
	shell, _, _, _, sup := newTestShell()

	require.NoError(t, shell.dispatch("scan"))
	require.Equal(t, 1, sup.scanCalls)
}

func TestShell_QuitSetsFlag(t *testing.T) {
	shell, _, _, _, _ := newTestShell()

	require.NoError(t, shell.dispatch("quit"))
	require.True(t, shell.quit)
}

func TestShell_StatusPrintsModeAndExposure(t *testing.T) {
	shell, out, _, _, _ := newTestShell()

	require.NoError(t, shell.dispatch("status"))
	require.Contains(t, out.String(), "dry_run")
	require.Contains(t, out.String(), "daily pnl")
	require.Contains(t, out.String(), "total exposure")
}
