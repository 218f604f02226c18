package execution

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arbtrader/arbtrader/internal/risk"
	"github.com/arbtrader/arbtrader/internal/types"
	"github.com/arbtrader/arbtrader/internal/venue"
)

type fakeAdapter struct {
	v           types.Venue
	placeResult venue.FillResult
	placeErr    error
	positions   []types.Position
}

func (f *fakeAdapter) Venue() types.Venue { return f.v }
func (f *fakeAdapter) GetOrderBook(ctx context.Context, contract string) (types.OrderBook, error) {
	return types.OrderBook{}, nil
}
func (f *fakeAdapter) PlaceFOK(ctx context.Context, order venue.Order) (venue.FillResult, error) {
	return f.placeResult, f.placeErr
}
func (f *fakeAdapter) GetBalances(ctx context.Context) (venue.Balances, error) { return nil, nil }
func (f *fakeAdapter) GetPositions(ctx context.Context) ([]types.Position, error) {
	return f.positions, nil
}
func (f *fakeAdapter) SubscribeBook(ctx context.Context, contract string, h venue.BookHandler) error {
	return nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeAdapter) Close() error                                         { return nil }

type fakeRisk struct {
	decision risk.Decision
	fills    []types.Position
	pnl      decimal.Decimal
}

func (f *fakeRisk) Validate(opp types.Opportunity, proposedQty decimal.Decimal) risk.Decision {
	return f.decision
}
func (f *fakeRisk) ApplyFill(p types.Position)        { f.fills = append(f.fills, p) }
func (f *fakeRisk) RecordPnL(delta decimal.Decimal)   { f.pnl = f.pnl.Add(delta) }
func (f *fakeRisk) Reconcile(p []types.Position)      {}

type fakeCB struct {
	failures []types.FailureKind
	successes int
}

func (f *fakeCB) RecordFailure(k types.FailureKind) { f.failures = append(f.failures, k) }
func (f *fakeCB) RecordSuccess()                    { f.successes++ }

type fakeAlert struct{ notifications []string }

func (f *fakeAlert) Notify(severity, title, detail string) {
	f.notifications = append(f.notifications, severity+":"+title)
}

type fakeRecorder struct{ records []types.ExecutionRecord }

func (f *fakeRecorder) SaveExecution(r types.ExecutionRecord) error {
	f.records = append(f.records, r)
	return nil
}

type fakeDetector struct {
	opp types.Opportunity
	ok  bool
}

func (f *fakeDetector) Detect(now time.Time, mapping types.EventMapping, v1, v2 types.OrderBook) (types.Opportunity, bool) {
	return f.opp, f.ok
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func baseOpp() types.Opportunity {
	return types.Opportunity{
		ID: "opp1", MappingID: "m1",
		BuyVenue: types.VenueV1, SellVenue: types.VenueV2,
		BuyPrice: dec(0.40), SellPrice: dec(0.55),
		NetProfitPerUnit: dec(0.10), MaxQty: dec(10),
	}
}

func baseMapping() types.EventMapping {
	return types.EventMapping{ID: "m1", V1Contract: "v1-contract", V2Contract: "v2-contract"}
}

func newTestEngine(v1, v2 *fakeAdapter, riskMgr *fakeRisk, cb *fakeCB, alert *fakeAlert, rec *fakeRecorder, det *fakeDetector, mode types.OperatingMode) *Engine {
	cfg := Config{Mode: mode, MaxSlippage: dec(0.5), EndToEndMaxMs: 2 * time.Second, OrderPlacementMax: 0, ReconcileTimeout: time.Second}
	return New(cfg, Adapters{V1: v1, V2: v2}, riskMgr, cb, alert, rec, det, zerolog.Nop())
}

func TestExecute_NotExecutedWhenRiskRejects(t *testing.T) {
	v1, v2 := &fakeAdapter{v: types.VenueV1}, &fakeAdapter{v: types.VenueV2}
	riskMgr := &fakeRisk{decision: risk.Decision{Approved: false}}
	cb, alert, rec := &fakeCB{}, &fakeAlert{}, &fakeRecorder{}
	det := &fakeDetector{opp: baseOpp(), ok: true}

	e := newTestEngine(v1, v2, riskMgr, cb, alert, rec, det, types.ModeLive)
	res := e.Execute(context.Background(), baseMapping(), baseOpp(), types.OrderBook{}, types.OrderBook{})

	require.Equal(t, OutcomeNotExecuted, res.Outcome)
	require.Len(t, rec.records, 1)
	require.Equal(t, types.StatusNotExecuted, rec.records[0].Status)
}

func TestExecute_DryRunSynthesizesFillWithoutPlacingOrders(t *testing.T) {
	v1, v2 := &fakeAdapter{v: types.VenueV1}, &fakeAdapter{v: types.VenueV2}
	riskMgr := &fakeRisk{decision: risk.Decision{Approved: true, SuggestedQty: dec(5)}}
	cb, alert, rec := &fakeCB{}, &fakeAlert{}, &fakeRecorder{}
	opp := baseOpp()
	det := &fakeDetector{opp: opp, ok: true}

	e := newTestEngine(v1, v2, riskMgr, cb, alert, rec, det, types.ModeDryRun)
	res := e.Execute(context.Background(), baseMapping(), opp, types.OrderBook{}, types.OrderBook{})

	require.Equal(t, OutcomeBothFilled, res.Outcome)
	require.True(t, res.Record.IsDryRun)
	require.Equal(t, 1, cb.successes)
}

func TestExecute_BothFilledProducesTwoPositionsAndOneRecord(t *testing.T) {
	opp := baseOpp()
	v1 := &fakeAdapter{v: types.VenueV1, placeResult: venue.FillResult{Outcome: venue.OutcomeFilled, FillPrice: opp.BuyPrice, FillQty: dec(5)}}
	v2 := &fakeAdapter{v: types.VenueV2, placeResult: venue.FillResult{Outcome: venue.OutcomeFilled, FillPrice: opp.SellPrice, FillQty: dec(5)}}
	riskMgr := &fakeRisk{decision: risk.Decision{Approved: true, SuggestedQty: dec(5)}}
	cb, alert, rec := &fakeCB{}, &fakeAlert{}, &fakeRecorder{}
	det := &fakeDetector{opp: opp, ok: true}

	e := newTestEngine(v1, v2, riskMgr, cb, alert, rec, det, types.ModeLive)
	res := e.Execute(context.Background(), baseMapping(), opp, types.OrderBook{}, types.OrderBook{})

	require.Equal(t, OutcomeBothFilled, res.Outcome)
	require.Len(t, riskMgr.fills, 2)
	require.Len(t, rec.records, 1)
	require.Equal(t, types.StatusComplete, rec.records[0].Status)
	require.Equal(t, 1, cb.successes)
}

func TestExecute_BothRejectedIsANoOp(t *testing.T) {
	opp := baseOpp()
	v1 := &fakeAdapter{v: types.VenueV1, placeResult: venue.FillResult{Outcome: venue.OutcomeRejected}}
	v2 := &fakeAdapter{v: types.VenueV2, placeResult: venue.FillResult{Outcome: venue.OutcomeRejected}}
	riskMgr := &fakeRisk{decision: risk.Decision{Approved: true, SuggestedQty: dec(5)}}
	cb, alert, rec := &fakeCB{}, &fakeAlert{}, &fakeRecorder{}
	det := &fakeDetector{opp: opp, ok: true}

	e := newTestEngine(v1, v2, riskMgr, cb, alert, rec, det, types.ModeLive)
	res := e.Execute(context.Background(), baseMapping(), opp, types.OrderBook{}, types.OrderBook{})

	require.Equal(t, OutcomeBothRejected, res.Outcome)
	require.Empty(t, cb.failures)
	require.Len(t, riskMgr.fills, 0)
}

func TestExecute_AsymmetricOneFilledOneRejectedTripsBreakerAndAlertsCritical(t *testing.T) {
	opp := baseOpp()
	v1 := &fakeAdapter{v: types.VenueV1, placeResult: venue.FillResult{Outcome: venue.OutcomeFilled, FillPrice: opp.BuyPrice}}
	v2 := &fakeAdapter{v: types.VenueV2, placeResult: venue.FillResult{Outcome: venue.OutcomeRejected}}
	riskMgr := &fakeRisk{decision: risk.Decision{Approved: true, SuggestedQty: dec(5)}}
	cb, alert, rec := &fakeCB{}, &fakeAlert{}, &fakeRecorder{}
	det := &fakeDetector{opp: opp, ok: true}

	e := newTestEngine(v1, v2, riskMgr, cb, alert, rec, det, types.ModeLive)
	res := e.Execute(context.Background(), baseMapping(), opp, types.OrderBook{}, types.OrderBook{})

	require.Equal(t, OutcomeAsymmetric, res.Outcome)
	require.Equal(t, []types.FailureKind{types.FailureAsymmetric}, cb.failures)
	require.Contains(t, alert.notifications, "critical:asymmetric_execution")
	require.Len(t, riskMgr.fills, 1, "only the leg that actually filled should land in the ledger")
}

func TestExecute_BothTransportErrorReconcilesViaGetPositions(t *testing.T) {
	opp := baseOpp()
	// Positions carry only what the venue itself knows (contract, side, qty) —
	// never a MappingID, which is purely an internal concept.
	v1 := &fakeAdapter{
		v: types.VenueV1, placeResult: venue.FillResult{Outcome: venue.OutcomeTransportError},
		positions: []types.Position{{Contract: "v1-contract", Side: types.SideYes, Quantity: dec(5)}},
	}
	v2 := &fakeAdapter{
		v: types.VenueV2, placeResult: venue.FillResult{Outcome: venue.OutcomeTransportError},
		positions: []types.Position{{Contract: "v2-contract", Side: types.SideNo, Quantity: dec(5)}},
	}
	riskMgr := &fakeRisk{decision: risk.Decision{Approved: true, SuggestedQty: dec(5)}}
	cb, alert, rec := &fakeCB{}, &fakeAlert{}, &fakeRecorder{}
	det := &fakeDetector{opp: opp, ok: true}

	e := newTestEngine(v1, v2, riskMgr, cb, alert, rec, det, types.ModeLive)
	res := e.Execute(context.Background(), baseMapping(), opp, types.OrderBook{}, types.OrderBook{})

	require.Equal(t, OutcomeBothFilled, res.Outcome, "get_positions confirming both legs landed must resolve to BothFilled, not Asymmetric")
}

func TestExecute_RevalidateAbortsWhenDirectionDisappears(t *testing.T) {
	opp := baseOpp()
	flipped := opp
	flipped.BuyVenue = types.VenueV2
	flipped.SellVenue = types.VenueV1

	v1, v2 := &fakeAdapter{v: types.VenueV1}, &fakeAdapter{v: types.VenueV2}
	riskMgr := &fakeRisk{decision: risk.Decision{Approved: true, SuggestedQty: dec(5)}}
	cb, alert, rec := &fakeCB{}, &fakeAlert{}, &fakeRecorder{}
	det := &fakeDetector{opp: flipped, ok: true}

	e := newTestEngine(v1, v2, riskMgr, cb, alert, rec, det, types.ModeLive)
	res := e.Execute(context.Background(), baseMapping(), opp, types.OrderBook{}, types.OrderBook{})

	require.Equal(t, OutcomeNotExecuted, res.Outcome)
}
