// Package execution implements the ExecutionEngine component (SPEC_FULL.md
// §4.7): the state machine responsible for the atomicity of a two-leg
// arbitrage trade.
//
// Grounded on the teacher's execution/executor.go order-state-machine shape
// (Pending → Open → Filled/Rejected/Failed) and on its treatment of
// transport ambiguity as distinct from a clean rejection; the per-mapping
// serialization and Validate→Revalidate→Fire→Classify pipeline is new
// structure this spec requires that the teacher's single-leg executor does
// not need.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/risk"
	"github.com/arbtrader/arbtrader/internal/types"
	"github.com/arbtrader/arbtrader/internal/venue"
)

// Outcome is the terminal classification of one execution attempt.
type Outcome string

const (
	OutcomeBothFilled   Outcome = "both_filled"
	OutcomeBothRejected Outcome = "both_rejected"
	OutcomeAsymmetric   Outcome = "asymmetric"
	OutcomeNotExecuted  Outcome = "not_executed"
)

// Result is what one Execute call returns.
type Result struct {
	Outcome        Outcome
	Record         types.ExecutionRecord
	RealizedProfit decimal.Decimal
	Reason         string
}

// Adapters is the pair of venue adapters the engine drives.
type Adapters struct {
	V1 venue.Adapter
	V2 venue.Adapter
}

func (a Adapters) forVenue(v types.Venue) venue.Adapter {
	if v == types.VenueV1 {
		return a.V1
	}
	return a.V2
}

// Risk is the subset of risk.Manager the engine depends on.
type Risk interface {
	Validate(opp types.Opportunity, proposedQty decimal.Decimal) risk.Decision
	ApplyFill(types.Position)
	RecordPnL(decimal.Decimal)
	Reconcile([]types.Position)
}

// CircuitBreaker is the subset of circuitbreaker.Breaker the engine depends
// on, named locally to avoid importing that package's concrete type.
type CircuitBreaker interface {
	RecordFailure(types.FailureKind)
	RecordSuccess()
}

// Alerter is the subset of the alert package the engine depends on.
type Alerter interface {
	Notify(severity, title, detail string)
}

// Recorder persists one durable execution record per attempt, per the
// invariant in SPEC_FULL.md §4.7.
type Recorder interface {
	SaveExecution(types.ExecutionRecord) error
}

// Config carries the engine's timing and slippage parameters.
type Config struct {
	Mode              types.OperatingMode
	MaxSlippage       decimal.Decimal
	EndToEndMaxMs     time.Duration
	OrderPlacementMax time.Duration
	ReconcileTimeout  time.Duration
}

// Detector is the subset of detector.Detector the engine needs to
// revalidate an opportunity immediately before firing.
type Detector interface {
	Detect(now time.Time, mapping types.EventMapping, v1Book, v2Book types.OrderBook) (types.Opportunity, bool)
}

// Engine is the ExecutionEngine.
type Engine struct {
	cfg      Config
	adapters Adapters
	risk     Risk
	cb       CircuitBreaker
	alert    Alerter
	recorder Recorder
	detector Detector
	log      zerolog.Logger

	mu       sync.Mutex
	mapLocks map[string]*sync.Mutex
	mode     types.OperatingMode
}

// New creates an Engine.
func New(cfg Config, adapters Adapters, riskMgr Risk, cb CircuitBreaker, alert Alerter, recorder Recorder, det Detector, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		adapters: adapters,
		risk:     riskMgr,
		cb:       cb,
		alert:    alert,
		recorder: recorder,
		detector: det,
		log:      log.With().Str("component", "execution").Logger(),
		mapLocks: make(map[string]*sync.Mutex),
		mode:     cfg.Mode,
	}
}

// Mode reports the engine's current operating mode.
func (e *Engine) Mode() types.OperatingMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode switches dry-run/live at runtime, per the CLI `dry-run`/`live`
// commands in SPEC_FULL.md §6.
func (e *Engine) SetMode(mode types.OperatingMode) {
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
}

func (e *Engine) lockFor(mappingID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.mapLocks[mappingID]
	if !ok {
		l = &sync.Mutex{}
		e.mapLocks[mappingID] = l
	}
	return l
}

// Execute runs the full Validate → Revalidate → Fire → Classify pipeline
// for one opportunity, serialized per mapping id.
func (e *Engine) Execute(ctx context.Context, mapping types.EventMapping, opp types.Opportunity, v1Book, v2Book types.OrderBook) Result {
	lock := e.lockFor(mapping.ID)
	lock.Lock()
	defer lock.Unlock()

	// 1. Validate.
	qty := e.risk.Validate(opp, opp.MaxQty)
	if !qty.Approved {
		return e.notExecuted(mapping, opp, "risk_rejected")
	}
	finalQty := qty.SuggestedQty
	if finalQty.IsZero() {
		finalQty = opp.MaxQty
	}

	// 2. Revalidate: refetch both books, recompute, and abort on stale spread.
	v1Book, err := e.adapters.V1.GetOrderBook(ctx, mapping.V1Contract)
	if err != nil {
		return e.notExecuted(mapping, opp, "book_refetch_failed")
	}
	v2Book, err = e.adapters.V2.GetOrderBook(ctx, mapping.V2Contract)
	if err != nil {
		return e.notExecuted(mapping, opp, "book_refetch_failed")
	}
	fresh, ok := e.detector.Detect(time.Now().UTC(), mapping, v1Book, v2Book)
	if !ok || fresh.BuyVenue != opp.BuyVenue {
		return e.notExecuted(mapping, opp, "spread_gone")
	}
	slippageFloor := opp.NetProfitPerUnit.Mul(decimal.NewFromInt(1).Sub(e.cfg.MaxSlippage))
	if fresh.NetProfitPerUnit.LessThan(slippageFloor) {
		return e.notExecuted(mapping, opp, "slippage_exceeded")
	}

	// 3. Dry-run short-circuit.
	if e.Mode() == types.ModeDryRun {
		return e.dryRunFill(mapping, fresh, finalQty)
	}

	// 4. Fire: submit both legs concurrently.
	buyResult, sellResult, fireLatency := e.fireLegs(ctx, mapping, fresh, finalQty)

	// 5. Classify.
	return e.classify(mapping, fresh, finalQty, buyResult, sellResult, fireLatency)
}

// contractFor returns the contract id a mapping uses on the given venue.
func contractFor(mapping types.EventMapping, v types.Venue) string {
	if v == types.VenueV1 {
		return mapping.V1Contract
	}
	return mapping.V2Contract
}

func (e *Engine) notExecuted(mapping types.EventMapping, opp types.Opportunity, reason string) Result {
	record := types.ExecutionRecord{
		ID:            uuid.NewString(),
		MappingID:     mapping.ID,
		OpportunityID: opp.ID,
		Status:        types.StatusNotExecuted,
		CreatedAt:     time.Now().UTC(),
	}
	if e.recorder != nil {
		_ = e.recorder.SaveExecution(record)
	}
	return Result{Outcome: OutcomeNotExecuted, Record: record, Reason: reason}
}

func (e *Engine) dryRunFill(mapping types.EventMapping, opp types.Opportunity, qty decimal.Decimal) Result {
	fees := decimal.Zero // fee estimate already folded into opp.NetProfitPerUnit
	realized := opp.NetProfitPerUnit.Mul(qty).Sub(fees)

	record := types.ExecutionRecord{
		ID:             uuid.NewString(),
		MappingID:      mapping.ID,
		OpportunityID:  opp.ID,
		Status:         types.StatusComplete,
		IsDryRun:       true,
		Qty:            qty,
		RealizedProfit: realized,
		BuyVenue:       opp.BuyVenue,
		SellVenue:      opp.SellVenue,
		CreatedAt:      time.Now().UTC(),
	}
	if e.recorder != nil {
		_ = e.recorder.SaveExecution(record)
	}
	e.risk.RecordPnL(realized)
	e.cb.RecordSuccess()

	return Result{Outcome: OutcomeBothFilled, Record: record, RealizedProfit: realized}
}

type legResult struct {
	venue  types.Venue
	result venue.FillResult
	err    error
}

func (e *Engine) fireLegs(ctx context.Context, mapping types.EventMapping, opp types.Opportunity, qty decimal.Decimal) (buy, sell legResult, latency time.Duration) {
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		buy = e.placeLeg(ctx, opp.BuyVenue, venue.Order{
			Contract: contractFor(mapping, opp.BuyVenue), Side: types.OrderBuy, Price: opp.BuyPrice, Quantity: qty,
		})
	}()
	go func() {
		defer wg.Done()
		sell = e.placeLeg(ctx, opp.SellVenue, venue.Order{
			Contract: contractFor(mapping, opp.SellVenue), Side: types.OrderSell, Price: opp.SellPrice, Quantity: qty,
		})
	}()
	wg.Wait()

	return buy, sell, time.Since(start)
}

func (e *Engine) placeLeg(ctx context.Context, v types.Venue, order venue.Order) legResult {
	adapter := e.adapters.forVenue(v)
	placementCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.OrderPlacementMax > 0 {
		placementCtx, cancel = context.WithTimeout(ctx, e.cfg.OrderPlacementMax)
		defer cancel()
	}

	res, err := adapter.PlaceFOK(placementCtx, order)
	if placementCtx.Err() != nil {
		// Placement exceeded the latency budget: treat as TransportError
		// even if a late response eventually arrives, per SPEC_FULL.md §4.7
		// step 6.
		return legResult{venue: v, result: venue.FillResult{Outcome: venue.OutcomeTransportError, Timestamp: time.Now().UTC()}, err: placementCtx.Err()}
	}
	return legResult{venue: v, result: res, err: err}
}

func (e *Engine) classify(mapping types.EventMapping, opp types.Opportunity, qty decimal.Decimal, buy, sell legResult, fireLatency time.Duration) Result {
	if e.cfg.EndToEndMaxMs > 0 && fireLatency > e.cfg.EndToEndMaxMs {
		e.log.Warn().Dur("latency", fireLatency).Str("mapping", mapping.ID).Msg("execution exceeded end-to-end latency budget")
	}

	buyFilled := buy.result.Outcome == venue.OutcomeFilled
	sellFilled := sell.result.Outcome == venue.OutcomeFilled
	buyTransport := buy.result.Outcome == venue.OutcomeTransportError
	sellTransport := sell.result.Outcome == venue.OutcomeTransportError

	switch {
	case buyFilled && sellFilled:
		return e.bothFilled(mapping, opp, qty, buy, sell)

	case !buyFilled && !sellFilled && !buyTransport && !sellTransport:
		// Both cleanly rejected.
		return e.bothRejected(mapping, opp)

	case buyTransport && sellTransport:
		return e.reconcileAmbiguous(mapping, opp, qty, buy, sell)

	default:
		// One filled, one rejected, or exactly one leg TransportError: both
		// are AsymmetricExecution per SPEC_FULL.md §4.7 step 5.
		return e.asymmetric(mapping, opp, qty, buy, sell)
	}
}

func (e *Engine) bothFilled(mapping types.EventMapping, opp types.Opportunity, qty decimal.Decimal, buy, sell legResult) Result {
	totalFees := buy.result.Fees.Add(sell.result.Fees)
	realized := sell.result.FillPrice.Sub(buy.result.FillPrice).Mul(qty).Sub(totalFees)

	now := time.Now().UTC()
	e.risk.ApplyFill(types.Position{ID: uuid.NewString(), Venue: opp.BuyVenue, Contract: contractFor(mapping, opp.BuyVenue), MappingID: mapping.ID, Side: types.SideYes, Quantity: qty, AvgPrice: buy.result.FillPrice, OpenedAt: now, UpdatedAt: now})
	e.risk.ApplyFill(types.Position{ID: uuid.NewString(), Venue: opp.SellVenue, Contract: contractFor(mapping, opp.SellVenue), MappingID: mapping.ID, Side: types.SideNo, Quantity: qty, AvgPrice: sell.result.FillPrice, OpenedAt: now, UpdatedAt: now})
	e.risk.RecordPnL(realized)
	e.cb.RecordSuccess()

	record := types.ExecutionRecord{
		ID: uuid.NewString(), MappingID: mapping.ID, OpportunityID: opp.ID,
		Status: types.StatusComplete, Qty: qty, RealizedProfit: realized,
		BuyVenue: opp.BuyVenue, SellVenue: opp.SellVenue, CreatedAt: now,
	}
	if e.recorder != nil {
		_ = e.recorder.SaveExecution(record)
	}
	if e.alert != nil {
		e.alert.Notify("medium", "trade_executed", mapping.ID)
	}
	return Result{Outcome: OutcomeBothFilled, Record: record, RealizedProfit: realized}
}

func (e *Engine) bothRejected(mapping types.EventMapping, opp types.Opportunity) Result {
	record := types.ExecutionRecord{
		ID: uuid.NewString(), MappingID: mapping.ID, OpportunityID: opp.ID,
		Status: types.StatusNotExecuted, CreatedAt: time.Now().UTC(),
	}
	if e.recorder != nil {
		_ = e.recorder.SaveExecution(record)
	}
	return Result{Outcome: OutcomeBothRejected, Record: record}
}

func (e *Engine) asymmetric(mapping types.EventMapping, opp types.Opportunity, qty decimal.Decimal, buy, sell legResult) Result {
	now := time.Now().UTC()

	// Record whichever leg actually filled so the open, unhedged position is
	// visible in the ledger for human resolution — the engine never attempts
	// an automatic unwind.
	if buy.result.Outcome == venue.OutcomeFilled {
		e.risk.ApplyFill(types.Position{ID: uuid.NewString(), Venue: opp.BuyVenue, Contract: contractFor(mapping, opp.BuyVenue), MappingID: mapping.ID, Side: types.SideYes, Quantity: qty, AvgPrice: buy.result.FillPrice, OpenedAt: now, UpdatedAt: now})
	}
	if sell.result.Outcome == venue.OutcomeFilled {
		e.risk.ApplyFill(types.Position{ID: uuid.NewString(), Venue: opp.SellVenue, Contract: contractFor(mapping, opp.SellVenue), MappingID: mapping.ID, Side: types.SideNo, Quantity: qty, AvgPrice: sell.result.FillPrice, OpenedAt: now, UpdatedAt: now})
	}

	record := types.ExecutionRecord{
		ID: uuid.NewString(), MappingID: mapping.ID, OpportunityID: opp.ID,
		Status: types.StatusFailed, Qty: qty,
		BuyVenue: opp.BuyVenue, SellVenue: opp.SellVenue, CreatedAt: now,
	}
	if e.recorder != nil {
		_ = e.recorder.SaveExecution(record)
	}
	e.cb.RecordFailure(types.FailureAsymmetric)
	if e.alert != nil {
		e.alert.Notify("critical", "asymmetric_execution", mapping.ID)
	}
	return Result{Outcome: OutcomeAsymmetric, Record: record, Reason: "one leg filled, the other did not"}
}

// reconcileAmbiguous handles the case where both legs returned
// TransportError: query get_positions on both venues and classify from
// ground truth, escalating to AsymmetricExecution if reconciliation cannot
// disambiguate within the bounded timeout.
func (e *Engine) reconcileAmbiguous(mapping types.EventMapping, opp types.Opportunity, qty decimal.Decimal, buy, sell legResult) Result {
	timeout := e.cfg.ReconcileTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	outcome, err := Reconcile(ctx, e.adapters, mapping, opp)
	if err != nil {
		e.log.Error().Err(err).Str("mapping", mapping.ID).Msg("reconciliation failed to disambiguate within timeout")
		return e.asymmetric(mapping, opp, qty, buy, sell)
	}

	switch outcome {
	case ReconciledBothFilled:
		buy.result.Outcome = venue.OutcomeFilled
		buy.result.FillPrice = opp.BuyPrice
		sell.result.Outcome = venue.OutcomeFilled
		sell.result.FillPrice = opp.SellPrice
		return e.bothFilled(mapping, opp, qty, buy, sell)
	case ReconciledBothRejected:
		return e.bothRejected(mapping, opp)
	default:
		return e.asymmetric(mapping, opp, qty, buy, sell)
	}
}
