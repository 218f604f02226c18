// Package risk implements the RiskManager component (SPEC_FULL.md §4.6):
// the single gatekeeper through which every proposed trade passes before
// the execution engine is allowed to fire it.
//
// Grounded on the teacher's risk/gate.go CanEnter: an ordered list of hard
// blocks evaluated under one lock, with non-blocking warnings appended
// after the hard checks pass. The threshold shape (config-driven limits
// tracked against a mutable ledger) mirrors risk/manager.go's RiskConfig /
// RiskState split.
package risk

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/types"
)

// Reason is a hard-failure code from validate().
type Reason string

const (
	ReasonCircuitPaused      Reason = "circuit_breaker_paused"
	ReasonTotalExposure      Reason = "max_total_exposure_exceeded"
	ReasonEventExposure      Reason = "max_exposure_per_event_exceeded"
	ReasonImbalance          Reason = "max_imbalance_exceeded"
	ReasonDailyLoss          Reason = "daily_loss_limit_hit"
	ReasonProfitThreshold    Reason = "below_min_profit_threshold"
	ReasonQtyOutOfRange      Reason = "quantity_out_of_range"
	ReasonBelowMinTradeValue Reason = "below_min_trade_value"
	ReasonBelowMinProfitAbs  Reason = "below_min_profit_abs"
)

// Warning is a non-blocking advisory attached to an approved Decision.
type Warning string

const (
	WarningLowLiquidity Warning = "liquidity_below_min_depth"
	WarningHighExecRisk Warning = "execution_risk_above_threshold"
)

// Decision is the outcome of validate().
type Decision struct {
	Approved     bool
	Reasons      []Reason
	Warnings     []Warning
	SuggestedQty decimal.Decimal
}

// Config carries the thresholds from SPEC_FULL.md §6.
type Config struct {
	MaxTotalExposure    decimal.Decimal
	MaxExposurePerEvent decimal.Decimal
	MaxImbalance        decimal.Decimal
	DailyLossLimit      decimal.Decimal
	MinProfitThreshold  decimal.Decimal
	MinQty              decimal.Decimal
	MaxQtyPerTrade      decimal.Decimal
	MinTradeValue       decimal.Decimal
	MinProfitAbs        decimal.Decimal
	MinLiquidityDepth   decimal.Decimal
	ExecutionRiskWarn   decimal.Decimal
}

// CircuitBreaker is the subset of the breaker's API the risk manager needs,
// named locally to avoid an import cycle between risk and circuitbreaker.
type CircuitBreaker interface {
	IsPaused() bool
}

// Manager is the RiskManager. All ledger mutation goes through one lock;
// validate() takes a read lock since it never mutates state.
type Manager struct {
	mu  sync.RWMutex
	cfg Config
	log zerolog.Logger
	cb  CircuitBreaker

	positions map[string]types.Position // keyed by "venue|contract"
	dailyPnL  decimal.Decimal
}

// New creates a Manager.
func New(cfg Config, log zerolog.Logger, cb CircuitBreaker) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       log.With().Str("component", "risk").Logger(),
		cb:        cb,
		positions: make(map[string]types.Position),
	}
}

func positionKey(venue types.Venue, contract string) string {
	return string(venue) + "|" + contract
}

// TotalExposure returns Σ positions.qty × positions.avg_price, recomputed
// fresh rather than tracked incrementally, per the invariant in SPEC_FULL.md
// §4.6.
func (m *Manager) TotalExposure() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalExposureLocked()
}

func (m *Manager) totalExposureLocked() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.positions {
		total = total.Add(p.Quantity.Mul(p.AvgPrice))
	}
	return total
}

func (m *Manager) eventExposureLocked(mappingID string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.positions {
		if p.MappingID == mappingID {
			total = total.Add(p.Quantity.Mul(p.AvgPrice))
		}
	}
	return total
}

// imbalanceLocked returns the signed net position value for a mapping
// across both venues: positive means net long on the buy side of the pair.
func (m *Manager) imbalanceLocked(mappingID string) decimal.Decimal {
	net := decimal.Zero
	for _, p := range m.positions {
		if p.MappingID != mappingID {
			continue
		}
		signed := p.Quantity
		if p.Side == types.SideNo {
			signed = signed.Neg()
		}
		net = net.Add(signed)
	}
	return net
}

// Validate implements SPEC_FULL.md §4.6 validate(): ten ordered checks,
// short-circuiting on the first hard failure. Warnings are only evaluated
// once every hard check has passed.
func (m *Manager) Validate(opp types.Opportunity, proposedQty decimal.Decimal) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fail := func(r Reason) Decision { return Decision{Approved: false, Reasons: []Reason{r}} }

	// 1. Circuit breaker not paused.
	if m.cb != nil && m.cb.IsPaused() {
		return fail(ReasonCircuitPaused)
	}

	// 2. Total exposure cap.
	proposedNotional := proposedQty.Mul(opp.BuyPrice)
	if m.totalExposureLocked().Add(proposedNotional).GreaterThan(m.cfg.MaxTotalExposure) {
		return fail(ReasonTotalExposure)
	}

	// 3. Per-event exposure cap.
	if m.eventExposureLocked(opp.MappingID).Add(proposedNotional).GreaterThan(m.cfg.MaxExposurePerEvent) {
		return fail(ReasonEventExposure)
	}

	// 4. Imbalance cap.
	projectedImbalance := m.imbalanceLocked(opp.MappingID).Add(proposedQty)
	if projectedImbalance.Abs().GreaterThan(m.cfg.MaxImbalance) {
		return fail(ReasonImbalance)
	}

	// 5. Daily loss limit.
	if m.dailyPnL.LessThan(m.cfg.DailyLossLimit.Neg()) {
		return fail(ReasonDailyLoss)
	}

	// 6. Minimum profit threshold, expressed as a fraction of buy price.
	if opp.BuyPrice.IsPositive() {
		profitRatio := opp.NetProfitPerUnit.Div(opp.BuyPrice)
		if profitRatio.LessThan(m.cfg.MinProfitThreshold) {
			return fail(ReasonProfitThreshold)
		}
	}

	// 7. Quantity bounds.
	if proposedQty.LessThan(m.cfg.MinQty) || proposedQty.GreaterThan(m.cfg.MaxQtyPerTrade) {
		return fail(ReasonQtyOutOfRange)
	}

	// 8. Trade economics.
	if proposedNotional.LessThan(m.cfg.MinTradeValue) {
		return fail(ReasonBelowMinTradeValue)
	}
	totalProfit := proposedQty.Mul(opp.NetProfitPerUnit)
	if totalProfit.LessThan(m.cfg.MinProfitAbs) {
		return fail(ReasonBelowMinProfitAbs)
	}

	decision := Decision{Approved: true, SuggestedQty: proposedQty}

	// 9. Liquidity warning (non-blocking).
	if opp.MaxQty.LessThan(m.cfg.MinLiquidityDepth) {
		decision.Warnings = append(decision.Warnings, WarningLowLiquidity)
	}

	// 10. Execution-risk warning (non-blocking).
	threshold := m.cfg.ExecutionRiskWarn
	if threshold.IsZero() {
		threshold = decimal.NewFromFloat(0.5)
	}
	if opp.ExecutionRisk.GreaterThan(threshold) {
		decision.Warnings = append(decision.Warnings, WarningHighExecRisk)
	}

	return decision
}

// OptimalQty implements SPEC_FULL.md §4.6 optimal_qty().
func (m *Manager) OptimalQty(opp types.Opportunity) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	remaining := m.cfg.MaxTotalExposure.Sub(m.totalExposureLocked())
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	byExposure := decimal.Zero
	if opp.BuyPrice.IsPositive() {
		byExposure = remaining.Div(opp.BuyPrice).Floor()
	}

	qty := opp.BuyAvailableQty
	for _, candidate := range []decimal.Decimal{opp.SellAvailableQty, opp.MaxQty, m.cfg.MaxQtyPerTrade, byExposure} {
		if candidate.LessThan(qty) {
			qty = candidate
		}
	}
	qty = qty.Floor()

	if qty.LessThan(m.cfg.MinQty) {
		return m.cfg.MinQty
	}
	return qty
}

// ApplyFill implements SPEC_FULL.md §4.6 apply_fill(): aggregates a fill
// into the ledger, weight-averaging into any existing position on the same
// venue/contract/side.
func (m *Manager) ApplyFill(fill types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := positionKey(fill.Venue, fill.Contract)
	existing, ok := m.positions[key]
	if !ok {
		m.positions[key] = fill
		return
	}

	totalQty := existing.Quantity.Add(fill.Quantity)
	if totalQty.IsZero() {
		delete(m.positions, key)
		return
	}
	weighted := existing.Quantity.Mul(existing.AvgPrice).Add(fill.Quantity.Mul(fill.AvgPrice))
	existing.AvgPrice = weighted.Div(totalQty)
	existing.Quantity = totalQty
	existing.UpdatedAt = fill.UpdatedAt
	m.positions[key] = existing
}

// RecordPnL folds a realized profit/loss into the running daily total.
func (m *Manager) RecordPnL(delta decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = m.dailyPnL.Add(delta)
}

// ResetDaily zeroes the daily P&L counter at the UTC midnight rollover.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = decimal.Zero
}

func (m *Manager) DailyPnL() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyPnL
}

// Reconcile implements SPEC_FULL.md §4.6 reconcile(): replaces the ledger
// atomically with the venues' own reported positions. Used after a
// transport-ambiguous execution outcome, per §4.7.
func (m *Manager) Reconcile(positions []types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := make(map[string]types.Position, len(positions))
	for _, p := range positions {
		fresh[positionKey(p.Venue, p.Contract)] = p
	}
	m.positions = fresh
	m.log.Info().Int("positions", len(fresh)).Msg("risk ledger reconciled from venue state")
}

// Positions returns a snapshot of the ledger, suitable for StateStore
// persistence — the equality invariant in SPEC_FULL.md §4.6 requires this
// to always match what was last handed to the store.
func (m *Manager) Positions() []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// Inventory computes the per-mapping cross-venue view RiskManager exposes
// for rebalancing decisions.
func (m *Manager) Inventory(mappingID string, maxImbalance decimal.Decimal) types.Inventory {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv := types.Inventory{MappingID: mappingID}
	for _, p := range m.positions {
		if p.MappingID != mappingID {
			continue
		}
		switch {
		case p.Venue == types.VenueV1 && p.Side == types.SideYes:
			inv.V1Yes = inv.V1Yes.Add(p.Quantity)
		case p.Venue == types.VenueV1 && p.Side == types.SideNo:
			inv.V1No = inv.V1No.Add(p.Quantity)
		case p.Venue == types.VenueV2 && p.Side == types.SideYes:
			inv.V2Yes = inv.V2Yes.Add(p.Quantity)
		case p.Venue == types.VenueV2 && p.Side == types.SideNo:
			inv.V2No = inv.V2No.Add(p.Quantity)
		}
	}
	inv.NetPosition = inv.V1Yes.Add(inv.V2Yes).Sub(inv.V1No).Sub(inv.V2No)
	inv.ImbalanceValue = inv.NetPosition.Abs()
	inv.NeedsRebalance = inv.ImbalanceValue.GreaterThan(maxImbalance)
	return inv
}
