package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arbtrader/arbtrader/internal/types"
)

type fakeBreaker struct{ paused bool }

func (f *fakeBreaker) IsPaused() bool { return f.paused }

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testConfig() Config {
	return Config{
		MaxTotalExposure:    dec(1000),
		MaxExposurePerEvent: dec(500),
		MaxImbalance:        dec(100),
		DailyLossLimit:      dec(200),
		MinProfitThreshold:  dec(0.01),
		MinQty:              dec(1),
		MaxQtyPerTrade:      dec(200),
		MinTradeValue:       dec(5),
		MinProfitAbs:        dec(0.10),
		MinLiquidityDepth:   dec(10),
		ExecutionRiskWarn:   dec(0.5),
	}
}

func baseOpportunity() types.Opportunity {
	return types.Opportunity{
		MappingID:        "m1",
		BuyPrice:         dec(0.40),
		SellPrice:        dec(0.50),
		NetProfitPerUnit: dec(0.05),
		MaxQty:           dec(50),
		ExecutionRisk:    dec(0.1),
	}
}

func TestValidate_RejectsWhenCircuitBreakerPaused(t *testing.T) {
	m := New(testConfig(), zerolog.Nop(), &fakeBreaker{paused: true})
	d := m.Validate(baseOpportunity(), dec(10))
	require.False(t, d.Approved)
	require.Equal(t, ReasonCircuitPaused, d.Reasons[0])
}

func TestValidate_ChecksRunInOrderShortCircuitingOnFirstFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotalExposure = dec(1) // force exposure failure ahead of every later check
	m := New(cfg, zerolog.Nop(), &fakeBreaker{})

	d := m.Validate(baseOpportunity(), dec(100))
	require.False(t, d.Approved)
	require.Equal(t, ReasonTotalExposure, d.Reasons[0])
}

func TestValidate_RejectsQuantityOutOfRange(t *testing.T) {
	m := New(testConfig(), zerolog.Nop(), &fakeBreaker{})
	d := m.Validate(baseOpportunity(), dec(0.5))
	require.False(t, d.Approved)
	require.Equal(t, ReasonQtyOutOfRange, d.Reasons[0])
}

func TestValidate_ApprovesAndAttachesNonBlockingWarnings(t *testing.T) {
	m := New(testConfig(), zerolog.Nop(), &fakeBreaker{})
	opp := baseOpportunity()
	opp.MaxQty = dec(5) // below MinLiquidityDepth
	opp.ExecutionRisk = dec(0.9)

	d := m.Validate(opp, dec(20)) // notional 20 × 0.40 = 8 clears MinTradeValue 5
	require.True(t, d.Approved)
	require.Contains(t, d.Warnings, WarningLowLiquidity)
	require.Contains(t, d.Warnings, WarningHighExecRisk)
}

func TestValidate_RejectsWhenDailyLossLimitBreached(t *testing.T) {
	m := New(testConfig(), zerolog.Nop(), &fakeBreaker{})
	m.RecordPnL(dec(-250))

	d := m.Validate(baseOpportunity(), dec(10))
	require.False(t, d.Approved)
	require.Equal(t, ReasonDailyLoss, d.Reasons[0])
}

func TestTotalExposure_EqualsSumOfQtyTimesAvgPrice(t *testing.T) {
	m := New(testConfig(), zerolog.Nop(), &fakeBreaker{})

	now := time.Now().UTC()
	m.ApplyFill(types.Position{Venue: types.VenueV1, Contract: "c1", MappingID: "m1", Side: types.SideYes, Quantity: dec(10), AvgPrice: dec(0.40), UpdatedAt: now})
	m.ApplyFill(types.Position{Venue: types.VenueV2, Contract: "c2", MappingID: "m1", Side: types.SideYes, Quantity: dec(10), AvgPrice: dec(0.55), UpdatedAt: now})

	want := dec(10).Mul(dec(0.40)).Add(dec(10).Mul(dec(0.55)))
	require.True(t, m.TotalExposure().Equal(want))
}

func TestApplyFill_WeightAveragesSamePositionKey(t *testing.T) {
	m := New(testConfig(), zerolog.Nop(), &fakeBreaker{})
	now := time.Now().UTC()

	m.ApplyFill(types.Position{Venue: types.VenueV1, Contract: "c1", MappingID: "m1", Quantity: dec(10), AvgPrice: dec(0.40), UpdatedAt: now})
	m.ApplyFill(types.Position{Venue: types.VenueV1, Contract: "c1", MappingID: "m1", Quantity: dec(10), AvgPrice: dec(0.60), UpdatedAt: now})

	positions := m.Positions()
	require.Len(t, positions, 1)
	require.True(t, positions[0].Quantity.Equal(dec(20)))
	require.True(t, positions[0].AvgPrice.Equal(dec(0.50)))
}

func TestReconcile_LedgerMatchesStateStoreSnapshotAfterReplace(t *testing.T) {
	m := New(testConfig(), zerolog.Nop(), &fakeBreaker{})
	now := time.Now().UTC()
	m.ApplyFill(types.Position{Venue: types.VenueV1, Contract: "stale", MappingID: "m1", Quantity: dec(5), AvgPrice: dec(0.3), UpdatedAt: now})

	fresh := []types.Position{
		{Venue: types.VenueV1, Contract: "c1", MappingID: "m1", Quantity: dec(7), AvgPrice: dec(0.45), UpdatedAt: now},
		{Venue: types.VenueV2, Contract: "c2", MappingID: "m1", Quantity: dec(7), AvgPrice: dec(0.50), UpdatedAt: now},
	}
	m.Reconcile(fresh)

	got := m.Positions()
	require.Len(t, got, 2)

	var total decimal.Decimal
	for _, p := range got {
		total = total.Add(p.Quantity.Mul(p.AvgPrice))
	}
	require.True(t, total.Equal(m.TotalExposure()), "ledger's computed exposure must equal the sum over the reconciled positions returned for persistence")
}

func TestOptimalQty_RespectsAllBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQtyPerTrade = dec(20)
	m := New(cfg, zerolog.Nop(), &fakeBreaker{})

	opp := baseOpportunity()
	opp.BuyAvailableQty = dec(1000)
	opp.SellAvailableQty = dec(1000)
	opp.MaxQty = dec(1000)

	qty := m.OptimalQty(opp)
	require.True(t, qty.LessThanOrEqual(dec(20)), "optimal qty must respect max_qty_per_trade")
	require.True(t, qty.GreaterThanOrEqual(cfg.MinQty))
}
