package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arbtrader/arbtrader/internal/types"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func level(price, size float64) types.PriceLevel {
	return types.PriceLevel{Price: dec(price), Size: dec(size)}
}

func testDetectorConfig() Config {
	return Config{
		MinProfitThreshold: dec(0.01),
		MinLiquidityDepth:  dec(5),
		OpportunityTTL:     5 * time.Second,
		Fees:               DefaultFeeConfig(),
	}
}

func TestDetect_DirectionA_BuyV1SellV2(t *testing.T) {
	d := New(testDetectorConfig())
	mapping := types.EventMapping{ID: "m1"}

	v1Book := types.OrderBook{Venue: types.VenueV1, Asks: []types.PriceLevel{level(0.30, 100)}, Bids: []types.PriceLevel{level(0.28, 100)}}
	v2Book := types.OrderBook{Venue: types.VenueV2, Bids: []types.PriceLevel{level(0.45, 100)}, Asks: []types.PriceLevel{level(0.47, 100)}}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opp, ok := d.Detect(now, mapping, v1Book, v2Book)
	require.True(t, ok)
	require.Equal(t, types.VenueV1, opp.BuyVenue)
	require.Equal(t, types.VenueV2, opp.SellVenue)
	require.True(t, opp.NetProfitPerUnit.GreaterThan(decimal.Zero))
	require.Equal(t, now.Add(5*time.Second), opp.ExpiresAt)
}

func TestDetect_DirectionB_BuyV2SellV1(t *testing.T) {
	d := New(testDetectorConfig())
	mapping := types.EventMapping{ID: "m1"}

	v1Book := types.OrderBook{Venue: types.VenueV1, Bids: []types.PriceLevel{level(0.60, 100)}, Asks: []types.PriceLevel{level(0.62, 100)}}
	v2Book := types.OrderBook{Venue: types.VenueV2, Asks: []types.PriceLevel{level(0.40, 100)}, Bids: []types.PriceLevel{level(0.42, 100)}}

	now := time.Now().UTC()
	opp, ok := d.Detect(now, mapping, v1Book, v2Book)
	require.True(t, ok)
	require.Equal(t, types.VenueV2, opp.BuyVenue)
	require.Equal(t, types.VenueV1, opp.SellVenue)
}

func TestDetect_NoOpportunityWhenBooksCross(t *testing.T) {
	d := New(testDetectorConfig())
	mapping := types.EventMapping{ID: "m1"}

	v1Book := types.OrderBook{Venue: types.VenueV1, Asks: []types.PriceLevel{level(0.50, 100)}, Bids: []types.PriceLevel{level(0.48, 100)}}
	v2Book := types.OrderBook{Venue: types.VenueV2, Bids: []types.PriceLevel{level(0.50, 100)}, Asks: []types.PriceLevel{level(0.52, 100)}}

	_, ok := d.Detect(time.Now().UTC(), mapping, v1Book, v2Book)
	require.False(t, ok)
}

func TestDetect_RejectsThinLiquidityBelowMinDepth(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.MinLiquidityDepth = dec(50)
	d := New(cfg)
	mapping := types.EventMapping{ID: "m1"}

	v1Book := types.OrderBook{Venue: types.VenueV1, Asks: []types.PriceLevel{level(0.30, 3)}, Bids: []types.PriceLevel{level(0.28, 3)}}
	v2Book := types.OrderBook{Venue: types.VenueV2, Bids: []types.PriceLevel{level(0.45, 3)}, Asks: []types.PriceLevel{level(0.47, 3)}}

	_, ok := d.Detect(time.Now().UTC(), mapping, v1Book, v2Book)
	require.False(t, ok, "opportunity max_qty below min_liquidity_depth must be rejected")
}

func TestDetect_RejectsBelowProfitThreshold(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.MinProfitThreshold = dec(0.50) // unreasonably high bar
	d := New(cfg)
	mapping := types.EventMapping{ID: "m1"}

	v1Book := types.OrderBook{Venue: types.VenueV1, Asks: []types.PriceLevel{level(0.30, 100)}, Bids: []types.PriceLevel{level(0.28, 100)}}
	v2Book := types.OrderBook{Venue: types.VenueV2, Bids: []types.PriceLevel{level(0.32, 100)}, Asks: []types.PriceLevel{level(0.34, 100)}}

	_, ok := d.Detect(time.Now().UTC(), mapping, v1Book, v2Book)
	require.False(t, ok)
}

func TestDetect_PicksDirectionWithHigherTotalProfit(t *testing.T) {
	d := New(testDetectorConfig())
	mapping := types.EventMapping{ID: "m1"}

	// Direction A (buy v1 ask 0.10, sell v2 bid 0.30): wide but thin.
	// Direction B (buy v2 ask 0.60, sell v1 bid 0.70): tighter but deep.
	v1Book := types.OrderBook{
		Venue: types.VenueV1,
		Asks:  []types.PriceLevel{level(0.10, 2)},
		Bids:  []types.PriceLevel{level(0.70, 500)},
	}
	v2Book := types.OrderBook{
		Venue: types.VenueV2,
		Bids:  []types.PriceLevel{level(0.30, 2)},
		Asks:  []types.PriceLevel{level(0.60, 500)},
	}

	opp, ok := d.Detect(time.Now().UTC(), mapping, v1Book, v2Book)
	require.True(t, ok)
	require.Equal(t, types.VenueV2, opp.BuyVenue, "deep direction B should win on net_profit * max_qty")
}

func TestExecutionRisk_MonotonicallyDecreasesWithDepthRatio(t *testing.T) {
	minDepth := dec(10)
	low := executionRisk(dec(1), minDepth)
	high := executionRisk(dec(100), minDepth)
	require.True(t, low.GreaterThan(high), "thinner max_qty relative to depth must carry higher execution risk")
	require.True(t, low.LessThanOrEqual(decimal.NewFromInt(1)))
	require.True(t, high.GreaterThanOrEqual(decimal.Zero))
}

func TestCache_ExpiresAndIsRechecked(t *testing.T) {
	d := New(testDetectorConfig())
	mapping := types.EventMapping{ID: "m1"}

	v1Book := types.OrderBook{Venue: types.VenueV1, Asks: []types.PriceLevel{level(0.30, 100)}, Bids: []types.PriceLevel{level(0.28, 100)}}
	v2Book := types.OrderBook{Venue: types.VenueV2, Bids: []types.PriceLevel{level(0.45, 100)}, Asks: []types.PriceLevel{level(0.47, 100)}}

	now := time.Now().UTC()
	opp, ok := d.Detect(now, mapping, v1Book, v2Book)
	require.True(t, ok)

	cached, ok := d.Cached(mapping.ID, now)
	require.True(t, ok)
	require.Equal(t, opp.ID, cached.ID)

	_, ok = d.Cached(mapping.ID, now.Add(10*time.Second))
	require.False(t, ok, "expired entries must be rejected at read time even if the janitor has not swept yet")
}
