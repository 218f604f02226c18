package detector

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arbtrader/arbtrader/internal/types"
)

func TestEstimateFees_V1BuyV2Sell(t *testing.T) {
	cfg := DefaultFeeConfig()
	fee := cfg.EstimateFees(types.VenueV1, types.VenueV2, decimal.NewFromFloat(0.40), decimal.NewFromFloat(0.55), decimal.NewFromInt(10))

	// V1 buy leg: 0.02 * 0.40 * 10 + gas = 0.08 + 0.01 = 0.09
	// V2 sell leg: min(0.07*(1-0.55), 0.07) * 10 = min(0.0315, 0.07) * 10 = 0.315
	expected := decimal.NewFromFloat(0.09).Add(decimal.NewFromFloat(0.315))
	require.True(t, fee.Sub(expected).Abs().LessThan(decimal.NewFromFloat(0.0001)), "got %s want %s", fee, expected)
}

func TestEstimateFees_V2FeeIsCapped(t *testing.T) {
	cfg := DefaultFeeConfig()
	cfg.V2FeeRate = decimal.NewFromFloat(0.10)
	// sell price very low -> payout 0.99 -> uncapped fee 0.099 would exceed the 0.07 cap
	fee := cfg.EstimateFees(types.VenueV2, types.VenueV2, decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.01), decimal.NewFromInt(1))
	require.True(t, fee.LessThanOrEqual(decimal.NewFromFloat(0.07)))
}

func TestEstimateFees_MonotonicInQuantity(t *testing.T) {
	cfg := DefaultFeeConfig()
	feeSmall := cfg.EstimateFees(types.VenueV1, types.VenueV2, decimal.NewFromFloat(0.3), decimal.NewFromFloat(0.6), decimal.NewFromInt(1))
	feeLarge := cfg.EstimateFees(types.VenueV1, types.VenueV2, decimal.NewFromFloat(0.3), decimal.NewFromFloat(0.6), decimal.NewFromInt(5))
	require.True(t, feeLarge.GreaterThan(feeSmall), "fees must increase with quantity")
}
