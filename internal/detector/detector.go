// Package detector implements the ArbitrageDetector component (SPEC_FULL.md
// §4.5): a pure computation over two order books and a mapping, cached per
// mapping with a TTL.
package detector

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/types"
)

// Config carries the detector's thresholds from SPEC_FULL.md §6.
type Config struct {
	MinProfitThreshold decimal.Decimal // fraction of buy price
	MinLiquidityDepth  decimal.Decimal
	OpportunityTTL     time.Duration
	Fees               FeeConfig
}

// Detector is the ArbitrageDetector.
type Detector struct {
	cfg   Config
	cache *opportunityCache
}

// New creates a Detector with its own opportunity cache.
func New(cfg Config) *Detector {
	ttl := cfg.OpportunityTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Detector{cfg: cfg, cache: newOpportunityCache(ttl)}
}

type directionResult struct {
	buyVenue, sellVenue       types.Venue
	buyPrice, sellPrice       decimal.Decimal
	buyAvailable, sellAvailable decimal.Decimal
	gross, fees, netPerUnit   decimal.Decimal
	maxQty                    decimal.Decimal
}

// Detect implements SPEC_FULL.md §4.5: it computes both directions, filters,
// picks the better one, and caches the result. now is threaded in explicitly
// so the TTL computation stays deterministic and testable.
func (d *Detector) Detect(now time.Time, mapping types.EventMapping, v1Book, v2Book types.OrderBook) (types.Opportunity, bool) {
	b1, hasB1 := v1Book.BestBid()
	a1, hasA1 := v1Book.BestAsk()
	b2, hasB2 := v2Book.BestBid()
	a2, hasA2 := v2Book.BestAsk()

	var directions []directionResult

	if hasA1 && hasB2 {
		if dr, ok := d.evalDirection(types.VenueV1, types.VenueV2, a1, b2); ok {
			directions = append(directions, dr)
		}
	}
	if hasA2 && hasB1 {
		if dr, ok := d.evalDirection(types.VenueV2, types.VenueV1, a2, b1); ok {
			directions = append(directions, dr)
		}
	}

	if len(directions) == 0 {
		d.cache.delete(mapping.ID)
		return types.Opportunity{}, false
	}

	best := directions[0]
	if len(directions) == 2 {
		scoreA := directions[0].netPerUnit.Mul(directions[0].maxQty)
		scoreB := directions[1].netPerUnit.Mul(directions[1].maxQty)
		if scoreB.GreaterThan(scoreA) {
			best = directions[1]
		}
	}

	if best.maxQty.LessThan(d.cfg.MinLiquidityDepth) {
		d.cache.delete(mapping.ID)
		return types.Opportunity{}, false
	}

	opp := types.Opportunity{
		ID:               uuid.NewString(),
		CreatedAt:        now,
		MappingID:        mapping.ID,
		BuyVenue:         best.buyVenue,
		BuyPrice:         best.buyPrice,
		BuyAvailableQty:  best.buyAvailable,
		SellVenue:        best.sellVenue,
		SellPrice:        best.sellPrice,
		SellAvailableQty: best.sellAvailable,
		GrossSpread:      best.gross,
		EstFees:          best.fees,
		NetProfitPerUnit: best.netPerUnit,
		MaxQty:           best.maxQty,
		ExecutionRisk:    executionRisk(best.maxQty, d.cfg.MinLiquidityDepth),
		ExpiresAt:        now.Add(d.nonZeroTTL()),
	}

	d.cache.put(opp)
	return opp, true
}

func (d *Detector) nonZeroTTL() time.Duration {
	if d.cfg.OpportunityTTL <= 0 {
		return 5 * time.Second
	}
	return d.cfg.OpportunityTTL
}

// evalDirection evaluates one of the two trade directions: buy at ask on
// buyVenue, sell at bid on sellVenue.
func (d *Detector) evalDirection(buyVenue, sellVenue types.Venue, ask, bid types.PriceLevel) (directionResult, bool) {
	zero := decimal.Zero
	one := decimal.NewFromInt(1)
	if ask.Price.LessThanOrEqual(zero) || ask.Price.GreaterThanOrEqual(one) {
		return directionResult{}, false
	}
	if bid.Price.LessThanOrEqual(zero) || bid.Price.GreaterThanOrEqual(one) {
		return directionResult{}, false
	}
	if !ask.Price.LessThan(bid.Price) {
		return directionResult{}, false
	}

	gross := bid.Price.Sub(ask.Price)
	maxQty := ask.Size
	if bid.Size.LessThan(maxQty) {
		maxQty = bid.Size
	}

	fees := d.cfg.Fees.EstimateFees(buyVenue, sellVenue, ask.Price, bid.Price, decimal.NewFromInt(1))
	netPerUnit := gross.Sub(fees)

	threshold := d.cfg.MinProfitThreshold.Mul(ask.Price)
	if !netPerUnit.GreaterThan(threshold) {
		return directionResult{}, false
	}

	return directionResult{
		buyVenue: buyVenue, sellVenue: sellVenue,
		buyPrice: ask.Price, sellPrice: bid.Price,
		buyAvailable: ask.Size, sellAvailable: bid.Size,
		gross: gross, fees: fees, netPerUnit: netPerUnit,
		maxQty: maxQty,
	}, true
}

// executionRisk is a monotonically decreasing function of
// max_qty/min_liquidity_depth, clamped to [0, 1], per SPEC_FULL.md §4.5.
func executionRisk(maxQty, minLiquidityDepth decimal.Decimal) decimal.Decimal {
	if minLiquidityDepth.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	ratio := maxQty.Div(minLiquidityDepth)
	one := decimal.NewFromInt(1)
	risk := one.Div(one.Add(ratio))
	if risk.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if risk.GreaterThan(one) {
		return one
	}
	return risk
}

// Cached returns the last cached opportunity for a mapping, if still fresh.
func (d *Detector) Cached(mappingID string, now time.Time) (types.Opportunity, bool) {
	return d.cache.get(mappingID, now)
}
