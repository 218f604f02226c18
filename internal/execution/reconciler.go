package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/types"
)

// ReconcileOutcome is what querying both venues' live positions revealed
// about an execution whose legs both came back as TransportError.
type ReconcileOutcome string

const (
	ReconciledBothFilled   ReconcileOutcome = "both_filled"
	ReconciledBothRejected ReconcileOutcome = "both_rejected"
	ReconciledAsymmetric   ReconcileOutcome = "asymmetric"
)

// Reconcile queries get_positions on both venues and compares the returned
// holdings against what a successful fill of opp would have produced,
// implementing the reconciliation step in SPEC_FULL.md §4.7 step 5.
//
// Positions are matched by contract id, not MappingID: GetPositions reflects
// what the venue itself holds, and a venue has no notion of the mapping that
// paired its contract with one on the other side — only this engine does.
//
// Grounded on the teacher's execution/reconciler.go RecoverPositions, which
// also treats "what does the venue actually say we hold" as the source of
// truth over locally-tracked order state; this adapts that startup-recovery
// shape into an in-flight disambiguation check.
func Reconcile(ctx context.Context, adapters Adapters, mapping types.EventMapping, opp types.Opportunity) (ReconcileOutcome, error) {
	buyPositions, err := adapters.forVenue(opp.BuyVenue).GetPositions(ctx)
	if err != nil {
		return "", err
	}
	sellPositions, err := adapters.forVenue(opp.SellVenue).GetPositions(ctx)
	if err != nil {
		return "", err
	}

	buyFilled := hasRecentPosition(buyPositions, contractFor(mapping, opp.BuyVenue), types.SideYes)
	sellFilled := hasRecentPosition(sellPositions, contractFor(mapping, opp.SellVenue), types.SideNo)

	switch {
	case buyFilled && sellFilled:
		return ReconciledBothFilled, nil
	case !buyFilled && !sellFilled:
		return ReconciledBothRejected, nil
	default:
		return ReconciledAsymmetric, nil
	}
}

func hasRecentPosition(positions []types.Position, contract string, side types.Side) bool {
	for _, p := range positions {
		if p.Contract == contract && p.Side == side && p.Quantity.GreaterThan(decimal.Zero) {
			return true
		}
	}
	return false
}
