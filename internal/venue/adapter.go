// Package venue defines the normalized interface the core trades against
// (SPEC_FULL.md §4.1) and the shared rate-limit shaping both reference
// adapters use. Concrete adapters live in venue/v1 and venue/v2.
package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/types"
)

// ErrorKind classifies an adapter-level failure.
type ErrorKind string

const (
	ErrTransient    ErrorKind = "transient"
	ErrUnauthorized ErrorKind = "unauthorized"
	ErrRateLimited  ErrorKind = "rate_limited"
	ErrNotFound     ErrorKind = "not_found"
	ErrFatal        ErrorKind = "fatal"
)

// Error wraps an underlying cause with an adapter ErrorKind so callers can
// branch on retry policy without string matching.
type Error struct {
	Kind  ErrorKind
	Venue types.Venue
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("venue %s: %s: %s: %v", e.Venue, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("venue %s: %s: %s", e.Venue, e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(v types.Venue, op string, kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Venue: v, Op: op, Err: cause}
}

// Retriable reports whether the retry policy in SPEC_FULL.md §7 allows
// retrying this error.
func (e *Error) Retriable() bool {
	return e.Kind == ErrTransient || e.Kind == ErrRateLimited
}

// Order is a single-leg fill-or-kill order request.
type Order struct {
	Contract string
	Side     types.OrderSide
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// FillOutcome is the closed set of outcomes place_fok can return.
type FillOutcome string

const (
	OutcomeFilled         FillOutcome = "filled"
	OutcomeRejected       FillOutcome = "rejected"
	OutcomeTransportError FillOutcome = "transport_error"
)

// FillResult is the result of a place_fok call. Exactly one of the three
// outcome shapes is populated, selected by Outcome.
//
// The critical contract (SPEC_FULL.md §4.1): Rejected guarantees no fill
// occurred on the venue. TransportError is ambiguous and must be treated as
// a potential fill until reconciled — never collapsed into Rejected.
type FillResult struct {
	Outcome FillOutcome

	// Populated when Outcome == OutcomeFilled.
	FillPrice decimal.Decimal
	FillQty   decimal.Decimal
	Fees      decimal.Decimal
	OrderID   string
	Timestamp time.Time

	// Populated when Outcome == OutcomeRejected.
	RejectReason string

	// Populated when Outcome == OutcomeTransportError.
	TransportDetail string
}

// Balances is a venue's reported account balances, keyed by asset symbol.
type Balances map[string]decimal.Decimal

// BookHandler receives push updates from subscribe_book.
type BookHandler func(types.OrderBook)

// Adapter is the interface the core trades against. Implementations own
// unit conversion, rate-limit shaping and authentication; none of that is a
// core concern.
type Adapter interface {
	Venue() types.Venue

	GetOrderBook(ctx context.Context, contract string) (types.OrderBook, error)
	PlaceFOK(ctx context.Context, order Order) (FillResult, error)
	GetBalances(ctx context.Context) (Balances, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
	SubscribeBook(ctx context.Context, contract string, handler BookHandler) error
	CancelOrder(ctx context.Context, orderID string) error

	// Close releases any background connections (WebSocket loops, etc).
	Close() error
}
