// Package types holds the value types shared across the engine's packages.
//
// Everything here is a plain data type on purpose: keeping them in one leaf
// package (rather than defining them next to the component that produces
// them) avoids import cycles between matcher, detector, risk and execution,
// which all need to see each other's records.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies one of the two trading venues the engine arbitrages
// between. The set is closed; there is no provision for a third venue.
type Venue string

const (
	VenueV1 Venue = "v1" // crypto-settled CLOB
	VenueV2 Venue = "v2" // regulated USD CLOB
)

func (v Venue) Other() Venue {
	if v == VenueV1 {
		return VenueV2
	}
	return VenueV1
}

func (v Venue) Valid() bool {
	return v == VenueV1 || v == VenueV2
}

// Side is the outcome side of a binary contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// OrderSide is the trading direction of an order, distinct from the
// contract's outcome Side.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// PriceLevel is one (price, size) resting level in an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is the normalized top-of-book view the core consumes. Bids are
// sorted descending by price, asks ascending. Prices live on the core's
// canonical [0, 1] scale; venue-native units are converted at the adapter
// boundary.
type OrderBook struct {
	Venue     Venue
	Contract  string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest resting bid, or a zero level if the book is
// empty on that side.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest resting ask, or a zero level if the book is
// empty on that side.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// MatchMethod records how an EventMapping was produced.
type MatchMethod string

const (
	MatchExact  MatchMethod = "exact"
	MatchFuzzy  MatchMethod = "fuzzy"
	MatchManual MatchMethod = "manual"
)

// EventMapping declares an equivalence between a V1 contract and a V2
// contract for cross-venue arbitrage purposes.
type EventMapping struct {
	ID              string
	V1Contract      string
	V2Contract      string
	Description     string
	Confidence      decimal.Decimal
	Method          MatchMethod
	ResolutionTime  time.Time
	OutcomeAlignment string // e.g. "v1.yes == v2.yes" or "v1.yes == v2.no"
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanTrade reports whether the mapping is both active and meets the
// supplied confidence bar.
func (m EventMapping) CanTrade(minConfidence decimal.Decimal) bool {
	return m.Active && m.Confidence.GreaterThanOrEqual(minConfidence)
}

// Opportunity is a time-bounded, quantified arbitrage candidate derived
// from the current tops of book of two mapped contracts.
type Opportunity struct {
	ID                string
	CreatedAt         time.Time
	MappingID         string
	BuyVenue          Venue
	BuyPrice          decimal.Decimal
	BuyAvailableQty   decimal.Decimal
	SellVenue         Venue
	SellPrice         decimal.Decimal
	SellAvailableQty  decimal.Decimal
	GrossSpread       decimal.Decimal
	EstFees           decimal.Decimal
	NetProfitPerUnit  decimal.Decimal
	MaxQty            decimal.Decimal
	ExecutionRisk     decimal.Decimal
	ExpiresAt         time.Time
}

// Expired reports whether the opportunity's TTL has elapsed as of now.
func (o Opportunity) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// Position is an aggregated holding in one contract on one venue.
type Position struct {
	ID        string
	Venue     Venue
	Contract  string
	MappingID string
	Side      Side
	Quantity  decimal.Decimal
	AvgPrice  decimal.Decimal
	OpenedAt  time.Time
	UpdatedAt time.Time
}

// Inventory is the derived per-mapping view across both venues and both
// outcome sides, used by RiskManager to compute imbalance.
type Inventory struct {
	MappingID      string
	V1Yes          decimal.Decimal
	V1No           decimal.Decimal
	V2Yes          decimal.Decimal
	V2No           decimal.Decimal
	NetPosition    decimal.Decimal
	ImbalanceValue decimal.Decimal
	NeedsRebalance bool
}

// DailyState tracks counters that reset at the UTC midnight boundary.
type DailyState struct {
	TradingDate  string // YYYY-MM-DD, UTC
	PnL          decimal.Decimal
	TradeCount   int
	Volume       decimal.Decimal
	LastTradeAt  time.Time
}

// FailureKind classifies a circuit-breaker-relevant failure.
type FailureKind string

const (
	FailureExecution    FailureKind = "execution_failure"
	FailureAsymmetric   FailureKind = "asymmetric_execution"
	FailureConnLost     FailureKind = "connection_lost"
	FailureDailyLoss    FailureKind = "daily_loss_limit"
	FailureRateLimited  FailureKind = "rate_limit_exceeded"
	FailureStateUnrec   FailureKind = "state_unrecoverable"
)

// CircuitBreakerState is the persisted snapshot of the circuit breaker.
type CircuitBreakerState struct {
	Paused              bool
	Reason              string
	PausedAt            time.Time
	ConsecutiveFailures int
	AsymmetricCount     int
}

// OperatingMode gates whether the execution engine touches real venues.
type OperatingMode string

const (
	ModeDryRun OperatingMode = "dry_run"
	ModeLive   OperatingMode = "live"
)

// ExecutionStatus is the terminal classification of one execution attempt.
type ExecutionStatus string

const (
	StatusComplete    ExecutionStatus = "complete"
	StatusNotExecuted ExecutionStatus = "not_executed"
	StatusFailed      ExecutionStatus = "failed"
)

// ExecutionRecord is the durable, append-only record of one execution
// attempt, regardless of outcome.
type ExecutionRecord struct {
	ID             string
	MappingID      string
	OpportunityID  string
	Status         ExecutionStatus
	IsDryRun       bool
	Qty            decimal.Decimal
	RealizedProfit decimal.Decimal
	BuyVenue       Venue
	SellVenue      Venue
	BuyOutcome     string
	SellOutcome    string
	CreatedAt      time.Time
}
