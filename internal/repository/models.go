// Package repository is the append-only persistence layer for event
// mappings, opportunities and executions (SPEC_FULL.md §6 and §9).
//
// Grounded on the teacher's internal/database/database.go: the same dual
// PostgreSQL/SQLite driver selection by DSN prefix, the same
// gorm.Open/AutoMigrate bootstrap, and the same gorm struct-tag style for
// model definitions.
package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// mappingRow is the persisted shape of types.EventMapping.
type mappingRow struct {
	ID               string `gorm:"primaryKey"`
	V1Contract       string `gorm:"index"`
	V2Contract       string `gorm:"index"`
	Description      string
	Confidence       decimal.Decimal `gorm:"type:decimal(5,4)"`
	Method           string
	ResolutionTime   time.Time
	OutcomeAlignment string
	Active           bool `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (mappingRow) TableName() string { return "event_mappings" }

// opportunityRow is the persisted shape of types.Opportunity, kept for
// after-the-fact analysis of the detector's output (not read back by the
// engine at runtime — that path uses the in-memory TTL cache).
type opportunityRow struct {
	ID               string `gorm:"primaryKey"`
	CreatedAt        time.Time `gorm:"index"`
	MappingID        string    `gorm:"index"`
	BuyVenue         string
	BuyPrice         decimal.Decimal `gorm:"type:decimal(10,6)"`
	SellVenue        string
	SellPrice        decimal.Decimal `gorm:"type:decimal(10,6)"`
	GrossSpread      decimal.Decimal `gorm:"type:decimal(10,6)"`
	EstFees          decimal.Decimal `gorm:"type:decimal(10,6)"`
	NetProfitPerUnit decimal.Decimal `gorm:"type:decimal(10,6)"`
	MaxQty           decimal.Decimal `gorm:"type:decimal(20,6)"`
	ExecutionRisk    decimal.Decimal `gorm:"type:decimal(5,4)"`
	ExpiresAt        time.Time
}

func (opportunityRow) TableName() string { return "opportunities" }

// executionRow is the persisted shape of types.ExecutionRecord — the
// durable, append-only record every execution attempt must produce per
// SPEC_FULL.md §4.7's invariant.
type executionRow struct {
	ID             string `gorm:"primaryKey"`
	MappingID      string `gorm:"index"`
	OpportunityID  string
	Status         string `gorm:"index"`
	IsDryRun       bool
	Qty            decimal.Decimal `gorm:"type:decimal(20,6)"`
	RealizedProfit decimal.Decimal `gorm:"type:decimal(20,6)"`
	BuyVenue       string
	SellVenue      string
	BuyOutcome     string
	SellOutcome    string
	CreatedAt      time.Time `gorm:"index"`
}

func (executionRow) TableName() string { return "executions" }

// positionRow is the persisted shape of types.Position, used for the
// StateStore/ledger cross-check described in SPEC_FULL.md §4.6.
type positionRow struct {
	ID        string `gorm:"primaryKey"`
	Venue     string `gorm:"index"`
	Contract  string `gorm:"index"`
	MappingID string `gorm:"index"`
	Side      string
	Quantity  decimal.Decimal `gorm:"type:decimal(20,6)"`
	AvgPrice  decimal.Decimal `gorm:"type:decimal(10,6)"`
	OpenedAt  time.Time
	UpdatedAt time.Time
}

func (positionRow) TableName() string { return "positions" }
