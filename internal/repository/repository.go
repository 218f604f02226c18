package repository

import (
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arbtrader/arbtrader/internal/types"
)

// Repository is the append-only persistence layer. It satisfies
// matcher.Repository and execution.Recorder without either package
// importing this one.
type Repository struct {
	db *gorm.DB
}

// Open connects to a PostgreSQL database when dsn carries a postgres://
// scheme, and otherwise treats dsn as a SQLite file path — the same
// selection rule as the teacher's internal/database/database.go.
func Open(dsn string) (*Repository, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, mkErr
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&mappingRow{}, &opportunityRow{}, &executionRow{}, &positionRow{}); err != nil {
		return nil, err
	}

	return &Repository{db: db}, nil
}

// LoadMappings implements matcher.Repository.
func (r *Repository) LoadMappings() ([]types.EventMapping, error) {
	var rows []mappingRow
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.EventMapping, 0, len(rows))
	for _, row := range rows {
		out = append(out, mappingFromRow(row))
	}
	return out, nil
}

// SaveMapping implements matcher.Repository.
func (r *Repository) SaveMapping(m types.EventMapping) error {
	row := mappingToRow(m)
	return r.db.Save(&row).Error
}

func mappingToRow(m types.EventMapping) mappingRow {
	return mappingRow{
		ID: m.ID, V1Contract: m.V1Contract, V2Contract: m.V2Contract,
		Description: m.Description, Confidence: m.Confidence, Method: string(m.Method),
		ResolutionTime: m.ResolutionTime, OutcomeAlignment: m.OutcomeAlignment,
		Active: m.Active, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func mappingFromRow(row mappingRow) types.EventMapping {
	return types.EventMapping{
		ID: row.ID, V1Contract: row.V1Contract, V2Contract: row.V2Contract,
		Description: row.Description, Confidence: row.Confidence, Method: types.MatchMethod(row.Method),
		ResolutionTime: row.ResolutionTime, OutcomeAlignment: row.OutcomeAlignment,
		Active: row.Active, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
}

// SaveOpportunity persists one detector output for later analysis. Not on
// the hot path: the detector's own TTL cache is what the engine reads.
func (r *Repository) SaveOpportunity(opp types.Opportunity) error {
	row := opportunityRow{
		ID: opp.ID, CreatedAt: opp.CreatedAt, MappingID: opp.MappingID,
		BuyVenue: string(opp.BuyVenue), BuyPrice: opp.BuyPrice,
		SellVenue: string(opp.SellVenue), SellPrice: opp.SellPrice,
		GrossSpread: opp.GrossSpread, EstFees: opp.EstFees,
		NetProfitPerUnit: opp.NetProfitPerUnit, MaxQty: opp.MaxQty,
		ExecutionRisk: opp.ExecutionRisk, ExpiresAt: opp.ExpiresAt,
	}
	return r.db.Create(&row).Error
}

// SaveExecution implements execution.Recorder: every execution attempt,
// regardless of outcome, produces exactly one durable row.
func (r *Repository) SaveExecution(rec types.ExecutionRecord) error {
	row := executionRow{
		ID: rec.ID, MappingID: rec.MappingID, OpportunityID: rec.OpportunityID,
		Status: string(rec.Status), IsDryRun: rec.IsDryRun, Qty: rec.Qty,
		RealizedProfit: rec.RealizedProfit, BuyVenue: string(rec.BuyVenue),
		SellVenue: string(rec.SellVenue), BuyOutcome: rec.BuyOutcome, SellOutcome: rec.SellOutcome,
		CreatedAt: rec.CreatedAt,
	}
	return r.db.Create(&row).Error
}

// SavePositions replaces the persisted position snapshot, mirroring the
// ledger/StateStore equality invariant from SPEC_FULL.md §4.6.
func (r *Repository) SavePositions(positions []types.Position) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&positionRow{}).Error; err != nil {
			return err
		}
		if len(positions) == 0 {
			return nil
		}
		rows := make([]positionRow, 0, len(positions))
		for _, p := range positions {
			rows = append(rows, positionRow{
				ID: p.ID, Venue: string(p.Venue), Contract: p.Contract, MappingID: p.MappingID,
				Side: string(p.Side), Quantity: p.Quantity, AvgPrice: p.AvgPrice,
				OpenedAt: p.OpenedAt, UpdatedAt: p.UpdatedAt,
			})
		}
		return tx.Create(&rows).Error
	})
}

// LoadPositions returns the persisted position snapshot, used on startup to
// seed the risk ledger before the first reconcile() call against live venue
// state.
func (r *Repository) LoadPositions() ([]types.Position, error) {
	var rows []positionRow
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.Position{
			ID: row.ID, Venue: types.Venue(row.Venue), Contract: row.Contract, MappingID: row.MappingID,
			Side: types.Side(row.Side), Quantity: row.Quantity, AvgPrice: row.AvgPrice,
			OpenedAt: row.OpenedAt, UpdatedAt: row.UpdatedAt,
		})
	}
	return out, nil
}

// RecentExecutions returns the most recent execution records, newest first,
// for the CLI's `status`/`positions` surfaces.
func (r *Repository) RecentExecutions(limit int) ([]types.ExecutionRecord, error) {
	var rows []executionRow
	if err := r.db.Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.ExecutionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.ExecutionRecord{
			ID: row.ID, MappingID: row.MappingID, OpportunityID: row.OpportunityID,
			Status: types.ExecutionStatus(row.Status), IsDryRun: row.IsDryRun, Qty: row.Qty,
			RealizedProfit: row.RealizedProfit, BuyVenue: types.Venue(row.BuyVenue),
			SellVenue: types.Venue(row.SellVenue), BuyOutcome: row.BuyOutcome, SellOutcome: row.SellOutcome,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
