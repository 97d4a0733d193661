package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

// PlantRepository handles data access for plants
type PlantRepository struct {
	pool *pgxpool.Pool
}

// NewPlantRepository creates a new plant repository
func NewPlantRepository(pool *pgxpool.Pool) *PlantRepository {
	return &PlantRepository{pool: pool}
}

var plantColumns = []string{
	"id", "plant_code", "owner_id", "planting_date", "location", "metadata",
	"health_score", "harvest_ready", "primary_condition", "disease_severity",
	"estimated_days_to_harvest", "last_scan_date", "status_scan_id", "status_scan_at",
	"created_at", "updated_at",
}

var plantColumnList = joinColumns(plantColumns)

func scanPlant(row pgx.Row, p *models.Plant) error {
	var (
		location, metadata []byte
		condition          *string
	)
	err := row.Scan(
		&p.ID,
		&p.PlantCode,
		&p.OwnerID,
		&p.PlantingDate,
		&location,
		&metadata,
		&p.CurrentStatus.HealthScore,
		&p.CurrentStatus.HarvestReady,
		&condition,
		&p.CurrentStatus.DiseaseSeverity,
		&p.CurrentStatus.EstimatedDaysToHarvest,
		&p.CurrentStatus.LastScanDate,
		&p.CurrentStatus.SourceScanID,
		&p.CurrentStatus.SourceScanAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if condition != nil {
		c := models.Condition(*condition)
		p.CurrentStatus.PrimaryCondition = &c
	}
	if err := decodeInto(location, &p.Location); err != nil {
		return err
	}
	return decodeInto(metadata, &p.Metadata)
}

// Create inserts a new plant with the default status
func (r *PlantRepository) Create(ctx context.Context, plant *models.Plant) error {
	if plant == nil {
		return errors.New("plant cannot be nil")
	}
	location, err := jsonOrNull(&plant.Location)
	if err != nil {
		return err
	}
	metadata, err := jsonOrNull(&plant.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO plants (
			id, plant_code, owner_id, planting_date, location, metadata,
			health_score, harvest_ready, disease_severity, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + plantColumnList

	return scanPlant(r.pool.QueryRow(ctx, query,
		plant.ID,
		plant.PlantCode,
		plant.OwnerID,
		plant.PlantingDate,
		location,
		metadata,
		plant.CurrentStatus.HealthScore,
		plant.CurrentStatus.HarvestReady,
		plant.CurrentStatus.DiseaseSeverity,
		plant.CreatedAt,
		plant.UpdatedAt,
	), plant)
}

// GetByID retrieves a plant scoped to its owner. Returns nil, nil when the
// plant does not exist or belongs to someone else.
func (r *PlantRepository) GetByID(ctx context.Context, ownerID, plantID uuid.UUID) (*models.Plant, error) {
	query := `SELECT ` + plantColumnList + ` FROM plants WHERE id = $1 AND owner_id = $2`

	plant := &models.Plant{}
	if err := scanPlant(r.pool.QueryRow(ctx, query, plantID, ownerID), plant); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return plant, nil
}

func applyPlantFilter(sb *sqlbuilder.SelectBuilder, f models.PlantFilter) {
	sb.Where(sb.Equal("owner_id", f.OwnerID))
	if f.HarvestReady != nil {
		sb.Where(sb.Equal("harvest_ready", *f.HarvestReady))
	}
	if f.Severity != nil {
		sb.Where(sb.Equal("disease_severity", string(*f.Severity)))
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		sb.Where(sb.Or(
			sb.ILike("plant_code", pattern),
			sb.ILike("location->>'farm_name'", pattern),
		))
	}
}

// List returns one page of the owner's plants, newest first.
func (r *PlantRepository) List(ctx context.Context, f models.PlantFilter) ([]models.Plant, int, error) {
	countSB := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSB.Select("COUNT(*)").From("plants")
	applyPlantFilter(countSB, f)
	countSQL, countArgs := countSB.Build()

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count plants: %w", err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(plantColumns...).From("plants")
	applyPlantFilter(sb, f)
	sb.OrderBy("created_at").Desc()
	limit := pageLimit(f.Limit, 10, 100)
	sb.Limit(limit).Offset(pageOffset(f.Page, limit))
	query, args := sb.Build()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	plants := []models.Plant{}
	for rows.Next() {
		var p models.Plant
		if err := scanPlant(rows, &p); err != nil {
			return nil, 0, err
		}
		plants = append(plants, p)
	}
	return plants, total, rows.Err()
}

// UpdateDetails overwrites the owner-editable fields. current_status is not
// touched here.
func (r *PlantRepository) UpdateDetails(ctx context.Context, plant *models.Plant) error {
	location, err := jsonOrNull(&plant.Location)
	if err != nil {
		return err
	}
	metadata, err := jsonOrNull(&plant.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE plants
		SET planting_date = $3, location = $4, metadata = $5, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + plantColumnList

	err = scanPlant(r.pool.QueryRow(ctx, query,
		plant.ID, plant.OwnerID, plant.PlantingDate, location, metadata,
	), plant)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("plant %s not found", plant.ID)
	}
	return err
}

// PlantCounts are the per-owner tallies shown on the dashboard.
type PlantCounts struct {
	Total        int
	HarvestReady int
	Diseased     int
}

// CountForOwner tallies an owner's plants by status in one pass.
func (r *PlantRepository) CountForOwner(ctx context.Context, ownerID uuid.UUID) (PlantCounts, error) {
	var c PlantCounts
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE harvest_ready),
		       COUNT(*) FILTER (WHERE disease_severity <> 'none')
		FROM plants
		WHERE owner_id = $1
	`, ownerID).Scan(&c.Total, &c.HarvestReady, &c.Diseased)
	return c, err
}
