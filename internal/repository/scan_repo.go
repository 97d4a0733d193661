package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

// ScanRepository handles data access for scan records
type ScanRepository struct {
	pool *pgxpool.Pool
}

// NewScanRepository creates a new scan repository
func NewScanRepository(pool *pgxpool.Pool) *ScanRepository {
	return &ScanRepository{pool: pool}
}

// scanColumns is the canonical column list for scans, used across all queries.
var scanColumns = []string{
	"id", "scan_code", "plant_id", "user_id", "status", "image", "predictions",
	"visual_features", "age_estimation", "analysis_result", "recommendations",
	"scan_metadata", "raw_inference", "added_to_dataset", "requires_validation",
	"validated_by", "validation_date", "attempts", "last_error", "analyzed_at",
	"created_at", "updated_at",
}

var scanColumnList = joinColumns(scanColumns)

// scanScan scans a row into a Scan using the canonical column order.
func scanScan(row pgx.Row, s *models.Scan) error {
	var (
		image, predictions, visual, age, result, recs, meta, raw []byte
	)
	err := row.Scan(
		&s.ID,
		&s.ScanCode,
		&s.PlantID,
		&s.UserID,
		&s.Status,
		&image,
		&predictions,
		&visual,
		&age,
		&result,
		&recs,
		&meta,
		&raw,
		&s.SelfLearningStatus.AddedToDataset,
		&s.SelfLearningStatus.RequiresValidation,
		&s.SelfLearningStatus.ValidatedBy,
		&s.SelfLearningStatus.ValidationDate,
		&s.Attempts,
		&s.LastError,
		&s.AnalyzedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if err := decodeInto(image, &s.Image); err != nil {
		return err
	}
	s.Predictions = []models.Prediction{}
	if err := decodeInto(predictions, &s.Predictions); err != nil {
		return err
	}
	if err := decodeInto(meta, &s.Metadata); err != nil {
		return err
	}
	if s.VisualFeatures, err = decodeJSON[models.VisualFeatures](visual); err != nil {
		return err
	}
	if s.AgeEstimation, err = decodeJSON[models.AgeEstimation](age); err != nil {
		return err
	}
	if s.AnalysisResult, err = decodeJSON[models.AnalysisResult](result); err != nil {
		return err
	}
	if s.Recommendations, err = decodeJSON[models.Recommendations](recs); err != nil {
		return err
	}
	if s.RawInference, err = decodeJSON[models.InferencePayload](raw); err != nil {
		return err
	}
	return nil
}

// Create inserts a new scan record
func (r *ScanRepository) Create(ctx context.Context, scan *models.Scan) error {
	if scan == nil {
		return errors.New("scan cannot be nil")
	}

	image, err := jsonOrNull(&scan.Image)
	if err != nil {
		return err
	}
	meta, err := jsonOrNull(&scan.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO scans (
			id, scan_code, plant_id, user_id, status, image, predictions, scan_metadata,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, '[]'::jsonb, $7, $8, $9
		)
		RETURNING ` + scanColumnList

	return scanScan(r.pool.QueryRow(ctx, query,
		scan.ID,
		scan.ScanCode,
		scan.PlantID,
		scan.UserID,
		scan.Status,
		image,
		meta,
		scan.CreatedAt,
		scan.UpdatedAt,
	), scan)
}

// GetByID retrieves a scan by ID regardless of owner. Returns nil, nil when
// the scan does not exist.
func (r *ScanRepository) GetByID(ctx context.Context, scanID uuid.UUID) (*models.Scan, error) {
	query := `SELECT ` + scanColumnList + ` FROM scans WHERE id = $1`

	scan := &models.Scan{}
	if err := scanScan(r.pool.QueryRow(ctx, query, scanID), scan); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return scan, nil
}

// GetForUser retrieves a scan by ID, scoped to its owner
func (r *ScanRepository) GetForUser(ctx context.Context, userID, scanID uuid.UUID) (*models.Scan, error) {
	query := `SELECT ` + scanColumnList + ` FROM scans WHERE id = $1 AND user_id = $2`

	scan := &models.Scan{}
	if err := scanScan(r.pool.QueryRow(ctx, query, scanID, userID), scan); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return scan, nil
}

func applyScanFilter(sb *sqlbuilder.SelectBuilder, f models.ScanFilter) {
	if f.UserID != nil {
		sb.Where(sb.Equal("user_id", *f.UserID))
	}
	if f.PlantID != nil {
		sb.Where(sb.Equal("plant_id", *f.PlantID))
	}
	if f.Status != nil {
		sb.Where(sb.Equal("status", string(*f.Status)))
	}
	if f.DiseaseDetected != nil {
		sb.Where(sb.Equal("disease_detected", *f.DiseaseDetected))
	}
}

// List returns one page of scans matching the filter, newest first, with the
// total match count.
func (r *ScanRepository) List(ctx context.Context, f models.ScanFilter) ([]models.Scan, int, error) {
	countSB := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSB.Select("COUNT(*)").From("scans")
	applyScanFilter(countSB, f)
	countSQL, countArgs := countSB.Build()

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count scans: %w", err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(scanColumns...).From("scans")
	applyScanFilter(sb, f)
	sb.OrderBy("created_at").Desc()
	limit := pageLimit(f.Limit, 10, 100)
	sb.Limit(limit).Offset(pageOffset(f.Page, limit))
	query, args := sb.Build()

	scans, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return scans, total, nil
}

// ListCreatedBetween returns every scan created within [start, end],
// optionally scoped to one user.
func (r *ScanRepository) ListCreatedBetween(ctx context.Context, start, end time.Time, userID *uuid.UUID) ([]models.Scan, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(scanColumns...).From("scans").
		Where(sb.Between("created_at", start, end))
	if userID != nil {
		sb.Where(sb.Equal("user_id", *userID))
	}
	sb.OrderBy("created_at").Asc()
	query, args := sb.Build()

	return r.query(ctx, query, args...)
}

// CountDistinctPlants counts plants scanned within [start, end].
func (r *ScanRepository) CountDistinctPlants(ctx context.Context, start, end time.Time, userID *uuid.UUID) (int, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(DISTINCT plant_id)").From("scans").
		Where(sb.Between("created_at", start, end))
	if userID != nil {
		sb.Where(sb.Equal("user_id", *userID))
	}
	query, args := sb.Build()

	var n int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count distinct plants: %w", err)
	}
	return n, nil
}

func (r *ScanRepository) query(ctx context.Context, query string, args ...any) ([]models.Scan, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scans := []models.Scan{}
	for rows.Next() {
		var s models.Scan
		if err := scanScan(rows, &s); err != nil {
			return nil, err
		}
		scans = append(scans, s)
	}
	return scans, rows.Err()
}

// Delete removes a scan owned by userID and returns the deleted record so
// its stored image can be released. Returns nil, nil when nothing matched.
func (r *ScanRepository) Delete(ctx context.Context, userID, scanID uuid.UUID) (*models.Scan, error) {
	query := `DELETE FROM scans WHERE id = $1 AND user_id = $2 RETURNING ` + scanColumnList

	scan := &models.Scan{}
	if err := scanScan(r.pool.QueryRow(ctx, query, scanID, userID), scan); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return scan, nil
}

// MarkAnalyzing moves a scan into "analyzing" if its current status allows a
// new attempt. It returns false when the scan is already mid-analysis. A scan
// left mid-analysis for longer than staleAfter (a crashed worker) may be
// claimed again.
func (r *ScanRepository) MarkAnalyzing(ctx context.Context, scanID uuid.UUID, staleAfter time.Duration) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scans
		SET status = 'analyzing',
		    attempts = attempts + 1,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
		  AND (status IN ('queued', 'completed', 'analysis_failed', 'partially_reconciled')
		       OR (status IN ('analyzing', 'reconciling')
		           AND updated_at < NOW() - make_interval(secs => $2)))
	`, scanID, staleAfter.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SaveInference stores the raw inference payload and moves the scan to
// "reconciling".
func (r *ScanRepository) SaveInference(ctx context.Context, scanID uuid.UUID, payload *models.InferencePayload) error {
	raw, err := jsonOrNull(payload)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE scans
		SET status = 'reconciling', raw_inference = $2, updated_at = NOW()
		WHERE id = $1
	`, scanID, raw)
	return err
}

// MarkFailed records a terminal failure status with its reason.
func (r *ScanRepository) MarkFailed(ctx context.Context, scanID uuid.UUID, status models.ScanStatus, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scans
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, scanID, status, reason)
	return err
}

// Reconcile writes the analysis results onto the scan and, when rec.Plant is
// set, the derived status onto the owning plant, in one transaction. The
// plant write is skipped (not an error) when a newer scan already owns the
// plant's status. Reports whether the plant row was updated.
func (r *ScanRepository) Reconcile(ctx context.Context, rec *models.ScanReconciliation) (bool, error) {
	predictions := rec.Predictions
	if predictions == nil {
		predictions = []models.Prediction{}
	}
	predJSON, err := jsonOrNull(&predictions)
	if err != nil {
		return false, err
	}
	visual, err := jsonOrNull(rec.VisualFeatures)
	if err != nil {
		return false, err
	}
	age, err := jsonOrNull(rec.AgeEstimation)
	if err != nil {
		return false, err
	}
	result, err := jsonOrNull(rec.AnalysisResult)
	if err != nil {
		return false, err
	}
	recs, err := jsonOrNull(rec.Recommendations)
	if err != nil {
		return false, err
	}
	meta, err := jsonOrNull(&rec.Metadata)
	if err != nil {
		return false, err
	}

	var (
		confidence      *float64
		diseaseDetected *bool
		primaryClass    *string
	)
	if rec.AnalysisResult != nil {
		confidence = &rec.AnalysisResult.ConfidenceScore
		diseaseDetected = &rec.AnalysisResult.DiseaseDetected
	}
	if len(predictions) > 0 {
		c := string(predictions[0].Class)
		primaryClass = &c
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE scans
		SET status = $2,
		    predictions = $3,
		    visual_features = $4,
		    age_estimation = $5,
		    analysis_result = $6,
		    recommendations = $7,
		    scan_metadata = $8,
		    confidence_score = $9,
		    disease_detected = $10,
		    primary_class = $11,
		    added_to_dataset = added_to_dataset OR $12,
		    requires_validation = CASE WHEN added_to_dataset AND NOT $12 THEN requires_validation ELSE $13 END,
		    validated_by = COALESCE($15, validated_by),
		    validation_date = COALESCE($16, validation_date),
		    analyzed_at = COALESCE($14, analyzed_at),
		    raw_inference = CASE WHEN $2 = 'completed' THEN NULL ELSE raw_inference END,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`,
		rec.ScanID,
		rec.Status,
		predJSON,
		visual,
		age,
		result,
		recs,
		meta,
		confidence,
		diseaseDetected,
		primaryClass,
		rec.SelfLearning.AddedToDataset,
		rec.SelfLearning.RequiresValidation,
		rec.AnalyzedAt,
		rec.SelfLearning.ValidatedBy,
		rec.SelfLearning.ValidationDate,
	)
	if err != nil {
		return false, fmt.Errorf("update scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, fmt.Errorf("update scan: scan %s no longer exists", rec.ScanID)
	}

	plantUpdated := false
	if rec.Plant != nil {
		ps := rec.Plant
		var condition *string
		if ps.PrimaryCondition != nil {
			c := string(*ps.PrimaryCondition)
			condition = &c
		}
		tag, err := tx.Exec(ctx, `
			UPDATE plants
			SET health_score = $2,
			    harvest_ready = $3,
			    primary_condition = $4,
			    disease_severity = $5,
			    estimated_days_to_harvest = $6,
			    last_scan_date = $7,
			    status_scan_id = $8,
			    status_scan_at = $9,
			    updated_at = NOW()
			WHERE id = $1
			  AND (status_scan_at IS NULL OR status_scan_at <= $9)
		`,
			rec.PlantID,
			ps.HealthScore,
			ps.HarvestReady,
			condition,
			ps.DiseaseSeverity,
			ps.EstimatedDaysToHarvest,
			ps.LastScanDate,
			ps.SourceScanID,
			ps.SourceScanAt,
		)
		if err != nil {
			return false, fmt.Errorf("update plant status: %w", err)
		}
		plantUpdated = tag.RowsAffected() == 1
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit reconcile: %w", err)
	}
	return plantUpdated, nil
}

// CountForUser returns how many scans a user has taken.
func (r *ScanRepository) CountForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scans WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}
