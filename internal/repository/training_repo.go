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

// TrainingRepository handles data access for training dataset entries
type TrainingRepository struct {
	pool *pgxpool.Pool
}

// NewTrainingRepository creates a new training repository
func NewTrainingRepository(pool *pgxpool.Pool) *TrainingRepository {
	return &TrainingRepository{pool: pool}
}

var trainingColumns = []string{
	"id", "source_scan_id", "image_url", "thumbnail_url", "label", "validation_status",
	"validated_by", "validation_date", "validation_notes", "confidence_when_captured",
	"added_to_training", "training_batch", "exported_at", "metadata", "created_at", "updated_at",
}

var trainingColumnList = joinColumns(trainingColumns)

func scanTrainingEntry(row pgx.Row, e *models.TrainingEntry) error {
	var metadata []byte
	err := row.Scan(
		&e.ID,
		&e.SourceScanID,
		&e.ImageURL,
		&e.ThumbnailURL,
		&e.Label,
		&e.ValidationStatus,
		&e.ValidatedBy,
		&e.ValidationDate,
		&e.ValidationNotes,
		&e.ConfidenceWhenCaptured,
		&e.AddedToTraining,
		&e.TrainingBatch,
		&e.ExportedAt,
		&metadata,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return decodeInto(metadata, &e.Metadata)
}

func collectTrainingEntries(rows pgx.Rows) ([]models.TrainingEntry, error) {
	defer rows.Close()

	entries := []models.TrainingEntry{}
	for rows.Next() {
		var e models.TrainingEntry
		if err := scanTrainingEntry(rows, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FlagLowConfidence creates one pending entry per completed scan whose
// confidence is below threshold and that is not yet in the dataset, and marks
// those scans. Candidate rows are locked with SKIP LOCKED so concurrent calls
// split the work instead of racing on it; the unique source_scan_id makes a
// repeated call a no-op. When scanID is set only that scan is considered.
func (r *TrainingRepository) FlagLowConfidence(ctx context.Context, threshold float64, limit int, scanID *uuid.UUID) ([]models.TrainingEntry, error) {
	query := `
		WITH candidates AS (
			SELECT s.id, s.image, COALESCE(s.primary_class, 'healthy') AS label, s.confidence_score
			FROM scans s
			WHERE s.status = 'completed'
			  AND s.confidence_score < $1
			  AND s.added_to_dataset = FALSE
			  AND ($3::uuid IS NULL OR s.id = $3::uuid)
			ORDER BY s.created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		),
		inserted AS (
			INSERT INTO training_entries (
				source_scan_id, image_url, thumbnail_url, label, confidence_when_captured, metadata
			)
			SELECT c.id,
			       c.image->>'original_url',
			       COALESCE(c.image->>'thumbnail_url', ''),
			       c.label,
			       c.confidence_score,
			       jsonb_build_object('original_prediction', c.label)
			FROM candidates c
			ON CONFLICT (source_scan_id) DO NOTHING
			RETURNING ` + trainingColumnList + `
		),
		marked AS (
			UPDATE scans s
			SET added_to_dataset = TRUE, requires_validation = TRUE, updated_at = NOW()
			FROM candidates c
			WHERE s.id = c.id
		)
		SELECT ` + trainingColumnList + ` FROM inserted`

	rows, err := r.pool.Query(ctx, query, threshold, limit, scanID)
	if err != nil {
		return nil, fmt.Errorf("flag low confidence: %w", err)
	}
	return collectTrainingEntries(rows)
}

// Seed adds a scan to the dataset with a reviewer-chosen label. Returns nil,
// nil when the scan does not exist or already has an entry.
func (r *TrainingRepository) Seed(ctx context.Context, scanID uuid.UUID, label models.Condition) (*models.TrainingEntry, error) {
	query := `
		WITH inserted AS (
			INSERT INTO training_entries (
				source_scan_id, image_url, thumbnail_url, label, confidence_when_captured, metadata
			)
			SELECT s.id,
			       s.image->>'original_url',
			       COALESCE(s.image->>'thumbnail_url', ''),
			       $2,
			       s.confidence_score,
			       jsonb_strip_nulls(jsonb_build_object('original_prediction', s.primary_class))
			FROM scans s
			WHERE s.id = $1
			ON CONFLICT (source_scan_id) DO NOTHING
			RETURNING ` + trainingColumnList + `
		),
		marked AS (
			UPDATE scans
			SET added_to_dataset = TRUE, requires_validation = TRUE, updated_at = NOW()
			WHERE id = $1 AND EXISTS (SELECT 1 FROM inserted)
		)
		SELECT ` + trainingColumnList + ` FROM inserted`

	entry := &models.TrainingEntry{}
	if err := scanTrainingEntry(r.pool.QueryRow(ctx, query, scanID, string(label)), entry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

// GetByID retrieves a training entry. Returns nil, nil when not found.
func (r *TrainingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TrainingEntry, error) {
	query := `SELECT ` + trainingColumnList + ` FROM training_entries WHERE id = $1`

	entry := &models.TrainingEntry{}
	if err := scanTrainingEntry(r.pool.QueryRow(ctx, query, id), entry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

// Validate moves a pending entry to validated. A corrected label replaces the
// label and records what it replaced. Returns nil, nil when the entry is not
// pending (or does not exist); the caller tells the two apart.
func (r *TrainingRepository) Validate(ctx context.Context, id, reviewer uuid.UUID, in models.ValidateInput) (*models.TrainingEntry, error) {
	var label, corrected *string
	if in.Label != nil {
		l := string(*in.Label)
		label = &l
	}
	if in.CorrectedLabel != nil {
		c := string(*in.CorrectedLabel)
		corrected = &c
	}

	query := `
		WITH updated AS (
			UPDATE training_entries t
			SET validation_status = 'validated',
			    label = COALESCE($3::text, $4::text, t.label),
			    validated_by = $2,
			    validation_date = NOW(),
			    validation_notes = COALESCE($5::text, t.validation_notes),
			    metadata = CASE
			        WHEN $3::text IS NULL THEN t.metadata
			        ELSE t.metadata || jsonb_build_object(
			            'corrected_label', $3::text,
			            'original_prediction', COALESCE(t.metadata->>'original_prediction', t.label))
			    END,
			    updated_at = NOW()
			WHERE t.id = $1 AND t.validation_status = 'pending'
			RETURNING ` + trainingColumnList + `
		),
		scan_update AS (
			UPDATE scans s
			SET validated_by = $2, validation_date = NOW(), requires_validation = FALSE, updated_at = NOW()
			FROM updated u
			WHERE s.id = u.source_scan_id
		)
		SELECT ` + trainingColumnList + ` FROM updated`

	return r.transition(ctx, query, id, reviewer, corrected, label, in.Notes)
}

// Reject moves a pending entry to rejected. Returns nil, nil when the entry
// is not pending (or does not exist).
func (r *TrainingRepository) Reject(ctx context.Context, id, reviewer uuid.UUID, notes *string) (*models.TrainingEntry, error) {
	query := `
		WITH updated AS (
			UPDATE training_entries t
			SET validation_status = 'rejected',
			    validated_by = $2,
			    validation_date = NOW(),
			    validation_notes = COALESCE($3::text, t.validation_notes),
			    updated_at = NOW()
			WHERE t.id = $1 AND t.validation_status = 'pending'
			RETURNING ` + trainingColumnList + `
		),
		scan_update AS (
			UPDATE scans s
			SET validated_by = $2, validation_date = NOW(), requires_validation = FALSE, updated_at = NOW()
			FROM updated u
			WHERE s.id = u.source_scan_id
		)
		SELECT ` + trainingColumnList + ` FROM updated`

	return r.transition(ctx, query, id, reviewer, notes)
}

func (r *TrainingRepository) transition(ctx context.Context, query string, args ...any) (*models.TrainingEntry, error) {
	entry := &models.TrainingEntry{}
	if err := scanTrainingEntry(r.pool.QueryRow(ctx, query, args...), entry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

// ExportBatch assigns up to limit validated, unexported entries to batch.
// Each row flips added_to_training with a compare-and-set, and rows already
// locked by a concurrent export are skipped, so two callers never receive
// the same entry.
func (r *TrainingRepository) ExportBatch(ctx context.Context, batch string, limit int) ([]models.ExportedItem, error) {
	rows, err := r.pool.Query(ctx, `
		WITH picked AS (
			SELECT id
			FROM training_entries
			WHERE validation_status = 'validated' AND added_to_training = FALSE
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE training_entries t
		SET added_to_training = TRUE,
		    training_batch = $1,
		    exported_at = NOW(),
		    updated_at = NOW()
		FROM picked
		WHERE t.id = picked.id AND t.added_to_training = FALSE
		RETURNING t.id, t.image_url, t.label
	`, batch, limit)
	if err != nil {
		return nil, fmt.Errorf("export batch: %w", err)
	}
	defer rows.Close()

	items := []models.ExportedItem{}
	for rows.Next() {
		item := models.ExportedItem{Batch: batch}
		if err := rows.Scan(&item.EntryID, &item.ImageURL, &item.Label); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func applyTrainingFilter(sb *sqlbuilder.SelectBuilder, f models.TrainingFilter) {
	if f.ValidationStatus != nil {
		sb.Where(sb.Equal("validation_status", string(*f.ValidationStatus)))
	}
	if f.Label != nil {
		sb.Where(sb.Equal("label", string(*f.Label)))
	}
	if f.Batch != nil {
		sb.Where(sb.Equal("training_batch", *f.Batch))
	}
}

// List returns one page of entries matching the filter with the total count.
func (r *TrainingRepository) List(ctx context.Context, f models.TrainingFilter) ([]models.TrainingEntry, int, error) {
	countSB := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSB.Select("COUNT(*)").From("training_entries")
	applyTrainingFilter(countSB, f)
	countSQL, countArgs := countSB.Build()

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count training entries: %w", err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(trainingColumns...).From("training_entries")
	applyTrainingFilter(sb, f)
	sb.OrderBy("created_at")
	if f.NewestFirst {
		sb.Desc()
	} else {
		sb.Asc()
	}
	limit := pageLimit(f.Limit, 20, 200)
	sb.Limit(limit).Offset(pageOffset(f.Page, limit))
	query, args := sb.Build()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	entries, err := collectTrainingEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Stats returns dataset counts by state and label.
func (r *TrainingRepository) Stats(ctx context.Context) (*models.TrainingStats, error) {
	stats := &models.TrainingStats{LabelDistribution: []models.LabelCount{}}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE validation_status = 'pending'),
		       COUNT(*) FILTER (WHERE validation_status = 'validated'),
		       COUNT(*) FILTER (WHERE validation_status = 'rejected'),
		       COUNT(*) FILTER (WHERE added_to_training)
		FROM training_entries
	`).Scan(&stats.Total, &stats.Pending, &stats.Validated, &stats.Rejected, &stats.InTraining)
	if err != nil {
		return nil, fmt.Errorf("training stats: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT label, COUNT(*)
		FROM training_entries
		GROUP BY label
		ORDER BY COUNT(*) DESC, label
	`)
	if err != nil {
		return nil, fmt.Errorf("label distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lc models.LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		stats.LabelDistribution = append(stats.LabelDistribution, lc)
	}
	return stats, rows.Err()
}
