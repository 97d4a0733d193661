package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

// SnapshotRepository handles persistence of daily analytics rollups
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

const snapshotColumnList = "id, day, user_id, metrics, created_at"

// calendarDay strips the clock and zone so a DATE round-trips unchanged.
func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func scanSnapshot(row pgx.Row, s *models.AnalyticsSnapshot) error {
	var (
		userID  uuid.UUID
		metrics []byte
	)
	if err := row.Scan(&s.ID, &s.Date, &userID, &metrics, &s.CreatedAt); err != nil {
		return err
	}
	s.Date = calendarDay(s.Date)
	s.CreatedAt = s.CreatedAt.UTC()
	if userID != uuid.Nil {
		s.UserID = &userID
	}
	s.Metrics = models.NewSnapshotMetrics()
	return decodeInto(metrics, &s.Metrics)
}

// Get returns the stored snapshot for (day, user). Returns nil, nil when the
// day has not been rolled up yet.
func (r *SnapshotRepository) Get(ctx context.Context, day time.Time, userID *uuid.UUID) (*models.AnalyticsSnapshot, error) {
	query := `SELECT ` + snapshotColumnList + ` FROM analytics_snapshots WHERE day = $1 AND user_id = $2`

	snap := &models.AnalyticsSnapshot{}
	if err := scanSnapshot(r.pool.QueryRow(ctx, query, calendarDay(day), userKey(userID)), snap); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return snap, nil
}

// InsertIfAbsent stores snap unless a snapshot for the same (day, user)
// already exists, and returns whichever row is stored. The boolean reports
// whether this call inserted it.
func (r *SnapshotRepository) InsertIfAbsent(ctx context.Context, snap *models.AnalyticsSnapshot) (*models.AnalyticsSnapshot, bool, error) {
	metrics, err := jsonOrNull(&snap.Metrics)
	if err != nil {
		return nil, false, err
	}

	query := `
		WITH inserted AS (
			INSERT INTO analytics_snapshots (id, day, user_id, metrics, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (day, user_id) DO NOTHING
			RETURNING ` + snapshotColumnList + `, TRUE AS fresh
		)
		SELECT ` + snapshotColumnList + `, fresh FROM inserted
		UNION ALL
		SELECT ` + snapshotColumnList + `, FALSE AS fresh
		FROM analytics_snapshots
		WHERE day = $2 AND user_id = $3
		  AND NOT EXISTS (SELECT 1 FROM inserted)
	`

	var (
		stored  models.AnalyticsSnapshot
		userID  uuid.UUID
		raw     []byte
		created bool
	)
	err = r.pool.QueryRow(ctx, query,
		snap.ID, calendarDay(snap.Date), userKey(snap.UserID), metrics, snap.CreatedAt,
	).Scan(&stored.ID, &stored.Date, &userID, &raw, &stored.CreatedAt, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, errors.New("unexpected empty result from snapshot insert")
		}
		return nil, false, fmt.Errorf("insert snapshot: %w", err)
	}

	stored.Date = calendarDay(stored.Date)
	stored.CreatedAt = stored.CreatedAt.UTC()
	if userID != uuid.Nil {
		stored.UserID = &userID
	}
	stored.Metrics = models.NewSnapshotMetrics()
	if err := decodeInto(raw, &stored.Metrics); err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

// Delete discards the stored snapshot for (day, user) so it can be
// regenerated.
func (r *SnapshotRepository) Delete(ctx context.Context, day time.Time, userID *uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM analytics_snapshots WHERE day = $1 AND user_id = $2`,
		calendarDay(day), userKey(userID))
	return err
}

// ListRange returns stored snapshots for days in [from, to], oldest first.
func (r *SnapshotRepository) ListRange(ctx context.Context, from, to time.Time, userID *uuid.UUID) ([]models.AnalyticsSnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+snapshotColumnList+`
		FROM analytics_snapshots
		WHERE day BETWEEN $1 AND $2 AND user_id = $3
		ORDER BY day
	`, calendarDay(from), calendarDay(to), userKey(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snaps := []models.AnalyticsSnapshot{}
	for rows.Next() {
		var s models.AnalyticsSnapshot
		if err := scanSnapshot(rows, &s); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}
