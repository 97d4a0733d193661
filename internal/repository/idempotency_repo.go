package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultIdempotencyTTL is how long a claimed Idempotency-Key stays bound to
// the scan it created.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyResult is the outcome of a claim.
type IdempotencyResult struct {
	// AlreadyExists is true when a live claim for the key was found.
	AlreadyExists bool
	// ResourceID is the scan bound to the key.
	ResourceID uuid.UUID
}

// IdempotencyRepository binds client Idempotency-Key headers to the scans
// they created.
type IdempotencyRepository struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewIdempotencyRepository creates an IdempotencyRepository. A non-positive
// ttl uses DefaultIdempotencyTTL.
func NewIdempotencyRepository(pool *pgxpool.Pool, ttl time.Duration) *IdempotencyRepository {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyRepository{pool: pool, ttl: ttl}
}

// Claim binds key to resourceID for userID. A key whose claim has expired is
// taken over even before CleanExpired removes it; a live claim is returned
// with AlreadyExists set.
func (r *IdempotencyRepository) Claim(ctx context.Context, userID uuid.UUID, key, resourceType string, resourceID uuid.UUID) (*IdempotencyResult, error) {
	if key == "" {
		return nil, errors.New("idempotency key cannot be empty")
	}

	var bound uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO idempotency_keys (key, user_id, resource_type, resource_id, expires_at)
		VALUES ($1, $2, $3, $4, NOW() + $5 * INTERVAL '1 second')
		ON CONFLICT (user_id, key, resource_type) DO UPDATE
		SET resource_id = EXCLUDED.resource_id,
		    created_at = NOW(),
		    expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at < NOW()
		RETURNING resource_id`,
		key, userID, resourceType, resourceID, int64(r.ttl/time.Second),
	).Scan(&bound)
	if err == nil {
		return &IdempotencyResult{ResourceID: bound}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// The upsert was skipped, so a live claim holds the key.
	err = r.pool.QueryRow(ctx, `
		SELECT resource_id FROM idempotency_keys
		WHERE user_id = $1 AND key = $2 AND resource_type = $3`,
		userID, key, resourceType,
	).Scan(&bound)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.New("idempotency claim released concurrently, retry the request")
		}
		return nil, err
	}
	return &IdempotencyResult{AlreadyExists: true, ResourceID: bound}, nil
}

// Release drops a claim whose scan could not be created so the client can
// retry with the same key.
func (r *IdempotencyRepository) Release(ctx context.Context, userID uuid.UUID, key, resourceType string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE user_id = $1 AND key = $2 AND resource_type = $3`,
		userID, key, resourceType)
	return err
}

// CleanExpired deletes expired claims and reports how many went.
func (r *IdempotencyRepository) CleanExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
