// Package curator manages the labeled training dataset: flagging
// low-confidence scans, the reviewer workflow, and batch export.
package curator

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/events"
	"github.com/VinByte365/Project-Pamada-sub000/internal/metrics"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

const (
	DefaultThreshold     = 0.7
	DefaultAutoFlagLimit = 100
	DefaultExportLimit   = 1000
	DefaultPendingLimit  = 50

	maxExportLimit = 10000
)

var batchNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,99}$`)

// Store is the dataset persistence. Validate and Reject return nil, nil when
// the entry is missing or no longer pending. Seed returns nil, nil when the
// scan is missing or already in the dataset.
type Store interface {
	FlagLowConfidence(ctx context.Context, threshold float64, limit int, scanID *uuid.UUID) ([]models.TrainingEntry, error)
	Seed(ctx context.Context, scanID uuid.UUID, label models.Condition) (*models.TrainingEntry, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.TrainingEntry, error)
	Validate(ctx context.Context, id, reviewer uuid.UUID, in models.ValidateInput) (*models.TrainingEntry, error)
	Reject(ctx context.Context, id, reviewer uuid.UUID, notes *string) (*models.TrainingEntry, error)
	ExportBatch(ctx context.Context, batch string, limit int) ([]models.ExportedItem, error)
	List(ctx context.Context, f models.TrainingFilter) ([]models.TrainingEntry, int, error)
	Stats(ctx context.Context) (*models.TrainingStats, error)
}

// ScanReader looks up scans to explain a failed seed.
type ScanReader interface {
	GetByID(ctx context.Context, scanID uuid.UUID) (*models.Scan, error)
}

// Options configure a Curator. Zero values fall back to the defaults.
type Options struct {
	Threshold     float64
	AutoFlagLimit int
	ExportLimit   int
	PendingLimit  int
	Publisher     events.Publisher
	Logger        *zap.Logger
}

// Curator runs the dataset workflow.
type Curator struct {
	store     Store
	scans     ScanReader
	opts      Options
	publisher events.Publisher
	logger    *zap.Logger
}

// New creates a Curator.
func New(store Store, scans ScanReader, opts Options) *Curator {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.AutoFlagLimit <= 0 {
		opts.AutoFlagLimit = DefaultAutoFlagLimit
	}
	if opts.ExportLimit <= 0 {
		opts.ExportLimit = DefaultExportLimit
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = DefaultPendingLimit
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Noop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Curator{
		store:     store,
		scans:     scans,
		opts:      opts,
		publisher: publisher,
		logger:    logger.With(zap.String("service", "training-curator")),
	}
}

// Threshold is the configured low-confidence cutoff.
func (c *Curator) Threshold() float64 { return c.opts.Threshold }

// AutoFlagLowConfidence adds up to limit completed scans whose confidence is
// below threshold to the dataset as pending entries. Zero arguments use the
// configured defaults. Running it again never creates duplicates.
func (c *Curator) AutoFlagLowConfidence(ctx context.Context, threshold float64, limit int) ([]models.TrainingEntry, error) {
	const op = "curator.AutoFlagLowConfidence"

	if threshold == 0 {
		threshold = c.opts.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, apperr.Validation(op, "threshold %v outside [0,1]", threshold)
	}
	if limit == 0 {
		limit = c.opts.AutoFlagLimit
	}
	if limit < 0 {
		return nil, apperr.Validation(op, "limit must be positive")
	}

	entries, err := c.store.FlagLowConfidence(ctx, threshold, limit, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	metrics.TrainingEntriesFlagged.Add(float64(len(entries)))
	c.logger.Info("low-confidence scans flagged",
		zap.Float64("threshold", threshold),
		zap.Int("limit", limit),
		zap.Int("flagged", len(entries)),
	)
	return entries, nil
}

// FlagScan flags one scan if it is completed and below the configured
// threshold. It returns nil when the scan does not qualify.
func (c *Curator) FlagScan(ctx context.Context, scanID uuid.UUID) (*models.TrainingEntry, error) {
	entries, err := c.store.FlagLowConfidence(ctx, c.opts.Threshold, 1, &scanID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "curator.FlagScan", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	metrics.TrainingEntriesFlagged.Inc()
	return &entries[0], nil
}

// Seed adds a scan to the dataset with an explicit label.
func (c *Curator) Seed(ctx context.Context, scanID uuid.UUID, label models.Condition) (*models.TrainingEntry, error) {
	const op = "curator.Seed"

	if !label.Valid() {
		return nil, apperr.Validation(op, "unknown label %q", label)
	}
	entry, err := c.store.Seed(ctx, scanID, label)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if entry != nil {
		return entry, nil
	}

	scan, err := c.scans.GetByID(ctx, scanID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if scan == nil {
		return nil, apperr.NotFound(op, "scan %s not found", scanID)
	}
	return nil, apperr.Conflict(op, "scan %s is already in the dataset", scanID)
}

// Get returns one entry.
func (c *Curator) Get(ctx context.Context, id uuid.UUID) (*models.TrainingEntry, error) {
	entry, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "curator.Get", err)
	}
	if entry == nil {
		return nil, apperr.NotFound("curator.Get", "training entry %s not found", id)
	}
	return entry, nil
}

// Validate approves a pending entry, optionally relabeling it.
func (c *Curator) Validate(ctx context.Context, id, reviewer uuid.UUID, in models.ValidateInput) (*models.TrainingEntry, error) {
	const op = "curator.Validate"

	if err := models.Validate(in); err != nil {
		return nil, err
	}
	entry, err := c.store.Validate(ctx, id, reviewer, in)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if entry == nil {
		return nil, c.transitionError(ctx, op, id)
	}
	metrics.TrainingEntriesReviewed.WithLabelValues(string(models.ValidationValidated)).Inc()
	c.logger.Info("training entry validated",
		zap.String("entry_id", id.String()),
		zap.String("reviewer", reviewer.String()),
		zap.String("label", string(entry.Label)),
		zap.Bool("relabeled", in.CorrectedLabel != nil),
	)
	return entry, nil
}

// Reject discards a pending entry.
func (c *Curator) Reject(ctx context.Context, id, reviewer uuid.UUID, notes *string) (*models.TrainingEntry, error) {
	const op = "curator.Reject"

	entry, err := c.store.Reject(ctx, id, reviewer, notes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if entry == nil {
		return nil, c.transitionError(ctx, op, id)
	}
	metrics.TrainingEntriesReviewed.WithLabelValues(string(models.ValidationRejected)).Inc()
	c.logger.Info("training entry rejected",
		zap.String("entry_id", id.String()),
		zap.String("reviewer", reviewer.String()),
	)
	return entry, nil
}

// transitionError explains why a conditional transition matched no row.
func (c *Curator) transitionError(ctx context.Context, op string, id uuid.UUID) error {
	current, err := c.store.GetByID(ctx, id)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}
	if current == nil {
		return apperr.NotFound(op, "training entry %s not found", id)
	}
	return apperr.Conflict(op, "training entry %s is already %s", id, current.ValidationStatus)
}

// ExportBatch hands up to limit validated entries to retraining under
// batchName. Concurrent exports never return the same entry. An empty
// result is not an error.
func (c *Curator) ExportBatch(ctx context.Context, batchName string, limit int) ([]models.ExportedItem, error) {
	const op = "curator.ExportBatch"

	if !batchNamePattern.MatchString(batchName) {
		return nil, apperr.Validation(op, "batch name must be 1-100 letters, digits, '.', '_' or '-'")
	}
	if limit == 0 {
		limit = c.opts.ExportLimit
	}
	if limit < 0 || limit > maxExportLimit {
		return nil, apperr.Validation(op, "limit must be within 1-%d", maxExportLimit)
	}

	start := time.Now()
	items, err := c.store.ExportBatch(ctx, batchName, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	metrics.TrainingEntriesExported.Add(float64(len(items)))
	c.logger.Info("training batch exported",
		zap.String("batch", batchName),
		zap.Int("count", len(items)),
		zap.Duration("duration", time.Since(start)),
	)

	if len(items) > 0 {
		ids := make([]string, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.EntryID.String())
		}
		evt := events.New(events.TypeTrainingBatchExported, batchName, map[string]any{
			"batch":     batchName,
			"count":     len(items),
			"entry_ids": ids,
		})
		if err := c.publisher.Publish(ctx, evt); err != nil {
			c.logger.Warn("failed to publish export event", zap.String("batch", batchName), zap.Error(err))
		}
	}
	return items, nil
}

// List returns one page of entries, newest first.
func (c *Curator) List(ctx context.Context, f models.TrainingFilter) ([]models.TrainingEntry, int, error) {
	const op = "curator.List"

	if f.ValidationStatus != nil {
		switch *f.ValidationStatus {
		case models.ValidationPending, models.ValidationValidated, models.ValidationRejected:
		default:
			return nil, 0, apperr.Validation(op, "unknown validation status %q", *f.ValidationStatus)
		}
	}
	if f.Label != nil && !f.Label.Valid() {
		return nil, 0, apperr.Validation(op, "unknown label %q", *f.Label)
	}
	f.NewestFirst = true
	entries, total, err := c.store.List(ctx, f)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, op, err)
	}
	return entries, total, nil
}

// Pending returns the oldest pending entries first, the review queue order.
func (c *Curator) Pending(ctx context.Context, limit int) ([]models.TrainingEntry, error) {
	if limit <= 0 {
		limit = c.opts.PendingLimit
	}
	status := models.ValidationPending
	entries, _, err := c.store.List(ctx, models.TrainingFilter{
		ValidationStatus: &status,
		Page:             1,
		Limit:            limit,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "curator.Pending", err)
	}
	return entries, nil
}

// Stats returns dataset counts.
func (c *Curator) Stats(ctx context.Context) (*models.TrainingStats, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "curator.Stats", err)
	}
	return stats, nil
}
