// Package orchestrator drives a scan through analysis: fetch the stored
// image, call inference, reconcile the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/events"
	"github.com/VinByte365/Project-Pamada-sub000/internal/inference"
	"github.com/VinByte365/Project-Pamada-sub000/internal/lock"
	"github.com/VinByte365/Project-Pamada-sub000/internal/metrics"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
	"github.com/VinByte365/Project-Pamada-sub000/internal/reconcile"
)

// ScanStore is the scan persistence the orchestrator drives.
type ScanStore interface {
	GetByID(ctx context.Context, scanID uuid.UUID) (*models.Scan, error)
	GetForUser(ctx context.Context, userID, scanID uuid.UUID) (*models.Scan, error)
	MarkAnalyzing(ctx context.Context, scanID uuid.UUID, staleAfter time.Duration) (bool, error)
	SaveInference(ctx context.Context, scanID uuid.UUID, payload *models.InferencePayload) error
	MarkFailed(ctx context.Context, scanID uuid.UUID, status models.ScanStatus, reason string) error
}

// ImageFetcher returns stored image bytes by storage key.
type ImageFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Inferencer is the inference service.
type Inferencer interface {
	Analyze(ctx context.Context, image []byte, filename string) (*models.InferencePayload, error)
	AnalyzeBatch(ctx context.Context, images []inference.Image) ([]inference.BatchResult, error)
}

// ResultWriter reconciles payloads onto scans and plants.
type ResultWriter interface {
	Reconcile(ctx context.Context, scan *models.Scan, payload *models.InferencePayload) (*reconcile.Outcome, error)
	Inject(ctx context.Context, userID, scanID uuid.UUID, patch reconcile.ScanPatch) (*models.Scan, error)
}

// Flagger adds a freshly analyzed low-confidence scan to the training set.
type Flagger interface {
	FlagScan(ctx context.Context, scanID uuid.UUID) (*models.TrainingEntry, error)
}

// Options configure an Orchestrator.
type Options struct {
	// StaleAfter lets a scan left mid-analysis by a crashed worker be claimed.
	StaleAfter time.Duration
	// InferenceRetries is how many extra inference calls a transient failure
	// gets within one attempt; RetryBaseWait is the first backoff.
	InferenceRetries int
	RetryBaseWait    time.Duration
	// Flagger, when set, is run after every completed analysis.
	Flagger   Flagger
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Orchestrator runs single analysis attempts. Attempts for the same scan
// are serialized by the guard; different scans run fully in parallel.
type Orchestrator struct {
	scans      ScanStore
	images     ImageFetcher
	inference  Inferencer
	results    ResultWriter
	guard      lock.Guard
	flagger    Flagger
	publisher  events.Publisher
	staleAfter time.Duration
	retries    int
	retryBase  time.Duration
	logger     *zap.Logger
}

// New creates an Orchestrator.
func New(scans ScanStore, images ImageFetcher, infer Inferencer, results ResultWriter, guard lock.Guard, opts Options) *Orchestrator {
	if guard == nil {
		guard = lock.NewKeyedGuard()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	return &Orchestrator{
		scans:      scans,
		images:     images,
		inference:  infer,
		results:    results,
		guard:      guard,
		flagger:    opts.Flagger,
		publisher:  opts.Publisher,
		staleAfter: opts.StaleAfter,
		retries:    max(opts.InferenceRetries, 0),
		retryBase:  opts.RetryBaseWait,
		logger:     opts.Logger.With(zap.String("service", "analysis-orchestrator")),
	}
}

// Result is the outcome of one analysis attempt.
type Result struct {
	ScanID  uuid.UUID
	Status  models.ScanStatus
	Outcome *reconcile.Outcome
	// ReusedPayload is true when a stored payload was reconciled without
	// calling inference again.
	ReusedPayload bool
}

// AnalysisError is returned when an attempt ends in a failure status. It
// unwraps to the cause, so apperr.KindOf reports the failure kind.
type AnalysisError struct {
	ScanID uuid.UUID
	Status models.ScanStatus
	Err    error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("scan %s %s: %v", e.ScanID, e.Status, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Analyze runs one analysis attempt for scanID. It fails with a conflict if
// another attempt for the same scan is in progress.
func (o *Orchestrator) Analyze(ctx context.Context, scanID uuid.UUID) (*Result, error) {
	release, err := o.acquire(ctx, "orchestrator.Analyze", scanID)
	if err != nil {
		return nil, err
	}
	defer release()

	return o.run(ctx, scanID)
}

// Retrigger re-runs analysis for a scan owned by userID. A partially
// reconciled scan reuses its stored payload; a completed scan is recomputed
// and overwritten.
func (o *Orchestrator) Retrigger(ctx context.Context, userID, scanID uuid.UUID) (*Result, error) {
	const op = "orchestrator.Retrigger"

	scan, err := o.scans.GetForUser(ctx, userID, scanID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if scan == nil {
		return nil, apperr.NotFound(op, "scan %s not found", scanID)
	}
	return o.Analyze(ctx, scanID)
}

// Inject applies a client-supplied result while holding the scan's guard so
// it cannot interleave with an analysis attempt.
func (o *Orchestrator) Inject(ctx context.Context, userID, scanID uuid.UUID, patch reconcile.ScanPatch) (*models.Scan, error) {
	release, err := o.acquire(ctx, "orchestrator.Inject", scanID)
	if err != nil {
		return nil, err
	}
	defer release()

	return o.results.Inject(ctx, userID, scanID, patch)
}

func (o *Orchestrator) acquire(ctx context.Context, op string, scanID uuid.UUID) (func(), error) {
	release, err := o.guard.TryAcquire(ctx, "scan:"+scanID.String())
	if errors.Is(err, lock.ErrBusy) {
		return nil, apperr.Conflict(op, "scan %s is already being analyzed", scanID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServiceUnavailable, op, fmt.Errorf("acquire scan lock: %w", err))
	}
	return release, nil
}

// run executes the attempt. The caller holds the scan's guard.
func (o *Orchestrator) run(ctx context.Context, scanID uuid.UUID) (*Result, error) {
	const op = "orchestrator.Analyze"
	start := time.Now()
	logger := o.logger.With(zap.String("scan_id", scanID.String()))

	metrics.AnalysisInFlight.Inc()
	defer metrics.AnalysisInFlight.Dec()

	// Step 1: load and claim
	stepLogger := logger.With(zap.String("step", "claim"))
	scan, err := o.scans.GetByID(ctx, scanID)
	if err != nil {
		stepLogger.Error("failed to load scan", zap.Error(err))
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if scan == nil {
		return nil, apperr.NotFound(op, "scan %s not found", scanID)
	}

	reuse := scan.RawInference != nil &&
		(scan.Status == models.ScanPartiallyReconciled || scan.Status == models.ScanReconciling)

	claimed, err := o.scans.MarkAnalyzing(ctx, scanID, o.staleAfter)
	if err != nil {
		stepLogger.Error("failed to mark scan analyzing", zap.Error(err))
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if !claimed {
		return nil, apperr.Conflict(op, "scan %s is %s", scanID, scan.Status)
	}
	stepLogger.Info("analysis started", zap.Int("attempt", scan.Attempts+1), zap.Bool("reuse_payload", reuse))

	// Step 2: obtain the payload
	payload := scan.RawInference
	if !reuse {
		stepLogger = logger.With(zap.String("step", "fetch_image"))
		image, err := o.images.Fetch(ctx, scan.Image.StorageKey)
		if err != nil {
			stepLogger.Error("failed to fetch image", zap.Error(err))
			return nil, o.handleFailure(ctx, logger, scan, models.ScanAnalysisFailed, err, start)
		}

		stepLogger = logger.With(zap.String("step", "inference"))
		payload, err = withRetry(ctx, stepLogger, o.retries, o.retryBase, func() (*models.InferencePayload, error) {
			return o.inference.Analyze(ctx, image, path.Base(scan.Image.StorageKey))
		})
		if err != nil {
			stepLogger.Error("inference failed", zap.Error(err))
			return nil, o.handleFailure(ctx, logger, scan, models.ScanAnalysisFailed, err, start)
		}
		stepLogger.Info("inference completed", zap.Int("predictions", len(payload.Predictions)))
	}

	// Step 3: persist the payload and reconcile
	return o.reconcile(ctx, logger, scan, payload, reuse, start)
}

func (o *Orchestrator) reconcile(ctx context.Context, logger *zap.Logger, scan *models.Scan, payload *models.InferencePayload, reused bool, start time.Time) (*Result, error) {
	stepLogger := logger.With(zap.String("step", "save_inference"))
	if err := o.scans.SaveInference(ctx, scan.ID, payload); err != nil {
		stepLogger.Error("failed to store inference payload", zap.Error(err))
		return nil, o.handleFailure(ctx, logger, scan, models.ScanAnalysisFailed, err, start)
	}
	scan.Status = models.ScanReconciling
	scan.RawInference = payload

	stepLogger = logger.With(zap.String("step", "reconcile"))
	outcome, err := o.results.Reconcile(ctx, scan, payload)
	if err != nil {
		stepLogger.Error("failed to reconcile result", zap.Error(err))
		return nil, o.handleFailure(ctx, logger, scan, models.ScanPartiallyReconciled, err, start)
	}

	if o.flagger != nil {
		stepLogger = logger.With(zap.String("step", "flag_low_confidence"))
		entry, err := o.flagger.FlagScan(ctx, scan.ID)
		switch {
		case err != nil:
			stepLogger.Warn("failed to flag scan for review", zap.Error(err))
		case entry != nil:
			stepLogger.Info("scan flagged for review", zap.String("entry_id", entry.ID.String()))
		}
	}

	duration := time.Since(start)
	metrics.AnalysesTotal.WithLabelValues(string(models.ScanCompleted)).Inc()
	metrics.AnalysisDuration.Observe(duration.Seconds())

	result := outcome.Reconciliation.AnalysisResult
	o.publish(ctx, logger, events.New(events.TypeScanAnalyzed, scan.ID.String(), map[string]any{
		"scan_id":          scan.ID,
		"plant_id":         scan.PlantID,
		"user_id":          scan.UserID,
		"health_score":     result.HealthScore,
		"disease_severity": result.DiseaseSeverity,
		"harvest_ready":    result.HarvestReady,
		"plant_updated":    outcome.PlantUpdated,
	}))

	logger.Info("analysis completed",
		zap.Duration("duration", duration),
		zap.Int("health_score", result.HealthScore),
		zap.Bool("plant_updated", outcome.PlantUpdated),
	)

	return &Result{
		ScanID:        scan.ID,
		Status:        models.ScanCompleted,
		Outcome:       outcome,
		ReusedPayload: reused,
	}, nil
}

// handleFailure records the failure status on the scan and returns the
// AnalysisError for the caller. The plant is never touched here.
func (o *Orchestrator) handleFailure(ctx context.Context, logger *zap.Logger, scan *models.Scan, status models.ScanStatus, cause error, start time.Time) error {
	reason := cause.Error()
	logger.Error("analysis attempt failed",
		zap.String("status", string(status)),
		zap.String("kind", string(apperr.KindOf(cause))),
		zap.String("error", reason),
	)

	// record the failure even when the request context is already done
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.scans.MarkFailed(writeCtx, scan.ID, status, reason); err != nil {
		logger.Error("failed to record analysis failure", zap.Error(err))
	}

	metrics.AnalysesTotal.WithLabelValues(string(status)).Inc()
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	o.publish(writeCtx, logger, events.New(events.TypeScanAnalysisFailed, scan.ID.String(), map[string]any{
		"scan_id": scan.ID,
		"user_id": scan.UserID,
		"status":  status,
		"kind":    apperr.KindOf(cause),
		"error":   reason,
	}))

	return &AnalysisError{ScanID: scan.ID, Status: status, Err: cause}
}

func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, evt events.Event) {
	if err := o.publisher.Publish(ctx, evt); err != nil {
		logger.Warn("failed to publish event", zap.String("type", evt.Type), zap.Error(err))
	}
}

// BatchItem is the per-scan outcome of ReanalyzeBatch.
type BatchItem struct {
	ScanID uuid.UUID         `json:"scan_id"`
	Status models.ScanStatus `json:"status"`
	Error  string            `json:"error,omitempty"`
}

// ReanalyzeBatch re-runs several scans through a single batch inference
// call. Scans that are busy or not retriggerable are reported and skipped.
func (o *Orchestrator) ReanalyzeBatch(ctx context.Context, scanIDs []uuid.UUID) ([]BatchItem, error) {
	logger := o.logger.With(zap.String("step", "reanalyze_batch"), zap.Int("count", len(scanIDs)))
	start := time.Now()

	items := make([]BatchItem, 0, len(scanIDs))
	type pending struct {
		scan    *models.Scan
		release func()
	}
	var (
		claimed []pending
		images  []inference.Image
	)
	defer func() {
		for _, p := range claimed {
			p.release()
		}
	}()

	for _, id := range scanIDs {
		release, err := o.acquire(ctx, "orchestrator.ReanalyzeBatch", id)
		if err != nil {
			items = append(items, BatchItem{ScanID: id, Error: err.Error()})
			continue
		}
		scan, err := o.scans.GetByID(ctx, id)
		if err != nil || scan == nil {
			release()
			msg := "scan not found"
			if err != nil {
				msg = err.Error()
			}
			items = append(items, BatchItem{ScanID: id, Error: msg})
			continue
		}
		ok, err := o.scans.MarkAnalyzing(ctx, id, o.staleAfter)
		if err != nil || !ok {
			release()
			msg := fmt.Sprintf("scan is %s", scan.Status)
			if err != nil {
				msg = err.Error()
			}
			items = append(items, BatchItem{ScanID: id, Status: scan.Status, Error: msg})
			continue
		}
		data, err := o.images.Fetch(ctx, scan.Image.StorageKey)
		if err != nil {
			o.handleFailure(ctx, logger, scan, models.ScanAnalysisFailed, err, start)
			release()
			items = append(items, BatchItem{ScanID: id, Status: models.ScanAnalysisFailed, Error: err.Error()})
			continue
		}
		claimed = append(claimed, pending{scan: scan, release: release})
		images = append(images, inference.Image{Filename: id.String() + path.Ext(scan.Image.StorageKey), Data: data})
	}

	if len(claimed) == 0 {
		return items, nil
	}

	results, err := o.inference.AnalyzeBatch(ctx, images)
	if err != nil {
		logger.Error("batch inference failed", zap.Error(err))
		for _, p := range claimed {
			o.handleFailure(ctx, logger, p.scan, models.ScanAnalysisFailed, err, start)
			items = append(items, BatchItem{ScanID: p.scan.ID, Status: models.ScanAnalysisFailed, Error: err.Error()})
		}
		return items, nil
	}

	byName := make(map[string]inference.BatchResult, len(results))
	for _, r := range results {
		byName[r.Filename] = r
	}

	for i, p := range claimed {
		r, ok := byName[images[i].Filename]
		var cause error
		switch {
		case !ok:
			cause = apperr.Wrap(apperr.KindInvalidResponse, "orchestrator.ReanalyzeBatch", errors.New("no result returned for image"))
		case !r.Success:
			cause = apperr.Wrap(apperr.KindInvalidResponse, "orchestrator.ReanalyzeBatch", errors.New(r.Error))
		}
		if cause != nil {
			o.handleFailure(ctx, logger, p.scan, models.ScanAnalysisFailed, cause, start)
			items = append(items, BatchItem{ScanID: p.scan.ID, Status: models.ScanAnalysisFailed, Error: cause.Error()})
			continue
		}

		scanLogger := o.logger.With(zap.String("scan_id", p.scan.ID.String()))
		res, err := o.reconcile(ctx, scanLogger, p.scan, r.Data, false, start)
		if err != nil {
			var ae *AnalysisError
			status := models.ScanPartiallyReconciled
			if errors.As(err, &ae) {
				status = ae.Status
			}
			items = append(items, BatchItem{ScanID: p.scan.ID, Status: status, Error: err.Error()})
			continue
		}
		items = append(items, BatchItem{ScanID: res.ScanID, Status: res.Status})
	}

	logger.Info("batch reanalysis finished", zap.Duration("duration", time.Since(start)))
	return items, nil
}
