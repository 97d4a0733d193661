package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/metrics"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

// Store persists reconciliations. Reconcile must write the scan and, when
// rec.Plant is set, the plant status atomically; it reports whether the
// plant row was updated.
type Store interface {
	GetForUser(ctx context.Context, userID, scanID uuid.UUID) (*models.Scan, error)
	Reconcile(ctx context.Context, rec *models.ScanReconciliation) (bool, error)
}

// Options configure a Reconciler.
type Options struct {
	// ValidationThreshold marks scans below this confidence for review.
	ValidationThreshold float64
	ModelVersion        string
	InferenceServer     string
	Now                 func() time.Time
	Logger              *zap.Logger
}

// Reconciler writes derived analysis results onto scans and plants.
type Reconciler struct {
	store  Store
	opts   Options
	logger *zap.Logger
}

// New creates a Reconciler.
func New(store Store, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, opts: opts, logger: logger}
}

// Outcome reports what a reconciliation wrote.
type Outcome struct {
	Reconciliation *models.ScanReconciliation
	Derivation     Derivation
	// PlantUpdated is false when a newer scan already owns the plant status.
	PlantUpdated bool
}

// Build computes the reconciliation for scan without writing it.
func (r *Reconciler) Build(scan *models.Scan, payload *models.InferencePayload) (*models.ScanReconciliation, Derivation) {
	now := r.opts.Now().UTC()
	d := Derive(payload, now, r.opts.ValidationThreshold)

	predictions := []models.Prediction{}
	var visual *models.VisualFeatures
	var age *models.AgeEstimation
	meta := scan.Metadata
	if payload != nil {
		if payload.Predictions != nil {
			predictions = payload.Predictions
		}
		visual = payload.VisualFeatures
		age = payload.AgeEstimation
		meta.ProcessingTimeMs = payload.ProcessingTimeMs
	}
	if r.opts.ModelVersion != "" {
		meta.ModelVersion = r.opts.ModelVersion
	}
	if r.opts.InferenceServer != "" {
		meta.InferenceServer = r.opts.InferenceServer
	}

	learning := scan.SelfLearningStatus
	if !learning.AddedToDataset {
		learning.RequiresValidation = d.RequiresValidation
	}

	var condition *models.Condition
	if len(predictions) > 0 {
		c := predictions[0].Class
		condition = &c
	}
	status := StatusFromResult(scan, condition, d.Result)
	result := d.Result
	recs := d.Recommendations

	return &models.ScanReconciliation{
		ScanID:          scan.ID,
		PlantID:         scan.PlantID,
		Status:          models.ScanCompleted,
		Predictions:     predictions,
		VisualFeatures:  visual,
		AgeEstimation:   age,
		AnalysisResult:  &result,
		Recommendations: &recs,
		Metadata:        meta,
		SelfLearning:    learning,
		AnalyzedAt:      &now,
		Plant:           &status,
	}, d
}

// Reconcile derives the result for payload and writes it onto scan and its
// plant in one transaction. On error nothing was written.
func (r *Reconciler) Reconcile(ctx context.Context, scan *models.Scan, payload *models.InferencePayload) (*Outcome, error) {
	rec, d := r.Build(scan, payload)

	updated, err := r.store.Reconcile(ctx, rec)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "reconcile.Reconcile", err)
	}
	if !updated {
		metrics.PlantStatusSkipped.Inc()
		r.logger.Info("plant status owned by a newer scan; left unchanged",
			zap.String("scan_id", scan.ID.String()),
			zap.String("plant_id", scan.PlantID.String()),
		)
	}

	r.logger.Debug("scan reconciled",
		zap.String("scan_id", scan.ID.String()),
		zap.String("primary_class", string(d.Primary.Class)),
		zap.Int("health_score", d.Result.HealthScore),
		zap.String("severity", string(d.Result.DiseaseSeverity)),
	)
	return &Outcome{Reconciliation: rec, Derivation: d, PlantUpdated: updated}, nil
}

// ScanPatch is the set of fields a client may inject onto a scan. Nil fields
// are left unchanged.
type ScanPatch struct {
	Predictions     *[]models.Prediction       `json:"yolo_predictions" validate:"omitempty,dive"`
	VisualFeatures  *models.VisualFeatures     `json:"visual_features"`
	AgeEstimation   *models.AgeEstimation      `json:"age_estimation"`
	AnalysisResult  *models.AnalysisResult     `json:"analysis_result"`
	Recommendations *models.Recommendations    `json:"recommendations"`
	Metadata        *models.ScanMetadata       `json:"scan_metadata"`
	SelfLearning    *models.SelfLearningStatus `json:"self_learning_status"`
}

// Inject merges patch onto the caller's scan. A patch carrying an analysis
// result completes the scan. Whenever the merged scan has a result, the plant
// status is re-derived from it through the same transactional write.
func (r *Reconciler) Inject(ctx context.Context, userID, scanID uuid.UUID, patch ScanPatch) (*models.Scan, error) {
	const op = "reconcile.Inject"

	if err := models.Validate(patch); err != nil {
		return nil, err
	}
	if patch.VisualFeatures != nil {
		if err := checkUnit(op, "leaf_color_index", patch.VisualFeatures.LeafColorIndex); err != nil {
			return nil, err
		}
		if err := checkUnit(op, "surface_pattern_score", patch.VisualFeatures.SurfacePatternScore); err != nil {
			return nil, err
		}
	}
	if patch.AgeEstimation != nil {
		if err := checkUnit(op, "age_confidence", patch.AgeEstimation.AgeConfidence); err != nil {
			return nil, err
		}
		if m := patch.AgeEstimation.MaturityAssessment; m != "" && !validMaturity(m) {
			return nil, apperr.Validation(op, "unknown maturity_assessment %q", m)
		}
	}

	scan, err := r.store.GetForUser(ctx, userID, scanID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if scan == nil {
		return nil, apperr.NotFound(op, "scan %s not found", scanID)
	}
	if scan.Status == models.ScanAnalyzing || scan.Status == models.ScanReconciling {
		return nil, apperr.Conflict(op, "scan %s is being analyzed", scanID)
	}

	rec := &models.ScanReconciliation{
		ScanID:          scan.ID,
		PlantID:         scan.PlantID,
		Status:          scan.Status,
		Predictions:     scan.Predictions,
		VisualFeatures:  scan.VisualFeatures,
		AgeEstimation:   scan.AgeEstimation,
		AnalysisResult:  scan.AnalysisResult,
		Recommendations: scan.Recommendations,
		Metadata:        scan.Metadata,
		SelfLearning:    scan.SelfLearningStatus,
	}
	if patch.Predictions != nil {
		rec.Predictions = *patch.Predictions
	}
	if patch.VisualFeatures != nil {
		rec.VisualFeatures = patch.VisualFeatures
	}
	if patch.AgeEstimation != nil {
		rec.AgeEstimation = patch.AgeEstimation
	}
	if patch.Recommendations != nil {
		rec.Recommendations = patch.Recommendations
	}
	if patch.Metadata != nil {
		rec.Metadata = mergeMetadata(scan.Metadata, *patch.Metadata)
	}
	if patch.AnalysisResult != nil {
		now := r.opts.Now().UTC()
		rec.AnalysisResult = patch.AnalysisResult
		rec.Status = models.ScanCompleted
		rec.AnalyzedAt = &now
		if !rec.SelfLearning.AddedToDataset {
			rec.SelfLearning.RequiresValidation = patch.AnalysisResult.ConfidenceScore < r.opts.ValidationThreshold
		}
	}
	if patch.SelfLearning != nil {
		rec.SelfLearning = mergeSelfLearning(rec.SelfLearning, *patch.SelfLearning)
	}
	if rec.AnalysisResult != nil {
		var condition *models.Condition
		if len(rec.Predictions) > 0 {
			c := rec.Predictions[0].Class
			condition = &c
		}
		status := StatusFromResult(scan, condition, *rec.AnalysisResult)
		rec.Plant = &status
	}

	if _, err := r.store.Reconcile(ctx, rec); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	updated, err := r.store.GetForUser(ctx, userID, scanID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if updated == nil {
		return nil, apperr.NotFound(op, "scan %s not found", scanID)
	}
	return updated, nil
}

func checkUnit(op, field string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return apperr.Validation(op, "%s %v outside [0,1]", field, *v)
	}
	return nil
}

func validMaturity(m models.Maturity) bool {
	switch m {
	case models.MaturityImmature, models.MaturityMaturing, models.MaturityOptimal, models.MaturityOverMature:
		return true
	}
	return false
}

// mergeSelfLearning applies a client patch. A scan already in the dataset
// stays there.
func mergeSelfLearning(base, patch models.SelfLearningStatus) models.SelfLearningStatus {
	base.AddedToDataset = base.AddedToDataset || patch.AddedToDataset
	base.RequiresValidation = patch.RequiresValidation
	if patch.ValidatedBy != nil {
		base.ValidatedBy = patch.ValidatedBy
	}
	if patch.ValidationDate != nil {
		base.ValidationDate = patch.ValidationDate
	}
	return base
}

func mergeMetadata(base, patch models.ScanMetadata) models.ScanMetadata {
	if patch.DeviceType != "" {
		base.DeviceType = patch.DeviceType
	}
	if patch.AppVersion != "" {
		base.AppVersion = patch.AppVersion
	}
	if patch.ProcessingTimeMs != nil {
		base.ProcessingTimeMs = patch.ProcessingTimeMs
	}
	if patch.ModelVersion != "" {
		base.ModelVersion = patch.ModelVersion
	}
	if patch.InferenceServer != "" {
		base.InferenceServer = patch.InferenceServer
	}
	return base
}
