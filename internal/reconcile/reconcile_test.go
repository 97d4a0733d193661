package reconcile

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func TestDerive_LeafSpotSevere(t *testing.T) {
	payload := &models.InferencePayload{
		Predictions:    []models.Prediction{{Class: models.ConditionLeafSpot, Confidence: 0.85}},
		VisualFeatures: &models.VisualFeatures{LeafColorIndex: f64(0.6)},
		AgeEstimation:  &models.AgeEstimation{MaturityAssessment: models.MaturityMaturing},
	}

	d := Derive(payload, fixedNow, 0.7)

	assert.Equal(t, models.SeveritySevere, d.Result.DiseaseSeverity)
	assert.Equal(t, 51, d.Result.HealthScore)
	assert.False(t, d.Result.HarvestReady)
	assert.True(t, d.Result.DiseaseDetected)
	assert.Equal(t, models.ActionTreatDisease, d.Result.RecommendedAction)
	require.NotNil(t, d.Recommendations.NextScanDate)
	assert.Equal(t, fixedNow.AddDate(0, 0, 3), *d.Recommendations.NextScanDate)
	assert.True(t, d.Recommendations.FollowUpRequired)
	assert.Equal(t, []string{
		"Treat leaf spot with appropriate treatment",
		"Monitor plant closely for improvement",
	}, d.Recommendations.TreatmentPlan)
	assert.Len(t, d.Recommendations.PreventiveMeasures, 3)
}

func TestDerive_EmptyPredictionsOptimal(t *testing.T) {
	payload := &models.InferencePayload{
		Predictions:    []models.Prediction{},
		VisualFeatures: &models.VisualFeatures{LeafColorIndex: f64(0.9)},
		AgeEstimation:  &models.AgeEstimation{MaturityAssessment: models.MaturityOptimal},
	}

	d := Derive(payload, fixedNow, 0.7)

	assert.Equal(t, models.ConditionHealthy, d.Primary.Class)
	assert.Equal(t, models.SeverityNone, d.Result.DiseaseSeverity)
	assert.Equal(t, 100, d.Result.HealthScore)
	assert.True(t, d.Result.HarvestReady)
	assert.Equal(t, models.ActionHarvestNow, d.Result.RecommendedAction)
	assert.Nil(t, d.Recommendations.NextScanDate)
	assert.False(t, d.Recommendations.FollowUpRequired)
	assert.Equal(t, []string{"Plant is ready for harvest"}, d.Recommendations.TreatmentPlan)
}

func TestDerive_Defaults(t *testing.T) {
	d := Derive(nil, fixedNow, 0.7)

	assert.Equal(t, models.MaturityMaturing, d.Result.MaturityAssessment)
	assert.Equal(t, 60, d.Result.EstimatedDaysToHarvest)
	assert.InDelta(t, 0.5, d.Result.ConfidenceScore, 1e-9)
	assert.True(t, d.RequiresValidation)
	assert.Equal(t, models.ActionWait2Weeks, d.Result.RecommendedAction)
	require.NotNil(t, d.Recommendations.NextScanDate)
	assert.Equal(t, fixedNow.AddDate(0, 0, 14), *d.Recommendations.NextScanDate)
	assert.Empty(t, d.Recommendations.TreatmentPlan)
}

func TestDerive_SeverityBands(t *testing.T) {
	tests := []struct {
		confidence float64
		want       models.Severity
		days       int
	}{
		{0.8, models.SeveritySevere, 3},
		{0.79, models.SeverityModerate, 7},
		{0.6, models.SeverityModerate, 7},
		{0.59, models.SeverityMild, 14},
		{0.0, models.SeverityMild, 14},
	}
	for _, tt := range tests {
		payload := &models.InferencePayload{
			Predictions:   []models.Prediction{{Class: models.ConditionRootRot, Confidence: tt.confidence}},
			AgeEstimation: &models.AgeEstimation{MaturityAssessment: models.MaturityImmature},
		}
		d := Derive(payload, fixedNow, 0.7)
		assert.Equal(t, tt.want, d.Result.DiseaseSeverity, "confidence %v", tt.confidence)
		assert.Equal(t, fixedNow.AddDate(0, 0, tt.days), *d.Recommendations.NextScanDate)
	}
}

func TestDerive_MonitorDaily(t *testing.T) {
	payload := &models.InferencePayload{
		Predictions:   []models.Prediction{{Class: models.ConditionHealthy, Confidence: 0.95}},
		AgeEstimation: &models.AgeEstimation{MaturityAssessment: models.MaturityOverMature},
	}
	d := Derive(payload, fixedNow, 0.7)
	assert.Equal(t, models.ActionMonitorDaily, d.Result.RecommendedAction)
	assert.Nil(t, d.Recommendations.NextScanDate)
}

func TestDerive_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	classes := append(append([]models.Condition{}, models.ConditionKeys...), models.PestKeys...)
	maturities := []models.Maturity{
		models.MaturityImmature, models.MaturityMaturing, models.MaturityOptimal, models.MaturityOverMature,
	}

	for i := 0; i < 2000; i++ {
		payload := &models.InferencePayload{
			AgeEstimation: &models.AgeEstimation{MaturityAssessment: maturities[rng.Intn(len(maturities))]},
		}
		if rng.Intn(5) > 0 {
			payload.Predictions = []models.Prediction{{
				Class:      classes[rng.Intn(len(classes))],
				Confidence: rng.Float64(),
			}}
		}
		if rng.Intn(4) > 0 {
			// deliberately outside [0,1] sometimes
			payload.VisualFeatures = &models.VisualFeatures{LeafColorIndex: f64(rng.Float64()*4 - 2)}
		}

		d := Derive(payload, fixedNow, 0.7)

		isHealthy := d.Primary.Class == models.ConditionHealthy
		assert.Equal(t, isHealthy, d.Result.DiseaseSeverity == models.SeverityNone)
		assert.GreaterOrEqual(t, d.Result.HealthScore, 0)
		assert.LessOrEqual(t, d.Result.HealthScore, 100)
		if d.Result.HarvestReady {
			assert.Equal(t, models.SeverityNone, d.Result.DiseaseSeverity)
			assert.GreaterOrEqual(t, d.Result.HealthScore, 80)
		}
		assert.Equal(t, d.Recommendations.NextScanDate != nil, d.Recommendations.FollowUpRequired)
	}
}

func TestHealthScore_Clamped(t *testing.T) {
	disease := models.Prediction{Class: models.ConditionSunburn, Confidence: 0}
	assert.Equal(t, 100, HealthScore(disease, f64(5)))
	assert.Equal(t, 0, HealthScore(disease, f64(-10)))
	assert.Equal(t, 85, HealthScore(disease, nil))
}

type fakeStore struct {
	mu        sync.Mutex
	scans     map[uuid.UUID]*models.Scan
	recs      []*models.ScanReconciliation
	plantOK   bool
	failWrite error
}

func newFakeStore(scans ...*models.Scan) *fakeStore {
	s := &fakeStore{scans: map[uuid.UUID]*models.Scan{}, plantOK: true}
	for _, sc := range scans {
		s.scans[sc.ID] = sc
	}
	return s
}

func (s *fakeStore) GetForUser(_ context.Context, userID, scanID uuid.UUID) (*models.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scans[scanID]
	if !ok || sc.UserID != userID {
		return nil, nil
	}
	cp := *sc
	return &cp, nil
}

func (s *fakeStore) Reconcile(_ context.Context, rec *models.ScanReconciliation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return false, s.failWrite
	}
	s.recs = append(s.recs, rec)
	sc := s.scans[rec.ScanID]
	if sc != nil {
		sc.Status = rec.Status
		sc.Predictions = rec.Predictions
		sc.AnalysisResult = rec.AnalysisResult
		sc.Recommendations = rec.Recommendations
		sc.Metadata = rec.Metadata
		sc.SelfLearningStatus = rec.SelfLearning
	}
	return rec.Plant != nil && s.plantOK, nil
}

func newScan(userID uuid.UUID) *models.Scan {
	return &models.Scan{
		ID:        uuid.New(),
		PlantID:   uuid.New(),
		UserID:    userID,
		Status:    models.ScanReconciling,
		Metadata:  models.ScanMetadata{DeviceType: "android", AppVersion: "1.0.0"},
		CreatedAt: fixedNow.Add(-time.Minute),
	}
}

func newReconciler(store Store) *Reconciler {
	return New(store, Options{
		ValidationThreshold: 0.7,
		ModelVersion:        "yolo-v8",
		InferenceServer:     "http://ml:5000",
		Now:                 func() time.Time { return fixedNow },
	})
}

func TestReconcile_WritesScanAndPlant(t *testing.T) {
	scan := newScan(uuid.New())
	store := newFakeStore(scan)
	r := newReconciler(store)

	out, err := r.Reconcile(context.Background(), scan, &models.InferencePayload{
		Predictions:      []models.Prediction{{Class: models.ConditionAloeRust, Confidence: 0.65}},
		ConfidenceScore:  f64(0.65),
		ProcessingTimeMs: f64(210),
	})
	require.NoError(t, err)
	assert.True(t, out.PlantUpdated)

	rec := out.Reconciliation
	assert.Equal(t, models.ScanCompleted, rec.Status)
	assert.Equal(t, scan.PlantID, rec.PlantID)
	assert.Equal(t, "yolo-v8", rec.Metadata.ModelVersion)
	assert.Equal(t, "http://ml:5000", rec.Metadata.InferenceServer)
	assert.Equal(t, "android", rec.Metadata.DeviceType)
	assert.InDelta(t, 210, *rec.Metadata.ProcessingTimeMs, 1e-9)
	assert.True(t, rec.SelfLearning.RequiresValidation)
	assert.Equal(t, fixedNow, *rec.AnalyzedAt)

	require.NotNil(t, rec.Plant)
	assert.Equal(t, models.SeverityModerate, rec.Plant.DiseaseSeverity)
	assert.Equal(t, models.ConditionAloeRust, *rec.Plant.PrimaryCondition)
	assert.Equal(t, scan.CreatedAt, *rec.Plant.SourceScanAt)
	assert.Equal(t, scan.ID, *rec.Plant.SourceScanID)
	assert.Equal(t, rec.AnalysisResult.HealthScore, rec.Plant.HealthScore)
}

func TestReconcile_EmptyPredictionsLeavesPrimaryConditionUnset(t *testing.T) {
	scan := newScan(uuid.New())
	r := newReconciler(newFakeStore(scan))

	out, err := r.Reconcile(context.Background(), scan, &models.InferencePayload{})
	require.NoError(t, err)
	assert.NotNil(t, out.Reconciliation.Predictions)
	assert.Nil(t, out.Reconciliation.Plant.PrimaryCondition)
	assert.Equal(t, 100, out.Reconciliation.Plant.HealthScore)
}

func TestReconcile_StaleScanSkipsPlant(t *testing.T) {
	scan := newScan(uuid.New())
	store := newFakeStore(scan)
	store.plantOK = false

	out, err := newReconciler(store).Reconcile(context.Background(), scan, &models.InferencePayload{})
	require.NoError(t, err)
	assert.False(t, out.PlantUpdated)
}

func TestReconcile_KeepsCuratorFlags(t *testing.T) {
	scan := newScan(uuid.New())
	scan.SelfLearningStatus = models.SelfLearningStatus{AddedToDataset: true, RequiresValidation: true}

	out, err := newReconciler(newFakeStore(scan)).Reconcile(context.Background(), scan, &models.InferencePayload{
		ConfidenceScore: f64(0.99),
	})
	require.NoError(t, err)
	assert.True(t, out.Reconciliation.SelfLearning.AddedToDataset)
	assert.True(t, out.Reconciliation.SelfLearning.RequiresValidation)
}

func TestReconcile_StoreFailure(t *testing.T) {
	scan := newScan(uuid.New())
	store := newFakeStore(scan)
	store.failWrite = errors.New("connection reset")

	_, err := newReconciler(store).Reconcile(context.Background(), scan, &models.InferencePayload{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestInject_AnalysisResultUpdatesPlant(t *testing.T) {
	userID := uuid.New()
	scan := newScan(userID)
	scan.Status = models.ScanAnalysisFailed
	store := newFakeStore(scan)

	preds := []models.Prediction{{Class: models.ConditionMealybug, Confidence: 0.4}}
	updated, err := newReconciler(store).Inject(context.Background(), userID, scan.ID, ScanPatch{
		Predictions: &preds,
		AnalysisResult: &models.AnalysisResult{
			MaturityAssessment:     models.MaturityMaturing,
			HealthScore:            70,
			DiseaseDetected:        true,
			DiseaseSeverity:        models.SeverityMild,
			RecommendedAction:      models.ActionTreatDisease,
			EstimatedDaysToHarvest: 30,
			ConfidenceScore:        0.4,
		},
		Metadata: &models.ScanMetadata{AppVersion: "2.0.0"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ScanCompleted, updated.Status)
	assert.Equal(t, "2.0.0", updated.Metadata.AppVersion)
	assert.Equal(t, "android", updated.Metadata.DeviceType)
	require.Len(t, store.recs, 1)
	plant := store.recs[0].Plant
	require.NotNil(t, plant)
	assert.Equal(t, 70, plant.HealthScore)
	assert.Equal(t, models.ConditionMealybug, *plant.PrimaryCondition)
	assert.Equal(t, 30, *plant.EstimatedDaysToHarvest)
	assert.True(t, store.recs[0].SelfLearning.RequiresValidation)
}

func TestInject_WithoutResultLeavesPlant(t *testing.T) {
	userID := uuid.New()
	scan := newScan(userID)
	scan.Status = models.ScanAnalysisFailed
	store := newFakeStore(scan)

	_, err := newReconciler(store).Inject(context.Background(), userID, scan.ID, ScanPatch{
		VisualFeatures: &models.VisualFeatures{LeafColorIndex: f64(0.4)},
	})
	require.NoError(t, err)
	require.Len(t, store.recs, 1)
	assert.Nil(t, store.recs[0].Plant)
	assert.Equal(t, models.ScanAnalysisFailed, store.recs[0].Status)
}

func TestInject_PredictionsOnCompletedScanRederivePlant(t *testing.T) {
	userID := uuid.New()
	scan := newScan(userID)
	scan.Status = models.ScanCompleted
	scan.Predictions = []models.Prediction{{Class: models.ConditionHealthy, Confidence: 0.9}}
	scan.AnalysisResult = &models.AnalysisResult{
		MaturityAssessment: models.MaturityMaturing,
		HealthScore:        88,
		ConfidenceScore:    0.9,
	}
	store := newFakeStore(scan)

	preds := []models.Prediction{{Class: models.ConditionSunburn, Confidence: 0.65}}
	_, err := newReconciler(store).Inject(context.Background(), userID, scan.ID, ScanPatch{Predictions: &preds})
	require.NoError(t, err)

	require.Len(t, store.recs, 1)
	rec := store.recs[0]
	assert.Equal(t, models.ScanCompleted, rec.Status)
	require.NotNil(t, rec.Plant)
	require.NotNil(t, rec.Plant.PrimaryCondition)
	assert.Equal(t, models.ConditionSunburn, *rec.Plant.PrimaryCondition)
	assert.Equal(t, 88, rec.Plant.HealthScore)
}

func TestInject_SelfLearningStatus(t *testing.T) {
	userID := uuid.New()
	reviewer := uuid.New()
	scan := newScan(userID)
	scan.Status = models.ScanAnalysisFailed
	scan.SelfLearningStatus = models.SelfLearningStatus{AddedToDataset: true, RequiresValidation: true}
	store := newFakeStore(scan)

	when := fixedNow.Add(-time.Hour)
	_, err := newReconciler(store).Inject(context.Background(), userID, scan.ID, ScanPatch{
		SelfLearning: &models.SelfLearningStatus{ValidatedBy: &reviewer, ValidationDate: &when},
	})
	require.NoError(t, err)

	require.Len(t, store.recs, 1)
	sl := store.recs[0].SelfLearning
	assert.True(t, sl.AddedToDataset, "a scan in the dataset stays there")
	assert.False(t, sl.RequiresValidation)
	assert.Equal(t, reviewer, *sl.ValidatedBy)
	assert.Equal(t, when, *sl.ValidationDate)
}

func TestInject_Rejections(t *testing.T) {
	userID := uuid.New()
	scan := newScan(userID)
	scan.Status = models.ScanCompleted
	busy := newScan(userID)
	busy.Status = models.ScanAnalyzing
	r := newReconciler(newFakeStore(scan, busy))
	ctx := context.Background()

	badClass := []models.Prediction{{Class: "cactus_blight", Confidence: 0.5}}
	_, err := r.Inject(ctx, userID, scan.ID, ScanPatch{Predictions: &badClass})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	badConf := []models.Prediction{{Class: models.ConditionHealthy, Confidence: 1.5}}
	_, err = r.Inject(ctx, userID, scan.ID, ScanPatch{Predictions: &badConf})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = r.Inject(ctx, userID, scan.ID, ScanPatch{
		AnalysisResult: &models.AnalysisResult{
			MaturityAssessment: models.MaturityOptimal,
			DiseaseSeverity:    models.SeverityNone,
			RecommendedAction:  models.ActionHarvestNow,
			HealthScore:        100,
			ConfidenceScore:    2,
		},
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = r.Inject(ctx, userID, scan.ID, ScanPatch{
		VisualFeatures: &models.VisualFeatures{LeafColorIndex: f64(-0.1)},
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = r.Inject(ctx, uuid.New(), scan.ID, ScanPatch{})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = r.Inject(ctx, userID, busy.ID, ScanPatch{})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestStatusFromResult(t *testing.T) {
	scan := newScan(uuid.New())
	c := models.ConditionSunburn
	st := StatusFromResult(scan, &c, models.AnalysisResult{HealthScore: 64, EstimatedDaysToHarvest: 12})
	assert.Equal(t, 64, st.HealthScore)
	assert.Equal(t, intp(12), st.EstimatedDaysToHarvest)
	assert.Equal(t, scan.CreatedAt, *st.LastScanDate)
}
