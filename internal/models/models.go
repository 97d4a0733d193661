package models

import (
	"time"

	"github.com/google/uuid"
)

// Plant is a monitored specimen owned by one user.
type Plant struct {
	ID            uuid.UUID     `json:"id"`
	PlantCode     string        `json:"plant_id"`
	OwnerID       uuid.UUID     `json:"owner_id"`
	PlantingDate  time.Time     `json:"planting_date"`
	Location      PlantLocation `json:"location"`
	Metadata      PlantMetadata `json:"metadata"`
	CurrentStatus PlantStatus   `json:"current_status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type PlantLocation struct {
	FarmName   string   `json:"farm_name,omitempty"`
	PlotNumber string   `json:"plot_number,omitempty"`
	Lat        *float64 `json:"lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Lng        *float64 `json:"lng,omitempty" validate:"omitempty,gte=-180,lte=180"`
}

type PlantMetadata struct {
	Variety           string `json:"variety,omitempty"`
	PropagationMethod string `json:"propagation_method,omitempty" validate:"omitempty,oneof=in-vitro vegetative seed"`
	SoilType          string `json:"soil_type,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// PlantStatus is the snapshot derived from the most recent completed scan.
// SourceScanAt orders concurrent reconciliations: a scan captured earlier
// than SourceScanAt never overwrites the status.
type PlantStatus struct {
	HealthScore            int        `json:"health_score"`
	HarvestReady           bool       `json:"harvest_ready"`
	PrimaryCondition       *Condition `json:"primary_condition,omitempty"`
	DiseaseSeverity        Severity   `json:"disease_severity"`
	EstimatedDaysToHarvest *int       `json:"estimated_days_to_harvest,omitempty"`
	LastScanDate           *time.Time `json:"last_scan_date,omitempty"`
	SourceScanID           *uuid.UUID `json:"source_scan_id,omitempty"`
	SourceScanAt           *time.Time `json:"-"`
}

// DefaultPlantStatus is the status of a plant that has never been scanned.
func DefaultPlantStatus() PlantStatus {
	return PlantStatus{HealthScore: 100, DiseaseSeverity: SeverityNone}
}

// Scan is one captured image and everything derived from it.
type Scan struct {
	ID                 uuid.UUID          `json:"id"`
	ScanCode           string             `json:"scan_id"`
	PlantID            uuid.UUID          `json:"plant_id"`
	UserID             uuid.UUID          `json:"user_id"`
	Status             ScanStatus         `json:"status"`
	Image              ImageRef           `json:"image_data"`
	Predictions        []Prediction       `json:"yolo_predictions"`
	VisualFeatures     *VisualFeatures    `json:"visual_features,omitempty"`
	AgeEstimation      *AgeEstimation     `json:"age_estimation,omitempty"`
	AnalysisResult     *AnalysisResult    `json:"analysis_result,omitempty"`
	Recommendations    *Recommendations   `json:"recommendations,omitempty"`
	Metadata           ScanMetadata       `json:"scan_metadata"`
	SelfLearningStatus SelfLearningStatus `json:"self_learning_status"`
	RawInference       *InferencePayload  `json:"-"`
	Attempts           int                `json:"attempts"`
	LastError          *string            `json:"last_error,omitempty"`
	AnalyzedAt         *time.Time         `json:"analyzed_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// PrimaryClass returns the class of the first prediction, if any.
func (s *Scan) PrimaryClass() (Condition, bool) {
	if len(s.Predictions) == 0 {
		return "", false
	}
	return s.Predictions[0].Class, true
}

// ImageRef locates the stored image. StorageKey is the identifier used to
// fetch or delete the object.
type ImageRef struct {
	OriginalURL  string `json:"original_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	StorageKey   string `json:"storage_key"`
	ContentType  string `json:"content_type,omitempty"`
	FileSize     int64  `json:"file_size"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Prediction struct {
	Class       Condition    `json:"class" validate:"required,condition"`
	Confidence  float64      `json:"confidence" validate:"gte=0,lte=1"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
}

type StructuralFeatures struct {
	ThicknessEstimate string `json:"thickness_estimate,omitempty" validate:"omitempty,oneof=thin medium thick"`
	LeafCountVisible  *int   `json:"leaf_count_visible,omitempty" validate:"omitempty,gte=0"`
}

type VisualFeatures struct {
	LeafColorIndex      *float64            `json:"leaf_color_index,omitempty"`
	SurfacePatternScore *float64            `json:"surface_pattern_score,omitempty"`
	StructuralFeatures  *StructuralFeatures `json:"structural_features,omitempty"`
}

type AgeEstimation struct {
	EstimatedAgeMonths     *float64 `json:"estimated_age_months,omitempty"`
	MaturityAssessment     Maturity `json:"maturity_assessment,omitempty"`
	EstimatedDaysToHarvest *int     `json:"estimated_days_to_harvest,omitempty"`
	AgeConfidence          *float64 `json:"age_confidence,omitempty"`
}

// AnalysisResult is the normalized outcome of reconciliation.
type AnalysisResult struct {
	HarvestReady           bool     `json:"harvest_ready"`
	MaturityAssessment     Maturity `json:"maturity_assessment" validate:"required,oneof=immature maturing optimal over-mature"`
	HealthScore            int      `json:"health_score" validate:"gte=0,lte=100"`
	DiseaseDetected        bool     `json:"disease_detected"`
	DiseaseSeverity        Severity `json:"disease_severity" validate:"required,oneof=none mild moderate severe"`
	RecommendedAction      Action   `json:"recommended_action" validate:"required,oneof=harvest_now wait_2_weeks treat_disease monitor_daily"`
	EstimatedDaysToHarvest int      `json:"estimated_days_to_harvest" validate:"gte=0"`
	ConfidenceScore        float64  `json:"confidence_score" validate:"gte=0,lte=1"`
}

type Recommendations struct {
	TreatmentPlan      []string   `json:"treatment_plan"`
	PreventiveMeasures []string   `json:"preventive_measures"`
	FollowUpRequired   bool       `json:"follow_up_required"`
	NextScanDate       *time.Time `json:"next_scan_date,omitempty"`
}

type ScanMetadata struct {
	DeviceType       string   `json:"device_type,omitempty"`
	AppVersion       string   `json:"app_version,omitempty"`
	ProcessingTimeMs *float64 `json:"processing_time_ms,omitempty" validate:"omitempty,gte=0"`
	ModelVersion     string   `json:"model_version,omitempty"`
	InferenceServer  string   `json:"inference_server,omitempty"`
}

type SelfLearningStatus struct {
	AddedToDataset     bool       `json:"added_to_dataset"`
	RequiresValidation bool       `json:"requires_validation"`
	ValidatedBy        *uuid.UUID `json:"validated_by,omitempty"`
	ValidationDate     *time.Time `json:"validation_date,omitempty"`
}

// InferencePayload is the data block returned by the inference service for
// one image.
type InferencePayload struct {
	Predictions      []Prediction    `json:"yolo_predictions"`
	VisualFeatures   *VisualFeatures `json:"visual_features,omitempty"`
	AgeEstimation    *AgeEstimation  `json:"age_estimation,omitempty"`
	ConfidenceScore  *float64        `json:"confidence_score,omitempty"`
	ProcessingTimeMs *float64        `json:"processing_time_ms,omitempty"`
}

// TrainingEntry is a candidate labeled example for retraining.
type TrainingEntry struct {
	ID                     uuid.UUID        `json:"id"`
	SourceScanID           *uuid.UUID       `json:"source_scan_id,omitempty"`
	ImageURL               string           `json:"image_url"`
	ThumbnailURL           string           `json:"thumbnail_url,omitempty"`
	Label                  Condition        `json:"label"`
	ValidationStatus       ValidationStatus `json:"validation_status"`
	ValidatedBy            *uuid.UUID       `json:"validated_by,omitempty"`
	ValidationDate         *time.Time       `json:"validation_date,omitempty"`
	ValidationNotes        *string          `json:"validation_notes,omitempty"`
	ConfidenceWhenCaptured *float64         `json:"confidence_when_captured,omitempty"`
	AddedToTraining        bool             `json:"added_to_training"`
	TrainingBatch          *string          `json:"training_batch,omitempty"`
	ExportedAt             *time.Time       `json:"exported_at,omitempty"`
	Metadata               TrainingMetadata `json:"metadata"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

type TrainingMetadata struct {
	OriginalPrediction Condition `json:"original_prediction,omitempty"`
	CorrectedLabel     Condition `json:"corrected_label,omitempty"`
	ImageQualityScore  *float64  `json:"image_quality_score,omitempty"`
}

// ExportedItem is one (image, label, batch) tuple handed to retraining.
type ExportedItem struct {
	EntryID  uuid.UUID `json:"id"`
	ImageURL string    `json:"image_url"`
	Label    Condition `json:"label"`
	Batch    string    `json:"training_batch"`
}

type LabelCount struct {
	Label Condition `json:"label"`
	Count int       `json:"count"`
}

type TrainingStats struct {
	Total             int          `json:"total"`
	Pending           int          `json:"pending"`
	Validated         int          `json:"validated"`
	Rejected          int          `json:"rejected"`
	InTraining        int          `json:"in_training"`
	LabelDistribution []LabelCount `json:"label_distribution"`
}

// AnalyticsSnapshot is the persisted rollup for one day. UserID is nil for
// the all-users rollup.
type AnalyticsSnapshot struct {
	ID        uuid.UUID       `json:"id"`
	Date      time.Time       `json:"date"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	Metrics   SnapshotMetrics `json:"metrics"`
	CreatedAt time.Time       `json:"created_at"`
}

// SnapshotMetrics holds the rollup values. The *Samples fields count the
// scans that contributed to each average so period views can weight them.
type SnapshotMetrics struct {
	TotalScans            int            `json:"total_scans"`
	TotalPlantsMonitored  int            `json:"total_plants_monitored"`
	HarvestReadyCount     int            `json:"harvest_ready_count"`
	DiseaseAlerts         int            `json:"disease_alerts"`
	ConditionDistribution map[string]int `json:"condition_distribution"`
	PestDistribution      map[string]int `json:"pest_distribution"`
	AvgHealthScore        float64        `json:"avg_health_score"`
	AvgConfidence         float64        `json:"avg_confidence"`
	AvgProcessingTimeMs   float64        `json:"avg_processing_time_ms"`
	HealthSamples         int            `json:"health_samples"`
	ConfidenceSamples     int            `json:"confidence_samples"`
	ProcessingSamples     int            `json:"processing_samples"`
}

// NewSnapshotMetrics returns zeroed metrics with every distribution key set.
func NewSnapshotMetrics() SnapshotMetrics {
	m := SnapshotMetrics{
		ConditionDistribution: make(map[string]int, len(ConditionKeys)),
		PestDistribution:      make(map[string]int, len(PestKeys)),
	}
	for _, k := range ConditionKeys {
		m.ConditionDistribution[string(k)] = 0
	}
	for _, k := range PestKeys {
		m.PestDistribution[string(k)] = 0
	}
	return m
}

// PeriodSummary is a week or month (or any range) composed from daily
// snapshots. It is never persisted.
type PeriodSummary struct {
	Period  Period              `json:"period"`
	Start   time.Time           `json:"start"`
	End     time.Time           `json:"end"`
	Metrics SnapshotMetrics     `json:"metrics"`
	Daily   []AnalyticsSnapshot `json:"daily_breakdown,omitempty"`
}

type DashboardSummary struct {
	TotalPlants    int    `json:"total_plants"`
	TotalScans     int    `json:"total_scans"`
	HarvestReady   int    `json:"harvest_ready"`
	DiseasedPlants int    `json:"diseased_plants"`
	HealthyPlants  int    `json:"healthy_plants"`
	RecentScans    []Scan `json:"recent_scans"`
}
