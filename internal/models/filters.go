package models

import (
	"time"

	"github.com/google/uuid"
)

// ScanReconciliation is everything written when a scan's results land. Plant
// is nil when the owning plant must not be touched.
type ScanReconciliation struct {
	ScanID          uuid.UUID
	PlantID         uuid.UUID
	Status          ScanStatus
	Predictions     []Prediction
	VisualFeatures  *VisualFeatures
	AgeEstimation   *AgeEstimation
	AnalysisResult  *AnalysisResult
	Recommendations *Recommendations
	Metadata        ScanMetadata
	SelfLearning    SelfLearningStatus
	AnalyzedAt      *time.Time
	Plant           *PlantStatus
}

type ScanFilter struct {
	UserID          *uuid.UUID
	PlantID         *uuid.UUID
	Status          *ScanStatus
	DiseaseDetected *bool
	Page            int
	Limit           int
}

type PlantFilter struct {
	OwnerID      uuid.UUID
	HarvestReady *bool
	Severity     *Severity
	Search       string
	Page         int
	Limit        int
}

type TrainingFilter struct {
	ValidationStatus *ValidationStatus
	Label            *Condition
	Batch            *string
	Page             int
	Limit            int
	NewestFirst      bool
}

// ValidateInput is a reviewer's approval of a pending entry. CorrectedLabel
// wins over Label and records the original prediction in metadata.
type ValidateInput struct {
	Label          *Condition `json:"label,omitempty" validate:"omitempty,condition"`
	CorrectedLabel *Condition `json:"corrected_label,omitempty" validate:"omitempty,condition"`
	Notes          *string    `json:"notes,omitempty"`
}
