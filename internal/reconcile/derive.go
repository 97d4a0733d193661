// Package reconcile turns raw inference output into a scan's analysis result
// and the owning plant's status.
package reconcile

import (
	"math"
	"strings"
	"time"

	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

const (
	defaultConfidence     = 0.5
	defaultLeafColorIndex = 0.5
	defaultDaysToHarvest  = 60

	harvestHealthFloor = 80
)

var preventiveMeasures = []string{
	"Maintain proper watering schedule",
	"Ensure adequate sunlight",
	"Regular monitoring and inspection",
}

// Derivation is everything computed from one inference payload.
type Derivation struct {
	Primary            models.Prediction
	Result             models.AnalysisResult
	Recommendations    models.Recommendations
	RequiresValidation bool
}

// PrimaryPrediction returns the first prediction, or a healthy prediction at
// 0.5 confidence when the model found nothing.
func PrimaryPrediction(preds []models.Prediction) models.Prediction {
	if len(preds) == 0 {
		return models.Prediction{Class: models.ConditionHealthy, Confidence: defaultConfidence}
	}
	return preds[0]
}

// SeverityFor grades the primary prediction.
func SeverityFor(p models.Prediction) models.Severity {
	switch {
	case p.Class == models.ConditionHealthy:
		return models.SeverityNone
	case p.Confidence >= 0.8:
		return models.SeveritySevere
	case p.Confidence >= 0.6:
		return models.SeverityModerate
	default:
		return models.SeverityMild
	}
}

// HealthScore is 100 for a healthy plant; otherwise it falls with the
// disease confidence and is scaled by leaf color. The result is always in
// [0,100].
func HealthScore(p models.Prediction, leafColorIndex *float64) int {
	if p.Class == models.ConditionHealthy {
		return 100
	}
	lci := defaultLeafColorIndex
	if leafColorIndex != nil {
		lci = *leafColorIndex
	}
	score := (100 - p.Confidence*50) * (0.7 + lci*0.3)
	if math.IsNaN(score) {
		return 0
	}
	return clamp(int(math.Round(score)), 0, 100)
}

// ActionFor picks the grower's next step.
func ActionFor(harvestReady bool, maturity models.Maturity, severity models.Severity) models.Action {
	switch {
	case harvestReady:
		return models.ActionHarvestNow
	case maturity == models.MaturityMaturing && severity == models.SeverityNone:
		return models.ActionWait2Weeks
	case severity != models.SeverityNone:
		return models.ActionTreatDisease
	default:
		return models.ActionMonitorDaily
	}
}

// NextScanDate schedules the follow-up scan, or returns nil when none is
// needed.
func NextScanDate(now time.Time, maturity models.Maturity, severity models.Severity) *time.Time {
	var days int
	switch severity {
	case models.SeveritySevere:
		days = 3
	case models.SeverityModerate:
		days = 7
	case models.SeverityMild:
		days = 14
	default:
		if maturity != models.MaturityMaturing {
			return nil
		}
		days = 14
	}
	next := now.AddDate(0, 0, days)
	return &next
}

// Derive applies the reconciliation rules to one payload. threshold is the
// confidence below which the scan is marked for human validation.
func Derive(payload *models.InferencePayload, now time.Time, threshold float64) Derivation {
	if payload == nil {
		payload = &models.InferencePayload{}
	}

	primary := PrimaryPrediction(payload.Predictions)
	severity := SeverityFor(primary)

	var lci *float64
	if payload.VisualFeatures != nil {
		lci = payload.VisualFeatures.LeafColorIndex
	}
	health := HealthScore(primary, lci)

	maturity := models.MaturityMaturing
	days := defaultDaysToHarvest
	if age := payload.AgeEstimation; age != nil {
		if age.MaturityAssessment != "" {
			maturity = age.MaturityAssessment
		}
		if age.EstimatedDaysToHarvest != nil {
			days = max(*age.EstimatedDaysToHarvest, 0)
		}
	}

	confidence := defaultConfidence
	if payload.ConfidenceScore != nil {
		confidence = *payload.ConfidenceScore
	}

	harvestReady := maturity == models.MaturityOptimal &&
		severity == models.SeverityNone &&
		health >= harvestHealthFloor
	action := ActionFor(harvestReady, maturity, severity)
	next := NextScanDate(now, maturity, severity)

	return Derivation{
		Primary: primary,
		Result: models.AnalysisResult{
			HarvestReady:           harvestReady,
			MaturityAssessment:     maturity,
			HealthScore:            health,
			DiseaseDetected:        severity != models.SeverityNone,
			DiseaseSeverity:        severity,
			RecommendedAction:      action,
			EstimatedDaysToHarvest: days,
			ConfidenceScore:        confidence,
		},
		Recommendations: models.Recommendations{
			TreatmentPlan:      treatmentPlan(primary, severity, maturity),
			PreventiveMeasures: append([]string(nil), preventiveMeasures...),
			FollowUpRequired:   next != nil,
			NextScanDate:       next,
		},
		RequiresValidation: confidence < threshold,
	}
}

func treatmentPlan(primary models.Prediction, severity models.Severity, maturity models.Maturity) []string {
	plan := []string{}
	if severity != models.SeverityNone {
		name := strings.Replace(string(primary.Class), "_", " ", 1)
		plan = append(plan,
			"Treat "+name+" with appropriate treatment",
			"Monitor plant closely for improvement",
		)
	}
	if maturity == models.MaturityOptimal {
		plan = append(plan, "Plant is ready for harvest")
	}
	return plan
}

// StatusFromResult builds the plant status written alongside a scan's
// result. The scan's capture time orders competing writes.
func StatusFromResult(scan *models.Scan, primary *models.Condition, r models.AnalysisResult) models.PlantStatus {
	days := r.EstimatedDaysToHarvest
	captured := scan.CreatedAt
	id := scan.ID
	return models.PlantStatus{
		HealthScore:            r.HealthScore,
		HarvestReady:           r.HarvestReady,
		PrimaryCondition:       primary,
		DiseaseSeverity:        r.DiseaseSeverity,
		EstimatedDaysToHarvest: &days,
		LastScanDate:           &captured,
		SourceScanID:           &id,
		SourceScanAt:           &captured,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
