package models

// Condition is a prediction class emitted by the inference service.
type Condition string

const (
	ConditionHealthy          Condition = "healthy"
	ConditionLeafSpot         Condition = "leaf_spot"
	ConditionRootRot          Condition = "root_rot"
	ConditionSunburn          Condition = "sunburn"
	ConditionAloeRust         Condition = "aloe_rust"
	ConditionBacterialSoftRot Condition = "bacterial_soft_rot"
	ConditionAnthracnose      Condition = "anthracnose"
	ConditionScaleInsect      Condition = "scale_insect"
	ConditionMealybug         Condition = "mealybug"
	ConditionSpiderMite       Condition = "spider_mite"
)

// ConditionKeys are the fixed keys of a snapshot's condition distribution.
var ConditionKeys = []Condition{
	ConditionHealthy,
	ConditionLeafSpot,
	ConditionRootRot,
	ConditionSunburn,
	ConditionAloeRust,
	ConditionBacterialSoftRot,
	ConditionAnthracnose,
	ConditionScaleInsect,
}

// PestKeys are the fixed keys of a snapshot's pest distribution.
var PestKeys = []Condition{
	ConditionMealybug,
	ConditionSpiderMite,
}

// Valid reports whether c is one of the ten known classes.
func (c Condition) Valid() bool {
	return c.IsPest() || c.inConditionKeys()
}

// IsPest reports whether c is tallied in the pest distribution.
func (c Condition) IsPest() bool {
	for _, k := range PestKeys {
		if c == k {
			return true
		}
	}
	return false
}

func (c Condition) inConditionKeys() bool {
	for _, k := range ConditionKeys {
		if c == k {
			return true
		}
	}
	return false
}

// Severity grades a detected disease.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Maturity is the inference service's age assessment.
type Maturity string

const (
	MaturityImmature   Maturity = "immature"
	MaturityMaturing   Maturity = "maturing"
	MaturityOptimal    Maturity = "optimal"
	MaturityOverMature Maturity = "over-mature"
)

// Action is the recommended next step for the grower.
type Action string

const (
	ActionHarvestNow   Action = "harvest_now"
	ActionWait2Weeks   Action = "wait_2_weeks"
	ActionTreatDisease Action = "treat_disease"
	ActionMonitorDaily Action = "monitor_daily"
)

// ScanStatus tracks a scan through analysis.
//
//	queued -> analyzing -> reconciling -> completed
//	analyzing -> analysis_failed
//	reconciling -> partially_reconciled
type ScanStatus string

const (
	ScanQueued              ScanStatus = "queued"
	ScanAnalyzing           ScanStatus = "analyzing"
	ScanReconciling         ScanStatus = "reconciling"
	ScanCompleted           ScanStatus = "completed"
	ScanAnalysisFailed      ScanStatus = "analysis_failed"
	ScanPartiallyReconciled ScanStatus = "partially_reconciled"
)

func (s ScanStatus) Valid() bool {
	switch s {
	case ScanQueued, ScanAnalyzing, ScanReconciling, ScanCompleted, ScanAnalysisFailed, ScanPartiallyReconciled:
		return true
	}
	return false
}

// Retriggerable reports whether an explicit re-trigger may start a new
// analysis attempt from this status.
func (s ScanStatus) Retriggerable() bool {
	switch s {
	case ScanQueued, ScanCompleted, ScanAnalysisFailed, ScanPartiallyReconciled:
		return true
	}
	return false
}

// ValidationStatus is the curation state of a training entry.
type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationRejected  ValidationStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (v ValidationStatus) Terminal() bool {
	return v == ValidationValidated || v == ValidationRejected
}

// Period selects a rollup bucket size.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod accepts both the short and the "-ly" spellings.
func ParsePeriod(s string) (Period, bool) {
	switch s {
	case "", "day", "daily":
		return PeriodDay, true
	case "week", "weekly":
		return PeriodWeek, true
	case "month", "monthly":
		return PeriodMonth, true
	}
	return "", false
}
