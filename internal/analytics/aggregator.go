// Package analytics rolls scans into daily snapshots and composes those into
// weekly, monthly and arbitrary-range views.
package analytics

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/metrics"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
	"github.com/VinByte365/Project-Pamada-sub000/internal/repository"
)

// maxRangeDays bounds AggregateRange so a single request cannot roll up
// years of scans.
const maxRangeDays = 366

// snapshotNamespace seeds deterministic snapshot ids.
var snapshotNamespace = uuid.MustParse("5d0f6a3e-8a41-4c2b-9a8e-2f7a0d1c6b55")

// ScanSource reads the scans a rollup is computed from.
type ScanSource interface {
	ListCreatedBetween(ctx context.Context, start, end time.Time, userID *uuid.UUID) ([]models.Scan, error)
	CountDistinctPlants(ctx context.Context, start, end time.Time, userID *uuid.UUID) (int, error)
	CountForUser(ctx context.Context, userID uuid.UUID) (int, error)
	List(ctx context.Context, f models.ScanFilter) ([]models.Scan, int, error)
}

// SnapshotStore persists daily snapshots.
type SnapshotStore interface {
	InsertIfAbsent(ctx context.Context, snap *models.AnalyticsSnapshot) (*models.AnalyticsSnapshot, bool, error)
	Delete(ctx context.Context, day time.Time, userID *uuid.UUID) error
	ListRange(ctx context.Context, from, to time.Time, userID *uuid.UUID) ([]models.AnalyticsSnapshot, error)
}

// PlantCounter tallies an owner's plants.
type PlantCounter interface {
	CountForOwner(ctx context.Context, ownerID uuid.UUID) (repository.PlantCounts, error)
}

// Aggregator computes analytics. Day boundaries are taken in loc.
type Aggregator struct {
	scans     ScanSource
	snapshots SnapshotStore
	plants    PlantCounter
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the clock used to decide whether a day has ended.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// New creates an Aggregator.
func New(scans ScanSource, snapshots SnapshotStore, plants PlantCounter, loc *time.Location, opts ...Option) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	a := &Aggregator{
		scans:     scans,
		snapshots: snapshots,
		plants:    plants,
		loc:       loc,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("service", "analytics-aggregator"))
	return a
}

// Location returns the timezone day boundaries are computed in.
func (a *Aggregator) Location() *time.Location { return a.loc }

// dayBounds returns the first and last instant of the calendar day of t in
// the aggregator's timezone, and the day as a zone-free date.
func (a *Aggregator) dayBounds(t time.Time) (start, end, day time.Time) {
	local := t.In(a.loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
	end = start.AddDate(0, 0, 1).Add(-time.Microsecond)
	day = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return start, end, day
}

// SnapshotID is the deterministic id of the snapshot for (day, user).
func SnapshotID(day time.Time, userID *uuid.UUID) uuid.UUID {
	scope := "all"
	if userID != nil {
		scope = userID.String()
	}
	return uuid.NewSHA1(snapshotNamespace, []byte(day.Format(time.DateOnly)+"|"+scope))
}

// AggregateDaily returns the snapshot for the calendar day containing date.
// A stored snapshot is returned unchanged. Otherwise the day is computed from
// its scans and, once the day has ended, stored; a concurrent caller that
// stored first wins and its snapshot is returned.
func (a *Aggregator) AggregateDaily(ctx context.Context, date time.Time, userID *uuid.UUID) (*models.AnalyticsSnapshot, error) {
	const op = "analytics.AggregateDaily"

	_, _, day := a.dayBounds(date)
	stored, err := a.snapshots.ListRange(ctx, day, day, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if len(stored) > 0 {
		return &stored[0], nil
	}
	return a.computeDaily(ctx, date, userID)
}

// RegenerateDaily discards the stored snapshot for the day and computes it
// again from the current scans.
func (a *Aggregator) RegenerateDaily(ctx context.Context, date time.Time, userID *uuid.UUID) (*models.AnalyticsSnapshot, error) {
	_, _, day := a.dayBounds(date)
	if err := a.snapshots.Delete(ctx, day, userID); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "analytics.RegenerateDaily", err)
	}
	a.logger.Info("daily snapshot discarded", zap.String("day", day.Format(time.DateOnly)), zap.Bool("global", userID == nil))
	return a.computeDaily(ctx, date, userID)
}

func (a *Aggregator) computeDaily(ctx context.Context, date time.Time, userID *uuid.UUID) (*models.AnalyticsSnapshot, error) {
	const op = "analytics.AggregateDaily"
	start, end, day := a.dayBounds(date)

	scans, err := a.scans.ListCreatedBetween(ctx, start, end, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	snap := &models.AnalyticsSnapshot{
		ID:        SnapshotID(day, userID),
		Date:      day,
		UserID:    userID,
		Metrics:   ComputeMetrics(scans),
		CreatedAt: a.now().UTC().Truncate(time.Microsecond),
	}

	if !a.now().After(end) {
		// Unstored snapshots are stamped with the day's end.
		snap.CreatedAt = end.UTC().Truncate(time.Microsecond)
		metrics.SnapshotsComputed.WithLabelValues("false").Inc()
		return snap, nil
	}

	stored, inserted, err := a.snapshots.InsertIfAbsent(ctx, snap)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	metrics.SnapshotsComputed.WithLabelValues(strconv.FormatBool(inserted)).Inc()
	if inserted {
		a.logger.Debug("daily snapshot stored",
			zap.String("day", day.Format(time.DateOnly)),
			zap.Int("total_scans", snap.Metrics.TotalScans),
		)
	}
	return stored, nil
}

// ComputeMetrics rolls a day's scans into snapshot metrics. Averages skip
// scans that do not report the field; an empty average is 0.
func ComputeMetrics(scans []models.Scan) models.SnapshotMetrics {
	m := models.NewSnapshotMetrics()
	m.TotalScans = len(scans)

	plants := make(map[uuid.UUID]struct{}, len(scans))
	var health, confidence, processing float64
	for _, s := range scans {
		plants[s.PlantID] = struct{}{}

		if r := s.AnalysisResult; r != nil {
			if r.HarvestReady {
				m.HarvestReadyCount++
			}
			if r.DiseaseDetected {
				m.DiseaseAlerts++
			}
			health += float64(r.HealthScore)
			m.HealthSamples++
			confidence += r.ConfidenceScore
			m.ConfidenceSamples++
		}
		if p := s.Metadata.ProcessingTimeMs; p != nil && *p >= 0 {
			processing += *p
			m.ProcessingSamples++
		}

		for _, p := range s.Predictions {
			key := string(p.Class)
			if _, ok := m.ConditionDistribution[key]; ok {
				m.ConditionDistribution[key]++
			} else if _, ok := m.PestDistribution[key]; ok {
				m.PestDistribution[key]++
			}
		}
	}
	m.TotalPlantsMonitored = len(plants)
	m.AvgHealthScore = mean(health, m.HealthSamples)
	m.AvgConfidence = mean(confidence, m.ConfidenceSamples)
	m.AvgProcessingTimeMs = mean(processing, m.ProcessingSamples)
	return m
}

// Combine sums daily metrics field by field. Averages are weighted by the
// number of scans behind each day's average. TotalPlantsMonitored is left
// at 0 because plants repeat across days; callers count it separately.
func Combine(days []models.AnalyticsSnapshot) models.SnapshotMetrics {
	m := models.NewSnapshotMetrics()
	var health, confidence, processing float64
	for _, d := range days {
		dm := d.Metrics
		m.TotalScans += dm.TotalScans
		m.HarvestReadyCount += dm.HarvestReadyCount
		m.DiseaseAlerts += dm.DiseaseAlerts
		for k, v := range dm.ConditionDistribution {
			if _, ok := m.ConditionDistribution[k]; ok {
				m.ConditionDistribution[k] += v
			}
		}
		for k, v := range dm.PestDistribution {
			if _, ok := m.PestDistribution[k]; ok {
				m.PestDistribution[k] += v
			}
		}
		health += dm.AvgHealthScore * float64(dm.HealthSamples)
		confidence += dm.AvgConfidence * float64(dm.ConfidenceSamples)
		processing += dm.AvgProcessingTimeMs * float64(dm.ProcessingSamples)
		m.HealthSamples += dm.HealthSamples
		m.ConfidenceSamples += dm.ConfidenceSamples
		m.ProcessingSamples += dm.ProcessingSamples
	}
	m.AvgHealthScore = mean(health, m.HealthSamples)
	m.AvgConfidence = mean(confidence, m.ConfidenceSamples)
	m.AvgProcessingTimeMs = mean(processing, m.ProcessingSamples)
	return m
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// AggregateWeekly summarizes the Sunday-to-Saturday week containing
// weekStart.
func (a *Aggregator) AggregateWeekly(ctx context.Context, weekStart time.Time, userID *uuid.UUID) (*models.PeriodSummary, error) {
	start, _, _ := a.dayBounds(weekStart)
	start = start.AddDate(0, 0, -int(start.Weekday()))
	return a.period(ctx, models.PeriodWeek, start, start.AddDate(0, 0, 7), userID)
}

// AggregateMonthly summarizes one calendar month.
func (a *Aggregator) AggregateMonthly(ctx context.Context, year int, month time.Month, userID *uuid.UUID) (*models.PeriodSummary, error) {
	if month < time.January || month > time.December {
		return nil, apperr.Validation("analytics.AggregateMonthly", "month %d outside 1-12", month)
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, a.loc)
	return a.period(ctx, models.PeriodMonth, start, start.AddDate(0, 1, 0), userID)
}

// AggregateRange splits [from, to] into day, week or month buckets and
// summarizes each. Partial buckets at either end are clipped to the range.
func (a *Aggregator) AggregateRange(ctx context.Context, from, to time.Time, period models.Period, userID *uuid.UUID) ([]models.PeriodSummary, error) {
	const op = "analytics.AggregateRange"

	start, _, _ := a.dayBounds(from)
	last, _, _ := a.dayBounds(to)
	if last.Before(start) {
		return nil, apperr.Validation(op, "end date %s is before start date %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	end := last.AddDate(0, 0, 1)
	if end.Sub(start) > maxRangeDays*24*time.Hour+time.Hour {
		return nil, apperr.Validation(op, "range exceeds %d days", maxRangeDays)
	}

	summaries := []models.PeriodSummary{}
	for bucket := start; bucket.Before(end); {
		next := a.nextBucket(bucket, period)
		if next.After(end) {
			next = end
		}
		s, err := a.period(ctx, period, bucket, next, userID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *s)
		bucket = next
	}
	return summaries, nil
}

func (a *Aggregator) nextBucket(t time.Time, period models.Period) time.Time {
	switch period {
	case models.PeriodWeek:
		return t.AddDate(0, 0, 7-int(t.Weekday()))
	case models.PeriodMonth:
		return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, a.loc)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// period composes [start, end) from daily snapshots. start and end are
// local midnights.
func (a *Aggregator) period(ctx context.Context, period models.Period, start, end time.Time, userID *uuid.UUID) (*models.PeriodSummary, error) {
	const op = "analytics.Aggregate"

	_, _, firstDay := a.dayBounds(start)
	_, _, lastDay := a.dayBounds(end.AddDate(0, 0, -1))
	stored, err := a.snapshots.ListRange(ctx, firstDay, lastDay, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	byDay := make(map[string]models.AnalyticsSnapshot, len(stored))
	for _, s := range stored {
		byDay[s.Date.Format(time.DateOnly)] = s
	}

	daily := []models.AnalyticsSnapshot{}
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		_, _, key := a.dayBounds(d)
		if s, ok := byDay[key.Format(time.DateOnly)]; ok {
			daily = append(daily, s)
			continue
		}
		s, err := a.computeDaily(ctx, d, userID)
		if err != nil {
			return nil, err
		}
		daily = append(daily, *s)
	}

	lastInstant := end.Add(-time.Microsecond)
	plants, err := a.scans.CountDistinctPlants(ctx, start, lastInstant, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	m := Combine(daily)
	m.TotalPlantsMonitored = plants
	return &models.PeriodSummary{
		Period:  period,
		Start:   start,
		End:     lastInstant,
		Metrics: m,
		Daily:   daily,
	}, nil
}

// Summary is the dashboard view for one user.
func (a *Aggregator) Summary(ctx context.Context, userID uuid.UUID) (*models.DashboardSummary, error) {
	const op = "analytics.Summary"

	counts, err := a.plants.CountForOwner(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	total, err := a.scans.CountForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	recent, _, err := a.scans.List(ctx, models.ScanFilter{UserID: &userID, Page: 1, Limit: 5})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	return &models.DashboardSummary{
		TotalPlants:    counts.Total,
		TotalScans:     total,
		HarvestReady:   counts.HarvestReady,
		DiseasedPlants: counts.Diseased,
		HealthyPlants:  max(counts.Total-counts.Diseased, 0),
		RecentScans:    recent,
	}, nil
}

// RollupPrevious stores the all-users snapshot for the day before now and
// one snapshot for every user who scanned that day. It returns how many
// snapshots it covered.
func (a *Aggregator) RollupPrevious(ctx context.Context) (int, error) {
	yesterday := a.now().In(a.loc).AddDate(0, 0, -1)
	start, end, _ := a.dayBounds(yesterday)

	scans, err := a.scans.ListCreatedBetween(ctx, start, end, nil)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "analytics.RollupPrevious", err)
	}
	if _, err := a.AggregateDaily(ctx, yesterday, nil); err != nil {
		return 0, err
	}

	n := 1
	seen := make(map[uuid.UUID]struct{})
	for _, s := range scans {
		if _, ok := seen[s.UserID]; ok {
			continue
		}
		seen[s.UserID] = struct{}{}
		userID := s.UserID
		if _, err := a.AggregateDaily(ctx, yesterday, &userID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
