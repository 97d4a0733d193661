package curator

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/events"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

type memScan struct {
	id         uuid.UUID
	status     models.ScanStatus
	confidence float64
	class      models.Condition
	inDataset  bool
	createdAt  time.Time
}

// memStore mirrors the conditional updates of TrainingRepository under one
// mutex.
type memStore struct {
	mu      sync.Mutex
	scans   []*memScan
	entries []*models.TrainingEntry
}

func (m *memStore) addScan(conf float64, class models.Condition) *memScan {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &memScan{
		id:         uuid.New(),
		status:     models.ScanCompleted,
		confidence: conf,
		class:      class,
		createdAt:  time.Now().Add(time.Duration(len(m.scans)) * time.Millisecond),
	}
	m.scans = append(m.scans, s)
	return s
}

func (m *memStore) hasEntry(scanID uuid.UUID) bool {
	for _, e := range m.entries {
		if e.SourceScanID != nil && *e.SourceScanID == scanID {
			return true
		}
	}
	return false
}

func (m *memStore) insert(s *memScan, label models.Condition) *models.TrainingEntry {
	id := s.id
	conf := s.confidence
	e := &models.TrainingEntry{
		ID:                     uuid.New(),
		SourceScanID:           &id,
		ImageURL:               "https://cdn/" + id.String(),
		Label:                  label,
		ValidationStatus:       models.ValidationPending,
		ConfidenceWhenCaptured: &conf,
		Metadata:               models.TrainingMetadata{OriginalPrediction: s.class},
		CreatedAt:              time.Now().Add(time.Duration(len(m.entries)) * time.Millisecond),
	}
	m.entries = append(m.entries, e)
	s.inDataset = true
	return e
}

func (m *memStore) FlagLowConfidence(_ context.Context, threshold float64, limit int, scanID *uuid.UUID) ([]models.TrainingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.TrainingEntry{}
	for _, s := range m.scans {
		if len(out) == limit {
			break
		}
		if s.status != models.ScanCompleted || s.confidence >= threshold || s.inDataset {
			continue
		}
		if scanID != nil && s.id != *scanID {
			continue
		}
		if m.hasEntry(s.id) {
			s.inDataset = true
			continue
		}
		out = append(out, *m.insert(s, s.class))
	}
	return out, nil
}

func (m *memStore) Seed(_ context.Context, scanID uuid.UUID, label models.Condition) (*models.TrainingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scans {
		if s.id == scanID {
			if m.hasEntry(scanID) {
				return nil, nil
			}
			e := *m.insert(s, label)
			return &e, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.TrainingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) transition(id, reviewer uuid.UUID, status models.ValidationStatus, apply func(*models.TrainingEntry)) *models.TrainingEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id && e.ValidationStatus == models.ValidationPending {
			now := time.Now()
			e.ValidationStatus = status
			e.ValidatedBy = &reviewer
			e.ValidationDate = &now
			apply(e)
			cp := *e
			return &cp
		}
	}
	return nil
}

func (m *memStore) Validate(_ context.Context, id, reviewer uuid.UUID, in models.ValidateInput) (*models.TrainingEntry, error) {
	return m.transition(id, reviewer, models.ValidationValidated, func(e *models.TrainingEntry) {
		switch {
		case in.CorrectedLabel != nil:
			if e.Metadata.OriginalPrediction == "" {
				e.Metadata.OriginalPrediction = e.Label
			}
			e.Metadata.CorrectedLabel = *in.CorrectedLabel
			e.Label = *in.CorrectedLabel
		case in.Label != nil:
			e.Label = *in.Label
		}
		if in.Notes != nil {
			e.ValidationNotes = in.Notes
		}
	}), nil
}

func (m *memStore) Reject(_ context.Context, id, reviewer uuid.UUID, notes *string) (*models.TrainingEntry, error) {
	return m.transition(id, reviewer, models.ValidationRejected, func(e *models.TrainingEntry) {
		if notes != nil {
			e.ValidationNotes = notes
		}
	}), nil
}

func (m *memStore) ExportBatch(_ context.Context, batch string, limit int) ([]models.ExportedItem, error) {
	// pick without holding the lock, then compare-and-set each row
	m.mu.Lock()
	picked := []*models.TrainingEntry{}
	for _, e := range m.entries {
		if len(picked) == limit {
			break
		}
		if e.ValidationStatus == models.ValidationValidated && !e.AddedToTraining {
			picked = append(picked, e)
		}
	}
	m.mu.Unlock()

	items := []models.ExportedItem{}
	for _, e := range picked {
		m.mu.Lock()
		if !e.AddedToTraining {
			now := time.Now()
			b := batch
			e.AddedToTraining = true
			e.TrainingBatch = &b
			e.ExportedAt = &now
			items = append(items, models.ExportedItem{EntryID: e.ID, ImageURL: e.ImageURL, Label: e.Label, Batch: batch})
		}
		m.mu.Unlock()
	}
	return items, nil
}

func (m *memStore) List(_ context.Context, f models.TrainingFilter) ([]models.TrainingEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.TrainingEntry{}
	for _, e := range m.entries {
		if f.ValidationStatus != nil && e.ValidationStatus != *f.ValidationStatus {
			continue
		}
		if f.Label != nil && e.Label != *f.Label {
			continue
		}
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if f.NewestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	total := len(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *memStore) Stats(context.Context) (*models.TrainingStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &models.TrainingStats{Total: len(m.entries)}
	for _, e := range m.entries {
		switch e.ValidationStatus {
		case models.ValidationPending:
			s.Pending++
		case models.ValidationValidated:
			s.Validated++
		case models.ValidationRejected:
			s.Rejected++
		}
		if e.AddedToTraining {
			s.InTraining++
		}
	}
	return s, nil
}

type memScanReader struct{ store *memStore }

func (r memScanReader) GetByID(_ context.Context, id uuid.UUID) (*models.Scan, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, s := range r.store.scans {
		if s.id == id {
			return &models.Scan{ID: s.id, Status: s.status}, nil
		}
	}
	return nil, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, evts ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func newCurator(store *memStore, pub events.Publisher) *Curator {
	return New(store, memScanReader{store: store}, Options{Publisher: pub})
}

func condPtr(c models.Condition) *models.Condition { return &c }

func TestAutoFlag_OnlyLowConfidenceAndNoDuplicates(t *testing.T) {
	store := &memStore{}
	store.addScan(0.5, models.ConditionLeafSpot)
	store.addScan(0.9, models.ConditionHealthy)
	store.addScan(0.6, models.ConditionRootRot)
	c := newCurator(store, nil)
	ctx := context.Background()

	entries, err := c.AutoFlagLowConfidence(ctx, 0.7, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, models.ValidationPending, e.ValidationStatus)
		assert.Less(t, *e.ConfidenceWhenCaptured, 0.7)
	}

	again, err := c.AutoFlagLowConfidence(ctx, 0.7, 100)
	require.NoError(t, err)
	assert.Empty(t, again)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Pending)
}

func TestAutoFlag_Defaults(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 3; i++ {
		store.addScan(0.65, models.ConditionSunburn)
	}
	c := newCurator(store, nil)

	entries, err := c.AutoFlagLowConfidence(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	_, err = c.AutoFlagLowConfidence(context.Background(), 1.5, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAutoFlag_RespectsLimit(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 5; i++ {
		store.addScan(0.1, models.ConditionAnthracnose)
	}
	c := newCurator(store, nil)

	entries, err := c.AutoFlagLowConfidence(context.Background(), 0.7, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFlagScan(t *testing.T) {
	store := &memStore{}
	low := store.addScan(0.3, models.ConditionAloeRust)
	high := store.addScan(0.95, models.ConditionHealthy)
	other := store.addScan(0.2, models.ConditionRootRot)
	c := newCurator(store, nil)
	ctx := context.Background()

	entry, err := c.FlagScan(ctx, low.id)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, low.id, *entry.SourceScanID)
	assert.False(t, other.inDataset)

	entry, err = c.FlagScan(ctx, high.id)
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = c.FlagScan(ctx, low.id)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestSeed(t *testing.T) {
	store := &memStore{}
	s := store.addScan(0.99, models.ConditionHealthy)
	c := newCurator(store, nil)
	ctx := context.Background()

	entry, err := c.Seed(ctx, s.id, models.ConditionSunburn)
	require.NoError(t, err)
	assert.Equal(t, models.ConditionSunburn, entry.Label)

	_, err = c.Seed(ctx, s.id, models.ConditionSunburn)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = c.Seed(ctx, uuid.New(), models.ConditionSunburn)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = c.Seed(ctx, s.id, "blight")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestValidate_Relabel(t *testing.T) {
	store := &memStore{}
	store.addScan(0.5, models.ConditionLeafSpot)
	c := newCurator(store, nil)
	ctx := context.Background()
	reviewer := uuid.New()

	entries, err := c.AutoFlagLowConfidence(ctx, 0.7, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	notes := "rust, not leaf spot"
	validated, err := c.Validate(ctx, entries[0].ID, reviewer, models.ValidateInput{
		CorrectedLabel: condPtr(models.ConditionAloeRust),
		Notes:          &notes,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ValidationValidated, validated.ValidationStatus)
	assert.Equal(t, models.ConditionAloeRust, validated.Label)
	assert.Equal(t, models.ConditionAloeRust, validated.Metadata.CorrectedLabel)
	assert.Equal(t, models.ConditionLeafSpot, validated.Metadata.OriginalPrediction)
	assert.Equal(t, reviewer, *validated.ValidatedBy)
	assert.Equal(t, notes, *validated.ValidationNotes)
}

func TestValidate_TerminalStatesConflict(t *testing.T) {
	store := &memStore{}
	store.addScan(0.5, models.ConditionLeafSpot)
	store.addScan(0.4, models.ConditionRootRot)
	c := newCurator(store, nil)
	ctx := context.Background()
	reviewer := uuid.New()

	entries, err := c.AutoFlagLowConfidence(ctx, 0.7, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	_, err = c.Validate(ctx, entries[0].ID, reviewer, models.ValidateInput{})
	require.NoError(t, err)
	_, err = c.Reject(ctx, entries[1].ID, reviewer, nil)
	require.NoError(t, err)

	_, err = c.Validate(ctx, entries[0].ID, reviewer, models.ValidateInput{})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = c.Reject(ctx, entries[0].ID, reviewer, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = c.Validate(ctx, entries[1].ID, reviewer, models.ValidateInput{})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = c.Validate(ctx, uuid.New(), reviewer, models.ValidateInput{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = c.Validate(ctx, entries[0].ID, reviewer, models.ValidateInput{Label: condPtr("blight")})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func validatedEntries(t *testing.T, c *Curator, store *memStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		store.addScan(0.3, models.ConditionMealybug)
	}
	entries, err := c.AutoFlagLowConfidence(context.Background(), 0.7, n)
	require.NoError(t, err)
	require.Len(t, entries, n)
	for _, e := range entries {
		_, err := c.Validate(context.Background(), e.ID, uuid.New(), models.ValidateInput{})
		require.NoError(t, err)
	}
}

func TestExportBatch(t *testing.T) {
	store := &memStore{}
	pub := &capturePublisher{}
	c := newCurator(store, pub)
	ctx := context.Background()
	validatedEntries(t, c, store, 3)

	// pending and rejected entries are never exported
	store.addScan(0.2, models.ConditionRootRot)
	_, err := c.AutoFlagLowConfidence(ctx, 0.7, 10)
	require.NoError(t, err)

	items, err := c.ExportBatch(ctx, "batch-2024.06", 0)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, "batch-2024.06", it.Batch)
		assert.Equal(t, models.ConditionMealybug, it.Label)
	}
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.TypeTrainingBatchExported, pub.events[0].Type)
	assert.Equal(t, 3, pub.events[0].Data["count"])

	again, err := c.ExportBatch(ctx, "batch-2", 0)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Len(t, pub.events, 1)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.InTraining)
}

func TestExportBatch_RejectsBadInput(t *testing.T) {
	c := newCurator(&memStore{}, nil)

	for _, name := range []string{"", " spaced", "../etc", "-leading"} {
		_, err := c.ExportBatch(context.Background(), name, 0)
		assert.ErrorIs(t, err, apperr.ErrValidation, name)
	}
	_, err := c.ExportBatch(context.Background(), "ok", maxExportLimit+1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestExportBatch_ConcurrentCallersDisjoint(t *testing.T) {
	store := &memStore{}
	c := newCurator(store, nil)
	validatedEntries(t, c, store, 200)

	const callers = 8
	results := make([][]models.ExportedItem, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			items, err := c.ExportBatch(context.Background(), "concurrent", 1000)
			assert.NoError(t, err)
			results[i] = items
		}(i)
	}
	wg.Wait()

	seen := map[uuid.UUID]bool{}
	total := 0
	for _, items := range results {
		for _, it := range items {
			assert.False(t, seen[it.EntryID], "entry %s exported twice", it.EntryID)
			seen[it.EntryID] = true
			total++
		}
	}
	assert.Equal(t, 200, total)
}

func TestPendingAndList(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 4; i++ {
		store.addScan(0.1, models.ConditionSunburn)
	}
	c := newCurator(store, nil)
	ctx := context.Background()

	flagged, err := c.AutoFlagLowConfidence(ctx, 0.7, 10)
	require.NoError(t, err)
	_, err = c.Reject(ctx, flagged[0].ID, uuid.New(), nil)
	require.NoError(t, err)

	pending, err := c.Pending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, flagged[1].ID, pending[0].ID)

	status := models.ValidationRejected
	rejected, total, err := c.List(ctx, models.TrainingFilter{ValidationStatus: &status})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, flagged[0].ID, rejected[0].ID)

	bad := models.ValidationStatus("archived")
	_, _, err = c.List(ctx, models.TrainingFilter{ValidationStatus: &bad})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
