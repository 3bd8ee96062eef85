package registry

import (
	"context"
	"sort"
	"time"

	"github.com/groveworks/canopy/internal/model"
	"github.com/groveworks/canopy/internal/store"
)

// memStore implements store.Store in memory for service tests, with optional
// failure injection for create conflicts.
type memStore struct {
	trees        map[string]*model.TreeRecord
	observations []model.Observation
	reports      []*model.ReconcileReport

	lockCalls    int
	lockedKeys   []int64
	createCalls  int
	failCreates  int // first N creates fail with ErrDuplicateIdentifier
	updatedIDs   []string
}

func newMemStore() *memStore {
	return &memStore{trees: make(map[string]*model.TreeRecord)}
}

func (m *memStore) CreateTree(_ context.Context, rec *model.TreeRecord) error {
	m.createCalls++
	if m.failCreates > 0 {
		m.failCreates--
		return store.ErrDuplicateIdentifier
	}
	if _, exists := m.trees[rec.PublicID]; exists {
		return store.ErrDuplicateIdentifier
	}
	clone := *rec
	m.trees[rec.PublicID] = &clone
	return nil
}

func (m *memStore) UpdateTree(_ context.Context, rec *model.TreeRecord) error {
	if _, exists := m.trees[rec.PublicID]; !exists {
		return store.ErrNotFound
	}
	clone := *rec
	m.trees[rec.PublicID] = &clone
	m.updatedIDs = append(m.updatedIDs, rec.PublicID)
	return nil
}

func (m *memStore) GetTreeByPublicID(_ context.Context, publicID string) (*model.TreeRecord, error) {
	rec, ok := m.trees[publicID]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

func (m *memStore) ListActiveTrees(_ context.Context) ([]*model.TreeRecord, error) {
	var records []*model.TreeRecord
	for _, rec := range m.trees {
		if rec.Archived {
			continue
		}
		clone := *rec
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PublicID < records[j].PublicID })
	return records, nil
}

func (m *memStore) ListTrees(ctx context.Context, _ store.TreeFilter) ([]*model.TreeRecord, error) {
	return m.ListActiveTrees(ctx)
}

func (m *memStore) ArchiveTree(_ context.Context, publicID string, at time.Time) error {
	rec, ok := m.trees[publicID]
	if !ok {
		return store.ErrNotFound
	}
	rec.Archived = true
	rec.Status = model.StatusArchived
	rec.ArchivedAt = &at
	return nil
}

func (m *memStore) AppendObservation(_ context.Context, obs *model.Observation) error {
	m.observations = append(m.observations, *obs)
	return nil
}

func (m *memStore) ListObservations(_ context.Context, treeRef string, _ int) ([]model.Observation, error) {
	var out []model.Observation
	for _, obs := range m.observations {
		if obs.TreeRef == treeRef {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (m *memStore) SaveReconcileReport(_ context.Context, report *model.ReconcileReport) error {
	m.reports = append(m.reports, report)
	return nil
}

func (m *memStore) WithCellLock(ctx context.Context, cellKey int64, fn func(context.Context) error) error {
	m.lockCalls++
	m.lockedKeys = append(m.lockedKeys, cellKey)
	return fn(ctx)
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }
