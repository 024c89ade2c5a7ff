package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"beyondgd/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	entities    map[string]model.EntityRecord
	populations map[string]model.PopulationSnapshot
	reports     map[string][]model.EpochReport
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.reset()
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	return nil
}

func (s *MemoryStore) reset() {
	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.entities = make(map[string]model.EntityRecord)
	s.populations = make(map[string]model.PopulationSnapshot)
	s.reports = make(map[string][]model.EpochReport)
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	run.Tasks = append([]string(nil), run.Tasks...)
	s.runs[run.RunID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if ok {
		run.Tasks = append([]string(nil), run.Tasks...)
	}
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		run.Tasks = append([]string(nil), run.Tasks...)
		out = append(out, run)
	}
	sortRuns(out)
	return out, nil
}

func (s *MemoryStore) SaveEntity(_ context.Context, entity model.EntityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.entities[entity.ID] = copyEntity(entity)
	return nil
}

func (s *MemoryStore) GetEntity(_ context.Context, id string) (model.EntityRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[id]
	if !ok {
		return model.EntityRecord{}, false, nil
	}
	return copyEntity(entity), true, nil
}

func (s *MemoryStore) SavePopulation(_ context.Context, snapshot model.PopulationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	snapshot.Members = append([]model.MemberRecord(nil), snapshot.Members...)
	s.populations[snapshot.ID] = snapshot
	return nil
}

func (s *MemoryStore) GetPopulation(_ context.Context, id string) (model.PopulationSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.populations[id]
	if !ok {
		return model.PopulationSnapshot{}, false, nil
	}
	snapshot.Members = append([]model.MemberRecord(nil), snapshot.Members...)
	return snapshot, true, nil
}

func (s *MemoryStore) SaveEpochReports(_ context.Context, runID string, reports []model.EpochReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.reports[runID] = append([]model.EpochReport(nil), reports...)
	return nil
}

func (s *MemoryStore) GetEpochReports(_ context.Context, runID string) ([]model.EpochReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports, ok := s.reports[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.EpochReport(nil), reports...), true, nil
}

func copyEntity(e model.EntityRecord) model.EntityRecord {
	e.Architecture.Hidden = append([]int(nil), e.Architecture.Hidden...)
	params := make([]model.Tensor, len(e.Params))
	for i, t := range e.Params {
		params[i] = model.Tensor{Rows: t.Rows, Cols: t.Cols, Data: append([]float64(nil), t.Data...)}
	}
	e.Params = params
	return e
}

// sortRuns orders runs newest first, then by id.
func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC == runs[j].CreatedAtUTC {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
	})
}
