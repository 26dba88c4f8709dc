package tracking

import (
	"context"
	"maps"
	"sync"

	"spamflow/internal/util"
)

type MemoryStore struct {
	mu        sync.Mutex
	runs      map[string]*Run
	order     []string
	params    map[string]map[string]string
	metrics   map[string][]Metric
	artifacts map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      map[string]*Run{},
		params:    map[string]map[string]string{},
		metrics:   map[string][]Metric{},
		artifacts: map[string]map[string][]byte{},
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := run
	s.runs[run.ID] = &r
	s.order = append(s.order, run.ID)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return Run{}, &util.NotFoundError{Kind: "tracking run", Detail: runID}
	}
	return *r, nil
}

func (s *MemoryStore) EndRun(_ context.Context, runID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return &util.NotFoundError{Kind: "tracking run", Detail: runID}
	}
	r.Status = status
	return nil
}

func (s *MemoryStore) LogParam(_ context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params[runID] == nil {
		s.params[runID] = map[string]string{}
	}
	s.params[runID][key] = value
	return nil
}

func (s *MemoryStore) LogMetric(_ context.Context, runID string, m Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[runID] = append(s.metrics[runID], m)
	return nil
}

func (s *MemoryStore) LogArtifact(_ context.Context, runID, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifacts[runID] == nil {
		s.artifacts[runID] = map[string][]byte{}
	}
	s.artifacts[runID][path] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Params(_ context.Context, runID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.params[runID]), nil
}

func (s *MemoryStore) Metrics(_ context.Context, runID string) ([]Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Metric(nil), s.metrics[runID]...), nil
}

func (s *MemoryStore) LatestArtifact(_ context.Context, experiment, path string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		id := s.order[i]
		if s.runs[id].Experiment != experiment {
			continue
		}
		if data, ok := s.artifacts[id][path]; ok {
			return append([]byte(nil), data...), id, nil
		}
	}
	return nil, "", &util.NotFoundError{Kind: "artifact", Detail: experiment + "/" + path}
}
