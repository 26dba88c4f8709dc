package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"spamflow/internal/util"
)

type memStep struct {
	record  StepRecord
	outputs map[string][]ArtifactRef
	order   []string
}

// MemoryStore is an in-process Store used by tests and the local CLI mode.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      []*Run
	steps     map[string][]*memStep
	artifacts map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{steps: map[string][]*memStep{}, artifacts: map[string][]byte{}}
}

func (s *MemoryStore) CreateRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := run
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	s.runs = append(s.runs, &r)
	return nil
}

func (s *MemoryStore) FinishRun(_ context.Context, runID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == runID {
			r.Status = status
			r.FinishedAt = time.Now().UTC()
			return nil
		}
	}
	return &util.NotFoundError{Kind: "run", Detail: runID}
}

func (s *MemoryStore) LatestRun(_ context.Context, pipeline, status string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if r.Pipeline == pipeline && (status == "" || r.Status == status) {
			return *r, nil
		}
	}
	return Run{}, &util.NotFoundError{Kind: "run", Detail: pipeline}
}

func (s *MemoryStore) step(runID, step string) *memStep {
	for _, st := range s.steps[runID] {
		if st.record.Name == step {
			return st
		}
	}
	return nil
}

func (s *MemoryStore) StartStep(_ context.Context, runID, step, fingerprint string, outputs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.step(runID, step)
	if st == nil {
		st = &memStep{outputs: map[string][]ArtifactRef{}}
		s.steps[runID] = append(s.steps[runID], st)
	}
	st.record = StepRecord{RunID: runID, Name: step, Status: StatusRunning, Fingerprint: fingerprint}
	for _, o := range outputs {
		if _, ok := st.outputs[o]; !ok {
			st.outputs[o] = nil
			st.order = append(st.order, o)
		}
	}
	return nil
}

func (s *MemoryStore) FinishStep(_ context.Context, runID, step, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.step(runID, step)
	if st == nil {
		return &util.NotFoundError{Kind: "step", Detail: runID + "/" + step}
	}
	st.record.Status = status
	return nil
}

func (s *MemoryStore) PutArtifact(_ context.Context, name, checksum string, payload []byte) (ArtifactRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := ArtifactRef{ArtifactID: uuid.NewString(), Name: name, Checksum: checksum}
	s.artifacts[ref.ArtifactID] = append([]byte(nil), payload...)
	return ref, nil
}

func (s *MemoryStore) AddStepOutput(_ context.Context, runID, step, output string, ref ArtifactRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.step(runID, step)
	if st == nil {
		return &util.NotFoundError{Kind: "step", Detail: runID + "/" + step}
	}
	if _, ok := st.outputs[output]; !ok {
		st.order = append(st.order, output)
	}
	st.outputs[output] = append(st.outputs[output], ref)
	return nil
}

func (s *MemoryStore) StepOutputs(_ context.Context, runID, step string) (map[string][]ArtifactRef, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.step(runID, step)
	if st == nil {
		return nil, false, nil
	}
	out := make(map[string][]ArtifactRef, len(st.outputs))
	for k, v := range st.outputs {
		out[k] = append([]ArtifactRef(nil), v...)
	}
	return out, true, nil
}

func (s *MemoryStore) ArtifactPayload(_ context.Context, artifactID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.artifacts[artifactID]
	if !ok {
		return nil, &util.NotFoundError{Kind: "artifact", Detail: artifactID}
	}
	return p, nil
}

func (s *MemoryStore) CachedOutputs(_ context.Context, step, fingerprint string) (map[string]ArtifactRef, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		st := s.step(s.runs[i].ID, step)
		if st == nil || st.record.Fingerprint != fingerprint {
			continue
		}
		if st.record.Status != StatusCompleted && st.record.Status != StatusCached {
			continue
		}
		out := make(map[string]ArtifactRef, len(st.outputs))
		for _, name := range st.order {
			versions := st.outputs[name]
			if len(versions) == 0 {
				return nil, false, nil
			}
			out[name] = versions[0]
		}
		return out, true, nil
	}
	return nil, false, nil
}

func (s *MemoryStore) StepRecords(_ context.Context, runID string) ([]StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StepRecord, 0, len(s.steps[runID]))
	for _, st := range s.steps[runID] {
		out = append(out, st.record)
	}
	return out, nil
}
