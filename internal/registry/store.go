// Package registry stores pipeline runs, step records and versioned artifacts,
// and resolves artifacts produced by earlier runs.
package registry

import (
	"context"
	"time"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCached    = "cached"
)

type ArtifactRef struct {
	ArtifactID string `json:"artifact_id"`
	Name       string `json:"name"`
	Checksum   string `json:"checksum"`
}

type Run struct {
	ID         string    `json:"id"`
	Pipeline   string    `json:"pipeline"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type StepRecord struct {
	RunID       string `json:"run_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Fingerprint string `json:"fingerprint"`
}

// Reader is everything the bridge needs.
type Reader interface {
	// LatestRun returns the newest run of pipeline, optionally restricted to a
	// status. util.NotFoundError when there is none.
	LatestRun(ctx context.Context, pipeline, status string) (Run, error)
	// StepOutputs lists artifact versions per output name, oldest first.
	// ok is false when the run has no such step.
	StepOutputs(ctx context.Context, runID, step string) (outputs map[string][]ArtifactRef, ok bool, err error)
	ArtifactPayload(ctx context.Context, artifactID string) ([]byte, error)
}

type Writer interface {
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, runID, status string) error
	// StartStep records the step and declares its outputs with no versions yet.
	StartStep(ctx context.Context, runID, step, fingerprint string, outputs []string) error
	FinishStep(ctx context.Context, runID, step, status string) error
	PutArtifact(ctx context.Context, name, checksum string, payload []byte) (ArtifactRef, error)
	AddStepOutput(ctx context.Context, runID, step, output string, ref ArtifactRef) error
	// CachedOutputs finds the outputs of the newest completed execution of step
	// with the same fingerprint.
	CachedOutputs(ctx context.Context, step, fingerprint string) (map[string]ArtifactRef, bool, error)
	StepRecords(ctx context.Context, runID string) ([]StepRecord, error)
}

type Store interface {
	Reader
	Writer
}
