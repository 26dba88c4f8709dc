package activities

import (
	"spamflow/internal/metrics"
	"spamflow/internal/registry"
)

type StartRunInput struct {
	Pipeline string `json:"pipeline"`
}

type StartRunOutput struct {
	RunID string `json:"run_id"`
}

type FinishRunInput struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// StepOutput is what every step activity returns: references, never payloads.
type StepOutput struct {
	Outputs map[string]registry.ArtifactRef `json:"outputs"`
	Cached  bool                            `json:"cached"`
}

type IngestInput struct {
	RunID string `json:"run_id"`
	Path  string `json:"path"`
}

// DatasetStepInput feeds the single-input table steps (clean, transform,
// validation, split).
type DatasetStepInput struct {
	RunID   string               `json:"run_id"`
	Input   registry.ArtifactRef `json:"input"`
	NoCache bool                 `json:"no_cache,omitempty"`
}

type TokenizeInput struct {
	RunID    string               `json:"run_id"`
	Training registry.ArtifactRef `json:"training"`
	Testing  registry.ArtifactRef `json:"testing"`
	NoCache  bool                 `json:"no_cache,omitempty"`
}

type LoadInput struct {
	RunID     string               `json:"run_id"`
	Training  registry.ArtifactRef `json:"training"`
	Testing   registry.ArtifactRef `json:"testing"`
	BatchSize int                  `json:"batch_size"`
	NoCache   bool                 `json:"no_cache,omitempty"`
}

type TrainInput struct {
	RunID         string               `json:"run_id"`
	TrackingRunID string               `json:"tracking_run_id,omitempty"`
	TrainingBatch registry.ArtifactRef `json:"training_batch"`
	Epochs        int                  `json:"epochs"`
	LearningRate  float64              `json:"learning_rate"`
	NumLabels     int                  `json:"num_labels"`
	NoCache       bool                 `json:"no_cache,omitempty"`
}

type EvaluateInput struct {
	RunID         string               `json:"run_id"`
	TrackingRunID string               `json:"tracking_run_id,omitempty"`
	Model         registry.ArtifactRef `json:"model"`
	TestingBatch  registry.ArtifactRef `json:"testing_batch"`
}

type EvaluateOutput struct {
	StepOutput
	Scores   metrics.Scores `json:"scores"`
	Promoted bool           `json:"promoted"`
}

// LoadArtifactInput re-links an artifact from another pipeline's latest run
// as the "output" of Step in RunID.
type LoadArtifactInput struct {
	RunID          string `json:"run_id"`
	Step           string `json:"step"`
	SourcePipeline string `json:"source_pipeline"`
	SourceStep     string `json:"source_step"`
	SourceOutput   string `json:"source_output"`
}
