package workflows

import "spamflow/internal/metrics"

type ProcessingInput struct {
	DataPath  string `json:"data_path"`
	BatchSize int    `json:"batch_size"`
	NoCache   bool   `json:"no_cache,omitempty"`
}

type ModelTrainingInput struct {
	TrackingRunID string  `json:"tracking_run_id,omitempty"`
	Epochs        int     `json:"epochs"`
	LearningRate  float64 `json:"learning_rate"`
	NumLabels     int     `json:"num_labels"`
}

type ModelEvaluationInput struct {
	TrackingRunID string `json:"tracking_run_id,omitempty"`
}

// EndToEndInput runs processing, training and evaluation in one run with
// step caching disabled.
type EndToEndInput struct {
	DataPath      string  `json:"data_path"`
	BatchSize     int     `json:"batch_size"`
	TrackingRunID string  `json:"tracking_run_id,omitempty"`
	Epochs        int     `json:"epochs"`
	LearningRate  float64 `json:"learning_rate"`
	NumLabels     int     `json:"num_labels"`
}

type PipelineStatus struct {
	Pipeline    string            `json:"pipeline"`
	RunID       string            `json:"run_id"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	FailReason  string            `json:"fail_reason,omitempty"`
	Steps       map[string]string `json:"steps"`
}

type PipelineResult struct {
	Pipeline string            `json:"pipeline"`
	RunID    string            `json:"run_id"`
	Status   string            `json:"status"`
	Steps    map[string]string `json:"steps"`
	Scores   *metrics.Scores   `json:"scores,omitempty"`
	Promoted bool              `json:"promoted,omitempty"`
}
