package pipeline

// Pipeline names. Artifacts are addressed by pipeline/step/output.
const (
	Processing      = "processing"
	ModelTraining   = "model_training"
	ModelEvaluation = "model_evaluation_pipeline"
	EndToEnd        = "end_to_end_pipeline"
)

// Step names.
const (
	StepIngester     = "ingester"
	StepClean        = "clean"
	StepTransform    = "transform"
	StepValidation   = "validation"
	StepSplit        = "split"
	StepTokenize     = "tokenized_with_step"
	StepLoad         = "load"
	StepTrain        = "training_model"
	StepEvaluate     = "evaluation_model"
	StepLoadTraining = "load_training_pipeline"
	StepLoadTesting  = "load_testing_pipeline"
	StepLoadTrained  = "load_trained_model"
)

// Output names.
const (
	OutputDefault         = "output"
	OutputTrainingData    = "training_data"
	OutputTestingData     = "testing_data"
	OutputTrainingDataset = "training_dataset"
	OutputTestDataset     = "test_dataset"
	OutputTrainingBatch   = "training_batch"
	OutputTestingBatch    = "testing_batch"
	OutputAccuracy        = "accuracy"
	OutputPrecision       = "precision"
	OutputRecall          = "recall"
	OutputF1Score         = "f1_score"
)

var cacheable = map[string]bool{
	StepTransform:  true,
	StepValidation: true,
	StepSplit:      true,
	StepTokenize:   true,
	StepLoad:       true,
	StepTrain:      true,
}

// Cacheable reports whether a step may reuse outputs from an earlier execution.
func Cacheable(step string) bool { return cacheable[step] }
