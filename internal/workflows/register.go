package workflows

import (
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"spamflow/internal/pipeline"
)

// Register exposes each workflow under its pipeline name, the name the
// registry records runs under.
func Register(w worker.Worker) {
	w.RegisterWorkflowWithOptions(ProcessingWorkflow, workflow.RegisterOptions{Name: pipeline.Processing})
	w.RegisterWorkflowWithOptions(ModelTrainingWorkflow, workflow.RegisterOptions{Name: pipeline.ModelTraining})
	w.RegisterWorkflowWithOptions(ModelEvaluationWorkflow, workflow.RegisterOptions{Name: pipeline.ModelEvaluation})
	w.RegisterWorkflowWithOptions(EndToEndWorkflow, workflow.RegisterOptions{Name: pipeline.EndToEnd})
}
