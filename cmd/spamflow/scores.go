package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"spamflow/internal/pipeline"
	"spamflow/internal/registry"
	"spamflow/internal/storage"
	"spamflow/internal/util"
)

var scoresOut string

var scoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Write the latest evaluation scores to a text file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		return writeScores(cmd.Context(), registry.NewBridge(storage.NewRunRepo(db), log), scoresOut)
	},
}

func init() {
	scoresCmd.Flags().StringVar(&scoresOut, "out", "accuracy.txt", "Output file.")
}

// writeScores reads the four metrics of the latest model evaluation run.
func writeScores(ctx context.Context, b *registry.Bridge, path string) error {
	names := []string{pipeline.OutputAccuracy, pipeline.OutputPrecision, pipeline.OutputRecall, pipeline.OutputF1Score}
	vals := make([]float64, len(names))
	for i, name := range names {
		v, err := registry.LoadAs[float64](ctx, b, pipeline.ModelEvaluation, pipeline.StepEvaluate, name)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	content := fmt.Sprintf("Accuracy: %v\nPrecision: %v\nRecall: %v\nF1 Score: %v\n", vals[0], vals[1], vals[2], vals[3])
	return util.WriteFileAtomic(path, []byte(content))
}
