package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"spamflow/internal/config"
	"spamflow/internal/logger"
	"spamflow/internal/registry"
	"spamflow/internal/storage"
)

var (
	cfg  config.Config
	log  *zap.Logger
	opts runOptions
)

var rootCmd = &cobra.Command{
	Use:           "spamflow",
	Short:         "Run the spam classifier pipelines",
	Long:          `Runs the data, training, evaluation and end-to-end pipelines on the Temporal worker.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")
		cfg = config.Load()
		l, err := logger.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		log = l
		return nil
	},
	RunE: runPipelines,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVar(&opts.LoadData, "load-data", false, "Create the dataset.")
	f.BoolVar(&opts.TrainModel, "train-model", false, "Run the training pipeline.")
	f.BoolVar(&opts.EvaluateModel, "evaluate-model", false, "Evaluate the last trained model.")
	f.BoolVar(&opts.EndToEnd, "end-to-end", false, "Run all pipelines in sequence.")
	f.StringVar(&opts.Path, "path", "", "Path to the dataset.")
	f.Float64Var(&opts.LearningRate, "learning-rate", 0.0002, "Learning rate for training.")
	f.IntVar(&opts.NumEpochs, "num-epochs", 2, "Number of training epochs.")
	f.IntVar(&opts.NumLabels, "num-of-labels", 1, "Number of classification labels.")
	f.IntVar(&opts.BatchSize, "batch-size", 16, "Batch size for data loading.")

	rootCmd.AddCommand(scoresCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runPipelines(cmd *cobra.Command, _ []string) error {
	defer func() { _ = log.Sync() }()
	ctx := cmd.Context()
	db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Logger: logger.NewTemporalLogger(log)})
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer c.Close()

	return execute(ctx, opts, env{
		runner:     temporalRunner{c: c, queue: cfg.TemporalTaskQueue},
		bridge:     registry.NewBridge(storage.NewRunRepo(db), log),
		tracking:   storage.NewTrackingRepo(db),
		experiment: cfg.Experiment,
		log:        log,
	})
}

func connect(ctx context.Context) (*storage.DB, error) {
	if cfg.MigrateOnStart {
		if err := storage.Migrate(cfg.PostgresURL, log); err != nil {
			return nil, err
		}
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(dialCtx, cfg.PostgresURL, cfg.PostgresMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}
