package storage

import (
	"context"
	"fmt"

	"spamflow/internal/tracking"
	"spamflow/internal/util"
)

// TrackingRepo is the Postgres tracking.Store.
type TrackingRepo struct {
	db *DB
}

func NewTrackingRepo(db *DB) *TrackingRepo {
	return &TrackingRepo{db: db}
}

var _ tracking.Store = (*TrackingRepo)(nil)

func (r *TrackingRepo) CreateRun(ctx context.Context, run tracking.Run) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO tracking_runs (run_id, experiment, name, status, started_at)
VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Experiment, run.Name, run.Status, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tracking run: %w", err)
	}
	return nil
}

func (r *TrackingRepo) GetRun(ctx context.Context, runID string) (tracking.Run, error) {
	var run tracking.Run
	err := r.db.Pool.QueryRow(ctx, `
SELECT run_id, experiment, name, status, started_at
FROM tracking_runs WHERE run_id=$1`, runID).
		Scan(&run.ID, &run.Experiment, &run.Name, &run.Status, &run.StartedAt)
	if isNoRows(err) {
		return tracking.Run{}, &util.NotFoundError{Kind: "tracking run", Detail: runID}
	}
	if err != nil {
		return tracking.Run{}, fmt.Errorf("get tracking run: %w", err)
	}
	return run, nil
}

func (r *TrackingRepo) EndRun(ctx context.Context, runID, status string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE tracking_runs SET status=$2, ended_at=NOW() WHERE run_id=$1`, runID, status)
	if err != nil {
		return fmt.Errorf("end tracking run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &util.NotFoundError{Kind: "tracking run", Detail: runID}
	}
	return nil
}

func (r *TrackingRepo) LogParam(ctx context.Context, runID, key, value string) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO run_params (run_id, key, value)
VALUES ($1, $2, $3)
ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value`,
		runID, key, util.SanitizeText(value),
	)
	if err != nil {
		return fmt.Errorf("upsert run param: %w", err)
	}
	return nil
}

func (r *TrackingRepo) LogMetric(ctx context.Context, runID string, m tracking.Metric) error {
	_, err := r.db.Pool.Exec(ctx, `INSERT INTO run_metrics (run_id, key, value, step) VALUES ($1, $2, $3, $4)`, runID, m.Key, m.Value, m.Step)
	if err != nil {
		return fmt.Errorf("insert run metric: %w", err)
	}
	return nil
}

func (r *TrackingRepo) LogArtifact(ctx context.Context, runID, path string, data []byte) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO run_artifacts (run_id, path, data)
VALUES ($1, $2, $3)
ON CONFLICT (run_id, path) DO UPDATE SET data = EXCLUDED.data, logged_at = NOW()`,
		runID, path, data,
	)
	if err != nil {
		return fmt.Errorf("upsert run artifact: %w", err)
	}
	return nil
}

func (r *TrackingRepo) Params(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT key, value FROM run_params WHERE run_id=$1`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run params: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan run param: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (r *TrackingRepo) Metrics(ctx context.Context, runID string) ([]tracking.Metric, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT key, value, step FROM run_metrics WHERE run_id=$1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run metrics: %w", err)
	}
	defer rows.Close()
	out := make([]tracking.Metric, 0)
	for rows.Next() {
		var m tracking.Metric
		if err := rows.Scan(&m.Key, &m.Value, &m.Step); err != nil {
			return nil, fmt.Errorf("scan run metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *TrackingRepo) LatestArtifact(ctx context.Context, experiment, path string) ([]byte, string, error) {
	var data []byte
	var runID string
	err := r.db.Pool.QueryRow(ctx, `
SELECT a.data, a.run_id
FROM run_artifacts a
JOIN tracking_runs t ON t.run_id = a.run_id
WHERE t.experiment=$1 AND a.path=$2
ORDER BY a.logged_at DESC
LIMIT 1`, experiment, path).Scan(&data, &runID)
	if isNoRows(err) {
		return nil, "", &util.NotFoundError{Kind: "artifact", Detail: experiment + "/" + path}
	}
	if err != nil {
		return nil, "", fmt.Errorf("latest run artifact: %w", err)
	}
	return data, runID, nil
}
