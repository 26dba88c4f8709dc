package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"spamflow/internal/registry"
	"spamflow/internal/util"
)

// RunRepo is the Postgres registry.Store.
type RunRepo struct {
	db *DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

var _ registry.Store = (*RunRepo)(nil)

func (r *RunRepo) CreateRun(ctx context.Context, run registry.Run) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO pipeline_runs (run_id, pipeline, status)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status`,
		run.ID, run.Pipeline, run.Status,
	)
	if err != nil {
		return fmt.Errorf("create pipeline run: %w", err)
	}
	return nil
}

func (r *RunRepo) FinishRun(ctx context.Context, runID, status string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE pipeline_runs SET status=$2, finished_at=NOW() WHERE run_id=$1`, runID, status)
	if err != nil {
		return fmt.Errorf("finish pipeline run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &util.NotFoundError{Kind: "run", Detail: runID}
	}
	return nil
}

func (r *RunRepo) LatestRun(ctx context.Context, pipeline, status string) (registry.Run, error) {
	var run registry.Run
	err := r.db.Pool.QueryRow(ctx, `
SELECT run_id, pipeline, status, started_at, COALESCE(finished_at, started_at)
FROM pipeline_runs
WHERE pipeline=$1 AND ($2 = '' OR status=$2)
ORDER BY started_at DESC
LIMIT 1`, pipeline, status).
		Scan(&run.ID, &run.Pipeline, &run.Status, &run.StartedAt, &run.FinishedAt)
	if isNoRows(err) {
		return registry.Run{}, &util.NotFoundError{Kind: "run", Detail: pipeline}
	}
	if err != nil {
		return registry.Run{}, fmt.Errorf("latest pipeline run: %w", err)
	}
	return run, nil
}

func (r *RunRepo) StartStep(ctx context.Context, runID, step, fingerprint string, outputs []string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin start step: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
INSERT INTO step_runs (run_id, step, status, fingerprint)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id, step)
DO UPDATE SET status = EXCLUDED.status, fingerprint = EXCLUDED.fingerprint, updated_at = NOW()`,
		runID, step, registry.StatusRunning, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("upsert step run: %w", err)
	}
	for _, o := range outputs {
		_, err = tx.Exec(ctx, `
INSERT INTO step_outputs (run_id, step, output)
SELECT $1, $2, $3
WHERE NOT EXISTS (SELECT 1 FROM step_outputs WHERE run_id=$1 AND step=$2 AND output=$3)`,
			runID, step, o,
		)
		if err != nil {
			return fmt.Errorf("declare step output %s: %w", o, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit start step: %w", err)
	}
	return nil
}

func (r *RunRepo) FinishStep(ctx context.Context, runID, step, status string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE step_runs SET status=$3, updated_at=NOW() WHERE run_id=$1 AND step=$2`, runID, step, status)
	if err != nil {
		return fmt.Errorf("finish step run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &util.NotFoundError{Kind: "step", Detail: runID + "/" + step}
	}
	return nil
}

func (r *RunRepo) PutArtifact(ctx context.Context, name, checksum string, payload []byte) (registry.ArtifactRef, error) {
	ref := registry.ArtifactRef{ArtifactID: uuid.NewString(), Name: name, Checksum: checksum}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO artifact_versions (artifact_id, name, checksum, payload)
VALUES ($1, $2, $3, $4)`,
		ref.ArtifactID, ref.Name, ref.Checksum, payload,
	)
	if err != nil {
		return registry.ArtifactRef{}, fmt.Errorf("insert artifact version: %w", err)
	}
	return ref, nil
}

func (r *RunRepo) AddStepOutput(ctx context.Context, runID, step, output string, ref registry.ArtifactRef) error {
	// fill the declared placeholder first, otherwise append a new version
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE step_outputs SET artifact_id=$4
WHERE id = (
  SELECT id FROM step_outputs
  WHERE run_id=$1 AND step=$2 AND output=$3 AND artifact_id IS NULL
  ORDER BY id LIMIT 1
)`, runID, step, output, ref.ArtifactID)
	if err != nil {
		return fmt.Errorf("attach step output: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO step_outputs (run_id, step, output, artifact_id)
VALUES ($1, $2, $3, $4)`, runID, step, output, ref.ArtifactID)
	if err != nil {
		return fmt.Errorf("insert step output: %w", err)
	}
	return nil
}

func (r *RunRepo) StepOutputs(ctx context.Context, runID, step string) (map[string][]registry.ArtifactRef, bool, error) {
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM step_runs WHERE run_id=$1 AND step=$2)`, runID, step).Scan(&exists); err != nil {
		return nil, false, fmt.Errorf("lookup step run: %w", err)
	}
	if !exists {
		return nil, false, nil
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT o.output, COALESCE(a.artifact_id, ''), COALESCE(a.name, ''), COALESCE(a.checksum, '')
FROM step_outputs o
LEFT JOIN artifact_versions a ON a.artifact_id = o.artifact_id
WHERE o.run_id=$1 AND o.step=$2
ORDER BY o.id`, runID, step)
	if err != nil {
		return nil, false, fmt.Errorf("list step outputs: %w", err)
	}
	defer rows.Close()

	out := map[string][]registry.ArtifactRef{}
	for rows.Next() {
		var output string
		var ref registry.ArtifactRef
		if err := rows.Scan(&output, &ref.ArtifactID, &ref.Name, &ref.Checksum); err != nil {
			return nil, false, fmt.Errorf("scan step output: %w", err)
		}
		if _, ok := out[output]; !ok {
			out[output] = []registry.ArtifactRef{}
		}
		if ref.ArtifactID != "" {
			out[output] = append(out[output], ref)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate step outputs: %w", err)
	}
	return out, true, nil
}

func (r *RunRepo) ArtifactPayload(ctx context.Context, artifactID string) ([]byte, error) {
	var payload []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT payload FROM artifact_versions WHERE artifact_id=$1`, artifactID).Scan(&payload)
	if isNoRows(err) {
		return nil, &util.NotFoundError{Kind: "artifact", Detail: artifactID}
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact payload: %w", err)
	}
	return payload, nil
}

func (r *RunRepo) CachedOutputs(ctx context.Context, step, fingerprint string) (map[string]registry.ArtifactRef, bool, error) {
	var runID string
	err := r.db.Pool.QueryRow(ctx, `
SELECT run_id FROM step_runs
WHERE step=$1 AND fingerprint=$2 AND status = ANY($3)
ORDER BY updated_at DESC
LIMIT 1`, step, fingerprint, []string{registry.StatusCompleted, registry.StatusCached}).Scan(&runID)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup cached step: %w", err)
	}
	outputs, ok, err := r.StepOutputs(ctx, runID, step)
	if err != nil || !ok {
		return nil, false, err
	}
	out := make(map[string]registry.ArtifactRef, len(outputs))
	for name, versions := range outputs {
		if len(versions) == 0 {
			return nil, false, nil
		}
		out[name] = versions[0]
	}
	return out, true, nil
}

func (r *RunRepo) StepRecords(ctx context.Context, runID string) ([]registry.StepRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT run_id, step, status, fingerprint
FROM step_runs
WHERE run_id=$1
ORDER BY started_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("list step runs: %w", err)
	}
	defer rows.Close()
	out := make([]registry.StepRecord, 0)
	for rows.Next() {
		var s registry.StepRecord
		if err := rows.Scan(&s.RunID, &s.Name, &s.Status, &s.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan step run: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
