package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
)

type CheckpointRepository struct{ db *sql.DB }

func NewCheckpointRepository(db *sql.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Upsert insert/update the (job_id, step) row
func (r *CheckpointRepository) Upsert(ctx context.Context, jobID audits.JobID, step string, status audits.StepStatus, result *string, processingSeconds *int) error {
	const q = `
INSERT INTO audit_step
(job_id, step, status, result, processing_time_seconds, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (job_id, step) DO UPDATE SET
 status = EXCLUDED.status,
 result = EXCLUDED.result,
 processing_time_seconds = EXCLUDED.processing_time_seconds,
 updated_at = EXCLUDED.updated_at;`
	_, err := r.db.ExecContext(ctx, q,
		jobID, step, status, nullString(result), nullInt(processingSeconds), time.Now().UTC(),
	)
	return err
}

func (r *CheckpointRepository) ListByJob(ctx context.Context, jobID audits.JobID) ([]*audits.Checkpoint, error) {
	const q = `
SELECT job_id, step, status, result, processing_time_seconds, updated_at
FROM audit_step
WHERE job_id=$1 ORDER BY id ASC;`
	rows, err := r.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audits.Checkpoint
	for rows.Next() {
		var c audits.Checkpoint
		var result sql.NullString
		var secs sql.NullInt64
		if err := rows.Scan(&c.JobID, &c.Step, &c.Status, &result, &secs, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Result = stringPtr(result)
		c.ProcessingSeconds = intPtr(secs)
		out = append(out, &c)
	}
	return out, rows.Err()
}
