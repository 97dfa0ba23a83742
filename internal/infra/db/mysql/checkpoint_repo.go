package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
)

type CheckpointRepository struct {
	db *sql.DB
}

func NewCheckpointRepository(db *sql.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Upsert insert/update the (job_id, step) row
func (r *CheckpointRepository) Upsert(ctx context.Context, jobID audits.JobID, step string, status audits.StepStatus, result *string, processingSeconds *int) error {
	const q = `
INSERT INTO audit_step
(job_id, step, status, result, processing_time_seconds, updated_at)
VALUES (?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status),
 result=VALUES(result),
 processing_time_seconds=VALUES(processing_time_seconds),
 updated_at=VALUES(updated_at);
`
	_, err := r.db.ExecContext(ctx, q,
		jobID, step, status, nullString(result), nullInt(processingSeconds), time.Now().UTC(),
	)
	return err
}

func (r *CheckpointRepository) ListByJob(ctx context.Context, jobID audits.JobID) ([]*audits.Checkpoint, error) {
	const q = `
SELECT job_id, step, status, result, processing_time_seconds, updated_at
FROM audit_step
WHERE job_id=? ORDER BY id ASC;
`
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
