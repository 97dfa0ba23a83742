package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
)

type JobRepository struct {
	db  *sql.DB
	log *zap.Logger
}

func NewJobRepository(db *sql.DB, log *zap.Logger) *JobRepository {
	return &JobRepository{db: db, log: log}
}

const jobColumns = `id, audit_type, source, status, model, raw_output, processing_time_seconds, created_at, updated_at`

func (r *JobRepository) Create(ctx context.Context, j *audits.Job) error {
	const q = `
INSERT INTO audit (id, audit_type, source, status, model, created_at, updated_at)
VALUES (?,?,?,?,?,?,?);
`
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if j.Status == "" {
		j.Status = audits.StatusWaiting
	}
	_, err := r.db.ExecContext(ctx, q, j.ID, j.Type, j.Source, j.Status, j.Model, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		r.log.Error("create audit failed", zap.String("job_id", string(j.ID)), zap.Error(err))
		return fmt.Errorf("create audit %s: %w", j.ID, err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id audits.JobID) (*audits.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM audit WHERE id=? LIMIT 1;`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", audits.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get audit %s: %w", id, err)
	}
	return j, nil
}

// ListByStatus returns the oldest jobs first
func (r *JobRepository) ListByStatus(ctx context.Context, status audits.Status, limit int) ([]*audits.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + jobColumns + ` FROM audit WHERE status=? ORDER BY created_at ASC LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audits.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListStale returns processing jobs whose last update is older than before
func (r *JobRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*audits.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + jobColumns + ` FROM audit WHERE status=? AND updated_at<? ORDER BY updated_at ASC LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, audits.StatusProcessing, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audits.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Start claims the job for one run. The status check and the write are a
// single statement, so two concurrent callers cannot both succeed.
func (r *JobRepository) Start(ctx context.Context, id audits.JobID, staleBefore time.Time) error {
	const q = `
UPDATE audit SET status=?, updated_at=?
WHERE id=? AND (status<>? OR updated_at<?);
`
	res, err := r.db.ExecContext(ctx, q,
		audits.StatusProcessing, time.Now().UTC(), id, audits.StatusProcessing, staleBefore)
	if err != nil {
		return fmt.Errorf("start audit %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", audits.ErrJobRunning, id)
}

// Complete stores the terminal status and output of a run
func (r *JobRepository) Complete(ctx context.Context, id audits.JobID, status audits.Status, rawOutput string, processingSeconds int) error {
	const q = `
UPDATE audit
SET status=?, raw_output=?, processing_time_seconds=?, updated_at=?
WHERE id=?;
`
	res, err := r.db.ExecContext(ctx, q, status, nullIfEmpty(rawOutput), processingSeconds, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*audits.Job, error) {
	var j audits.Job
	var raw sql.NullString
	var secs sql.NullInt64
	if err := row.Scan(
		&j.ID, &j.Type, &j.Source, &j.Status, &j.Model, &raw, &secs, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.RawOutput = raw.String
	j.ProcessingSeconds = intPtr(secs)
	return &j, nil
}

// expectRow maps an update that matched nothing to ErrJobNotFound. The DSN
// sets clientFoundRows so unchanged rows still count.
func expectRow(res sql.Result, id audits.JobID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", audits.ErrJobNotFound, id)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
