package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
)

var findingColumns = []string{
	"id", "job_id", "audit_type", "level", "name", "explanation", "recommendation", "reference", "created_at",
}

type FindingRepository struct{ db *sql.DB }

func NewFindingRepository(db *sql.DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// BulkInsert replaces the findings of jobID using COPY inside one transaction
func (r *FindingRepository) BulkInsert(ctx context.Context, jobID audits.JobID, findings []*audits.Finding) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM finding WHERE job_id=$1;`, jobID); err != nil {
			return fmt.Errorf("clear findings: %w", err)
		}
		if len(findings) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("finding", findingColumns...))
		if err != nil {
			return fmt.Errorf("prepare copy: %w", err)
		}
		defer stmt.Close()

		for _, f := range findings {
			created := f.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			if _, err := stmt.ExecContext(ctx,
				f.ID, jobID, f.Type, f.Level,
				stringOrDash(f.Name), f.Explanation, f.Recommendation, stringOrDash(f.Reference),
				created,
			); err != nil {
				return fmt.Errorf("copy finding %s: %w", f.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("flush %d findings: %w", len(findings), err)
		}
		return nil
	})
}

// ListByJob returns findings from most to least severe
func (r *FindingRepository) ListByJob(ctx context.Context, jobID audits.JobID) ([]*audits.Finding, error) {
	const q = `
SELECT id, job_id, audit_type, level, name, explanation, recommendation, reference, created_at,
       is_attested, is_verified, feedback, attested_at
FROM finding
WHERE job_id=$1
ORDER BY CASE level
  WHEN 'critical' THEN 0
  WHEN 'high' THEN 1
  WHEN 'medium' THEN 2
  WHEN 'low' THEN 3
  ELSE 4
END, created_at ASC;`
	rows, err := r.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audits.Finding
	for rows.Next() {
		var f audits.Finding
		var feedback sql.NullString
		var attested pq.NullTime
		if err := rows.Scan(
			&f.ID, &f.JobID, &f.Type, &f.Level, &f.Name, &f.Explanation, &f.Recommendation, &f.Reference, &f.CreatedAt,
			&f.IsAttested, &f.IsVerified, &feedback, &attested,
		); err != nil {
			return nil, err
		}
		f.Feedback = stringPtr(feedback)
		if attested.Valid {
			f.AttestedAt = &attested.Time
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (r *FindingRepository) SubmitFeedback(ctx context.Context, id string, verified bool, feedback *string, at time.Time) error {
	const q = `
UPDATE finding
SET is_attested=TRUE, is_verified=$1, feedback=$2, attested_at=$3
WHERE id=$4;`
	res, err := r.db.ExecContext(ctx, q, verified, nullString(feedback), at, id)
	if err != nil {
		return fmt.Errorf("feedback on finding %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", audits.ErrFindingNotFound, id)
	}
	return nil
}
