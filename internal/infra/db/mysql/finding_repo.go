package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
)

type FindingRepository struct {
	db *sql.DB
}

func NewFindingRepository(db *sql.DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// BulkInsert replaces the findings of jobID in a single transaction
func (r *FindingRepository) BulkInsert(ctx context.Context, jobID audits.JobID, findings []*audits.Finding) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM finding WHERE job_id=?;`, jobID); err != nil {
			return fmt.Errorf("clear findings: %w", err)
		}
		if len(findings) == 0 {
			return nil
		}

		var b strings.Builder
		b.WriteString(`INSERT INTO finding
(id, job_id, audit_type, level, name, explanation, recommendation, reference, created_at)
VALUES `)
		args := make([]any, 0, len(findings)*9)
		for i, f := range findings {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString("(?,?,?,?,?,?,?,?,?)")
			created := f.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			args = append(args,
				f.ID, jobID, f.Type, f.Level,
				stringOrDash(f.Name), f.Explanation, f.Recommendation, stringOrDash(f.Reference),
				created,
			)
		}
		b.WriteString(";")
		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return fmt.Errorf("insert %d findings: %w", len(findings), err)
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
WHERE job_id=?
ORDER BY FIELD(level, 'critical', 'high', 'medium', 'low', 'informational'), created_at ASC;
`
	rows, err := r.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audits.Finding
	for rows.Next() {
		var f audits.Finding
		var feedback sql.NullString
		var attested sql.NullTime
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

// SubmitFeedback attests finding id. A later call overwrites the earlier verdict.
func (r *FindingRepository) SubmitFeedback(ctx context.Context, id string, verified bool, feedback *string, at time.Time) error {
	const q = `
UPDATE finding
SET is_attested=TRUE, is_verified=?, feedback=?, attested_at=?
WHERE id=?;
`
	res, err := r.db.ExecContext(ctx, q, verified, nullString(feedback), at, id)
	if err != nil {
		return fmt.Errorf("feedback on finding %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", audits.ErrFindingNotFound, id)
	}
	return nil
}
