package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/prompts"
)

// PromptRegistry resolves bundles from the prompt table
type PromptRegistry struct {
	db *sql.DB
}

func NewPromptRegistry(db *sql.DB) *PromptRegistry {
	return &PromptRegistry{db: db}
}

// Resolve returns the most recently created active version of t. Entries
// keep their insertion order.
func (r *PromptRegistry) Resolve(ctx context.Context, t audits.Type) (*prompts.Bundle, error) {
	const latest = `
SELECT version FROM prompt
WHERE audit_type=? AND is_active=TRUE
ORDER BY created_at DESC, id DESC LIMIT 1;
`
	var version string
	if err := r.db.QueryRowContext(ctx, latest, t).Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w for %s", prompts.ErrNoActiveBundle, t)
		}
		return nil, err
	}

	const q = `
SELECT tag, content FROM prompt
WHERE audit_type=? AND version=? AND is_active=TRUE
ORDER BY id ASC;
`
	rows, err := r.db.QueryContext(ctx, q, t, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []prompts.Entry
	for rows.Next() {
		var e prompts.Entry
		if err := rows.Scan(&e.Tag, &e.Content); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return prompts.NewBundle(t, version, entries)
}

// Publish stores version as the active bundle of t and deactivates older
// versions. Republishing a version replaces its rows, so entry order always
// follows the latest publish.
func (r *PromptRegistry) Publish(ctx context.Context, t audits.Type, version string, entries []prompts.Entry) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE prompt SET is_active=FALSE WHERE audit_type=?;`, t); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM prompt WHERE audit_type=? AND version=?;`, t, version); err != nil {
			return fmt.Errorf("replace %s/%s: %w", t, version, err)
		}
		const q = `
INSERT INTO prompt (audit_type, tag, version, content, is_active, created_at)
VALUES (?,?,?,?,TRUE,?);
`
		now := time.Now().UTC()
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, q, t, e.Tag, version, e.Content, now); err != nil {
				return fmt.Errorf("publish %s/%s: %w", t, e.Tag, err)
			}
		}
		return nil
	})
}
