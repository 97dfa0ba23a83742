package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/prompts"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestJobRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO audit").
		WithArgs("job-1", "security", "contract A {}", "waiting", "gpt-4o-mini", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &audits.Job{ID: "job-1", Type: audits.TypeSecurity, Source: "contract A {}", Model: "gpt-4o-mini"}
	require.NoError(t, repo.Create(context.Background(), job))

	assert.Equal(t, audits.StatusWaiting, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	cols := []string{"id", "audit_type", "source", "status", "model", "raw_output", "processing_time_seconds", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT (.+) FROM audit WHERE id=").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("job-1", "gas", "src", "success", "gpt-4o-mini", "{}", 42, now, now))

	job, err := repo.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, audits.TypeGas, job.Type)
	assert.Equal(t, audits.StatusSuccess, job.Status)
	assert.Equal(t, "{}", job.RawOutput)
	require.NotNil(t, job.ProcessingSeconds)
	assert.Equal(t, 42, *job.ProcessingSeconds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	mock.ExpectQuery("SELECT (.+) FROM audit WHERE id=").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, audits.ErrJobNotFound)
}

func TestJobRepository_Complete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE audit").
		WithArgs("success_unparsed", "not json", 12, sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Complete(context.Background(), "job-1", audits.StatusSuccessUnparsed, "not json", 12))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointRepository_Upsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCheckpointRepository(db)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO audit_step (.+) ON DUPLICATE KEY UPDATE").
		WithArgs("job-1", "math", "processing", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO audit_step (.+) ON DUPLICATE KEY UPDATE").
		WithArgs("job-1", "math", "success", "no issues", int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 2))

	require.NoError(t, repo.Upsert(ctx, "job-1", "math", audits.StepProcessing, nil, nil))
	result, secs := "no issues", 3
	require.NoError(t, repo.Upsert(ctx, "job-1", "math", audits.StepSuccess, &result, &secs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointRepository_ListByJob(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCheckpointRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM audit_step").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "step", "status", "result", "processing_time_seconds", "updated_at"}).
			AddRow("job-1", "a", "success", "text", 2, now).
			AddRow("job-1", "b", "failed", nil, 1, now))

	rows, err := repo.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].Result)
	assert.Equal(t, "text", *rows[0].Result)
	assert.Nil(t, rows[1].Result)
	assert.Equal(t, audits.StepFailed, rows[1].Status)
}

func TestFindingRepository_BulkInsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFindingRepository(db)
	now := time.Now().UTC()

	findings := []*audits.Finding{
		{ID: "f1", Type: audits.TypeSecurity, Level: audits.LevelHigh, Name: "Reentrancy", Explanation: "e", Recommendation: "r", Reference: "L42", CreatedAt: now},
		{ID: "f2", Type: audits.TypeSecurity, Level: audits.LevelLow, Name: "Naming", Explanation: "e", Recommendation: "r", CreatedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM finding WHERE job_id=").WithArgs("job-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO finding`).
		WithArgs(
			"f1", "job-1", "security", "high", "Reentrancy", "e", "r", "L42", now,
			"f2", "job-1", "security", "low", "Naming", "e", "r", "-", now,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.BulkInsert(context.Background(), "job-1", findings))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindingRepository_BulkInsertRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFindingRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM finding").WithArgs("job-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO finding").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	err := repo.BulkInsert(context.Background(), "job-1", []*audits.Finding{{ID: "f1", Level: audits.LevelHigh}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromptRegistry_Resolve(t *testing.T) {
	db, mock := newMock(t)
	reg := NewPromptRegistry(db)

	mock.ExpectQuery("SELECT version FROM prompt").
		WithArgs("security").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0.2"))
	mock.ExpectQuery("SELECT tag, content FROM prompt").
		WithArgs("security", "0.2").
		WillReturnRows(sqlmock.NewRows([]string{"tag", "content"}).
			AddRow("access_control", "check roles").
			AddRow(prompts.ReviewerTag, "merge the reports").
			AddRow("control_flow", "check flow"))

	b, err := reg.Resolve(context.Background(), audits.TypeSecurity)
	require.NoError(t, err)
	assert.Equal(t, "0.2", b.Version)
	assert.Equal(t, "merge the reports", b.Reviewer)
	require.Len(t, b.Candidates, 2)
	assert.Equal(t, "access_control", b.Candidates[0].Step)
	assert.Equal(t, "control_flow", b.Candidates[1].Step)
	assert.Equal(t, "security_audit_report", b.Schema.Name)
	assert.NotEmpty(t, b.Schema.Definition)
}

func TestPromptRegistry_ResolveNoActive(t *testing.T) {
	db, mock := newMock(t)
	reg := NewPromptRegistry(db)

	mock.ExpectQuery("SELECT version FROM prompt").WithArgs("gas").WillReturnError(sql.ErrNoRows)

	_, err := reg.Resolve(context.Background(), audits.TypeGas)
	assert.ErrorIs(t, err, prompts.ErrNoActiveBundle)
}

var jobCols = []string{"id", "audit_type", "source", "status", "model", "raw_output", "processing_time_seconds", "created_at", "updated_at"}

func TestJobRepository_Start(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())
	now := time.Now().UTC()
	stale := now.Add(-30 * time.Minute)

	mock.ExpectExec(`UPDATE audit SET status=\?, updated_at=\? WHERE id=\? AND \(status<>\? OR updated_at<\?\)`).
		WithArgs("processing", sqlmock.AnyArg(), "job-1", "processing", stale).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE audit SET status").
		WithArgs("processing", sqlmock.AnyArg(), "job-1", "processing", stale).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM audit WHERE id=").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow("job-1", "gas", "src", "processing", "", nil, nil, now, now))

	require.NoError(t, repo.Start(context.Background(), "job-1", stale))
	err := repo.Start(context.Background(), "job-1", stale)
	assert.ErrorIs(t, err, audits.ErrJobRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_StartMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE audit SET status").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM audit WHERE id=").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	err := repo.Start(context.Background(), "nope", time.Now())
	assert.ErrorIs(t, err, audits.ErrJobNotFound)
}

func TestJobRepository_CompleteMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE audit").
		WithArgs("failed", nil, 0, sqlmock.AnyArg(), "nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Complete(context.Background(), "nope", audits.StatusFailed, "", 0)
	assert.ErrorIs(t, err, audits.ErrJobNotFound)
}

func TestJobRepository_ListStale(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())
	before := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`SELECT (.+) FROM audit WHERE status=\? AND updated_at<\?`).
		WithArgs("processing", before, 5).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("a", "security", "src", "processing", "", nil, nil, before.Add(-time.Hour), before.Add(-time.Hour)))

	jobs, err := repo.ListStale(context.Background(), before, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, audits.JobID("a"), jobs[0].ID)
}

func TestFindingRepository_SubmitFeedback(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFindingRepository(db)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE finding SET is_attested=TRUE, is_verified=\\?, feedback=\\?, attested_at=\\? WHERE id=\\?").
		WithArgs(false, nil, at, "f1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE finding").
		WithArgs(true, nil, at, "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SubmitFeedback(context.Background(), "f1", false, nil, at))
	assert.ErrorIs(t, repo.SubmitFeedback(context.Background(), "gone", true, nil, at), audits.ErrFindingNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindingRepository_ListByJob(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFindingRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM finding WHERE job_id=\\? ORDER BY FIELD").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_id", "audit_type", "level", "name", "explanation", "recommendation", "reference", "created_at",
			"is_attested", "is_verified", "feedback", "attested_at",
		}).AddRow("f1", "job-1", "gas", "medium", "Packing", "e", "r", "-", now, true, true, "agreed", now))

	got, err := repo.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsVerified)
	require.NotNil(t, got[0].Feedback)
	assert.Equal(t, "agreed", *got[0].Feedback)
	require.NotNil(t, got[0].AttestedAt)
	assert.Equal(t, now, *got[0].AttestedAt)
}

func TestPromptRegistry_PublishReplacesVersion(t *testing.T) {
	db, mock := newMock(t)
	reg := NewPromptRegistry(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE prompt SET is_active=FALSE WHERE audit_type=").WithArgs("gas").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM prompt WHERE audit_type=\\? AND version=\\?").WithArgs("gas", "1.1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO prompt").
		WithArgs("gas", "storage", "1.1", "look at SSTORE", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO prompt").
		WithArgs("gas", prompts.ReviewerTag, "1.1", "merge", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectCommit()

	err := reg.Publish(context.Background(), audits.TypeGas, "1.1", []prompts.Entry{
		{Tag: "storage", Content: "look at SSTORE"},
		{Tag: prompts.ReviewerTag, Content: "merge"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
