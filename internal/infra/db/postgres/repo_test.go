package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/prompts"
)

var jobCols = []string{"id", "audit_type", "source", "status", "model", "raw_output", "processing_time_seconds", "created_at", "updated_at"}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestJobRepository_CreateDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO audit").
		WillReturnError(&pq.Error{Code: uniqueViolation, Message: "duplicate key"})

	err := repo.Create(context.Background(), &audits.Job{ID: "job-1", Type: audits.TypeGas, Source: "x"})
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestJobRepository_StartClaims(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())
	stale := time.Now().Add(-time.Hour)

	mock.ExpectExec(`UPDATE audit SET status=\$1, updated_at=\$2\s+WHERE id=\$3 AND \(status<>\$1 OR updated_at<\$4\)`).
		WithArgs("processing", sqlmock.AnyArg(), "job-1", stale).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Start(context.Background(), "job-1", stale))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_StartWhileRunning(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE audit SET status").
		WithArgs("processing", sqlmock.AnyArg(), "job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM audit WHERE id=").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("job-1", "security", "src", "processing", "", nil, nil, now, now))

	err := repo.Start(context.Background(), "job-1", now.Add(-time.Hour))
	assert.ErrorIs(t, err, audits.ErrJobRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_StartMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE audit SET status").
		WithArgs("processing", sqlmock.AnyArg(), "job-9", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM audit WHERE id=").
		WithArgs("job-9").
		WillReturnError(sql.ErrNoRows)

	err := repo.Start(context.Background(), "job-9", time.Now())
	assert.ErrorIs(t, err, audits.ErrJobNotFound)
}

func TestJobRepository_CompleteMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE audit").
		WithArgs("failed", nil, 3, sqlmock.AnyArg(), "job-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Complete(context.Background(), "job-9", audits.StatusFailed, "", 3)
	assert.ErrorIs(t, err, audits.ErrJobNotFound)
}

func TestJobRepository_ListStale(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())
	before := time.Now().Add(-30 * time.Minute)
	old := before.Add(-time.Hour)

	mock.ExpectQuery(`SELECT (.+) FROM audit WHERE status=\$1 AND updated_at<\$2`).
		WithArgs("processing", before, 20).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("a", "gas", "src", "processing", "", nil, nil, old, old))

	jobs, err := repo.ListStale(context.Background(), before, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, audits.StatusProcessing, jobs[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_ListByStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(db, zap.NewNop())
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM audit WHERE status=").
		WithArgs("waiting", 5).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("a", "security", "src", "waiting", "", nil, nil, now, now).
			AddRow("b", "gas", "src", "waiting", "", nil, nil, now, now))

	jobs, err := repo.ListByStatus(context.Background(), audits.StatusWaiting, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Nil(t, jobs[0].ProcessingSeconds)
	assert.Empty(t, jobs[1].RawOutput)
}

func TestCheckpointRepository_Upsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCheckpointRepository(db)

	mock.ExpectExec(`INSERT INTO audit_step (.+) ON CONFLICT \(job_id, step\) DO UPDATE`).
		WithArgs("job-1", "report", "failed", nil, int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	secs := 7
	require.NoError(t, repo.Upsert(context.Background(), "job-1", audits.ReportStep, audits.StepFailed, nil, &secs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindingRepository_BulkInsertCopies(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFindingRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM finding").WithArgs("job-1").WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(`COPY "finding"`)
	prep.ExpectExec().
		WithArgs("f1", "job-1", "security", "critical", "Unprotected mint", "e", "r", "mint()", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("f2", "job-1", "security", "informational", "Pragma", "e", "r", "-", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := repo.BulkInsert(context.Background(), "job-1", []*audits.Finding{
		{ID: "f1", Type: audits.TypeSecurity, Level: audits.LevelCritical, Name: "Unprotected mint", Explanation: "e", Recommendation: "r", Reference: "mint()", CreatedAt: now},
		{ID: "f2", Type: audits.TypeSecurity, Level: audits.LevelInformational, Name: "Pragma", Explanation: "e", Recommendation: "r", CreatedAt: now},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindingRepository_EmptySetOnlyClears(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFindingRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM finding").WithArgs("job-1").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	require.NoError(t, repo.BulkInsert(context.Background(), "job-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromptRegistry_ResolveWithoutReviewer(t *testing.T) {
	db, mock := newMock(t)
	reg := NewPromptRegistry(db)

	mock.ExpectQuery("SELECT version FROM prompt").
		WithArgs("gas").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("1"))
	mock.ExpectQuery("SELECT tag, content FROM prompt").
		WithArgs("gas", "1").
		WillReturnRows(sqlmock.NewRows([]string{"tag", "content"}).AddRow("storage", "look at SSTORE"))

	_, err := reg.Resolve(context.Background(), audits.TypeGas)
	assert.ErrorIs(t, err, prompts.ErrNoActiveBundle)
}

func TestPromptRegistry_Publish(t *testing.T) {
	db, mock := newMock(t)
	reg := NewPromptRegistry(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE prompt SET is_active=FALSE").WithArgs("security").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM prompt WHERE audit_type=").WithArgs("security", "0.3").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO prompt").
		WithArgs("security", "math", "0.3", "check overflow", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO prompt").
		WithArgs("security", prompts.ReviewerTag, "0.3", "merge", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := reg.Publish(context.Background(), audits.TypeSecurity, "0.3", []prompts.Entry{
		{Tag: "math", Content: "check overflow"},
		{Tag: prompts.ReviewerTag, Content: "merge"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromptRegistry_PublishRollsBackOnInsertFailure(t *testing.T) {
	db, mock := newMock(t)
	reg := NewPromptRegistry(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE prompt SET is_active=FALSE").WithArgs("gas").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM prompt").WithArgs("gas", "2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO prompt").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := reg.Publish(context.Background(), audits.TypeGas, "2", []prompts.Entry{{Tag: prompts.ReviewerTag, Content: "merge"}})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindingRepository_ListByJobReadsFeedback(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFindingRepository(db)
	now := time.Now().UTC()

	cols := []string{"id", "job_id", "audit_type", "level", "name", "explanation", "recommendation", "reference", "created_at",
		"is_attested", "is_verified", "feedback", "attested_at"}
	mock.ExpectQuery("SELECT (.+) FROM finding").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("f1", "job-1", "security", "high", "Reentrancy", "e", "r", "L1", now, true, false, "false positive", now).
			AddRow("f2", "job-1", "security", "low", "Naming", "e", "r", "-", now, false, false, nil, nil))

	got, err := repo.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsAttested)
	require.NotNil(t, got[0].Feedback)
	assert.Equal(t, "false positive", *got[0].Feedback)
	require.NotNil(t, got[0].AttestedAt)
	assert.False(t, got[1].IsAttested)
	assert.Nil(t, got[1].Feedback)
	assert.Nil(t, got[1].AttestedAt)
}

func TestFindingRepository_SubmitFeedback(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFindingRepository(db)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	note := "confirmed"

	mock.ExpectExec("UPDATE finding SET is_attested=TRUE").
		WithArgs(true, "confirmed", at, "f1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE finding SET is_attested=TRUE").
		WithArgs(false, nil, at, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SubmitFeedback(context.Background(), "f1", true, &note, at))
	err := repo.SubmitFeedback(context.Background(), "missing", false, nil, at)
	assert.ErrorIs(t, err, audits.ErrFindingNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
