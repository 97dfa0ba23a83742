package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
)

// checkpointStore binds the checkpoint repository to one job
type checkpointStore struct {
	repo  audits.CheckpointRepository
	jobID audits.JobID
	log   *zap.Logger
}

// upsert records the state of step. A failed write is logged and returned as a
// persistence error; callers decide whether it matters.
func (s *checkpointStore) upsert(ctx context.Context, step string, status audits.StepStatus, result *string, seconds *int) error {
	if err := s.repo.Upsert(ctx, s.jobID, step, status, result, seconds); err != nil {
		s.log.Warn("checkpoint write failed",
			zap.String("job_id", string(s.jobID)),
			zap.String("step", step),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return audits.NewError(audits.KindPersistenceFailed, s.jobID, step, err)
	}
	return nil
}
