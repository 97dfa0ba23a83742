package audits

import (
	"context"
	"time"
)

// JobRepository persists audit jobs
type JobRepository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id JobID) (*Job, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error)
	// ListStale returns processing jobs not touched since before, oldest first
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Job, error)
	// Start moves the job to processing. It fails with ErrJobRunning when the
	// job is already processing and was updated at or after staleBefore.
	Start(ctx context.Context, id JobID, staleBefore time.Time) error
	Complete(ctx context.Context, id JobID, status Status, rawOutput string, processingSeconds int) error
}

// CheckpointRepository is the only write path for step checkpoints.
// Upsert must update the (jobID, step) row in place when it exists.
type CheckpointRepository interface {
	Upsert(ctx context.Context, jobID JobID, step string, status StepStatus, result *string, processingSeconds *int) error
	ListByJob(ctx context.Context, jobID JobID) ([]*Checkpoint, error)
}

// FindingRepository persists findings. BulkInsert replaces every finding of
// jobID with the given set in one transaction: either all rows exist or none do.
type FindingRepository interface {
	BulkInsert(ctx context.Context, jobID JobID, findings []*Finding) error
	ListByJob(ctx context.Context, jobID JobID) ([]*Finding, error)
	// SubmitFeedback attests a finding and records whether the reviewer agrees with it
	SubmitFeedback(ctx context.Context, id string, verified bool, feedback *string, at time.Time) error
}

// EventPublisher broadcasts a payload on a named channel
type EventPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ReportArchive keeps copies of rendered reports and raw judge output
type ReportArchive interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
}
