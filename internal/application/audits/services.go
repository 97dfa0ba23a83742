package audits

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/application"
	"github.com/Bevor-Protocol/certaik-api/internal/application/parser"
	"github.com/Bevor-Protocol/certaik-api/internal/application/pipeline"
	"github.com/Bevor-Protocol/certaik-api/internal/application/report"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/ai"
	domain "github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/prompts"
)

var (
	// ErrInvalidInput wraps validation failures of a submission
	ErrInvalidInput = errors.New("invalid input")
	// ErrJobRunning is returned when a job is already being processed
	ErrJobRunning = domain.ErrJobRunning
	// ErrReportUnavailable is returned when a job has no parsed report to render
	ErrReportUnavailable = errors.New("report not available")
)

var validate = validator.New()

// Service owns the job lifecycle around the generation pipeline.
// It is safe for concurrent use.
type Service struct {
	Jobs           domain.JobRepository
	CheckpointRepo domain.CheckpointRepository
	FindingRepo    domain.FindingRepository
	Client         ai.Client
	Registry       prompts.Registry
	// Events and Archive are optional
	Events  domain.EventPublisher
	Archive domain.ReportArchive

	Policy        pipeline.Policy
	EventsEnabled bool

	// Lease is how long a processing job may sit untouched before a new run
	// may claim it. Zero means processing jobs are never reclaimed.
	Lease time.Duration
	Clock application.Clock
	Log   *zap.Logger
}

// SubmitCommand is a request to audit one piece of contract source
type SubmitCommand struct {
	Type   string `json:"audit_type"`
	Source string `json:"code"`
}

// RunResult summarises one completed run
type RunResult struct {
	JobID             domain.JobID   `json:"job_id"`
	Status            domain.Status  `json:"status"`
	Findings          int            `json:"findings"`
	ProcessingSeconds int            `json:"processing_time_seconds"`
	Usage             pipeline.Usage `json:"usage"`
	ArchiveURL        string         `json:"archive_url,omitempty"`
	MarkdownURL       string         `json:"markdown_url,omitempty"`
}

// FeedbackCommand attests one finding
type FeedbackCommand struct {
	FindingID string  `json:"-" validate:"required,uuid"`
	Verified  *bool   `json:"verified" validate:"required"`
	Feedback  *string `json:"feedback,omitempty" validate:"omitempty,max=4000"`
}

// Submit validates cmd and stores a waiting job
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*domain.Job, error) {
	job := &domain.Job{
		ID:     domain.JobID(uuid.NewString()),
		Type:   domain.Type(cmd.Type),
		Source: cmd.Source,
		Status: domain.StatusWaiting,
		Model:  s.policy().Model,
	}
	if err := validate.Struct(job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.Jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	s.log().Info("audit submitted", zap.String("job_id", string(job.ID)), zap.String("audit_type", string(job.Type)))
	return job, nil
}

// Run executes both pipeline phases for id and records the terminal status.
// A finished job may be run again; its checkpoints and findings are replaced.
// Only one run holds a job at a time: the others get ErrJobRunning.
func (s *Service) Run(ctx context.Context, id domain.JobID) (*RunResult, error) {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Jobs.Start(ctx, id, s.staleBefore()); err != nil {
		return nil, fmt.Errorf("claim %s: %w", id, err)
	}

	log := s.log().With(zap.String("job_id", string(id)), zap.String("audit_type", string(job.Type)))
	start := s.clock().Now()

	p, err := pipeline.New(ctx, pipeline.Deps{
		Client:      s.Client,
		Registry:    s.Registry,
		Checkpoints: s.CheckpointRepo,
		Findings:    s.FindingRepo,
		Events:      s.Events,
		Logger:      s.log(),
		Clock:       s.clock(),
		Policy:      s.policy(),
	}, job, job.Source, s.EventsEnabled)
	if err != nil {
		return nil, s.fail(ctx, log, id, start, err)
	}
	log = log.With(zap.String("prompt_version", p.BundleVersion()))

	p.GenerateCandidates(ctx)
	rpt, err := p.GenerateReport(ctx)
	if err != nil {
		return nil, s.fail(ctx, log, id, start, err)
	}

	status := domain.StatusSuccess
	if !rpt.Parsed {
		status = domain.StatusSuccessUnparsed
	}
	seconds := s.secondsSince(start)
	if err := s.Jobs.Complete(context.WithoutCancel(ctx), id, status, rpt.Raw, seconds); err != nil {
		log.Error("audit completion not stored", zap.Error(err))
		return nil, domain.NewError(domain.KindPersistenceFailed, id, "", err)
	}
	jobsTotal.WithLabelValues(string(status)).Inc()

	res := &RunResult{
		JobID:             id,
		Status:            status,
		Findings:          rpt.Findings,
		ProcessingSeconds: seconds,
		Usage:             p.Usage(),
	}
	res.ArchiveURL = s.archive(ctx, log, ReportKey(id), rpt.Raw)
	if rpt.Parsed {
		res.MarkdownURL = s.archiveMarkdown(ctx, log, job, rpt.Response)
	}

	log.Info("audit finished",
		zap.String("status", string(status)),
		zap.Int("findings", rpt.Findings),
		zap.Int("processing_time_seconds", seconds),
		zap.Int("input_tokens", res.Usage.InputTokens),
		zap.Int("output_tokens", res.Usage.OutputTokens),
	)
	return res, nil
}

// RunPending runs up to limit waiting jobs, oldest first, and returns how many
// completed. With a lease set, processing jobs whose lease ran out fill the
// rest of the batch. One failing job does not stop the others.
func (s *Service) RunPending(ctx context.Context, limit int) (int, error) {
	jobs, err := s.Jobs.ListByStatus(ctx, domain.StatusWaiting, limit)
	if err != nil {
		return 0, err
	}
	if s.Lease > 0 && (limit <= 0 || len(jobs) < limit) {
		rest := 0
		if limit > 0 {
			rest = limit - len(jobs)
		}
		stale, err := s.Jobs.ListStale(ctx, s.staleBefore(), rest)
		if err != nil {
			return 0, err
		}
		for _, j := range stale {
			s.log().Warn("reclaiming stale audit",
				zap.String("job_id", string(j.ID)),
				zap.Time("updated_at", j.UpdatedAt),
			)
		}
		jobs = append(jobs, stale...)
	}
	done := 0
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := s.Run(ctx, j.ID); err != nil {
			s.log().Warn("pending audit failed", zap.String("job_id", string(j.ID)), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

func (s *Service) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	return s.Jobs.Get(ctx, id)
}

// List returns up to limit jobs in status, oldest first
func (s *Service) List(ctx context.Context, status domain.Status, limit int) ([]*domain.Job, error) {
	switch status {
	case domain.StatusWaiting, domain.StatusProcessing, domain.StatusSuccess, domain.StatusSuccessUnparsed, domain.StatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.Jobs.ListByStatus(ctx, status, limit)
}

// Checkpoints lists the step checkpoints of an existing job
func (s *Service) Checkpoints(ctx context.Context, id domain.JobID) ([]*domain.Checkpoint, error) {
	if _, err := s.Jobs.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.CheckpointRepo.ListByJob(ctx, id)
}

// Findings lists the findings of an existing job, most severe first
func (s *Service) Findings(ctx context.Context, id domain.JobID) ([]*domain.Finding, error) {
	if _, err := s.Jobs.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.FindingRepo.ListByJob(ctx, id)
}

// Markdown renders the report of a finished job. Jobs without a parsed report
// yield ErrReportUnavailable.
func (s *Service) Markdown(ctx context.Context, id domain.JobID) (string, error) {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !job.Status.Terminal() {
		return "", fmt.Errorf("%w: audit %s is %s", ErrReportUnavailable, id, job.Status)
	}
	if job.Status == domain.StatusFailed || job.RawOutput == "" {
		return "", fmt.Errorf("%w: audit %s has no report", ErrReportUnavailable, id)
	}
	resp, err := parser.Parse(job.RawOutput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrReportUnavailable, err)
	}
	at := job.UpdatedAt
	if at.IsZero() {
		at = s.clock().Now()
	}
	return report.Markdown(job.Type, resp, at)
}

// SubmitFeedback records a reviewer's verdict on one finding. Blank feedback
// text is stored as NULL.
func (s *Service) SubmitFeedback(ctx context.Context, cmd FeedbackCommand) error {
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	note := cmd.Feedback
	if note != nil && strings.TrimSpace(*note) == "" {
		note = nil
	}
	if err := s.FindingRepo.SubmitFeedback(ctx, cmd.FindingID, *cmd.Verified, note, s.clock().Now().UTC()); err != nil {
		return err
	}
	s.log().Info("finding attested", zap.String("finding_id", cmd.FindingID), zap.Bool("verified", *cmd.Verified))
	return nil
}

// fail marks the job failed and returns cause
func (s *Service) fail(ctx context.Context, log *zap.Logger, id domain.JobID, start time.Time, cause error) error {
	seconds := s.secondsSince(start)
	log.Error("audit failed",
		zap.String("kind", string(domain.KindOf(cause))),
		zap.Int("processing_time_seconds", seconds),
		zap.Error(cause),
	)
	if err := s.Jobs.Complete(context.WithoutCancel(ctx), id, domain.StatusFailed, "", seconds); err != nil {
		log.Error("failed status not stored", zap.Error(err))
	}
	jobsTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	return cause
}

// archive stores body under key when an archive is configured. Errors are logged only.
func (s *Service) archive(ctx context.Context, log *zap.Logger, key, body string) string {
	if s.Archive == nil || body == "" {
		return ""
	}
	url, err := s.Archive.Put(ctx, key, []byte(body))
	if err != nil {
		log.Warn("report archive failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return url
}

func (s *Service) archiveMarkdown(ctx context.Context, log *zap.Logger, job *domain.Job, resp *prompts.Response) string {
	if s.Archive == nil {
		return ""
	}
	md, err := report.Markdown(job.Type, resp, s.clock().Now())
	if err != nil {
		log.Warn("markdown render failed", zap.Error(err))
		return ""
	}
	return s.archive(ctx, log, MarkdownKey(job.ID), md)
}

// ReportKey is the archive object key of a job's raw report
func ReportKey(id domain.JobID) string {
	return path.Join("audits", string(id), "report.json")
}

// MarkdownKey is the archive object key of a job's rendered report
func MarkdownKey(id domain.JobID) string {
	return path.Join("audits", string(id), "report.md")
}

// staleBefore is the cutoff under which a processing job counts as abandoned
func (s *Service) staleBefore() time.Time {
	if s.Lease <= 0 {
		return time.Time{}
	}
	return s.clock().Now().Add(-s.Lease)
}

func (s *Service) secondsSince(start time.Time) int {
	return int(s.clock().Now().Sub(start).Seconds())
}

func (s *Service) clock() application.Clock {
	if s.Clock == nil {
		return application.SystemClock{}
	}
	return s.Clock
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) policy() pipeline.Policy {
	if s.Policy.Model == "" {
		return pipeline.DefaultPolicy()
	}
	return s.Policy
}
