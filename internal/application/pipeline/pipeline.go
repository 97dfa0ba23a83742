// Package pipeline generates an audit report for one job: concurrent candidate
// analyses, a deterministic merge, and a single judge call whose structured
// output becomes the job's findings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/application"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/ai"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/prompts"
)

// Policy holds the model parameters used for every call of a job
type Policy struct {
	Model                string  `yaml:"model" validate:"required"`
	CandidateTemperature float32 `yaml:"candidateTemperature" validate:"gte=0,lte=2"`
	JudgeTemperature     float32 `yaml:"judgeTemperature" validate:"gte=0,lte=2"`
	MaxOutputTokens      int     `yaml:"maxOutputTokens" validate:"gt=0"`
}

// DefaultPolicy favours repeatable output over creativity
func DefaultPolicy() Policy {
	return Policy{
		Model:                "gpt-4o-mini",
		CandidateTemperature: 0.3,
		JudgeTemperature:     0.2,
		MaxOutputTokens:      2000,
	}
}

// Deps are the collaborators a Pipeline needs. Events may be nil.
type Deps struct {
	Client      ai.Client
	Registry    prompts.Registry
	Checkpoints audits.CheckpointRepository
	Findings    audits.FindingRepository
	Events      audits.EventPublisher
	Logger      *zap.Logger
	Clock       application.Clock
	Policy      Policy
}

// Report is the outcome of the judge stage
type Report struct {
	Raw      string
	Findings int
	// Parsed is false when the judge answered but its payload could not be
	// decoded; Raw is still set and no findings were written.
	Parsed   bool
	ParseErr error
	// Response is the decoded report when Parsed is true
	Response *prompts.Response
}

// Pipeline is bound to a single job. GenerateCandidates must complete with at
// least one successful candidate before GenerateReport may run.
type Pipeline struct {
	client      ai.Client
	findings    audits.FindingRepository
	clock       application.Clock
	policy      Policy
	log         *zap.Logger
	job         *audits.Job
	source      string
	bundle      *prompts.Bundle
	usage       *UsageTracker
	events      *eventPublisher
	checkpoints *checkpointStore

	mu         sync.Mutex
	aggregated string
}

// New resolves the prompt bundle for the job's audit type and pins a copy of
// it for the lifetime of the pipeline.
func New(ctx context.Context, deps Deps, job *audits.Job, source string, publish bool) (*Pipeline, error) {
	if job == nil || job.ID == "" {
		return nil, errors.New("pipeline requires a job with an id")
	}
	if deps.Client == nil || deps.Registry == nil || deps.Checkpoints == nil || deps.Findings == nil {
		return nil, errors.New("pipeline requires a model client, prompt registry, checkpoint and finding repositories")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = application.SystemClock{}
	}
	policy := deps.Policy
	if policy.Model == "" {
		policy = DefaultPolicy()
	}

	bundle, err := deps.Registry.Resolve(ctx, job.Type)
	if err != nil {
		return nil, fmt.Errorf("resolve prompt bundle for %s: %w", job.Type, err)
	}
	if bundle == nil || len(bundle.Candidates) == 0 {
		return nil, fmt.Errorf("%w for %s", prompts.ErrNoActiveBundle, job.Type)
	}

	log = log.With(zap.String("job_id", string(job.ID)), zap.String("audit_type", string(job.Type)))
	log.Debug("prompt bundle resolved",
		zap.String("version", bundle.Version),
		zap.Int("candidates", len(bundle.Candidates)),
	)

	return &Pipeline{
		client:      deps.Client,
		findings:    deps.Findings,
		clock:       clock,
		policy:      policy,
		log:         log,
		job:         job,
		source:      source,
		bundle:      bundle.Clone(),
		usage:       &UsageTracker{},
		events:      newEventPublisher(deps.Events, publish, job.ID, log),
		checkpoints: &checkpointStore{repo: deps.Checkpoints, jobID: job.ID, log: log},
	}, nil
}

// Usage returns token totals over every model call made so far
func (p *Pipeline) Usage() Usage { return p.usage.Totals() }

// Model is the model name every call of this job uses
func (p *Pipeline) Model() string { return p.policy.Model }

// BundleVersion is the version of the pinned prompt bundle
func (p *Pipeline) BundleVersion() string { return p.bundle.Version }

// Aggregated returns the merged candidate text of the last GenerateCandidates run
func (p *Pipeline) Aggregated() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aggregated
}

// complete calls the model client, turning a panic into an error
func (p *Pipeline) complete(ctx context.Context, req ai.Request) (resp ai.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model client panic: %v", r)
		}
	}()
	return p.client.Complete(ctx, req)
}

// secondsSince returns whole seconds elapsed since start
func (p *Pipeline) secondsSince(start time.Time) int {
	return int(p.clock.Now().Sub(start).Seconds())
}
