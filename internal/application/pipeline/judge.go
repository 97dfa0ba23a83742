package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/application/parser"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/ai"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
)

var errNoCandidates = errors.New("report requires at least one successful candidate; run GenerateCandidates first")

// GenerateReport asks the judge to synthesize the aggregated candidate text
// into a structured report, then writes the parsed findings. Judge and
// persistence failures are returned; a payload that does not parse yields a
// Report with Parsed=false. Unless the judge output parses, the job is left
// with no findings, including any from an earlier run.
func (p *Pipeline) GenerateReport(ctx context.Context) (*Report, error) {
	aggregated := p.Aggregated()
	if aggregated == "" {
		err := audits.NewError(audits.KindSequence, p.job.ID, audits.ReportStep, errNoCandidates)
		p.log.Error("report requested out of sequence", zap.String("step", audits.ReportStep), zap.Error(err))
		return nil, err
	}

	raw, err := p.judge(ctx, aggregated)
	if err != nil {
		// findings of an earlier run must not outlive a failed re-run
		if clearErr := p.clearFindings(ctx); clearErr != nil {
			p.log.Error("stale findings not cleared", zap.String("step", audits.ReportStep), zap.Error(clearErr))
		}
		return nil, err
	}
	return p.writeFindings(ctx, raw)
}

func (p *Pipeline) judge(ctx context.Context, aggregated string) (string, error) {
	log := p.log.With(zap.String("step", audits.ReportStep))

	p.events.publish(ctx, audits.ReportStep, EventStart)
	start := p.clock.Now()
	_ = p.checkpoints.upsert(ctx, audits.ReportStep, audits.StepProcessing, nil, nil)

	schema := p.bundle.Schema
	resp, err := p.complete(ctx, ai.Request{
		Model: p.policy.Model,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: p.bundle.Reviewer},
			{Role: ai.RoleUser, Content: aggregated},
		},
		Temperature:     p.policy.JudgeTemperature,
		MaxOutputTokens: p.policy.MaxOutputTokens,
		Schema:          &schema,
	})
	seconds := p.secondsSince(start)
	if err != nil {
		log.Error("judge failed", zap.Int("processing_time_seconds", seconds), zap.Error(err))
		p.events.publish(ctx, audits.ReportStep, EventError)
		_ = p.checkpoints.upsert(ctx, audits.ReportStep, audits.StepFailed, nil, &seconds)
		observeStep(stageReport, string(audits.StepFailed), float64(seconds))
		return "", audits.NewError(audits.KindModelCallFailed, p.job.ID, audits.ReportStep, err)
	}

	p.usage.Add(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	p.events.publish(ctx, audits.ReportStep, EventDone)
	text := resp.Text
	_ = p.checkpoints.upsert(ctx, audits.ReportStep, audits.StepSuccess, &text, &seconds)
	observeStep(stageReport, string(audits.StepSuccess), float64(seconds))
	log.Info("judge done", zap.Int("processing_time_seconds", seconds))
	return text, nil
}

func (p *Pipeline) writeFindings(ctx context.Context, raw string) (*Report, error) {
	resp, err := parser.Parse(raw)
	if err != nil {
		p.log.Warn("judge output did not parse, no findings written",
			zap.String("step", audits.ReportStep),
			zap.Error(err),
		)
		if clearErr := p.clearFindings(ctx); clearErr != nil {
			return nil, clearErr
		}
		return &Report{Raw: raw, ParseErr: err}, nil
	}

	findings := parser.Findings(p.job, resp, p.clock.Now())
	if err := p.findings.BulkInsert(ctx, p.job.ID, findings); err != nil {
		p.log.Error("finding write failed",
			zap.String("step", audits.ReportStep),
			zap.Int("findings", len(findings)),
			zap.Error(err),
		)
		return nil, audits.NewError(audits.KindPersistenceFailed, p.job.ID, audits.ReportStep, err)
	}
	return &Report{Raw: raw, Findings: len(findings), Parsed: true, Response: resp}, nil
}

// clearFindings drops every finding of the job
func (p *Pipeline) clearFindings(ctx context.Context) error {
	if err := p.findings.BulkInsert(ctx, p.job.ID, nil); err != nil {
		return audits.NewError(audits.KindPersistenceFailed, p.job.ID, audits.ReportStep, err)
	}
	return nil
}
