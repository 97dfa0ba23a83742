package pipeline

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/ai"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/prompts"
)

// GenerateCandidates runs every candidate of the bundle concurrently and waits
// for all of them, successful or not. Failures are recorded in checkpoints and
// never returned. The merged text of the successful candidates is returned and
// kept for GenerateReport.
func (p *Pipeline) GenerateCandidates(ctx context.Context) string {
	results := make([]*string, len(p.bundle.Candidates))

	// WaitGroup rather than errgroup: one failed candidate must not cancel the rest.
	var wg sync.WaitGroup
	for i, c := range p.bundle.Candidates {
		wg.Add(1)
		go func(i int, c prompts.Candidate) {
			defer wg.Done()
			results[i] = p.generateCandidate(ctx, c)
		}(i, c)
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r != nil {
			succeeded++
		}
	}
	p.log.Info("candidate stage complete",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(results)-succeeded),
		zap.Int("total", len(results)),
	)

	aggregated := Aggregate(results)
	p.mu.Lock()
	p.aggregated = aggregated
	p.mu.Unlock()
	return aggregated
}

// generateCandidate returns nil when the step failed
func (p *Pipeline) generateCandidate(ctx context.Context, c prompts.Candidate) *string {
	log := p.log.With(zap.String("step", c.Step))

	p.events.publish(ctx, c.Step, EventStart)
	start := p.clock.Now()
	_ = p.checkpoints.upsert(ctx, c.Step, audits.StepProcessing, nil, nil)

	resp, err := p.complete(ctx, ai.Request{
		Model: p.policy.Model,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: c.Prompt},
			{Role: ai.RoleUser, Content: p.source},
		},
		Temperature:     p.policy.CandidateTemperature,
		MaxOutputTokens: p.policy.MaxOutputTokens,
	})
	seconds := p.secondsSince(start)
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = ai.ErrEmptyResponse
	}
	if err != nil {
		log.Warn("candidate failed", zap.Int("processing_time_seconds", seconds), zap.Error(err))
		p.events.publish(ctx, c.Step, EventError)
		_ = p.checkpoints.upsert(ctx, c.Step, audits.StepFailed, nil, &seconds)
		observeStep(stageCandidate, string(audits.StepFailed), float64(seconds))
		return nil
	}

	p.usage.Add(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	p.events.publish(ctx, c.Step, EventDone)
	text := resp.Text
	_ = p.checkpoints.upsert(ctx, c.Step, audits.StepSuccess, &text, &seconds)
	observeStep(stageCandidate, string(audits.StepSuccess), float64(seconds))
	log.Debug("candidate done",
		zap.Int("processing_time_seconds", seconds),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return &text
}
