package parser

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/prompts"
)

// Parse sanitizes raw judge output and decodes it into a report.
// Any decode failure is returned as an audits.ErrParseFailed error.
func Parse(raw string) (*prompts.Response, error) {
	cleaned := Sanitize(raw)
	var resp prompts.Response
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, &audits.Error{Kind: audits.KindParseFailed, Err: err}
	}
	return &resp, nil
}

// Findings maps a parsed report onto Finding records for job, walking
// severities in audits.Levels order.
func Findings(job *audits.Job, resp *prompts.Response, now time.Time) []*audits.Finding {
	var out []*audits.Finding
	for _, level := range audits.Levels {
		for _, f := range resp.Findings.ByLevel(level) {
			out = append(out, &audits.Finding{
				ID:             uuid.NewString(),
				JobID:          job.ID,
				Type:           job.Type,
				Level:          level,
				Name:           f.Name,
				Explanation:    f.Explanation,
				Recommendation: f.Recommendation,
				Reference:      f.Reference,
				CreatedAt:      now,
			})
		}
	}
	return out
}

// Count returns the total number of findings across every severity
func Count(resp *prompts.Response) int {
	n := 0
	for _, level := range audits.Levels {
		n += len(resp.Findings.ByLevel(level))
	}
	return n
}
