package prompts

import (
	"context"
	"errors"
	"fmt"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/ai"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
)

// ReviewerTag is the tag of the judge prompt inside a bundle
const ReviewerTag = "reviewer"

// ErrNoActiveBundle is returned when no active prompts exist for an audit type
var ErrNoActiveBundle = errors.New("no active prompt bundle")

// Candidate is one narrow-focus analysis step
type Candidate struct {
	Step   string `yaml:"step" json:"step"`
	Prompt string `yaml:"prompt" json:"prompt"`
}

// Bundle is the versioned set of prompts used for one audit type.
// Candidates keep their declared order; that order drives aggregation.
type Bundle struct {
	Type       audits.Type
	Version    string
	Candidates []Candidate
	Reviewer   string
	Schema     ai.Schema
}

// Clone returns a deep copy so a job can hold a snapshot that later
// registry updates cannot touch.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	out := *b
	out.Candidates = append([]Candidate(nil), b.Candidates...)
	out.Schema.Definition = append([]byte(nil), b.Schema.Definition...)
	return &out
}

// Entry is a stored prompt: a candidate step, or the reviewer when Tag is ReviewerTag
type Entry struct {
	Tag     string
	Content string
}

// NewBundle assembles a bundle from entries in their stored order and
// attaches the output schema of t.
func NewBundle(t audits.Type, version string, entries []Entry) (*Bundle, error) {
	b := &Bundle{Type: t, Version: version}
	for _, e := range entries {
		if e.Tag == ReviewerTag {
			b.Reviewer = e.Content
			continue
		}
		b.Candidates = append(b.Candidates, Candidate{Step: e.Tag, Prompt: e.Content})
	}
	if len(b.Candidates) == 0 || b.Reviewer == "" {
		return nil, fmt.Errorf("%w: %s version %s needs a reviewer and at least one candidate", ErrNoActiveBundle, t, version)
	}
	schema, err := SchemaFor(t)
	if err != nil {
		return nil, err
	}
	b.Schema = schema
	return b, nil
}

// Registry resolves the most recent active bundle for an audit type
type Registry interface {
	Resolve(ctx context.Context, t audits.Type) (*Bundle, error)
}
