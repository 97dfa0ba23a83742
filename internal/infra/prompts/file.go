package prompts

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	domain "github.com/Bevor-Protocol/certaik-api/internal/domain/prompts"
)

type fileBundle struct {
	AuditType  audits.Type        `yaml:"audit_type"`
	Version    string             `yaml:"version"`
	Candidates []domain.Candidate `yaml:"candidates"`
	Reviewer   string             `yaml:"reviewer"`
}

type fileFormat struct {
	Bundles []fileBundle `yaml:"bundles"`
}

// FileRegistry serves bundles declared in a YAML file. When a type is declared
// more than once, the last declaration is the active one.
type FileRegistry struct {
	mu      sync.RWMutex
	path    string
	bundles map[audits.Type]*domain.Bundle
}

// Load reads and validates the bundle file at path
func Load(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the file. Jobs already running keep their own snapshot.
func (r *FileRegistry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	bundles, err := parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", r.path, err)
	}
	r.mu.Lock()
	r.bundles = bundles
	r.mu.Unlock()
	return nil
}

func parse(data []byte) (map[audits.Type]*domain.Bundle, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	out := make(map[audits.Type]*domain.Bundle, len(f.Bundles))
	for _, fb := range f.Bundles {
		if !fb.AuditType.Valid() {
			return nil, fmt.Errorf("unknown audit_type %q", fb.AuditType)
		}
		entries := make([]domain.Entry, 0, len(fb.Candidates)+1)
		for _, c := range fb.Candidates {
			if c.Step == "" || c.Step == domain.ReviewerTag || c.Step == audits.ReportStep {
				return nil, fmt.Errorf("%s %s: invalid candidate step %q", fb.AuditType, fb.Version, c.Step)
			}
			entries = append(entries, domain.Entry{Tag: c.Step, Content: c.Prompt})
		}
		entries = append(entries, domain.Entry{Tag: domain.ReviewerTag, Content: fb.Reviewer})
		b, err := domain.NewBundle(fb.AuditType, fb.Version, entries)
		if err != nil {
			return nil, err
		}
		out[fb.AuditType] = b
	}
	return out, nil
}

func (r *FileRegistry) Resolve(_ context.Context, t audits.Type) (*domain.Bundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundles[t]
	if !ok {
		return nil, fmt.Errorf("%w for %s", domain.ErrNoActiveBundle, t)
	}
	return b.Clone(), nil
}

// Entries flattens the active bundle of t into stored form, reviewer last
func (r *FileRegistry) Entries(t audits.Type) (string, []domain.Entry, error) {
	b, err := r.Resolve(context.Background(), t)
	if err != nil {
		return "", nil, err
	}
	entries := make([]domain.Entry, 0, len(b.Candidates)+1)
	for _, c := range b.Candidates {
		entries = append(entries, domain.Entry{Tag: c.Step, Content: c.Prompt})
	}
	return b.Version, append(entries, domain.Entry{Tag: domain.ReviewerTag, Content: b.Reviewer}), nil
}
