package prompts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	domain "github.com/Bevor-Protocol/certaik-api/internal/domain/prompts"
)

func TestFileRegistry_ResolveLatest(t *testing.T) {
	reg, err := Load(filepath.Join("testdata", "bundles.yaml"))
	require.NoError(t, err)

	b, err := reg.Resolve(context.Background(), audits.TypeSecurity)
	require.NoError(t, err)
	assert.Equal(t, "0.2", b.Version)
	require.Len(t, b.Candidates, 3)
	assert.Equal(t, []string{"control_flow", "access_control", "math"},
		[]string{b.Candidates[0].Step, b.Candidates[1].Step, b.Candidates[2].Step})
	assert.Equal(t, "Merge the auditor reports into one report.", b.Reviewer)
	assert.Equal(t, "security_audit_report", b.Schema.Name)

	gas, err := reg.Resolve(context.Background(), audits.TypeGas)
	require.NoError(t, err)
	assert.Equal(t, "gas_audit_report", gas.Schema.Name)
}

func TestFileRegistry_ReturnsCopies(t *testing.T) {
	reg, err := Load(filepath.Join("testdata", "bundles.yaml"))
	require.NoError(t, err)

	b, err := reg.Resolve(context.Background(), audits.TypeSecurity)
	require.NoError(t, err)
	b.Candidates[0].Prompt = "mutated"

	again, err := reg.Resolve(context.Background(), audits.TypeSecurity)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Candidates[0].Prompt)
}

func TestFileRegistry_Entries(t *testing.T) {
	reg, err := Load(filepath.Join("testdata", "bundles.yaml"))
	require.NoError(t, err)

	version, entries, err := reg.Entries(audits.TypeGas)
	require.NoError(t, err)
	assert.Equal(t, "0.1", version)
	assert.Equal(t, []domain.Entry{
		{Tag: "storage", Content: "Look for redundant storage reads and writes."},
		{Tag: domain.ReviewerTag, Content: "Merge the gas reports."},
	}, entries)
}

func TestFileRegistry_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown type": "bundles:\n  - audit_type: style\n    version: '1'\n    candidates: [{step: a, prompt: p}]\n    reviewer: r\n",
		"no reviewer":  "bundles:\n  - audit_type: gas\n    version: '1'\n    candidates: [{step: a, prompt: p}]\n",
		"report step":  "bundles:\n  - audit_type: gas\n    version: '1'\n    candidates: [{step: report, prompt: p}]\n    reviewer: r\n",
		"bad yaml":     "bundles: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bundles.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestFileRegistry_MissingType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bundles: []\n"), 0o600))
	reg, err := Load(path)
	require.NoError(t, err)

	_, err = reg.Resolve(context.Background(), audits.TypeGas)
	assert.ErrorIs(t, err, domain.ErrNoActiveBundle)
}
