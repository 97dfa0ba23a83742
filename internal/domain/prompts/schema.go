package prompts

import (
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/ai"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
)

// FindingEntry is one finding as emitted by the judge
type FindingEntry struct {
	Name           string `json:"name" description:"short title of the issue"`
	Explanation    string `json:"explanation" description:"what is wrong and why it matters"`
	Recommendation string `json:"recommendation" description:"how to fix it"`
	Reference      string `json:"reference" description:"function, variable or line the issue refers to"`
}

// FindingsByLevel groups judge findings per severity
type FindingsByLevel struct {
	Critical      []FindingEntry `json:"critical"`
	High          []FindingEntry `json:"high"`
	Medium        []FindingEntry `json:"medium"`
	Low           []FindingEntry `json:"low"`
	Informational []FindingEntry `json:"informational"`
}

// ByLevel returns the entries filed under l
func (f FindingsByLevel) ByLevel(l audits.Level) []FindingEntry {
	switch l {
	case audits.LevelCritical:
		return f.Critical
	case audits.LevelHigh:
		return f.High
	case audits.LevelMedium:
		return f.Medium
	case audits.LevelLow:
		return f.Low
	case audits.LevelInformational:
		return f.Informational
	}
	return nil
}

// Summary block of a report
type Summary struct {
	ProjectName string `json:"project_name"`
}

// Response is the structured report the judge must produce
type Response struct {
	AuditSummary    Summary         `json:"audit_summary"`
	Introduction    string          `json:"introduction"`
	Scope           string          `json:"scope"`
	Findings        FindingsByLevel `json:"findings"`
	Recommendations []string        `json:"recommendations"`
	Conclusion      string          `json:"conclusion"`
}

var schemaNames = map[audits.Type]string{
	audits.TypeSecurity: "security_audit_report",
	audits.TypeGas:      "gas_audit_report",
}

// SchemaFor returns the output schema declared for an audit type
func SchemaFor(t audits.Type) (ai.Schema, error) {
	name, ok := schemaNames[t]
	if !ok {
		return ai.Schema{}, fmt.Errorf("unknown audit type %q", t)
	}
	def, err := jsonschema.GenerateSchemaForType(Response{})
	if err != nil {
		return ai.Schema{}, fmt.Errorf("generate schema: %w", err)
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return ai.Schema{}, fmt.Errorf("marshal schema: %w", err)
	}
	return ai.Schema{Name: name, Definition: raw}, nil
}
