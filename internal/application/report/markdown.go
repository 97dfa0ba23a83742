// Package report renders parsed judge output as a branded markdown document.
package report

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/Bevor-Protocol/certaik-api/internal/application/parser"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/prompts"
)

const unknown = "Unknown"

// inline matches <<identifier>> markers the judge uses for code references
var inline = regexp.MustCompile(`<<(.*?)>>`)

var titles = map[audits.Type]string{
	audits.TypeSecurity: "Smart Contract Security Audit Report",
	audits.TypeGas:      "Smart Contract Gas Optimization Report",
}

const markdownTemplate = `# {{.Title}}

**Project:** {{.ProjectName}}
**Contract Address:** {{.Address}}
**Date:** {{.Date}}
**Total Findings:** {{.Total}}

## Introduction

{{.Introduction}}

## Scope

{{.Scope}}

## Findings
{{range .Sections}}
### {{.Heading}}

{{if .Entries}}{{range .Entries}}- **{{code .Name}}**: {{code .Explanation}}
  - Recommendation: {{code .Recommendation}}
  - Reference: {{code .Reference}}
{{end}}{{else}}None Identified
{{end}}{{end}}
## Recommendations

{{range .Recommendations}}- {{code .}}
{{else}}None Identified
{{end}}
## Conclusion

{{.Conclusion}}
`

type section struct {
	Heading string
	Entries []prompts.FindingEntry
}

type templateData struct {
	Title           string
	ProjectName     string
	Address         string
	Date            string
	Total           int
	Introduction    string
	Scope           string
	Sections        []section
	Recommendations []string
	Conclusion      string
}

var tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"code": func(s string) string { return inline.ReplaceAllString(s, "`$1`") },
}).Parse(markdownTemplate))

// Markdown renders resp for an audit of type t, dated now. Every severity
// gets a section; empty ones read "None Identified".
func Markdown(t audits.Type, resp *prompts.Response, now time.Time) (string, error) {
	title, ok := titles[t]
	if !ok {
		return "", fmt.Errorf("unknown audit type %q", t)
	}
	if resp == nil {
		return "", fmt.Errorf("render %s report: empty response", t)
	}

	data := templateData{
		Title:           title,
		ProjectName:     orUnknown(resp.AuditSummary.ProjectName),
		Address:         unknown,
		Date:            now.UTC().Format("2006-01-02"),
		Total:           parser.Count(resp),
		Introduction:    strings.TrimSpace(resp.Introduction),
		Scope:           strings.TrimSpace(resp.Scope),
		Recommendations: resp.Recommendations,
		Conclusion:      strings.TrimSpace(resp.Conclusion),
	}
	for _, level := range audits.Levels {
		data.Sections = append(data.Sections, section{
			Heading: heading(level),
			Entries: resp.Findings.ByLevel(level),
		})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute markdown template: %w", err)
	}
	return buf.String(), nil
}

func heading(l audits.Level) string {
	s := string(l)
	return strings.ToUpper(s[:1]) + s[1:]
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknown
	}
	return s
}
