package pipeline

import (
	"fmt"
	"strings"
)

// Aggregate merges candidate outputs in bundle order. Failed candidates (nil)
// are skipped and the survivors are numbered from 1, so the text depends only
// on which candidates succeeded, never on when they finished.
func Aggregate(results []*string) string {
	var b strings.Builder
	n := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n\nAuditor #%d Findings:\n%s", n, *r)
	}
	return b.String()
}
