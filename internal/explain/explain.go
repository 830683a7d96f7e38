// Package explain renders a deterministic, human-readable justification of
// a verdict from the accumulated signals. Identical signals always produce
// the identical string, which keeps snapshot tests honest.
package explain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pagewarden/pagewarden/internal/shared/types"
)

// Generator renders assessment explanations.
type Generator struct{}

// NewGenerator creates an explanation generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Render produces the explanation: verdict headline, numeric risk, then
// signals grouped by layer in descending severity. The reasoner's rationale,
// when present, is appended verbatim.
func (g *Generator) Render(verdict types.Verdict, risk float64, reports []types.LayerReport, rationale string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "VERDICT: %s (risk=%.2f)\n", verdict, risk)

	flagged := false
	for _, r := range reports {
		switch r.Status {
		case types.StatusSkipped:
			fmt.Fprintf(&b, "\n%s: skipped\n", r.LayerName)
			continue
		case types.StatusError:
			fmt.Fprintf(&b, "\n%s: error (%s)\n", r.LayerName, r.ErrorDetail)
			continue
		}
		if len(r.Signals) == 0 {
			continue
		}
		flagged = true

		signals := make([]types.Signal, len(r.Signals))
		copy(signals, r.Signals)
		sort.SliceStable(signals, func(i, j int) bool {
			if signals[i].Severity != signals[j].Severity {
				return signals[i].Severity > signals[j].Severity
			}
			if signals[i].Kind != signals[j].Kind {
				return signals[i].Kind < signals[j].Kind
			}
			return signals[i].Evidence < signals[j].Evidence
		})

		fmt.Fprintf(&b, "\n%s:\n", r.LayerName)
		for _, s := range signals {
			fmt.Fprintf(&b, "- [%s] %s (severity=%.2f)\n", s.Kind, s.Evidence, s.Severity)
		}
	}

	if !flagged {
		b.WriteString("\nNo threat signals detected.\n")
	}

	if rationale != "" {
		fmt.Fprintf(&b, "\nLLM rationale: %s\n", rationale)
	}

	return b.String()
}
