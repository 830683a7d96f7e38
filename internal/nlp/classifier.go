// Package nlp flags natural-language cues of prompt injection and social
// engineering in visible and hidden page text.
package nlp

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pagewarden/pagewarden/internal/shared/types"
	"github.com/pagewarden/pagewarden/internal/shared/utils"
)

const (
	// Hidden instructions are never benign; matches found in hidden text
	// are boosted by this factor, capped at 1.0.
	hiddenMultiplier = 1.25

	baseConfidence      = 0.7
	perFamilyConfidence = 0.1
	maxConfidence       = 0.95
)

type compiledFamily struct {
	kind     types.SignalKind
	severity float64
	patterns []*regexp.Regexp
}

// Classifier scans text against a compiled pattern table. Stateless after
// construction; safe for concurrent use.
type Classifier struct {
	families []compiledFamily
}

// NewClassifier compiles the given table. Patterns are matched
// case-insensitively.
func NewClassifier(t Table) (*Classifier, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	c := &Classifier{}
	for _, f := range t.Families {
		cf := compiledFamily{kind: types.SignalKind(f.Name), severity: f.Severity}
		for _, p := range f.Patterns {
			re, err := regexp.Compile(`(?i)` + p)
			if err != nil {
				return nil, fmt.Errorf("%w: family %s pattern %q: %v", ErrPattern, f.Name, p, err)
			}
			cf.patterns = append(cf.patterns, re)
		}
		c.families = append(c.families, cf)
	}
	return c, nil
}

type match struct {
	kind     types.SignalKind
	severity float64
	phrase   string
	hidden   bool
}

// Classify scans visible and hidden text and emits one signal per distinct
// (family, phrase) pair. A hidden occurrence wins over a visible one.
func (c *Classifier) Classify(_ context.Context, _ types.PageContext, visibleText, hiddenText string) types.LayerReport {
	start := time.Now()

	var matches []match
	seen := make(map[string]int) // dedup key -> index into matches

	scan := func(text string, hidden bool) {
		if strings.TrimSpace(text) == "" {
			return
		}
		for _, f := range c.families {
			for _, re := range f.patterns {
				for _, found := range re.FindAllString(text, -1) {
					phrase := strings.ToLower(utils.NormalizeWhitespace(found))
					key := string(f.kind) + "\x00" + phrase
					if i, dup := seen[key]; dup {
						if hidden && !matches[i].hidden {
							matches[i].hidden = true
						}
						continue
					}
					seen[key] = len(matches)
					matches = append(matches, match{kind: f.kind, severity: f.severity, phrase: phrase, hidden: hidden})
				}
			}
		}
	}
	scan(visibleText, false)
	scan(hiddenText, true)

	families := make(map[types.SignalKind]bool)
	for _, m := range matches {
		families[m.kind] = true
	}
	confidence := baseConfidence + perFamilyConfidence*float64(len(families))
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	signals := make([]types.Signal, 0, len(matches))
	for _, m := range matches {
		severity := m.severity
		where := "visible"
		if m.hidden {
			severity = min(severity*hiddenMultiplier, 1.0)
			where = "hidden"
		}
		signals = append(signals, types.Signal{
			Source:     types.LayerNLP,
			Kind:       m.kind,
			Severity:   severity,
			Evidence:   fmt.Sprintf("%s text: %q", where, utils.TruncateText(m.phrase, 80)),
			Confidence: confidence,
		})
	}

	return types.LayerReport{
		LayerName: types.LayerNLP,
		Signals:   signals,
		ElapsedMS: time.Since(start).Milliseconds(),
		Status:    types.StatusOK,
	}
}
