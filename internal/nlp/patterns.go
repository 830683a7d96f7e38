package nlp

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// ErrPattern marks a pattern table that could not be loaded or compiled.
var ErrPattern = errors.New("PatternError")

// Family groups related phrase patterns under one threat kind with a shared
// base severity.
type Family struct {
	Name     string   `yaml:"name"`
	Severity float64  `yaml:"severity"`
	Patterns []string `yaml:"patterns"`
}

// Table is the full pattern configuration. It is data, not code: deployments
// extend or replace it through PATTERN_FILE without touching the classifier.
type Table struct {
	Families []Family `yaml:"families"`
}

// DefaultTable returns the built-in English baseline table.
func DefaultTable() Table {
	return Table{Families: []Family{
		{
			Name:     "instruction_override",
			Severity: 0.8,
			Patterns: []string{
				`ignore\s+(previous|all|above|prior)\s+instructions?`,
				`disregard\s+(your\s+)?(previous|all|above|system)\s+(instructions?|prompt|commands?)`,
				`forget\s+(previous|all|above)\s+instructions?`,
				`you\s+are\s+now\b`,
				`new\s+instructions?\s*:`,
			},
		},
		{
			Name:     "role_hijack",
			Severity: 0.7,
			Patterns: []string{
				`\bas\s+an?\s+admin(istrator)?\b`,
				`developer\s+mode`,
				`\bjailbreak\b`,
				`\bsystem\s*:`,
				`</?system>`,
				`god\s+mode`,
				`bypass\s+(restrictions?|limitations?|rules?)`,
			},
		},
		{
			Name:     "credential_solicit",
			Severity: 0.6,
			Patterns: []string{
				`enter\s+your\s+password`,
				`verify\s+your\s+(account|identity)`,
				`confirm\s+your\s+(credit\s+card|card|payment)`,
				`re-?enter\s+your\s+(pin|password)`,
			},
		},
		{
			Name:     "urgency_pressure",
			Severity: 0.3,
			Patterns: []string{
				`\bimmediately\b`,
				`or\s+your\s+account\s+will\s+be`,
				`act\s+now`,
				`within\s+\d+\s+(minutes|hours)`,
				`urgent\s+action\s+required`,
			},
		},
		{
			Name:     "exfiltration_cue",
			Severity: 0.7,
			Patterns: []string{
				`\bsend\s+(it\s+)?to\b`,
				`\bemail\s+(this|the)\b`,
				`post\s+the\s+api\s+key`,
				`copy\s+the\s+token`,
				`transfer\s+(funds?|money|balance)`,
			},
		},
		{
			Name:     "task_redirection",
			Severity: 0.7,
			Patterns: []string{
				`your\s+(new|real|actual)\s+(task|goal|objective)\s+is`,
				`instead\s+of\s+.{1,40},\s+you\s+(should|must|will)`,
				`do\s+not\s+.{1,40},\s+instead`,
			},
		},
		{
			Name:     "deceptive_ui",
			Severity: 0.4,
			Patterns: []string{
				`click\s+here\s+to\s+(claim|win|get)`,
				`you\s+(won|are\s+a\s+winner)`,
				`account\s+(suspended|locked|compromised)`,
				`claim\s+your\s+(prize|reward)`,
			},
		},
	}}
}

// LoadTable reads a YAML pattern table from disk.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("%w: reading %s: %v", ErrPattern, path, err)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("%w: parsing %s: %v", ErrPattern, path, err)
	}
	if err := t.validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

func (t Table) validate() error {
	if len(t.Families) == 0 {
		return fmt.Errorf("%w: no pattern families defined", ErrPattern)
	}
	for _, f := range t.Families {
		if f.Name == "" {
			return fmt.Errorf("%w: family with empty name", ErrPattern)
		}
		if f.Severity < 0 || f.Severity > 1 {
			return fmt.Errorf("%w: family %s severity %v outside [0,1]", ErrPattern, f.Name, f.Severity)
		}
		if len(f.Patterns) == 0 {
			return fmt.Errorf("%w: family %s has no patterns", ErrPattern, f.Name)
		}
	}
	return nil
}
