package dom

import (
	"context"
	"errors"
	"time"

	"github.com/pagewarden/pagewarden/internal/shared/types"
)

// ErrParse marks HTML that could not be parsed at all.
var ErrParse = errors.New("ParseError")

// Analysis bundles the layer report with the text split reused by the
// downstream classifier and reasoner.
type Analysis struct {
	Report      types.LayerReport
	VisibleText string
	HiddenText  string
}

// Analyzer performs static DOM threat inspection. It is stateless and safe
// for concurrent use.
type Analyzer struct {
	sizeCap int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithSizeCap overrides the default input cap.
func WithSizeCap(n int) Option {
	return func(a *Analyzer) { a.sizeCap = n }
}

// NewAnalyzer creates a DOM analyzer.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{sizeCap: MaxHTMLSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze inspects the page markup and emits structural threat signals.
// Deterministic for identical input. Unparseable input degrades to an
// errored report carrying a parse_error signal rather than failing open.
func (a *Analyzer) Analyze(_ context.Context, page types.PageContext) Analysis {
	start := time.Now()

	htmlStr := page.HTML
	oversize := false
	if len(htmlStr) > a.sizeCap {
		htmlStr = htmlStr[:a.sizeCap]
		oversize = true
	}

	doc, err := loadHTML(htmlStr)
	if err != nil {
		return Analysis{Report: types.LayerReport{
			LayerName: types.LayerDOM,
			Signals: []types.Signal{{
				Source:     types.LayerDOM,
				Kind:       types.KindParseError,
				Severity:   0.3,
				Evidence:   "markup could not be parsed",
				Confidence: 1.0,
			}},
			ElapsedMS:   time.Since(start).Milliseconds(),
			Status:      types.StatusError,
			ErrorDetail: ErrParse.Error(),
		}}
	}

	var signals []types.Signal
	if oversize {
		signals = append(signals, types.Signal{
			Source:     types.LayerDOM,
			Kind:       types.KindOversize,
			Severity:   0.2,
			Evidence:   "page exceeded size cap and was truncated",
			Confidence: 1.0,
		})
	}

	hiddenSignals, hiddenText, hiddenNodes := findHidden(doc)
	signals = append(signals, hiddenSignals...)
	signals = append(signals, checkForms(doc, page.URL)...)
	signals = append(signals, checkIframes(doc, page.URL)...)
	signals = append(signals, checkScripts(doc)...)
	signals = append(signals, checkOverlays(doc)...)

	visible := ""
	if len(doc.Nodes) > 0 {
		visible = extractText(doc.Nodes[0], hiddenNodes)
	}

	return Analysis{
		Report: types.LayerReport{
			LayerName: types.LayerDOM,
			Signals:   signals,
			ElapsedMS: time.Since(start).Milliseconds(),
			Status:    types.StatusOK,
		},
		VisibleText: visible,
		HiddenText:  hiddenText,
	}
}
