package mediator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/internal/dom"
	"github.com/pagewarden/pagewarden/internal/explain"
	"github.com/pagewarden/pagewarden/internal/infrastructure/config"
	"github.com/pagewarden/pagewarden/internal/infrastructure/logging"
	"github.com/pagewarden/pagewarden/internal/infrastructure/monitoring"
	"github.com/pagewarden/pagewarden/internal/llm"
	"github.com/pagewarden/pagewarden/internal/nlp"
	"github.com/pagewarden/pagewarden/internal/risk"
	"github.com/pagewarden/pagewarden/internal/shared/types"
	"github.com/pagewarden/pagewarden/internal/shared/utils"
)

// layerGrace is how long after a layer deadline the runner waits for the
// layer to surface its own, more specific error before synthesizing a
// timeout report.
const layerGrace = 50 * time.Millisecond

// DOMAnalyzer is the structural analysis contract (C1).
type DOMAnalyzer interface {
	Analyze(ctx context.Context, page types.PageContext) dom.Analysis
}

// TextClassifier is the textual pattern scan contract (C2).
type TextClassifier interface {
	Classify(ctx context.Context, page types.PageContext, visibleText, hiddenText string) types.LayerReport
}

// IntentReasoner is the semantic intent analysis contract (C3).
type IntentReasoner interface {
	Reason(ctx context.Context, page types.PageContext, visibleText, hiddenText string, prior []types.Signal) llm.Outcome
}

// Mediator is the single entry point: it runs the layers in order, applies
// the reasoner invocation policy and the fail-safe floors, and emits one
// enforceable verdict per request.
type Mediator struct {
	cfg    *config.Config
	logger *logging.Logger

	dom      DOMAnalyzer
	nlp      TextClassifier
	reasoner IntentReasoner // nil disables the reasoner layer

	calc      *risk.Calculator
	explainer *explain.Generator

	collector *monitoring.Collector
	metrics   *monitoring.Metrics
	cache     *assessmentCache
	audit     *AuditLog
}

// Option configures a Mediator.
type Option func(*Mediator)

// WithDOMAnalyzer replaces the default DOM analyzer.
func WithDOMAnalyzer(a DOMAnalyzer) Option {
	return func(m *Mediator) { m.dom = a }
}

// WithClassifier replaces the default text classifier.
func WithClassifier(c TextClassifier) Option {
	return func(m *Mediator) { m.nlp = c }
}

// WithReasoner installs the reasoner layer. Without one the layer reports
// status=skipped whenever policy would have invoked it.
func WithReasoner(r IntentReasoner) Option {
	return func(m *Mediator) { m.reasoner = r }
}

// WithCollector installs the process-lived metrics collector.
func WithCollector(c *monitoring.Collector) Option {
	return func(m *Mediator) { m.collector = c }
}

// WithMetrics installs the Prometheus metric set.
func WithMetrics(mx *monitoring.Metrics) Option {
	return func(m *Mediator) { m.metrics = mx }
}

// WithAuditLog installs the append-only verdict record.
func WithAuditLog(l *AuditLog) Option {
	return func(m *Mediator) { m.audit = l }
}

// New wires a mediator from configuration. The default layer set is the
// goquery DOM analyzer, the pattern classifier (external table when
// configured), and — when a provider credential is present — the Gemini
// reasoner.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Mediator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &Mediator{
		cfg:       cfg,
		logger:    logger,
		calc:      risk.New(cfg.Risk),
		explainer: explain.NewGenerator(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.dom == nil {
		m.dom = dom.NewAnalyzer()
	}
	if m.nlp == nil {
		table := nlp.DefaultTable()
		if cfg.Patterns.File != "" {
			loaded, err := nlp.LoadTable(cfg.Patterns.File)
			if err != nil {
				return nil, err
			}
			table = loaded
		}
		classifier, err := nlp.NewClassifier(table)
		if err != nil {
			return nil, err
		}
		m.nlp = classifier
	}
	if m.reasoner == nil && cfg.Gemini.APIKey != "" {
		m.reasoner = llm.NewReasoner(llm.NewGemini(cfg.Gemini))
	}
	if m.cache == nil && cfg.Cache.Enabled {
		m.cache = newAssessmentCache(cfg.Cache.MaxEntries)
	}

	return m, nil
}

// Assess analyzes one page and returns the authoritative verdict. The only
// failure mode is a structurally invalid PageContext; every analyzable
// input produces a RiskAssessment.
func (m *Mediator) Assess(ctx context.Context, page types.PageContext) (types.RiskAssessment, error) {
	a, cached, err := m.assess(ctx, page)
	if err != nil {
		return types.RiskAssessment{}, err
	}
	if !cached {
		m.record(page, a, nil)
	}
	return a, nil
}

// AssessLabeled assesses the page and records the result against a
// ground-truth verdict for offline accuracy evaluation.
func (m *Mediator) AssessLabeled(ctx context.Context, page types.PageContext, label types.Verdict) (types.RiskAssessment, error) {
	a, _, err := m.assess(ctx, page)
	if err != nil {
		return types.RiskAssessment{}, err
	}
	m.record(page, a, &label)
	return a, nil
}

func (m *Mediator) assess(ctx context.Context, page types.PageContext) (types.RiskAssessment, bool, error) {
	start := time.Now()

	if err := page.Validate(); err != nil {
		return types.RiskAssessment{}, false, err
	}

	fingerprint := utils.Fingerprint(page.HTML, page.URL, page.AgentIntent, string(page.ProposedAction), page.TargetSelector)
	if m.cache != nil {
		if a, ok := m.cache.get(fingerprint); ok {
			return a, true, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout(m.cfg.Timeouts.TotalMS))
	defer cancel()

	// Layer 1: structural analysis. Its parse also yields the text split.
	analysis, ok := runLayer(ctx, m.timeout(m.cfg.Timeouts.DOMMS), func(c context.Context) dom.Analysis {
		return m.dom.Analyze(c, page)
	})
	if !ok {
		analysis = dom.Analysis{Report: timeoutReport(types.LayerDOM)}
	}
	domReport := analysis.Report

	// Layer 2: textual pattern scan over visible and hidden text.
	nlpReport, ok := runLayer(ctx, m.timeout(m.cfg.Timeouts.NLPMS), func(c context.Context) types.LayerReport {
		return m.nlp.Classify(c, page, analysis.VisibleText, analysis.HiddenText)
	})
	if !ok {
		nlpReport = timeoutReport(types.LayerNLP)
	}

	reports := []types.LayerReport{domReport, nlpReport}

	// Reasoner invocation policy: gray-band risk or a named injection.
	provisional := m.calc.Score(reports)
	prior := signalUnion(reports)
	escalate := m.calc.ShouldEscalate(provisional, prior)

	rationale := ""
	llmErrored := false
	if escalate {
		if m.reasoner == nil {
			reports = append(reports, types.LayerReport{
				LayerName: types.LayerLLM,
				Status:    types.StatusSkipped,
			})
		} else {
			out, ok := runLayer(ctx, m.timeout(m.cfg.Timeouts.LLMMS), func(c context.Context) llm.Outcome {
				return m.reasoner.Reason(c, page, analysis.VisibleText, analysis.HiddenText, prior)
			})
			if !ok {
				out = llm.Outcome{Report: types.LayerReport{
					LayerName:   types.LayerLLM,
					ElapsedMS:   int64(m.cfg.Timeouts.LLMMS),
					Status:      types.StatusError,
					ErrorDetail: llm.ErrProviderTimeout.Error(),
				}}
			}
			reports = append(reports, out.Report)
			rationale = out.Rationale
			llmErrored = out.Report.Status == types.StatusError
		}
	}

	score := m.calc.Score(reports)

	// Fail-safe floors: a broken mandatory layer means the page was never
	// fully inspected, and a policy-required reasoner that failed means the
	// gray band was never resolved. Neither may fail open.
	if domReport.Status == types.StatusError || nlpReport.Status == types.StatusError {
		score = maxf(score, m.cfg.Risk.MandatoryErrorFloor)
	}
	if escalate && llmErrored {
		score = maxf(score, m.cfg.Risk.LLMErrorFloor)
	}

	// An ALLOW verdict must never coexist with a high-severity signal.
	if m.calc.Verdict(score) == types.VerdictAllow && maxSeverity(reports) >= 0.8 {
		score = maxf(score, m.cfg.Risk.WarnAt)
	}

	verdict := m.calc.Verdict(score)
	explanation := m.explainer.Render(verdict, score, reports, rationale)

	a := types.RiskAssessment{
		ID:             utils.ShortHash(fingerprint),
		RiskScore:      score,
		Verdict:        verdict,
		LayerReports:   reports,
		Explanation:    explanation,
		DecidedAt:      time.Now().UTC(),
		TotalElapsedMS: time.Since(start).Milliseconds(),
	}

	if m.cache != nil {
		m.cache.put(fingerprint, a)
	}
	return a, false, nil
}

// record forwards the assessment to the collector, the Prometheus metrics,
// and the audit sink. Recording is best-effort: a failure there is logged
// and never affects the verdict already decided.
func (m *Mediator) record(page types.PageContext, a types.RiskAssessment, label *types.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("metrics recording panicked", zap.Any("panic", r))
		}
	}()

	if m.collector != nil {
		if label != nil {
			m.collector.RecordLabeled(a, *label)
		} else {
			m.collector.RecordAssessment(a)
		}
	}
	if m.metrics != nil {
		m.metrics.ObserveAssessment(a)
	}
	if m.audit != nil {
		entry := AuditEntry{
			Timestamp:    a.DecidedAt,
			URLHash:      utils.HashString(page.URL),
			Verdict:      a.Verdict,
			Risk:         a.RiskScore,
			LayerReports: a.LayerReports,
		}
		if err := m.audit.Write(entry); err != nil {
			m.logger.Warn("audit write failed", zap.Error(err))
		}
	}

	m.logger.Info("page assessed",
		zap.String("id", a.ID),
		zap.String("verdict", string(a.Verdict)),
		zap.Float64("risk", a.RiskScore),
		zap.Int64("elapsed_ms", a.TotalElapsedMS),
	)
}

func (m *Mediator) timeout(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// runLayer executes fn under a deadline. A layer that honors its context
// gets a grace window to return its own error report; one that does not is
// abandoned and replaced by a synthesized timeout report.
func runLayer[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) T) (T, bool) {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan T, 1)
	go func() { done <- fn(lctx) }()

	select {
	case v := <-done:
		return v, true
	case <-lctx.Done():
	}

	grace := time.NewTimer(layerGrace)
	defer grace.Stop()
	select {
	case v := <-done:
		return v, true
	case <-grace.C:
		var zero T
		return zero, false
	}
}

func timeoutReport(name types.LayerName) types.LayerReport {
	return types.LayerReport{
		LayerName:   name,
		Status:      types.StatusError,
		ErrorDetail: fmt.Sprintf("%s layer timed out", name),
	}
}

func signalUnion(reports []types.LayerReport) []types.Signal {
	var out []types.Signal
	for _, r := range reports {
		if r.Status == types.StatusError {
			continue
		}
		out = append(out, r.Signals...)
	}
	return out
}

func maxSeverity(reports []types.LayerReport) float64 {
	max := 0.0
	for _, s := range signalUnion(reports) {
		if s.Severity > max {
			max = s.Severity
		}
	}
	return max
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
