// Package risk reduces the union of layer signals to a single scalar and
// maps it onto the verdict bands. The reduction is deterministic: the same
// reports always produce the same score.
package risk

import (
	"github.com/pagewarden/pagewarden/internal/infrastructure/config"
	"github.com/pagewarden/pagewarden/internal/shared/types"
)

// Calculator aggregates layer reports under fixed weights and escalators.
type Calculator struct {
	weights map[types.LayerName]float64

	blockAt   float64
	confirmAt float64
	warnAt    float64

	grayLow  float64
	grayHigh float64

	hiddenOverrideBoost float64
	formCredentialBoost float64
	diversityBoost      float64
}

// New builds a calculator from validated configuration.
func New(cfg config.RiskConfig) *Calculator {
	return &Calculator{
		weights: map[types.LayerName]float64{
			types.LayerDOM: cfg.WeightDOM,
			types.LayerNLP: cfg.WeightNLP,
			types.LayerLLM: cfg.WeightLLM,
		},
		blockAt:             cfg.BlockAt,
		confirmAt:           cfg.ConfirmAt,
		warnAt:              cfg.WarnAt,
		grayLow:             cfg.GrayLow,
		grayHigh:            cfg.GrayHigh,
		hiddenOverrideBoost: cfg.HiddenOverrideBoost,
		formCredentialBoost: cfg.FormCredentialBoost,
		diversityBoost:      cfg.DiversityBoost,
	}
}

// layerRisk folds a layer's signals with a noisy-or: independent findings
// compound instead of averaging away.
func layerRisk(r types.LayerReport) float64 {
	clean := 1.0
	for _, s := range r.Signals {
		clean *= 1.0 - clamp01(s.Severity)*clamp01(s.Confidence)
	}
	return 1.0 - clean
}

// Score computes the combined risk over the reports. Only layers that ran
// to completion contribute; weights renormalize over those, so a skipped or
// errored reasoner does not dilute the static layers.
func (c *Calculator) Score(reports []types.LayerReport) float64 {
	var weighted, weightSum float64
	for _, r := range reports {
		if r.Status != types.StatusOK {
			continue
		}
		w := c.weights[r.LayerName]
		weighted += w * layerRisk(r)
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	score := weighted / weightSum

	score += c.escalators(reports)
	return clamp01(score)
}

// escalators add the cross-signal boosts: the hidden-text plus override
// co-occurrence that is the classic injection signature, credential forms
// paired with credential language, and a diversity bonus when multiple
// independent layers flag the page.
func (c *Calculator) escalators(reports []types.LayerReport) float64 {
	var hasHidden, hasOverride, hasForm, hasCredential bool
	flaggingLayers := 0

	for _, r := range reports {
		if r.Status != types.StatusOK {
			continue
		}
		if len(r.Signals) > 0 {
			flaggingLayers++
		}
		for _, s := range r.Signals {
			switch s.Kind {
			case types.KindHiddenText:
				hasHidden = true
			case types.KindInstructionOverride:
				hasOverride = true
			case types.KindSuspiciousForm:
				hasForm = true
			case types.KindCredentialSolicit:
				hasCredential = true
			}
		}
	}

	boost := 0.0
	if hasHidden && hasOverride {
		boost += c.hiddenOverrideBoost
	}
	if hasForm && hasCredential {
		boost += c.formCredentialBoost
	}
	if flaggingLayers > 1 {
		boost += c.diversityBoost * float64(flaggingLayers-1)
	}
	return boost
}

// Verdict maps a risk score onto the strictest band whose inclusive lower
// bound it meets.
func (c *Calculator) Verdict(score float64) types.Verdict {
	switch {
	case score >= c.blockAt:
		return types.VerdictBlock
	case score >= c.confirmAt:
		return types.VerdictConfirm
	case score >= c.warnAt:
		return types.VerdictWarn
	default:
		return types.VerdictAllow
	}
}

// ShouldEscalate decides whether the reasoner layer is warranted: the
// provisional risk sits in the gray band where static analysis is
// inconclusive, or a named injection signal demands semantic review
// regardless of score. Pure function of its inputs.
func (c *Calculator) ShouldEscalate(provisional float64, signals []types.Signal) bool {
	if provisional >= c.grayLow && provisional <= c.grayHigh {
		return true
	}
	for _, s := range signals {
		if s.Kind == types.KindInstructionOverride || s.Kind == types.KindRoleHijack {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
