package dom

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pagewarden/pagewarden/internal/shared/types"
	"github.com/pagewarden/pagewarden/internal/shared/utils"
)

var (
	imperativeRe = regexp.MustCompile(`(?i)\b(ignore|override|must|disregard)\b`)
	opacityRe    = regexp.MustCompile(`opacity:0(\.0+)?(;|$)`)
	offscreenRe  = regexp.MustCompile(`(left|top|right|bottom|text-indent):-(\d+)(px|em|rem)`)
	zeroSizeRe   = regexp.MustCompile(`(width|height):0(px|em|rem)?(;|$)`)
	whiteRe      = `(#fff(fff)?|white|rgb\(255,255,255\))`
	whiteColorRe = regexp.MustCompile(`(^|;)color:` + whiteRe)
	whiteBackRe  = regexp.MustCompile(`background(-color)?:` + whiteRe)
	styleRuleRe  = regexp.MustCompile(`(?s)([^{}]+)\{([^{}]*)\}`)
	simpleSelRe  = regexp.MustCompile(`^[.#]?[\w-]+$`)
)

const (
	hiddenTextBaseSeverity = 0.6
	imperativeBonus        = 0.2
	structuralConfidence   = 0.95

	// aria-hidden over short decorative text is routine; only flag when the
	// hidden run is long enough to carry an instruction.
	ariaHiddenMinChars = 20
)

// hiddenMethod classifies how an element is visually suppressed, or returns
// false when the element renders normally.
func hiddenMethod(s *goquery.Selection, style string) (string, bool) {
	switch {
	case strings.Contains(style, "display:none"):
		return "display_none", true
	case strings.Contains(style, "visibility:hidden"):
		return "visibility_hidden", true
	case opacityRe.MatchString(style):
		return "opacity_zero", true
	case strings.Contains(style, "font-size:0") || strings.Contains(style, "font-size:1px"):
		return "tiny_font", true
	case whiteColorRe.MatchString(style) && whiteBackRe.MatchString(style):
		return "color_hiding", true
	}

	if strings.Contains(style, "position:absolute") || strings.Contains(style, "position:fixed") {
		for _, m := range offscreenRe.FindAllStringSubmatch(style, -1) {
			if px, err := strconv.Atoi(m[2]); err == nil && px >= 1000 {
				return "offscreen", true
			}
		}
		if zeroSizeRe.MatchString(style) {
			return "zero_size", true
		}
	}

	if s.AttrOr("aria-hidden", "") == "true" {
		if len(utils.NormalizeWhitespace(s.Text())) > ariaHiddenMinChars {
			return "aria_hidden", true
		}
	}

	return "", false
}

// stylesheetHiddenSelectors lexically scans <style> blocks for rules whose
// body hides content and returns the simple selectors they target.
func stylesheetHiddenSelectors(doc *goquery.Document) []string {
	var selectors []string
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		for _, rule := range styleRuleRe.FindAllStringSubmatch(s.Text(), -1) {
			body := normalizeStyle(rule[2])
			hides := strings.Contains(body, "display:none") ||
				strings.Contains(body, "visibility:hidden") ||
				opacityRe.MatchString(body) ||
				strings.Contains(body, "font-size:0")
			if !hides {
				continue
			}
			for _, sel := range strings.Split(rule[1], ",") {
				sel = strings.TrimSpace(sel)
				if simpleSelRe.MatchString(sel) {
					selectors = append(selectors, sel)
				}
			}
		}
	})
	return selectors
}

// findHidden locates visually hidden elements carrying text. Only the
// outermost hidden element of a subtree is reported so nested wrappers do
// not double-count. Returns the signals, the concatenated hidden text, and
// the set of hidden nodes (excluded from visible-text extraction).
func findHidden(doc *goquery.Document) ([]types.Signal, string, map[*html.Node]bool) {
	hiddenNodes := make(map[*html.Node]bool)
	var signals []types.Signal
	var hiddenTexts []string

	mark := func(s *goquery.Selection, method string) {
		if len(s.Nodes) == 0 {
			return
		}
		node := s.Nodes[0]
		if hiddenNodes[node] {
			return
		}
		// Skip if an ancestor is already flagged; its text includes ours.
		for p := node.Parent; p != nil; p = p.Parent {
			if hiddenNodes[p] {
				return
			}
		}
		hiddenNodes[node] = true

		text := utils.NormalizeWhitespace(s.Text())
		if text == "" {
			return
		}
		severity := hiddenTextBaseSeverity
		if imperativeRe.MatchString(text) {
			severity += imperativeBonus
		}
		signals = append(signals, types.Signal{
			Source:     types.LayerDOM,
			Kind:       types.KindHiddenText,
			Severity:   severity,
			Evidence:   fmt.Sprintf("%s: %q", method, utils.TruncateText(text, 120)),
			Confidence: structuralConfidence,
		})
		hiddenTexts = append(hiddenTexts, text)
	}

	styled := make(map[*html.Node]bool)
	for _, sel := range stylesheetHiddenSelectors(doc) {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			for _, n := range s.Nodes {
				styled[n] = true
			}
		})
	}

	// One pass in document order, so an outer element is always marked
	// before anything nested inside it, whichever way each one is hidden.
	doc.Find("body, body *").Each(func(_ int, s *goquery.Selection) {
		style := normalizeStyle(s.AttrOr("style", ""))
		if method, hidden := hiddenMethod(s, style); hidden {
			mark(s, method)
		} else if styled[s.Nodes[0]] {
			mark(s, "stylesheet")
		}
	})

	return signals, strings.Join(hiddenTexts, " "), hiddenNodes
}
