package dom

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pagewarden/pagewarden/internal/shared/types"
	"github.com/pagewarden/pagewarden/internal/shared/utils"
)

const (
	maliciousIframeSeverity  = 0.6
	deceptiveOverlaySeverity = 0.6

	// Attribute dimensions at or above this count as near-viewport.
	viewportDimPx = 768
)

var zIndexRe = regexp.MustCompile(`z-index:(\d+)`)

// nearViewportDim reports whether a width/height value spans the viewport.
func nearViewportDim(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	switch v {
	case "100%", "100vw", "100vh":
		return true
	}
	n, err := strconv.Atoi(strings.TrimSuffix(v, "px"))
	return err == nil && n >= viewportDimPx
}

// dataURIContainsForm decodes a data: URI far enough to tell whether it
// embeds a form.
func dataURIContainsForm(src string) bool {
	rest, ok := strings.CutPrefix(src, "data:")
	if !ok {
		return false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return false
	}
	if strings.Contains(meta, "base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return false
		}
		payload = string(decoded)
	} else if unescaped, err := url.QueryUnescape(payload); err == nil {
		payload = unescaped
	}
	return strings.Contains(strings.ToLower(payload), "<form")
}

// checkIframes flags iframes sized to the viewport with cross-origin
// sources, sandboxes that grant script plus same-origin together, and
// data-URI frames that embed forms.
func checkIframes(doc *goquery.Document, pageURL string) []types.Signal {
	var signals []types.Signal
	base, _ := url.Parse(pageURL)

	doc.Find("iframe").Each(func(_ int, fr *goquery.Selection) {
		src := fr.AttrOr("src", "")
		style := normalizeStyle(fr.AttrOr("style", ""))

		width := fr.AttrOr("width", "")
		height := fr.AttrOr("height", "")
		nearViewport := (nearViewportDim(width) || strings.Contains(style, "width:100")) &&
			(nearViewportDim(height) || strings.Contains(style, "height:100"))

		crossOrigin := false
		if u, err := url.Parse(src); err == nil && u.Host != "" {
			if base != nil && base.Host != "" {
				crossOrigin = registrableDomain(u.Host) != registrableDomain(base.Host)
			} else {
				crossOrigin = true
			}
		}

		sandbox := strings.ToLower(fr.AttrOr("sandbox", ""))
		sandboxEscape := strings.Contains(sandbox, "allow-scripts") &&
			strings.Contains(sandbox, "allow-same-origin")

		var reasons []string
		if nearViewport && crossOrigin {
			reasons = append(reasons, "near-viewport cross-origin frame")
		}
		if sandboxEscape {
			reasons = append(reasons, "sandbox grants allow-scripts with allow-same-origin")
		}
		if dataURIContainsForm(src) {
			reasons = append(reasons, "data-URI frame embeds a form")
		}
		if len(reasons) == 0 {
			return
		}

		signals = append(signals, types.Signal{
			Source:     types.LayerDOM,
			Kind:       types.KindMaliciousIframe,
			Severity:   maliciousIframeSeverity,
			Evidence:   fmt.Sprintf("iframe src=%q: %s", utils.TruncateText(src, 80), strings.Join(reasons, "; ")),
			Confidence: structuralConfidence,
		})
	})

	return signals
}

// checkOverlays flags high z-index elements that blanket the viewport and
// contain interactive controls: the clickjacking overlay shape.
func checkOverlays(doc *goquery.Document) []types.Signal {
	var signals []types.Signal

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style := normalizeStyle(s.AttrOr("style", ""))

		m := zIndexRe.FindStringSubmatch(style)
		if m == nil {
			return
		}
		z, err := strconv.Atoi(m[1])
		if err != nil || z <= 9000 {
			return
		}

		positioned := strings.Contains(style, "position:fixed") || strings.Contains(style, "position:absolute")
		covers := strings.Contains(style, "inset:0") ||
			(strings.Contains(style, "width:100") && strings.Contains(style, "height:100"))
		if !positioned || !covers {
			return
		}

		if s.Find("a, form, input, button, select, textarea").Length() == 0 {
			return
		}

		signals = append(signals, types.Signal{
			Source:     types.LayerDOM,
			Kind:       types.KindDeceptiveOverlay,
			Severity:   deceptiveOverlaySeverity,
			Evidence:   fmt.Sprintf("overlay z-index=%d covers viewport with interactive content", z),
			Confidence: structuralConfidence,
		})
	})

	return signals
}
