package dom

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pagewarden/pagewarden/internal/shared/types"
)

const riskyScriptSeverity = 0.4

var (
	dangerousCalls = []string{"eval(", "new Function(", "document.write("}

	base64BlobRe = regexp.MustCompile(`[A-Za-z0-9+/]{200,}={0,2}`)
	tokenRe      = regexp.MustCompile(`[A-Za-z0-9_$+/=\x{80}-\x{10FFFF}]{2,}`)
	hexTokenRe   = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{8,}$`)
	base64ishRe  = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

	// Ratio of opaque tokens above which a script counts as obfuscated.
	obfuscationRatio = 0.3
)

// obfuscated measures the share of identifiers that are hex runs, long
// base64-ish runs, or non-ASCII.
func obfuscated(src string) bool {
	tokens := tokenRe.FindAllString(src, -1)
	if len(tokens) < 2 {
		return false
	}
	opaque := 0
	for _, tok := range tokens {
		switch {
		case hexTokenRe.MatchString(tok):
			opaque++
		case len(tok) >= 40 && base64ishRe.MatchString(tok):
			opaque++
		default:
			for _, r := range tok {
				if r > 127 {
					opaque++
					break
				}
			}
		}
	}
	return float64(opaque)/float64(len(tokens)) > obfuscationRatio
}

// checkScripts inspects inline scripts for dynamic-execution primitives,
// large base64 payloads, and obfuscated identifiers. One signal per matched
// indicator per script.
func checkScripts(doc *goquery.Document) []types.Signal {
	var signals []types.Signal

	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		if s.AttrOr("src", "") != "" {
			return
		}
		src := s.Text()
		if strings.TrimSpace(src) == "" {
			return
		}

		add := func(evidence string) {
			signals = append(signals, types.Signal{
				Source:     types.LayerDOM,
				Kind:       types.KindRiskyScript,
				Severity:   riskyScriptSeverity,
				Evidence:   evidence,
				Confidence: structuralConfidence,
			})
		}

		var calls []string
		for _, call := range dangerousCalls {
			if strings.Contains(src, call) {
				calls = append(calls, strings.TrimSuffix(call, "("))
			}
		}
		if len(calls) > 0 {
			add(fmt.Sprintf("inline script #%d uses %s", i, strings.Join(calls, ", ")))
		}

		if blob := base64BlobRe.FindString(src); blob != "" {
			add(fmt.Sprintf("inline script #%d carries a base64 payload (%d chars)", i, len(blob)))
		}

		if obfuscated(src) {
			add(fmt.Sprintf("inline script #%d is dominated by opaque identifiers", i))
		}
	})

	return signals
}
