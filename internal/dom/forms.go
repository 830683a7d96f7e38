package dom

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pagewarden/pagewarden/internal/shared/types"
)

var credentialNameRe = regexp.MustCompile(`(?i)(password|passwd|pwd|cvv|cvc|ssn|card[-_ ]?(number|no)|pin\b|secret|token)`)

const suspiciousFormSeverity = 0.7

// formTarget resolves a form action against the page URL and reports
// whether submission crosses to a different registrable domain and whether
// it travels over plaintext.
func formTarget(action, pageURL string) (resolved *url.URL, external, plaintext bool) {
	act, err := url.Parse(strings.TrimSpace(action))
	if err != nil {
		return nil, false, false
	}

	base, berr := url.Parse(pageURL)
	if berr == nil && base.Host != "" {
		act = base.ResolveReference(act)
	}

	if act.Host != "" {
		if berr == nil && base.Host != "" {
			external = registrableDomain(act.Host) != registrableDomain(base.Host)
		} else {
			// No page URL to compare against: any absolute target is treated
			// as external, the way a relative action never would be.
			external = act.IsAbs()
		}
	}
	plaintext = act.Scheme == "http"
	return act, external, plaintext
}

// hasCredentialField reports whether the form collects credentials.
func hasCredentialField(form *goquery.Selection) bool {
	found := false
	form.Find("input").EachWithBreak(func(_ int, in *goquery.Selection) bool {
		typ := strings.ToLower(in.AttrOr("type", "text"))
		name := in.AttrOr("name", "") + " " + in.AttrOr("id", "") + " " + in.AttrOr("autocomplete", "")
		if typ == "password" || credentialNameRe.MatchString(name) {
			found = true
			return false
		}
		return true
	})
	return found
}

// checkForms flags forms that post across registrable domains, harvest
// credentials toward an external target, or carry credentials over
// plaintext.
func checkForms(doc *goquery.Document, pageURL string) []types.Signal {
	var signals []types.Signal

	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		action := form.AttrOr("action", "")
		target, external, plaintext := formTarget(action, pageURL)
		credential := hasCredentialField(form)

		var reasons []string
		if external {
			reasons = append(reasons, "action crosses registrable domain")
		}
		if credential && external {
			reasons = append(reasons, "credential field posts to external target")
		}
		if credential && plaintext {
			reasons = append(reasons, "credential field submits over plaintext")
		}
		if len(reasons) == 0 {
			return
		}

		dest := action
		if target != nil && target.Host != "" {
			dest = target.String()
		}
		signals = append(signals, types.Signal{
			Source:     types.LayerDOM,
			Kind:       types.KindSuspiciousForm,
			Severity:   suspiciousFormSeverity,
			Evidence:   fmt.Sprintf("form action=%q: %s", dest, strings.Join(reasons, "; ")),
			Confidence: structuralConfidence,
		})
	})

	return signals
}
