package dom

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// MaxHTMLSize caps input at 5MB; larger pages are truncated and flagged.
const MaxHTMLSize = 5 * 1024 * 1024

// detectCharset sniffs the charset from raw HTML bytes, defaulting to utf-8.
func detectCharset(data []byte) string {
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// loadHTML parses HTML with automatic charset detection.
func loadHTML(htmlStr string) (*goquery.Document, error) {
	if htmlStr == "" {
		return nil, ErrParse
	}

	data := []byte(htmlStr)
	detected := detectCharset(data)

	reader := bytes.NewReader(data)
	utf8Reader, err := charset.NewReader(reader, detected)
	if err != nil {
		// Fall back to direct parsing.
		return goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	}

	return goquery.NewDocumentFromReader(utf8Reader)
}

// normalizeStyle lowercases a style attribute and strips all whitespace so
// lexical property checks are insensitive to formatting.
func normalizeStyle(style string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(style) {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// extractText collects text node content under n, skipping script, style,
// noscript, and template subtrees plus any node present in skip.
func extractText(n *html.Node, skip map[*html.Node]bool) string {
	var buf bytes.Buffer
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if skip[n] {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

// registrableDomain approximates the eTLD+1 of a host by taking its last
// two labels. Lexical, not PSL-accurate; good enough to tell mybank.example
// from attacker.example.
func registrableDomain(host string) string {
	host = strings.ToLower(host)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
