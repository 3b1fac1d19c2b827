package detection

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "td": true,
	"th": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "pre": true, "code": true, "blockquote": true, "section": true,
	"article": true, "header": true, "footer": true, "table": true, "ul": true,
	"ol": true, "dt": true, "dd": true,
}

// ExtractText returns the visible text of an HTML document. Block elements
// are separated by newlines so values in adjacent cells or paragraphs are
// not glued together.
func ExtractText(document string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, noscript, template, head").Remove()

	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			switch node.Type {
			case html.TextNode:
				b.WriteString(node.Data)
			case html.ElementNode:
				block := blockElements[node.Data]
				if block {
					b.WriteByte('\n')
				}
				walk(s)
				if block {
					b.WriteByte('\n')
				}
			}
		})
	}
	walk(doc.Selection)

	return b.String(), nil
}

// ScanHTML extracts the visible text of document and scans it. Offsets in
// the result refer to the returned text.
func (s *Scanner) ScanHTML(document string) (string, []types.DetectedObservable, error) {
	text, err := ExtractText(document)
	if err != nil {
		return "", nil, err
	}
	return text, s.Scan(text), nil
}
