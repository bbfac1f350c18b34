package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser converts HTML-only replies to plain text
type HTMLParser struct {
	whitespaceRegex *regexp.Regexp
	invisibleRegex  *regexp.Regexp
}

// NewHTMLParser creates a new HTML parser
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{
		whitespaceRegex: regexp.MustCompile(`[^\S\n]+`),
		// Zero-width spaces, soft hyphens and similar
		invisibleRegex: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{180E}\x{2060}-\x{2064}]+`),
	}
}

// Parse converts HTML to plain text. Quoted history blocks are dropped so the
// result only holds what the sender wrote.
func (p *HTMLParser) Parse(html string) (string, error) {
	if html == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link").Remove()
	// Gmail, Outlook and Apple Mail quote containers
	doc.Find("blockquote, div.gmail_quote, div.gmail_attr, #divRplyFwdMsg, #appendonsend").Remove()

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := doc.Text()
	text = p.invisibleRegex.ReplaceAllString(text, "")
	text = p.whitespaceRegex.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	clean := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			clean = append(clean, line)
		}
	}

	return strings.Join(clean, "\n"), nil
}
