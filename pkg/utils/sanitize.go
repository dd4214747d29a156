package utils

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	xhtml "golang.org/x/net/html"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

const maxPlainTextLength = 500 // Cap for a single sanitized line (feedback, queue messages)

// StripTags removes HTML markup and decodes entities. Script and style bodies are
// dropped; element boundaries become spaces so adjacent words do not merge.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	// The leading <body> keeps head-only tags like <title> in the walked tree
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s))
	if err != nil {
		return html.UnescapeString(htmlTagPattern.ReplaceAllString(s, " "))
	}
	doc.Find("script, style, noscript").Remove()

	var b strings.Builder
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		switch n.Type {
		case xhtml.TextNode:
			b.WriteString(n.Data)
		case xhtml.ElementNode:
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == xhtml.ElementNode {
			b.WriteByte(' ')
		}
	}
	for _, n := range doc.Find("body").Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	return b.String()
}

// SanitizePlainText reduces s to a single line of plain text: tags and control
// characters removed, whitespace collapsed, length capped.
func SanitizePlainText(s string) string {
	s = StripTags(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))

	runes := []rune(s)
	if len(runes) > maxPlainTextLength {
		s = strings.TrimSpace(string(runes[:maxPlainTextLength])) + "..."
	}
	return s
}

// CollapseWhitespace trims s and folds internal whitespace runs to single spaces.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
