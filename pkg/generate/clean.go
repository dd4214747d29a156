package generate

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

var (
	labelPrefixRegex = regexp.MustCompile(`(?i)^\s*(?:suggested\s+)?(?:alt(?:ernative)?[\s_-]*(?:text|tag)?|description)\s*:\s*`)
	markdownHint     = regexp.MustCompile("[*_`#\\[]")
)

const quoteChars = "\"'`“”‘’«»"

// CleanAltText normalises a raw completion into a single line of alt text.
func CleanAltText(raw string) string {
	s := strings.TrimSpace(raw)
	if markdownHint.MatchString(s) {
		s = stripMarkdown(s)
	}
	s = utils.StripTags(s)
	s = utils.CollapseWhitespace(s)

	// Labels and quotes can nest in either order ("Alt text: \"...\"")
	for i := 0; i < 3; i++ {
		before := s
		s = labelPrefixRegex.ReplaceAllString(s, "")
		s = strings.TrimSpace(strings.Trim(s, quoteChars))
		if s == before {
			break
		}
	}
	return s
}

// stripMarkdown keeps only the text content of a markdown fragment
func stripMarkdown(s string) string {
	source := []byte(s)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var buf bytes.Buffer
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				buf.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(source))
				buf.WriteByte(' ')
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

// sameAlt compares alt texts case-insensitively after trimming
func sameAlt(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
