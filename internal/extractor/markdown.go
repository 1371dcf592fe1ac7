package extractor

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// markdownParser enables the GFM extensions; the AST is walked for plain
// text and heading anchors rather than rendered to HTML.
var markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))

// MarkdownExtractor walks the goldmark AST, emitting the document's plain
// text with one Anchor per heading so the chunker can prefer breaking there.
type MarkdownExtractor struct{}

func (MarkdownExtractor) Extract(content []byte, _ string) (Result, error) {
	src := text.NewReader(content)
	doc := markdownParser.Parser().Parse(src)

	var out strings.Builder
	var anchors []Anchor

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.Heading, *ast.ListItem:
				out.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			anchors = append(anchors, Anchor{Offset: out.Len(), Label: headingText(node, content)})
		case *ast.Text:
			out.Write(node.Segment.Value(content))
			if node.SoftLineBreak() || node.HardLineBreak() {
				out.WriteByte('\n')
			}
		case *ast.CodeSpan:
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			for i := 0; i < node.Lines().Len(); i++ {
				line := node.Lines().At(i)
				out.Write(line.Value(content))
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			for i := 0; i < node.Lines().Len(); i++ {
				line := node.Lines().At(i)
				out.Write(line.Value(content))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Text: out.String(), Anchors: anchors}, nil
}

func headingText(h *ast.Heading, source []byte) string {
	var sb strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
	}
	return sb.String()
}
