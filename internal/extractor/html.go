package extractor

import (
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// HTMLExtractor converts HTML to markdown and reuses MarkdownExtractor to
// pull plain text and heading anchors out of the result.
type HTMLExtractor struct{}

func (HTMLExtractor) Extract(content []byte, path string) (Result, error) {
	md, err := htmltomarkdown.ConvertString(string(content))
	if err != nil {
		return PlainTextExtractor{}.Extract(content, path)
	}
	return MarkdownExtractor{}.Extract([]byte(md), path)
}
