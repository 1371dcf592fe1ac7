package extractor

import "strings"

// PlainTextExtractor passes UTF-8 text through with invalid bytes dropped
// and CRLF/CR newlines normalized to LF. It is also the fallback for any
// text/* MIME type without a dedicated Extractor.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(content []byte, _ string) (Result, error) {
	text := strings.ToValidUTF8(string(content), "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return Result{Text: text}, nil
}
