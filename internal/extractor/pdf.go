package extractor

import (
	"bytes"
	"compress/zlib"
	"io"
	"regexp"
	"strings"
)

// PDFExtractor pulls the text layer out of a PDF by inflating each
// FlateDecode content stream and scanning its operators for Tj/TJ
// text-showing instructions. It only recovers the text layer:
// scanned/image-only PDFs yield no text, which callers should treat the
// same as an empty extraction rather than an error.
type PDFExtractor struct{}

var (
	streamRe = regexp.MustCompile(`(?s)stream\r?\n(.*?)\r?\nendstream`)
	tjArrRe  = regexp.MustCompile(`(?s)\[(.*?)\]\s*TJ`)
	tjStrRe  = regexp.MustCompile(`(?s)\((?:[^()\\]|\\.)*\)\s*Tj`)
	litStrRe = regexp.MustCompile(`(?s)\((?:[^()\\]|\\.)*\)`)
)

func (PDFExtractor) Extract(content []byte, _ string) (Result, error) {
	var out strings.Builder

	for _, match := range streamRe.FindAllSubmatch(content, -1) {
		raw := match[1]
		text, ok := inflateStream(raw)
		if !ok {
			text = raw // not flate-encoded (or already plain); scan it as-is
		}
		out.WriteString(scanTextOperators(text))
	}

	return Result{Text: out.String()}, nil
}

func inflateStream(raw []byte) ([]byte, bool) {
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	defer r.Close()
	decoded, err := io.ReadAll(r)
	if err != nil || len(decoded) == 0 {
		return nil, false
	}
	return decoded, true
}

// scanTextOperators extracts literal-string operands of Tj and TJ
// text-showing operators from a decoded PDF content stream.
func scanTextOperators(stream []byte) string {
	var sb strings.Builder

	for _, m := range tjStrRe.FindAll(stream, -1) {
		lit := litStrRe.Find(m)
		sb.WriteString(unescapePDFString(lit))
		sb.WriteByte(' ')
	}
	for _, arr := range tjArrRe.FindAllSubmatch(stream, -1) {
		for _, lit := range litStrRe.FindAll(arr[1], -1) {
			sb.WriteString(unescapePDFString(lit))
		}
		sb.WriteByte(' ')
	}
	return sb.String()
}

func unescapePDFString(lit []byte) string {
	if len(lit) < 2 {
		return ""
	}
	inner := lit[1 : len(lit)-1] // strip the surrounding parens
	replacer := strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`, `\n`, "\n", `\r`, "\r", `\t`, "\t")
	return replacer.Replace(string(inner))
}
