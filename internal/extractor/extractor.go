// Package extractor turns raw file bytes into plain text ready for
// chunking and embedding, dispatching on MIME type.
package extractor

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// Anchor marks where a logical unit (heading, sheet, slide) begins within
// the extracted text, so downstream chunking can prefer breaking there.
type Anchor struct {
	Offset int
	Label  string
}

// Result is the output of extracting a single file.
type Result struct {
	Text    string
	Anchors []Anchor
	MIME    string
}

// Extractor turns raw bytes for a file at path into plain text.
type Extractor interface {
	Extract(content []byte, path string) (Result, error)
}

// Registry dispatches to an Extractor by detected MIME type.
type Registry struct {
	byMIME map[string]Extractor
}

// NewRegistry wires the default extractor set: plain text, markdown, HTML,
// source code, structured data (JSON/YAML/CSV), office documents, and PDF.
func NewRegistry() *Registry {
	r := &Registry{byMIME: make(map[string]Extractor)}

	plain := PlainTextExtractor{}
	md := MarkdownExtractor{}
	html := HTMLExtractor{}
	code := CodeExtractor{}
	structured := StructuredDataExtractor{}
	office := OfficeExtractor{}
	pdf := PDFExtractor{}

	r.Register("text/plain", plain)
	r.Register("text/markdown", md)
	r.Register("text/html", html)
	r.Register("application/json", structured)
	r.Register("text/yaml", structured)
	r.Register("application/x-yaml", structured)
	r.Register("text/csv", structured)
	r.Register("application/pdf", pdf)
	r.Register("application/vnd.openxmlformats-officedocument.wordprocessingml.document", office)
	r.Register("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", office)
	r.Register("application/vnd.openxmlformats-officedocument.presentationml.presentation", office)
	r.Register("application/vnd.oasis.opendocument.text", office)
	r.Register("application/vnd.oasis.opendocument.spreadsheet", office)
	r.Register("application/vnd.oasis.opendocument.presentation", office)

	for _, ext := range codeExtensions {
		r.byExtension(ext, code)
	}

	return r
}

// Register binds an Extractor to a MIME type.
func (r *Registry) Register(mimeType string, e Extractor) {
	r.byMIME[mimeType] = e
}

func (r *Registry) byExtension(ext string, e Extractor) {
	r.byMIME["ext:"+ext] = e
}

// Extract detects the MIME type of path/content and dispatches to the
// registered Extractor. Unrecognized text types fall back to plain text;
// unrecognized binary types yield an empty result, which the indexer
// records as indexed with zero chunks rather than embedding garbage.
func (r *Registry) Extract(content []byte, path string) (Result, error) {
	detected := DetectMIME(path, content)

	if e, ok := r.byMIME[detected]; ok {
		res, err := e.Extract(content, path)
		res.MIME = detected
		return res, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if e, ok := r.byMIME["ext:"+ext]; ok {
		res, err := e.Extract(content, path)
		res.MIME = detected
		return res, err
	}

	if strings.HasPrefix(detected, "text/") {
		res, err := PlainTextExtractor{}.Extract(content, path)
		res.MIME = detected
		return res, err
	}

	return Result{MIME: detected}, nil
}

var extMIMEOverrides = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".yaml":     "text/yaml",
	".yml":      "text/yaml",
	".csv":      "text/csv",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx":     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx":     "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":      "application/vnd.oasis.opendocument.text",
	".ods":      "application/vnd.oasis.opendocument.spreadsheet",
	".odp":      "application/vnd.oasis.opendocument.presentation",
}

// DetectMIME tries a hand-maintained override table for extensions the
// stdlib doesn't know (or gets wrong for our purposes), then the source-code
// extensions ("text/x-<ext>"), then the stdlib extension table, then
// magic-byte sniffing for binary formats, and finally content sniffing to
// tell unknown text from binary.
func DetectMIME(path string, content []byte) string {
	ext := strings.ToLower(filepath.Ext(path))

	if override, ok := extMIMEOverrides[ext]; ok {
		return override
	}

	if isCodeExtension(ext) {
		return fmt.Sprintf("text/x-%s", strings.TrimPrefix(ext, "."))
	}

	if ext != "" {
		if mimeType := mime.TypeByExtension(ext); mimeType != "" {
			if idx := strings.Index(mimeType, ";"); idx != -1 {
				mimeType = mimeType[:idx]
			}
			return mimeType
		}
	}

	if len(content) >= 4 {
		if string(content[:4]) == "%PDF" {
			return "application/pdf"
		}
		if content[0] == 0x50 && content[1] == 0x4B {
			if override, ok := extMIMEOverrides[ext]; ok {
				return override
			}
			return "application/zip"
		}
	}

	// Content sniffing separates text with an unknown extension (still
	// extractable as plain text) from true binary (skipped with zero
	// chunks).
	sniffed := http.DetectContentType(content)
	if idx := strings.Index(sniffed, ";"); idx != -1 {
		sniffed = sniffed[:idx]
	}
	if strings.HasPrefix(sniffed, "text/") {
		return sniffed
	}

	return "application/octet-stream"
}
