package extractor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMIMEByExtensionOverride(t *testing.T) {
	assert.Equal(t, "text/markdown", DetectMIME("notes/readme.md", nil))
	assert.Equal(t, "text/yaml", DetectMIME("config.yml", nil))
	assert.Equal(t, "text/x-go", DetectMIME("main.go", nil))
}

func TestDetectMIMEByMagicBytes(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectMIME("unknown", []byte("%PDF-1.4 ...")))
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		DetectMIME("report.docx", []byte{0x50, 0x4B, 0x03, 0x04}))
}

func TestRegistryFallsBackToPlainText(t *testing.T) {
	reg := NewRegistry()
	res, err := reg.Extract([]byte("hello world"), "notes.weirdext")
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
}

func TestRegistrySkipsUnknownBinary(t *testing.T) {
	reg := NewRegistry()
	res, err := reg.Extract([]byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0x00}, "blob.bin")
	require.NoError(t, err)
	assert.Empty(t, res.Text)
}

func TestMarkdownExtractorProducesHeadingAnchors(t *testing.T) {
	src := []byte("# Title\n\nSome intro text.\n\n## Section\n\nMore body text.\n")
	res, err := MarkdownExtractor{}.Extract(src, "doc.md")
	require.NoError(t, err)
	require.Len(t, res.Anchors, 2)
	assert.Equal(t, "Title", res.Anchors[0].Label)
	assert.Equal(t, "Section", res.Anchors[1].Label)
	assert.Contains(t, res.Text, "Some intro text")
	assert.Contains(t, res.Text, "More body text")
}

func TestHTMLExtractorConvertsToPlainishText(t *testing.T) {
	src := []byte("<html><body><h1>Welcome</h1><p>Hello <b>world</b>.</p></body></html>")
	res, err := HTMLExtractor{}.Extract(src, "page.html")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Welcome")
	assert.Contains(t, res.Text, "Hello")
	assert.Contains(t, res.Text, "world")
}

func TestCodeExtractorAnchorsGoTopLevelDecls(t *testing.T) {
	src := []byte("package main\n\nfunc Foo() {}\n\nfunc Bar() {}\n")
	res, err := CodeExtractor{}.Extract(src, "example.go")
	require.NoError(t, err)
	assert.Equal(t, string(src), res.Text)
	require.Len(t, res.Anchors, 2)
	assert.Equal(t, "function_declaration", res.Anchors[0].Label)
}

func TestCodeExtractorFallsBackForUnknownLanguage(t *testing.T) {
	res, err := CodeExtractor{}.Extract([]byte("SELECT 1;"), "q.sql")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;", res.Text)
	assert.Empty(t, res.Anchors)
}

func TestStructuredDataExtractorFlattensJSON(t *testing.T) {
	res, err := StructuredDataExtractor{}.Extract([]byte(`{"name":"alice","tags":["a","b"]}`), "data.json")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "name: alice")
	assert.Contains(t, res.Text, "tags[0]: a")
}

func TestStructuredDataExtractorFlattensCSV(t *testing.T) {
	res, err := StructuredDataExtractor{}.Extract([]byte("name,age\nalice,30\nbob,40\n"), "data.csv")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "name: alice")
	assert.Contains(t, res.Text, "age: 30")
	assert.Contains(t, res.Text, "name: bob")
}

func TestStructuredDataExtractorFlattensYAML(t *testing.T) {
	res, err := StructuredDataExtractor{}.Extract([]byte("service: api\nport: 8080\n"), "config.yaml")
	require.NoError(t, err)
	assert.True(t, strings.Contains(res.Text, "service: api") || strings.Contains(res.Text, "port: 8080"))
}
