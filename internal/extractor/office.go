package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

// OfficeExtractor pulls text runs out of OOXML (docx/xlsx/pptx) and ODF
// (odt/ods/odp) documents, both of which are zip archives of XML parts.
// The extraction is an archive/zip + encoding/xml text-run scan over every
// XML part except relationships and docProps: text runs are separated by
// spaces, and a newline (a soft break for the chunker) ends each paragraph,
// each spreadsheet row and each XML part (so each slide and each sheet).
type OfficeExtractor struct{}

// The text elements of both families share local names: Word/Excel/
// PowerPoint OOXML wraps runs in <w:t>/<a:t> and cell values in <v>, and
// ODF wraps paragraphs in <text:p>, so a single generic "element local name
// is t, p or v" XML decoder pass covers every format without per-format
// parsers.
var textElementLocalNames = map[string]bool{
	"t": true, // w:t (docx), a:t (pptx), t (xlsx shared strings)
	"p": true, // text:p (odt/ods/odp paragraphs)
	"v": true, // xlsx shared-string / cell value text
}

func (OfficeExtractor) Extract(content []byte, _ string) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return Result{}, err
	}

	var out strings.Builder
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".xml") && !strings.HasSuffix(f.Name, ".rels") {
			continue
		}
		if strings.Contains(f.Name, "_rels/") || strings.HasPrefix(f.Name, "docProps/") {
			continue
		}
		text, err := extractXMLTextRuns(f)
		if err != nil {
			continue
		}
		if text != "" {
			out.WriteString(text)
			out.WriteByte('\n')
		}
	}

	return Result{Text: out.String()}, nil
}

func extractXMLTextRuns(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var sb strings.Builder
	inTextElement := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sb.String(), nil //nolint:nilerr // partial extraction beats none on malformed XML
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inTextElement = textElementLocalNames[t.Name.Local]
		case xml.CharData:
			if inTextElement {
				sb.Write(t)
			}
		case xml.EndElement:
			switch {
			case t.Name.Local == "p" || t.Name.Local == "row" || t.Name.Local == "table-row":
				sb.WriteByte('\n')
				inTextElement = false
			case textElementLocalNames[t.Name.Local]:
				sb.WriteByte(' ')
				inTextElement = false
			}
		}
	}
	return sb.String(), nil
}
