package extractor

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// StructuredDataExtractor flattens JSON, YAML, and CSV into searchable text:
// JSON/YAML become one "path: value" line per scalar, and each CSV cell
// becomes a "header: value" line, with a blank line after each row. Map
// keys are emitted in sorted order so the same bytes always produce the
// same text.
type StructuredDataExtractor struct{}

func (StructuredDataExtractor) Extract(content []byte, path string) (Result, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return extractCSV(content)
	case ".yaml", ".yml":
		return extractYAML(content)
	default:
		return extractJSON(content)
	}
}

func extractJSON(content []byte) (Result, error) {
	var v interface{}
	if err := json.Unmarshal(content, &v); err != nil {
		return PlainTextExtractor{}.Extract(content, "")
	}
	var buf bytes.Buffer
	flattenValue(&buf, "", v)
	return Result{Text: buf.String()}, nil
}

func extractYAML(content []byte) (Result, error) {
	var v interface{}
	if err := yaml.Unmarshal(content, &v); err != nil {
		return PlainTextExtractor{}.Extract(content, "")
	}
	var buf bytes.Buffer
	flattenValue(&buf, "", v)
	return Result{Text: buf.String()}, nil
}

// flattenValue walks a decoded JSON/YAML value and writes "path: value"
// lines so nested structure stays greppable without the original syntax
// getting in the way of keyword search.
func flattenValue(buf *bytes.Buffer, path string, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			flattenValue(buf, childPath, val[k])
		}
	case map[interface{}]interface{}: // yaml.v2-style maps can surface via some decoders
		byKey := make(map[string]interface{}, len(val))
		keys := make([]string, 0, len(val))
		for k, child := range val {
			byKey[fmt.Sprintf("%v", k)] = child
			keys = append(keys, fmt.Sprintf("%v", k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			childPath := k
			if path != "" {
				childPath = path + "." + childPath
			}
			flattenValue(buf, childPath, byKey[k])
		}
	case []interface{}:
		for i, child := range val {
			flattenValue(buf, fmt.Sprintf("%s[%d]", path, i), child)
		}
	default:
		fmt.Fprintf(buf, "%s: %v\n", path, val)
	}
}

func extractCSV(content []byte) (Result, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil || len(records) == 0 {
		return PlainTextExtractor{}.Extract(content, "")
	}

	header := records[0]
	var buf bytes.Buffer
	for _, row := range records[1:] {
		for i, cell := range row {
			col := fmt.Sprintf("col%d", i)
			if i < len(header) {
				col = header[i]
			}
			fmt.Fprintf(&buf, "%s: %s\n", col, cell)
		}
		buf.WriteByte('\n')
	}
	return Result{Text: buf.String()}, nil
}
