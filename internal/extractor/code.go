package extractor

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// codeExtensions lists source extensions CodeExtractor claims.
var codeExtensions = []string{".go", ".py", ".js", ".mjs", ".jsx", ".ts", ".tsx", ".rs", ".java", ".c", ".h", ".cpp", ".rb", ".sql"}

var languageByExt = map[string]*sitter.Language{
	".go": golang.GetLanguage(),
	".py": python.GetLanguage(),
	".js": javascript.GetLanguage(),
	".ts": typescript.GetLanguage(),
}

func isCodeExtension(ext string) bool {
	for _, e := range codeExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// topLevelNodeTypes are the declaration kinds CodeExtractor anchors on.
// Extraction only needs anchor positions, not symbol classification.
var topLevelNodeTypes = map[string]bool{
	"function_declaration": true,
	"method_declaration":   true,
	"function_definition":  true,
	"class_declaration":    true,
	"class_definition":     true,
	"type_declaration":     true,
	"interface_declaration": true,
}

// CodeExtractor passes source text through unchanged (invalid UTF-8 is
// dropped; newlines are not normalized) but anchors chunking at top-level
// declaration boundaries when a tree-sitter grammar for the file's language
// is available.
type CodeExtractor struct{}

func (CodeExtractor) Extract(content []byte, path string) (Result, error) {
	text := strings.ToValidUTF8(string(content), "")
	ext := strings.ToLower(filepath.Ext(path))

	lang, ok := languageByExt[ext]
	if !ok {
		return Result{Text: text}, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree == nil {
		return Result{Text: text}, nil
	}
	root := tree.RootNode()

	var anchors []Anchor
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if topLevelNodeTypes[child.Type()] {
			anchors = append(anchors, Anchor{Offset: int(child.StartByte()), Label: child.Type()})
		}
	}

	return Result{Text: text, Anchors: anchors}, nil
}
