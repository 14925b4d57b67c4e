package datasource

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 16 * 1024 * 1024

// LoadFile reads documents from a JSON array, a JSONL file (one document
// per line) or a YAML list, chosen by extension. JSON files whose first
// non-space byte is not '[' are read as JSONL.
func LoadFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeFileNotFound, fmt.Sprintf("cannot read documents from %s", path), err)
	}
	return ParseDocuments(filepath.Ext(path), data)
}

// ParseDocuments decodes documents; ext selects the format.
func ParseDocuments(ext string, data []byte) ([]Document, error) {
	var docs []Document
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &docs); err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput, "invalid YAML documents", err)
		}
	default:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &docs); err != nil {
				return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput, "invalid JSON documents", err)
			}
			break
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		line := 0
		for sc.Scan() {
			line++
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			var doc Document
			if err := json.Unmarshal(text, &doc); err != nil {
				return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput, fmt.Sprintf("invalid JSON document on line %d", line), err)
			}
			docs = append(docs, doc)
		}
		if err := sc.Err(); err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput, "cannot read JSONL documents", err)
		}
	}
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, amanerrors.Newf(amanerrors.ErrCodeInvalidInput, "document %d has no id", i+1)
		}
		docs[i].Fields = normalizeMap(doc.Fields)
		for l, tr := range doc.Translations {
			docs[i].Translations[l] = normalizeMap(tr)
		}
	}
	return docs, nil
}

// normalizeMap converts YAML integers to float64 so every format yields
// the values encoding/json produces.
func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case []any:
		for i, e := range t {
			t[i] = normalizeValue(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeValue(e)
		}
		return t
	}
	return v
}
