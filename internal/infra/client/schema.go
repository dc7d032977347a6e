package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var nullableString = []any{"string", "null"}

// fieldsSchema is the contract of the extraction answer.
var fieldsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"codigo":  map[string]any{"type": nullableString},
		"valor":   map[string]any{"type": []any{"string", "number", "null"}},
		"data":    map[string]any{"type": nullableString},
		"empresa": map[string]any{"type": nullableString},
		"pagador": map[string]any{"type": nullableString},
	},
	"required": []any{"codigo", "valor"},
}

// choiceSchema is the contract of the disambiguation answer.
var choiceSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"escolha": map[string]any{"type": "integer", "minimum": -1},
		"motivo":  map[string]any{"type": "string"},
	},
	"required": []any{"escolha"},
}

var (
	compiledFields = mustCompile("fields.json", fieldsSchema)
	compiledChoice = mustCompile("choice.json", choiceSchema)
)

func mustCompile(name string, schemaMap map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		panic(fmt.Sprintf("marshal schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// validateJSON checks data against schema and returns the decoded value.
func validateJSON(schema *jsonschema.Schema, data []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return obj, nil
}

// cleanModelJSON strips markdown fences and stray text around a JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

// stringField reads a string-ish property; numbers are formatted with two
// decimals, null and "null" become "".
func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		s := strings.TrimSpace(v)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
			return ""
		}
		return s
	case float64:
		return fmt.Sprintf("%.2f", v)
	default:
		return ""
	}
}
