package aimeta

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed ai_metadata.schema.json
var aiMetadataSchemaJSON string

// Metadata is the LLM-produced description of a link.
type Metadata struct {
	Summary     string   `json:"summary,omitempty"`
	Category    string   `json:"category,omitempty"`
	Entities    []string `json:"entities,omitempty"`
	Model       string   `json:"model,omitempty"`
	GeneratedAt string   `json:"generated_at,omitempty"`
}

// Parse validates raw AI metadata JSON and returns it normalized: trimmed
// strings, lowercase category and de-duplicated entities.
func Parse(payload json.RawMessage) (*Metadata, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode ai metadata: %w", err)
	}
	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load ai metadata schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("invalid ai metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(bytes.TrimSpace(payload), &meta); err != nil {
		return nil, fmt.Errorf("decode ai metadata: %w", err)
	}

	meta.Summary = strings.TrimSpace(meta.Summary)
	meta.Category = strings.ToLower(strings.TrimSpace(meta.Category))
	meta.Model = strings.TrimSpace(meta.Model)
	meta.Entities = dedupeEntities(meta.Entities)

	if meta.Summary == "" && meta.Category == "" && len(meta.Entities) == 0 {
		return nil, fmt.Errorf("ai metadata must carry a summary, category or entities")
	}
	return &meta, nil
}

// JSON renders metadata for storage.
func (m Metadata) JSON() (json.RawMessage, error) {
	return json.Marshal(m)
}

const schemaName = "ai_metadata.schema.json"

// loadSchema compiles the embedded schema on first use.
var loadSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	if err := compiler.AddResource(schemaName, strings.NewReader(aiMetadataSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(schemaName)
})

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

func dedupeEntities(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, entity := range in {
		entity = strings.Join(strings.Fields(entity), " ")
		key := strings.ToLower(entity)
		if entity == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entity)
	}
	return out
}
