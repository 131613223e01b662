// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package schema generates JSON Schemas from Go types and validates YAML
// documents against them.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Document describes the schema of one file format.
type Document struct {
	ID          string
	Title       string
	Description string
	// New returns a pointer to the Go type the schema is reflected from.
	New func() any

	once     sync.Once
	compiled *jschema.Schema
	err      error
}

// Generate renders the JSON Schema.
func (d *Document) Generate() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	s := r.Reflect(d.New())
	s.ID = jsonschema.ID(d.ID)
	s.Title = d.Title
	s.Description = d.Description

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateYAML validates a YAML document.
func (d *Document) ValidateYAML(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("document is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	return d.Validate(doc)
}

// Validate validates a decoded document.
func (d *Document) Validate(doc any) error {
	sch, err := d.schema()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}
	if err := sch.Validate(toJSON(doc)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func (d *Document) schema() (*jschema.Schema, error) {
	d.once.Do(func() {
		d.compiled, d.err = d.compile()
	})
	return d.compiled, d.err
}

func (d *Document) compile() (*jschema.Schema, error) {
	data, err := d.Generate()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	return c.Compile("schema.json")
}

// toJSON converts YAML-decoded values to the types the validator expects.
func toJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = toJSON(v)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[fmt.Sprint(k)] = toJSON(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = toJSON(v)
		}
		return out
	case string, int, int64, float64, bool, nil:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return val
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return val
		}
		return out
	}
}

// FormatError strips the wrapping from a validation error for display.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "schema validation failed: ")
}
