// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package plugin

import "github.com/devmon/devmon/internal/schema"

// SchemaID is the $id of the manifest schema.
const SchemaID = "https://devmon.dev/schemas/plugin.schema.json"

var manifestSchema = &schema.Document{
	ID:          SchemaID,
	Title:       "Devmon Plugin Manifest",
	Description: "Schema for plugin.yaml manifest files",
	New:         func() any { return &Manifest{} },
}

// GenerateSchema generates a JSON Schema from the Manifest struct.
func GenerateSchema() ([]byte, error) {
	return manifestSchema.Generate()
}

// ValidateSchema validates YAML data against the plugin manifest JSON Schema.
func ValidateSchema(data []byte) error {
	return manifestSchema.ValidateYAML(data)
}
