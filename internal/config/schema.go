// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package config

import "github.com/devmon/devmon/internal/schema"

// SchemaID is the JSON Schema $id for devmon.yaml.
const SchemaID = "https://devmon.dev/schemas/config.schema.json"

var configSchema = &schema.Document{
	ID:          SchemaID,
	Title:       "Devmon Configuration",
	Description: "Schema for devmon.yaml configuration files",
	New:         func() any { return &Config{} },
}

// GenerateSchema generates the JSON Schema for the configuration file.
func GenerateSchema() ([]byte, error) {
	return configSchema.Generate()
}

// ValidateSchema validates configuration YAML against the schema.
func ValidateSchema(data []byte) error {
	return configSchema.ValidateYAML(data)
}
