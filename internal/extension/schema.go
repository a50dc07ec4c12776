// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package extension

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the manifest schema.
const SchemaID = "https://mapshell.dev/schemas/extensions.schema.json"

var (
	schemaMu    sync.Mutex
	schemaCache *jschema.Schema
)

// GenerateSchema generates the manifest JSON Schema from the Manifest type.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(&Manifest{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "MapShell Extensions Manifest"
	schema.Description = "Schema for the extensions registry mapping plugin names to bundles"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateSchema validates JSON or YAML data against the manifest schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("manifest data is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON or YAML: %w", err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if schemaCache != nil {
		return schemaCache, nil
	}

	raw, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, err
	}
	schemaCache = sch
	return sch, nil
}

// FormatSchemaError strips the wrapping prefix from a validation error.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "schema validation failed: ")
}
