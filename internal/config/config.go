// Package config loads and validates the bridge connection file: a
// JSON array describing every backend the process should bridge.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/oribridge/oribridge/internal/oribridge"
)

const backendSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["type", "name"],
    "properties": {
      "type": { "type": "string", "enum": ["github", "tiki"] },
      "name": { "type": "string", "minLength": 1 },
      "tokens": {
        "type": "object",
        "additionalProperties": { "type": "string" }
      },
      "defaultUser": { "type": "string" },
      "repo": { "type": "string", "pattern": "^[^/]+/[^/]+$" },
      "server": { "type": "string", "minLength": 1 },
      "trackerId": { "type": "string" },
      "webhookSecret": { "type": "string" }
    },
    "additionalProperties": false,
    "allOf": [
      {
        "if": { "properties": { "type": { "const": "github" } } },
        "then": { "required": ["repo"] }
      },
      {
        "if": { "properties": { "type": { "const": "tiki" } } },
        "then": { "required": ["server", "trackerId"] }
      }
    ]
  }
}`

func compiledSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(backendSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing backend schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("backends.json", doc); err != nil {
		return nil, fmt.Errorf("loading backend schema: %w", err)
	}
	schema, err := compiler.Compile("backends.json")
	if err != nil {
		return nil, fmt.Errorf("compiling backend schema: %w", err)
	}
	return schema, nil
}

// Load reads the backend connection file, validates it against the
// schema, and returns the specs in file order. Duplicate (type, name)
// pairs are rejected since webhook routing keys on them.
func Load(path string) ([]oribridge.BackendSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]oribridge.BackendSpec, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: config is not valid JSON: %v", oribridge.ErrInvalidInput, err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", oribridge.ErrInvalidInput, err)
	}

	var specs []oribridge.BackendSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("%w: %v", oribridge.ErrInvalidInput, err)
	}

	seen := map[string]struct{}{}
	for _, spec := range specs {
		key := spec.Type + "/" + spec.Name
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate backend %s", oribridge.ErrInvalidInput, key)
		}
		seen[key] = struct{}{}
	}
	return specs, nil
}
