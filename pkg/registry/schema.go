package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchema is the contract every submitted manifest must satisfy.
// Skill names are namespaced (org.skill) so two vendors can ship a
// "summarize" skill without colliding.
const manifestSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name", "version", "entry"],
	"properties": {
		"name": {
			"type": "string",
			"pattern": "^[a-z0-9-]+\\.[a-z0-9-]+$"
		},
		"version": {
			"type": "string",
			"minLength": 5
		},
		"entry": {
			"type": "string",
			"minLength": 1
		},
		"description": {
			"type": "string",
			"maxLength": 2048
		},
		"capabilities": {
			"type": "array",
			"items": {"type": "string"},
			"uniqueItems": true
		}
	},
	"additionalProperties": false
}`

var compiledManifestSchema = mustCompileManifestSchema()

func mustCompileManifestSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("manifest.schema.json", strings.NewReader(manifestSchema)); err != nil {
		panic(fmt.Sprintf("registry: add manifest schema: %v", err))
	}
	return c.MustCompile("manifest.schema.json")
}

// ValidateManifest checks raw manifest JSON against the schema.
func ValidateManifest(manifestJSON []byte) error {
	var doc any
	if err := json.Unmarshal(manifestJSON, &doc); err != nil {
		return fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	if err := compiledManifestSchema.Validate(doc); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}
	return nil
}
