package codec

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateToolSchema compiles schema as a JSON Schema document, rejecting
// malformed tool input_schema/parameters payloads before they are exposed to
// internal/compat and internal/transport as a canonical.ToolDefinition
// (spec.md §4.1: decode fails fast on structurally invalid tool schemas).
// A nil or empty schema is treated as "no constraints" and accepted.
func ValidateToolSchema(name string, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	resource := "routecodex://tool-schema/" + name
	if err := c.AddResource(resource, doc); err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}
	if _, err := c.Compile(resource); err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}
	return nil
}
