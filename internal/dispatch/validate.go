package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each tool's declared InputSchema once and reuses it
// across calls, keyed by the raw schema bytes. Grounded on
// pkg/pluginsdk/validation.go's compileSchema/schemaCache.
var schemaCache sync.Map

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// validateAgainstSchema checks input against a tool's declared JSON schema.
// An empty schema (no declared shape) always validates.
func validateAgainstSchema(toolName string, schema, input json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compileSchema(toolName, schema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", toolName, err)
	}

	var decoded any
	if len(input) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("decode input for %s: %w", toolName, err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("input for %s: %w", toolName, err)
	}
	return nil
}
