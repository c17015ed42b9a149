package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaFor reflects a JSON-Schema object from an argument struct type.
// Used by builtin tools so argument shapes live in one place (the struct).
func SchemaFor[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	schema := reflector.Reflect(&zero)
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// schemaValidator compiles declared tool parameter schemas on first use and
// validates raw call arguments against them.
type schemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsv.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{compiled: make(map[string]*jsv.Schema)}
}

// validate checks args against the tool's declared parameter schema. A nil
// or empty schema accepts anything.
func (v *schemaValidator) validate(toolName string, params map[string]any, args json.RawMessage) error {
	if len(params) == 0 {
		return nil
	}

	schema, err := v.compile(toolName, params)
	if err != nil {
		return err
	}

	instance := any(map[string]any{})
	if len(args) > 0 {
		decoded, err := jsv.UnmarshalJSON(bytes.NewReader(args))
		if err != nil {
			return fmt.Errorf("arguments are not valid JSON: %w", err)
		}
		instance = decoded
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

func (v *schemaValidator) compile(toolName string, params map[string]any) (*jsv.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if schema, ok := v.compiled[toolName]; ok {
		return schema, nil
	}

	// Round-trip through JSON so numeric types match what the compiler
	// expects from a decoded document.
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema for %s: %w", toolName, err)
	}
	doc, err := jsv.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding schema for %s: %w", toolName, err)
	}

	compiler := jsv.NewCompiler()
	url := "loom://tools/" + toolName + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("registering schema for %s: %w", toolName, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", toolName, err)
	}
	v.compiled[toolName] = schema
	return schema, nil
}
