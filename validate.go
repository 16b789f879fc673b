package metaform

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validator checks results against the full schema document. A schema the
// compiler rejects (for example one using "type": "enum") is reported on
// every validation instead of failing the request.
type validator struct {
	schema *jsonschema.Schema
	err    error
}

func newValidator(s *Schema) *validator {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader([]byte(s.JSON()))); err != nil {
		return &validator{err: fmt.Errorf("add schema: %w", err)}
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return &validator{err: fmt.Errorf("compile schema: %w", err)}
	}
	return &validator{schema: schema}
}

func (v *validator) validate(data map[string]any) error {
	if v.err != nil {
		return fmt.Errorf("validation skipped: %w", v.err)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
