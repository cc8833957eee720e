package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func compile(spec []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("spec.json", bytes.NewReader(spec)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("spec.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// CompileSpec checks that spec is a valid JSON schema.
func CompileSpec(spec []byte) error {
	_, err := compile(spec)
	return err
}

// Validate checks the extracted record against the document's spec.
func Validate(spec, record []byte) error {
	schema, err := compile(spec)
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(record, &v); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("record does not match spec: %w", err)
	}
	return nil
}
