package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/docupipe/contractscan/constants"
)

// BuildContractJSONSchema returns a JSON-Schema (draft 2020-12 subset)
// as a generic map. It is embedded into the prompt and used locally to
// validate model output before the fields enter the pipeline.
func BuildContractJSONSchema() map[string]any {
	props := map[string]any{
		"party":            map[string]any{"type": "string", "minLength": 1},
		"contract_name":    map[string]any{"type": "string"},
		"contract_type":    map[string]any{"type": "string", "enum": constants.ContractTypeStrings()},
		"address":          map[string]any{"type": "string"},
		"country":          map[string]any{"type": "string"},
		"signed_date":      dateProp(),
		"start_date":       dateProp(),
		"end_date":         dateProp(),
		"signature_status": map[string]any{"type": "string"},
		"own_entity":       map[string]any{"type": "string"},
		"confidence":       map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	required := []string{"party", "contract_type"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func dateProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^\d{4}-\d{2}-\d{2}$`,
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
