package kbadapter

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ErrValidation is returned when params fail an operation's input_schema.
type ErrValidation struct {
	Operation string
	Errors    []string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("operation %q: invalid params: %v", e.Operation, e.Errors)
}

// ValidateParams checks params against meta's JSON Schema, strictly, at
// the Execute entry point (Open Question 2: adapters reject malformed
// calls rather than forwarding them to the backend).
func ValidateParams(meta OperationMetadata, params map[string]any) error {
	if len(meta.InputSchema) == 0 {
		return nil
	}
	schemaLoader := gojsonschema.NewBytesLoader(meta.InputSchema)
	docLoader := gojsonschema.NewGoLoader(params)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("operation %q: schema validation error: %w", meta.Name, err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return &ErrValidation{Operation: meta.Name, Errors: errs}
	}
	return nil
}
