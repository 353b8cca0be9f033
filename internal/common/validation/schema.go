// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schemas for inbound payloads. userInput and phoneNumber accept null, which
// callers normalize to the empty string.
const (
	UserInputSchema = `{
		"type": "object",
		"properties": {
			"userInput": {"type": ["string", "null"], "maxLength": 20000}
		},
		"required": ["userInput"],
		"additionalProperties": false
	}`

	PhoneNumberSchema = `{
		"type": "object",
		"properties": {
			"phoneNumber": {"type": ["string", "null"], "maxLength": 64}
		},
		"required": ["phoneNumber"],
		"additionalProperties": false
	}`

	GeneratePlanJobSchema = `{
		"type": "object",
		"properties": {
			"userInput": {"type": "string"}
		},
		"required": ["userInput"]
	}`
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validator validates documents against one compiled schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles schemaJSON.
func NewValidator(schemaJSON string) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// MustValidator is NewValidator for package-level schemas.
func MustValidator(schemaJSON string) *Validator {
	v, err := NewValidator(schemaJSON)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks a decoded Go value (map, struct) against the schema.
func (v *Validator) Validate(document interface{}) (*ValidationResult, error) {
	return v.validate(gojsonschema.NewGoLoader(document))
}

// ValidateJSON checks raw JSON bytes against the schema.
func (v *Validator) ValidateJSON(raw []byte) (*ValidationResult, error) {
	return v.validate(gojsonschema.NewBytesLoader(raw))
}

func (v *Validator) validate(loader gojsonschema.JSONLoader) (*ValidationResult, error) {
	result, err := v.schema.Validate(loader)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out, nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}
