// internal/gates/conditions.go
package gates

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"solar-salesops/internal/common/errors"
	"solar-salesops/internal/models"
)

// AnswerType constrains how a question gate may be answered.
const (
	AnswerSelect  = "select"
	AnswerBoolean = "boolean"
	AnswerText    = "text"
)

// QuestionConditions is the parsed conditions payload for question gates.
type QuestionConditions struct {
	AnswerType string   `json:"answer_type"`
	Options    []string `json:"options,omitempty"`
}

// FileConditions is the parsed conditions payload for file_uploaded gates.
type FileConditions struct {
	Category string `json:"category"`
}

// FinancingConditions is the parsed conditions payload for financing gates.
// An empty AcceptedStatuses list means the default approved set.
type FinancingConditions struct {
	AcceptedStatuses []string `json:"accepted_statuses,omitempty"`
}

// conditionSchemas validates tenant-configured gate conditions per type.
// Gate definitions are configuration-owned; a payload that fails its schema
// is a config error surfaced to the operator, never a silent pass.
var conditionSchemas = map[models.GateType]*gojsonschema.Schema{}

func init() {
	raw := map[models.GateType]string{
		models.GateQuestion: `{
			"type": "object",
			"properties": {
				"answer_type": {"type": "string", "enum": ["select", "boolean", "text"]},
				"options": {"type": "array", "items": {"type": "string"}, "minItems": 1}
			},
			"required": ["answer_type"]
		}`,
		models.GateFileUploaded: `{
			"type": "object",
			"properties": {
				"category": {"type": "string", "minLength": 1}
			},
			"required": ["category"]
		}`,
		models.GateFinancingStatus: `{
			"type": "object",
			"properties": {
				"accepted_statuses": {"type": "array", "items": {"type": "string"}}
			}
		}`,
		models.GateDocumentSigned: `{"type": "object"}`,
		models.GateCheckbox:       `{"type": "object"}`,
		models.GateExternalStatus: `{"type": "object"}`,
	}

	for gateType, schemaJSON := range raw {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
		if err != nil {
			panic(fmt.Sprintf("gate condition schema for %s: %v", gateType, err))
		}
		conditionSchemas[gateType] = schema
	}
}

// validateConditions checks a gate definition's conditions payload against
// the schema for its type.
func validateConditions(gate models.GateDefinition) error {
	schema, ok := conditionSchemas[gate.GateType]
	if !ok {
		return errors.NewValidationError(
			fmt.Sprintf("gate %q: unknown gate type %q", gate.Name, gate.GateType))
	}

	conditions := gate.Conditions
	if len(conditions) == 0 {
		conditions = json.RawMessage(`{}`)
	}

	// question gates must always carry an answer_type.
	result, err := schema.Validate(gojsonschema.NewBytesLoader(conditions))
	if err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("gate %q: conditions are not valid JSON: %v", gate.Name, err))
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return errors.NewValidationError(
			fmt.Sprintf("gate %q: invalid conditions: %s", gate.Name, strings.Join(details, "; ")))
	}
	return nil
}

// validateAnswer checks a question answer against the gate's answer_type.
func validateAnswer(gate models.GateDefinition, value string) error {
	var cond QuestionConditions
	if err := json.Unmarshal(gate.Conditions, &cond); err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("gate %q: conditions are not valid JSON", gate.Name))
	}

	switch cond.AnswerType {
	case AnswerSelect:
		for _, opt := range cond.Options {
			if value == opt {
				return nil
			}
		}
		return errors.NewValidationError(
			fmt.Sprintf("gate %q: answer %q is not one of the configured options", gate.Name, value))
	case AnswerBoolean:
		if value == "true" || value == "false" {
			return nil
		}
		return errors.NewValidationError(
			fmt.Sprintf("gate %q: boolean answer must be true or false", gate.Name))
	case AnswerText:
		if strings.TrimSpace(value) == "" {
			return errors.NewValidationError(
				fmt.Sprintf("gate %q: answer must not be empty", gate.Name))
		}
		return nil
	default:
		return errors.NewValidationError(
			fmt.Sprintf("gate %q: unknown answer type %q", gate.Name, cond.AnswerType))
	}
}
