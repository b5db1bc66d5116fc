package gates

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"solar-salesops/internal/models"
)

func TestValidateConditions(t *testing.T) {
	tests := []struct {
		name       string
		gateType   models.GateType
		conditions string
		wantErr    bool
	}{
		{"question with select options", models.GateQuestion, `{"answer_type":"select","options":["good","needs repair"]}`, false},
		{"question with boolean", models.GateQuestion, `{"answer_type":"boolean"}`, false},
		{"question missing answer type", models.GateQuestion, `{}`, true},
		{"question with bad answer type", models.GateQuestion, `{"answer_type":"number"}`, true},
		{"question with empty options", models.GateQuestion, `{"answer_type":"select","options":[]}`, true},
		{"file with category", models.GateFileUploaded, `{"category":"design"}`, false},
		{"file missing category", models.GateFileUploaded, `{}`, true},
		{"file with empty category", models.GateFileUploaded, `{"category":""}`, true},
		{"financing default set", models.GateFinancingStatus, `{}`, false},
		{"financing explicit statuses", models.GateFinancingStatus, `{"accepted_statuses":["approved","funded"]}`, false},
		{"checkbox empty", models.GateCheckbox, ``, false},
		{"document signed empty", models.GateDocumentSigned, `{}`, false},
		{"unknown gate type", models.GateType("mystery"), `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := models.GateDefinition{
				Name:       "test gate",
				GateType:   tt.gateType,
				Conditions: json.RawMessage(tt.conditions),
			}
			err := validateConditions(gate)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAnswer(t *testing.T) {
	tests := []struct {
		name       string
		conditions string
		value      string
		wantErr    bool
	}{
		{"select accepts listed option", `{"answer_type":"select","options":["yes","no"]}`, "yes", false},
		{"select rejects unlisted option", `{"answer_type":"select","options":["yes","no"]}`, "maybe", true},
		{"boolean accepts true", `{"answer_type":"boolean"}`, "true", false},
		{"boolean accepts false", `{"answer_type":"boolean"}`, "false", false},
		{"boolean rejects other values", `{"answer_type":"boolean"}`, "yep", true},
		{"text accepts non empty", `{"answer_type":"text"}`, "south facing roof", false},
		{"text rejects blank", `{"answer_type":"text"}`, "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := models.GateDefinition{
				Name:       "test gate",
				GateType:   models.GateQuestion,
				Conditions: json.RawMessage(tt.conditions),
			}
			err := validateAnswer(gate, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
