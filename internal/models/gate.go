// internal/models/gate.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GateType classifies how a gate's completion is determined.
type GateType string

const (
	// Derived automatically from related entity state; never user-editable.
	GateDocumentSigned  GateType = "document_signed"
	GateFinancingStatus GateType = "financing_status"
	GateFileUploaded    GateType = "file_uploaded"

	// Satisfied by an explicit completion record.
	GateCheckbox       GateType = "checkbox"
	GateExternalStatus GateType = "external_status"
	GateQuestion       GateType = "question"
)

// IsAuto reports whether the gate type is derived from other entities and
// therefore cannot be completed or uncompleted by hand.
func (t GateType) IsAuto() bool {
	switch t {
	case GateDocumentSigned, GateFinancingStatus, GateFileUploaded:
		return true
	}
	return false
}

// GateDefinition is a tenant-configured requirement tied to a pipeline stage.
// Configuration-owned; immutable from the evaluator's perspective.
type GateDefinition struct {
	ID         uuid.UUID       `json:"id"`
	CompanyID  uuid.UUID       `json:"companyId"`
	Stage      Stage           `json:"stage"`
	Name       string          `json:"name"`
	GateType   GateType        `json:"gateType"`
	IsRequired bool            `json:"isRequired"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
	SortOrder  int             `json:"sortOrder"`
	IsActive   bool            `json:"isActive"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// GateCompletion is the per-deal record of a manually satisfied gate.
// One row per (deal, gate); lazily created on first completion.
type GateCompletion struct {
	ID          uuid.UUID  `json:"id"`
	DealID      uuid.UUID  `json:"dealId"`
	GateID      uuid.UUID  `json:"gateId"`
	IsComplete  bool       `json:"isComplete"`
	Value       string     `json:"value,omitempty"`
	CompletedBy *uuid.UUID `json:"completedBy,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// GateWithStatus is a gate definition joined with its computed completion
// state for one deal at evaluation time.
type GateWithStatus struct {
	Gate        GateDefinition `json:"gate"`
	IsComplete  bool           `json:"isComplete"`
	Value       string         `json:"value,omitempty"`
	CompletedBy *uuid.UUID     `json:"completedBy,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	// Auto marks statuses derived fresh from related entities.
	Auto bool `json:"auto"`
}
