// internal/models/deal.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a discrete step in a deal's sales-to-submission pipeline.
type Stage string

const (
	StageNewLead         Stage = "new_lead"
	StageDesignRequested Stage = "design_requested"
	StageDesignComplete  Stage = "design_complete"
	StageProposal        Stage = "proposal"
	StageFinancing       Stage = "financing"
	StageContracting     Stage = "contracting"
	StageWelcomeCall     Stage = "welcome_call"
	StagePreIntake       Stage = "pre_intake"
	StageSubmissionReady Stage = "submission_ready"
	StageSubmitted       Stage = "submitted"
	StageIntakeApproved  Stage = "intake_approved"
	StageIntakeRejected  Stage = "intake_rejected"
)

// StageOrder lists the forward pipeline ordering. The rejection loop
// (intake_rejected -> submission_ready) is the only backward edge and lives
// in the transition table, not here.
var StageOrder = []Stage{
	StageNewLead,
	StageDesignRequested,
	StageDesignComplete,
	StageProposal,
	StageFinancing,
	StageContracting,
	StageWelcomeCall,
	StagePreIntake,
	StageSubmissionReady,
	StageSubmitted,
	StageIntakeApproved,
	StageIntakeRejected,
}

var stageIndex = func() map[Stage]int {
	m := make(map[Stage]int, len(StageOrder))
	for i, s := range StageOrder {
		m[s] = i
	}
	// Both intake outcomes sit at the same step for UI purposes.
	m[StageIntakeRejected] = m[StageIntakeApproved]
	return m
}()

// StepIndex returns the UI step index for a stage, or -1 for unknown stages.
func StepIndex(s Stage) int {
	idx, ok := stageIndex[s]
	if !ok {
		return -1
	}
	return idx
}

// IsValidStage reports whether s is a known pipeline stage.
func IsValidStage(s Stage) bool {
	_, ok := stageIndex[s]
	return ok
}

// Deal is the mutable aggregate for one sales opportunity.
type Deal struct {
	ID               uuid.UUID  `json:"id"`
	CompanyID        uuid.UUID  `json:"companyId"`
	OwnerID          uuid.UUID  `json:"ownerId"`
	CustomerName     string     `json:"customerName"`
	Stage            Stage      `json:"stage"`
	StageChangedAt   time.Time  `json:"stageChangedAt"`
	ActiveProposalID *uuid.UUID `json:"activeProposalId,omitempty"`
	LenderID         *uuid.UUID `json:"lenderId,omitempty"`
	// FinancingStatus is a denormalized cache of the active financing
	// application; the application row is the source of truth.
	FinancingStatus  *FinancingStatus `json:"financingStatus,omitempty"`
	SubmittedAt      *time.Time       `json:"submittedAt,omitempty"`
	SubmissionStatus string           `json:"submissionStatus,omitempty"`
	RejectionReasons []string         `json:"rejectionReasons,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	DeletedAt        *time.Time       `json:"deletedAt,omitempty"`
}

// DealStageHistory is one append-only row per accepted stage transition.
type DealStageHistory struct {
	ID        uuid.UUID `json:"id"`
	DealID    uuid.UUID `json:"dealId"`
	FromStage Stage     `json:"fromStage"`
	ToStage   Stage     `json:"toStage"`
	Notes     string    `json:"notes,omitempty"`
	ChangedBy uuid.UUID `json:"changedBy"`
	CreatedAt time.Time `json:"createdAt"`
}
