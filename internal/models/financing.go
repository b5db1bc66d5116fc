// internal/models/financing.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FinancingStatus is the state of one financing application.
type FinancingStatus string

const (
	FinancingDraft                 FinancingStatus = "draft"
	FinancingSubmitted             FinancingStatus = "submitted"
	FinancingUnderReview           FinancingStatus = "under_review"
	FinancingApproved              FinancingStatus = "approved"
	FinancingConditionallyApproved FinancingStatus = "conditionally_approved"
	FinancingDenied                FinancingStatus = "denied"
	FinancingFunded                FinancingStatus = "funded"
	FinancingCancelled             FinancingStatus = "cancelled"
	FinancingExpired               FinancingStatus = "expired"
)

// IsTerminal reports whether no further transitions are possible.
func (s FinancingStatus) IsTerminal() bool {
	switch s {
	case FinancingDenied, FinancingCancelled, FinancingExpired, FinancingFunded:
		return true
	}
	return false
}

// IsApprovedForGating reports whether the status satisfies financing-related
// stage guards and gates.
func (s FinancingStatus) IsApprovedForGating() bool {
	switch s {
	case FinancingApproved, FinancingConditionallyApproved, FinancingFunded:
		return true
	}
	return false
}

// FinancingApplication is one application of a deal to one lender product.
type FinancingApplication struct {
	ID                 uuid.UUID        `json:"id"`
	DealID             uuid.UUID        `json:"dealId"`
	LenderID           uuid.UUID        `json:"lenderId"`
	ProductName        string           `json:"productName"`
	Status             FinancingStatus  `json:"status"`
	ApprovedAmount     *decimal.Decimal `json:"approvedAmount,omitempty"`
	ApprovedRate       *decimal.Decimal `json:"approvedRate,omitempty"`
	ApprovedTermMonths *int             `json:"approvedTermMonths,omitempty"`
	DenialReason       string           `json:"denialReason,omitempty"`
	Conditions         string           `json:"conditions,omitempty"`
	SubmittedAt        *time.Time       `json:"submittedAt,omitempty"`
	DecisionAt         *time.Time       `json:"decisionAt,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// FinancingStatusHistory is the append-only audit log of status changes.
type FinancingStatusHistory struct {
	ID            uuid.UUID       `json:"id"`
	ApplicationID uuid.UUID       `json:"applicationId"`
	FromStatus    FinancingStatus `json:"fromStatus"`
	ToStatus      FinancingStatus `json:"toStatus"`
	Notes         string          `json:"notes,omitempty"`
	ChangedBy     uuid.UUID       `json:"changedBy"`
	CreatedAt     time.Time       `json:"createdAt"`
}
