// internal/models/submission.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionAttempt is one append-only record of a submission try. The
// counter is monotonically increasing per deal and never reused.
type SubmissionAttempt struct {
	ID                uuid.UUID `json:"id"`
	DealID            uuid.UUID `json:"dealId"`
	SubmissionAttempt int       `json:"submissionAttempt"`
	Status            string    `json:"status"`
	FailedItems       []string  `json:"failedItems,omitempty"`
	SubmittedBy       uuid.UUID `json:"submittedBy"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ChecklistItem is one line of the pre-submission compliance checklist.
type ChecklistItem struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// SubmissionResult reports checklist evaluation and, on success, the attempt.
type SubmissionResult struct {
	Passed  bool            `json:"passed"`
	Items   []ChecklistItem `json:"items"`
	Attempt int             `json:"attempt,omitempty"`
}
