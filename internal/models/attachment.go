// internal/models/attachment.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is a file linked to a deal. Storage itself is an external
// collaborator; only the category and soft-delete state matter for gating.
type Attachment struct {
	ID        uuid.UUID  `json:"id"`
	DealID    uuid.UUID  `json:"dealId"`
	Category  string     `json:"category"`
	FileName  string     `json:"fileName"`
	CreatedAt time.Time  `json:"createdAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// EnvelopeStatus is the signature state of one document envelope, tracked
// from an external signature provider.
type EnvelopeStatus string

const (
	EnvelopeDraft  EnvelopeStatus = "draft"
	EnvelopeSent   EnvelopeStatus = "sent"
	EnvelopeSigned EnvelopeStatus = "signed"
	EnvelopeVoided EnvelopeStatus = "voided"
)

// Envelope is an external document-signature package linked to a deal.
type Envelope struct {
	ID        uuid.UUID      `json:"id"`
	DealID    uuid.UUID      `json:"dealId"`
	Name      string         `json:"name"`
	Status    EnvelopeStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
