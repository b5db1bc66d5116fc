// internal/gates/sources.go
package gates

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"solar-salesops/internal/models"
)

// AttachmentSource lists a deal's live attachments, optionally filtered by
// category. An empty category matches everything.
type AttachmentSource interface {
	ListAttachments(ctx context.Context, dealID uuid.UUID, category string) ([]models.Attachment, error)
}

// EnvelopeSource lists a deal's document envelopes.
type EnvelopeSource interface {
	ListEnvelopes(ctx context.Context, dealID uuid.UUID) ([]models.Envelope, error)
}

// SQLSources serves attachments and envelopes straight from Postgres.
type SQLSources struct {
	db *sql.DB
}

func NewSQLSources(db *sql.DB) *SQLSources {
	return &SQLSources{db: db}
}

func (s *SQLSources) ListAttachments(ctx context.Context, dealID uuid.UUID, category string) ([]models.Attachment, error) {
	query := `
		SELECT id, deal_id, category, file_name, created_at
		FROM attachments
		WHERE deal_id = $1 AND deleted_at IS NULL`
	args := []interface{}{dealID}
	if category != "" {
		query += ` AND category = $2`
		args = append(args, category)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.DealID, &a.Category, &a.FileName, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

func (s *SQLSources) ListEnvelopes(ctx context.Context, dealID uuid.UUID) ([]models.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deal_id, name, status, created_at, updated_at
		FROM document_envelopes
		WHERE deal_id = $1
		ORDER BY created_at`, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to query envelopes: %w", err)
	}
	defer rows.Close()

	var envelopes []models.Envelope
	for rows.Next() {
		var e models.Envelope
		if err := rows.Scan(&e.ID, &e.DealID, &e.Name, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan envelope: %w", err)
		}
		envelopes = append(envelopes, e)
	}
	return envelopes, rows.Err()
}
