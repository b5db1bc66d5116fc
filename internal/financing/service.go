// internal/financing/service.go
package financing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"solar-salesops/internal/common/auth"
	"solar-salesops/internal/common/errors"
	"solar-salesops/internal/common/logger"
	"solar-salesops/internal/common/metrics"
	"solar-salesops/internal/models"
)

type Service struct {
	db  *sql.DB
	log logger.Logger
}

func NewService(db *sql.DB, log logger.Logger) *Service {
	return &Service{db: db, log: log}
}

// CreateApplicationInput names the lender product a deal applies to.
type CreateApplicationInput struct {
	LenderID    uuid.UUID `json:"lenderId"`
	ProductName string    `json:"productName"`
}

func (in CreateApplicationInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.LenderID, validation.Required, validation.By(nonNilUUID)),
		validation.Field(&in.ProductName, validation.Required, validation.Length(1, 200)),
	)
}

// UpdateStatusInput carries one requested status change, with the decision
// terms that accompany lender responses.
type UpdateStatusInput struct {
	Status             models.FinancingStatus `json:"status"`
	Notes              string                 `json:"notes,omitempty"`
	ApprovedAmount     *decimal.Decimal       `json:"approvedAmount,omitempty"`
	ApprovedRate       *decimal.Decimal       `json:"approvedRate,omitempty"`
	ApprovedTermMonths *int                   `json:"approvedTermMonths,omitempty"`
	Conditions         string                 `json:"conditions,omitempty"`
	DenialReason       string                 `json:"denialReason,omitempty"`
}

func (in UpdateStatusInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Status, validation.Required),
		validation.Field(&in.ApprovedAmount, validation.By(nonNegativeDecimal)),
		validation.Field(&in.ApprovedRate, validation.By(nonNegativeDecimal)),
		validation.Field(&in.ApprovedTermMonths, validation.Min(0)),
		validation.Field(&in.Notes, validation.Length(0, 2000)),
		validation.Field(&in.DenialReason, validation.Length(0, 2000)),
	)
}

func nonNilUUID(value interface{}) error {
	id, _ := value.(uuid.UUID)
	if id == uuid.Nil {
		return fmt.Errorf("must be a non-zero id")
	}
	return nil
}

func nonNegativeDecimal(value interface{}) error {
	d, ok := value.(*decimal.Decimal)
	if !ok || d == nil {
		return nil
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

// CreateApplication opens a draft application for a deal and refreshes the
// deal's denormalized lender fields.
func (s *Service) CreateApplication(ctx context.Context, dealID uuid.UUID, input CreateApplicationInput) (*models.FinancingApplication, error) {
	actor, err := auth.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	var companyID uuid.UUID
	err = s.db.QueryRowContext(ctx, `
		SELECT company_id FROM deals
		WHERE id = $1 AND deleted_at IS NULL`, dealID).Scan(&companyID)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("deal", dealID.String())
	}
	if err != nil {
		return nil, errors.NewTransientError("load deal", err)
	}
	if companyID != actor.CompanyID {
		return nil, errors.NewUnauthorizedError("deal belongs to another company")
	}

	app := &models.FinancingApplication{
		ID:          uuid.New(),
		DealID:      dealID,
		LenderID:    input.LenderID,
		ProductName: input.ProductName,
		Status:      models.FinancingDraft,
		CreatedAt:   time.Now().UTC(),
	}
	app.UpdatedAt = app.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewTransientError("begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO financing_applications (id, deal_id, lender_id, product_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		app.ID, app.DealID, app.LenderID, app.ProductName, app.Status, app.CreatedAt)
	if err != nil {
		return nil, errors.NewTransientError("insert application", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE deals SET lender_id = $2, financing_status = $3, updated_at = $4
		WHERE id = $1`,
		dealID, app.LenderID, app.Status, app.CreatedAt)
	if err != nil {
		return nil, errors.NewTransientError("refresh deal financing fields", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewTransientError("commit transaction", err)
	}

	s.log.Info("financing application created", map[string]interface{}{
		"application_id": app.ID.String(),
		"deal_id":        dealID.String(),
		"lender_id":      input.LenderID.String(),
		"actor":          actor.ID.String(),
	})
	return app, nil
}

// UpdateStatus applies one status transition. The guard check, the status
// write, the history append and the deal refresh commit together; a
// concurrent transition on the same application loses with CONFLICT.
func (s *Service) UpdateStatus(ctx context.Context, appID uuid.UUID, input UpdateStatusInput) (*models.FinancingApplication, error) {
	actor, err := auth.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	app, companyID, err := s.loadApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if companyID != actor.CompanyID {
		return nil, errors.NewUnauthorizedError("financing application belongs to another company")
	}

	if err := checkTransition(app.Status, input.Status); err != nil {
		return nil, err
	}
	if isDecisionStatus(input.Status) && !actor.CanDecideFinancing() {
		return nil, errors.NewUnauthorizedError("recording lender decisions requires manager role")
	}
	if input.Status == models.FinancingDenied && input.DenialReason == "" {
		return nil, errors.NewValidationError("a denial reason is required when denying an application")
	}

	now := time.Now().UTC()
	updated := *app
	updated.Status = input.Status
	updated.UpdatedAt = now
	if input.Status == models.FinancingSubmitted {
		updated.SubmittedAt = &now
	}
	switch input.Status {
	case models.FinancingApproved, models.FinancingConditionallyApproved:
		updated.ApprovedAmount = input.ApprovedAmount
		updated.ApprovedRate = input.ApprovedRate
		updated.ApprovedTermMonths = input.ApprovedTermMonths
		updated.Conditions = input.Conditions
		updated.DecisionAt = &now
	case models.FinancingDenied:
		updated.DenialReason = input.DenialReason
		updated.DecisionAt = &now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewTransientError("begin transaction", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE financing_applications
		SET status = $3, approved_amount = $4, approved_rate = $5, approved_term_months = $6,
		    conditions = $7, denial_reason = $8, submitted_at = $9, decision_at = $10, updated_at = $11
		WHERE id = $1 AND status = $2`,
		appID, app.Status, updated.Status,
		decimalOrNil(updated.ApprovedAmount), decimalOrNil(updated.ApprovedRate), updated.ApprovedTermMonths,
		updated.Conditions, updated.DenialReason, updated.SubmittedAt, updated.DecisionAt, now)
	if err != nil {
		return nil, errors.NewTransientError("update application status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.NewTransientError("update application status", err)
	}
	if affected == 0 {
		// Someone else moved the application first.
		return nil, errors.NewConflictError("financing application")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO financing_status_history (id, application_id, from_status, to_status, notes, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), appID, app.Status, updated.Status, input.Notes, actor.ID, now)
	if err != nil {
		return nil, errors.NewTransientError("append status history", err)
	}

	// The deal caches the status of its active (most recent non-terminal)
	// application. Re-derive it rather than assuming the moved application
	// is the active one; cancelling a superseded application must not
	// clobber the live status.
	_, err = tx.ExecContext(ctx, `
		UPDATE deals SET financing_status = (
			SELECT status FROM financing_applications
			WHERE deal_id = $1 AND status NOT IN ('denied', 'cancelled', 'expired')
			ORDER BY created_at DESC
			LIMIT 1
		), updated_at = $2
		WHERE id = $1`,
		app.DealID, now)
	if err != nil {
		return nil, errors.NewTransientError("refresh deal financing fields", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewTransientError("commit transaction", err)
	}

	metrics.FinancingTransitions.WithLabelValues(string(app.Status), string(updated.Status)).Inc()
	s.log.Info("financing status updated", map[string]interface{}{
		"application_id": appID.String(),
		"deal_id":        app.DealID.String(),
		"from_status":    string(app.Status),
		"to_status":      string(updated.Status),
		"actor":          actor.ID.String(),
	})
	return &updated, nil
}

// History returns the append-only status audit log, oldest first.
func (s *Service) History(ctx context.Context, appID uuid.UUID) ([]models.FinancingStatusHistory, error) {
	actor, err := auth.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	_, companyID, err := s.loadApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if companyID != actor.CompanyID {
		return nil, errors.NewUnauthorizedError("financing application belongs to another company")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, from_status, to_status, notes, changed_by, created_at
		FROM financing_status_history
		WHERE application_id = $1
		ORDER BY created_at`, appID)
	if err != nil {
		return nil, errors.NewTransientError("query status history", err)
	}
	defer rows.Close()

	var history []models.FinancingStatusHistory
	for rows.Next() {
		var h models.FinancingStatusHistory
		if err := rows.Scan(&h.ID, &h.ApplicationID, &h.FromStatus, &h.ToStatus, &h.Notes, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, errors.NewTransientError("scan status history", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// loadApplication resolves the application together with the owning deal's
// company so callers can enforce tenant isolation.
func (s *Service) loadApplication(ctx context.Context, appID uuid.UUID) (*models.FinancingApplication, uuid.UUID, error) {
	var (
		app            models.FinancingApplication
		companyID      uuid.UUID
		approvedAmount sql.NullString
		approvedRate   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.deal_id, a.lender_id, a.product_name, a.status, a.approved_amount, a.approved_rate,
		       a.approved_term_months, a.conditions, a.denial_reason, a.submitted_at, a.decision_at, a.created_at, a.updated_at,
		       d.company_id
		FROM financing_applications a
		JOIN deals d ON d.id = a.deal_id
		WHERE a.id = $1`, appID).
		Scan(&app.ID, &app.DealID, &app.LenderID, &app.ProductName, &app.Status,
			&approvedAmount, &approvedRate, &app.ApprovedTermMonths,
			&app.Conditions, &app.DenialReason, &app.SubmittedAt, &app.DecisionAt,
			&app.CreatedAt, &app.UpdatedAt, &companyID)
	if err == sql.ErrNoRows {
		return nil, uuid.Nil, errors.NewNotFoundError("financing application", appID.String())
	}
	if err != nil {
		return nil, uuid.Nil, errors.NewTransientError("load application", err)
	}

	if approvedAmount.Valid {
		d, err := decimal.NewFromString(approvedAmount.String)
		if err != nil {
			return nil, uuid.Nil, errors.NewTransientError("parse approved amount", err)
		}
		app.ApprovedAmount = &d
	}
	if approvedRate.Valid {
		d, err := decimal.NewFromString(approvedRate.String)
		if err != nil {
			return nil, uuid.Nil, errors.NewTransientError("parse approved rate", err)
		}
		app.ApprovedRate = &d
	}
	return &app, companyID, nil
}

func decimalOrNil(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
