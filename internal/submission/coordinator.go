// internal/submission/coordinator.go

// Package submission drives the final handoff of a deal to intake review.
// Every checklist item is re-evaluated fresh at call time; cached UI state
// is never trusted.
package submission

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"solar-salesops/internal/common/auth"
	"solar-salesops/internal/common/errors"
	"solar-salesops/internal/common/logger"
	"solar-salesops/internal/common/metrics"
	"solar-salesops/internal/common/notify"
	"solar-salesops/internal/dealstage"
	"solar-salesops/internal/gates"
	"solar-salesops/internal/models"
)

// Attempt statuses recorded in submission history.
const (
	AttemptSubmitted       = "submitted"
	AttemptChecklistFailed = "checklist_failed"
)

// Checklist item names, stable because UIs key on them.
const (
	ItemDesign    = "Design"
	ItemProposal  = "Proposal"
	ItemFinancing = "Financing"
	ItemContracts = "Contracts"
	ItemGates     = "Pre-intake gates"
)

// GateChecker is the slice of gate evaluation the coordinator needs.
type GateChecker interface {
	RequiredGatesPassed(ctx context.Context, dealID uuid.UUID, stage models.Stage) (bool, []string, error)
}

type Coordinator struct {
	db          *sql.DB
	gates       GateChecker
	attachments gates.AttachmentSource
	envelopes   gates.EnvelopeSource
	notifier    *notify.Notifier
	log         logger.Logger
}

func NewCoordinator(db *sql.DB, gateChecker GateChecker, notifier *notify.Notifier, log logger.Logger) *Coordinator {
	sources := gates.NewSQLSources(db)
	return &Coordinator{
		db:          db,
		gates:       gateChecker,
		attachments: sources,
		envelopes:   sources,
		notifier:    notifier,
		log:         log,
	}
}

// NewCoordinatorWithSources injects entity sources, for tests.
func NewCoordinatorWithSources(db *sql.DB, gateChecker GateChecker, attachments gates.AttachmentSource, envelopes gates.EnvelopeSource, notifier *notify.Notifier, log logger.Logger) *Coordinator {
	return &Coordinator{
		db:          db,
		gates:       gateChecker,
		attachments: attachments,
		envelopes:   envelopes,
		notifier:    notifier,
		log:         log,
	}
}

type submissionDeal struct {
	ID           uuid.UUID
	CompanyID    uuid.UUID
	OwnerID      uuid.UUID
	CustomerName string
	Stage        models.Stage
}

// Submit runs the full checklist and, when every item passes, records the
// next attempt and moves the deal to submitted. The checklist, the attempt
// counter and the stage flip commit together; a concurrent duplicate call
// fails with ALREADY_SUBMITTED and records nothing.
func (c *Coordinator) Submit(ctx context.Context, dealID uuid.UUID) (*models.SubmissionResult, error) {
	actor, err := auth.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	deal, err := c.loadDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.CompanyID != actor.CompanyID {
		return nil, errors.NewUnauthorizedError("deal belongs to another company")
	}
	switch deal.Stage {
	case models.StageSubmissionReady:
	case models.StageSubmitted, models.StageIntakeApproved:
		metrics.SubmissionAttempts.WithLabelValues("already_submitted").Inc()
		return nil, errors.NewAlreadySubmittedError(dealID.String())
	default:
		return nil, errors.NewStageGuardViolationError(string(models.StageSubmitted),
			fmt.Sprintf("deal is at %s, not submission_ready", deal.Stage))
	}

	items, err := c.evaluateChecklist(ctx, dealID)
	if err != nil {
		return nil, err
	}

	var failed []string
	for _, item := range items {
		if !item.Passed {
			detail := item.Name
			if item.Detail != "" {
				detail = fmt.Sprintf("%s: %s", item.Name, item.Detail)
			}
			failed = append(failed, detail)
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewTransientError("begin transaction", err)
	}
	defer tx.Rollback()

	attempt, err := c.nextAttempt(ctx, tx, dealID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if len(failed) > 0 {
		// Record the failed try but leave the deal untouched.
		if err := c.insertAttempt(ctx, tx, dealID, attempt, AttemptChecklistFailed, failed, actor.ID, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, errors.NewTransientError("commit transaction", err)
		}
		metrics.SubmissionAttempts.WithLabelValues("checklist_failed").Inc()
		c.log.Info("submission checklist failed", map[string]interface{}{
			"deal_id": dealID.String(),
			"attempt": attempt,
			"failed":  strings.Join(failed, "; "),
		})
		return &models.SubmissionResult{Passed: false, Items: items, Attempt: attempt}, nil
	}

	if err := c.insertAttempt(ctx, tx, dealID, attempt, AttemptSubmitted, nil, actor.ID, now); err != nil {
		return nil, err
	}

	err = dealstage.ApplyTransition(ctx, tx, dealID, models.StageSubmissionReady, models.StageSubmitted,
		actor.ID, fmt.Sprintf("submission attempt %d", attempt))
	if errors.IsCode(err, errors.ErrCodeConflict) {
		// The deal left submission_ready under us; a duplicate call won.
		metrics.SubmissionAttempts.WithLabelValues("already_submitted").Inc()
		return nil, errors.NewAlreadySubmittedError(dealID.String())
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE deals SET submitted_at = $2, submission_status = $3, rejection_reasons = NULL, updated_at = $2
		WHERE id = $1`,
		dealID, now, AttemptSubmitted)
	if err != nil {
		return nil, errors.NewTransientError("update submission metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewTransientError("commit transaction", err)
	}

	metrics.SubmissionAttempts.WithLabelValues("submitted").Inc()
	c.log.Info("deal submitted", map[string]interface{}{
		"deal_id": dealID.String(),
		"attempt": attempt,
		"actor":   actor.ID.String(),
	})
	return &models.SubmissionResult{Passed: true, Items: items, Attempt: attempt}, nil
}

// Decide records the intake outcome for a submitted deal. Rejection needs at
// least one reason; those reasons land on the deal for the resubmission loop.
func (c *Coordinator) Decide(ctx context.Context, dealID uuid.UUID, approved bool, reasons []string) error {
	actor, err := auth.FromContext(ctx)
	if err != nil {
		return err
	}
	if !actor.CanDecideIntake() {
		return errors.NewUnauthorizedError("intake decisions require manager role")
	}
	if !approved && len(reasons) == 0 {
		return errors.NewValidationError("at least one rejection reason is required")
	}

	deal, err := c.loadDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if deal.CompanyID != actor.CompanyID {
		return errors.NewUnauthorizedError("deal belongs to another company")
	}
	if deal.Stage != models.StageSubmitted {
		return errors.NewStageGuardViolationError(string(models.StageIntakeApproved),
			fmt.Sprintf("deal is at %s, not submitted", deal.Stage))
	}

	target := models.StageIntakeApproved
	status := "intake_approved"
	if !approved {
		target = models.StageIntakeRejected
		status = "intake_rejected"
	}

	now := time.Now().UTC()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := dealstage.ApplyTransition(ctx, tx, dealID, models.StageSubmitted, target, actor.ID, strings.Join(reasons, "; ")); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE deals SET submission_status = $2, rejection_reasons = $3, updated_at = $4
		WHERE id = $1`,
		dealID, status, pq.Array(reasons), now)
	if err != nil {
		return errors.NewTransientError("update submission metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransientError("commit transaction", err)
	}

	c.log.Info("intake decision recorded", map[string]interface{}{
		"deal_id":  dealID.String(),
		"approved": approved,
		"actor":    actor.ID.String(),
	})
	c.notifyDecision(ctx, deal, approved, reasons)
	return nil
}

// History returns the deal's submission attempts, newest first.
func (c *Coordinator) History(ctx context.Context, dealID uuid.UUID) ([]models.SubmissionAttempt, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, deal_id, submission_attempt, status, failed_items, submitted_by, created_at
		FROM submission_attempts
		WHERE deal_id = $1
		ORDER BY submission_attempt DESC`, dealID)
	if err != nil {
		return nil, errors.NewTransientError("query submission history", err)
	}
	defer rows.Close()

	var attempts []models.SubmissionAttempt
	for rows.Next() {
		var a models.SubmissionAttempt
		if err := rows.Scan(&a.ID, &a.DealID, &a.SubmissionAttempt, &a.Status,
			pq.Array(&a.FailedItems), &a.SubmittedBy, &a.CreatedAt); err != nil {
			return nil, errors.NewTransientError("scan submission attempt", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// evaluateChecklist recomputes the five submission items from live state.
func (c *Coordinator) evaluateChecklist(ctx context.Context, dealID uuid.UUID) ([]models.ChecklistItem, error) {
	items := make([]models.ChecklistItem, 0, 5)

	designs, err := c.attachments.ListAttachments(ctx, dealID, "design")
	if err != nil {
		return nil, errors.NewTransientError("list design attachments", err)
	}
	items = append(items, models.ChecklistItem{
		Name:   ItemDesign,
		Passed: len(designs) > 0,
		Detail: fmt.Sprintf("%d design file(s)", len(designs)),
	})

	grossPositive, err := c.activeProposalHasValue(ctx, dealID)
	if err != nil {
		return nil, err
	}
	items = append(items, models.ChecklistItem{
		Name:   ItemProposal,
		Passed: grossPositive,
		Detail: map[bool]string{true: "finalized with positive value", false: "no finalized proposal with positive value"}[grossPositive],
	})

	hasFinancing, err := c.hasActiveFinancing(ctx, dealID)
	if err != nil {
		return nil, err
	}
	items = append(items, models.ChecklistItem{
		Name:   ItemFinancing,
		Passed: hasFinancing,
		Detail: map[bool]string{true: "active application present", false: "no active financing application"}[hasFinancing],
	})

	signed, total, err := c.envelopeCounts(ctx, dealID)
	if err != nil {
		return nil, err
	}
	items = append(items, models.ChecklistItem{
		Name:   ItemContracts,
		Passed: total > 0 && signed == total,
		Detail: fmt.Sprintf("%d/%d signed", signed, total),
	})

	passed, unmet, err := c.gates.RequiredGatesPassed(ctx, dealID, models.StagePreIntake)
	if err != nil {
		return nil, err
	}
	items = append(items, models.ChecklistItem{
		Name:   ItemGates,
		Passed: passed,
		Detail: strings.Join(unmet, ", "),
	})

	return items, nil
}

func (c *Coordinator) activeProposalHasValue(ctx context.Context, dealID uuid.UUID) (bool, error) {
	var gross string
	err := c.db.QueryRowContext(ctx, `
		SELECT p.gross_cost FROM proposals p
		JOIN deals d ON d.active_proposal_id = p.id
		WHERE d.id = $1 AND p.status = 'finalized'`, dealID).Scan(&gross)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewTransientError("load active proposal", err)
	}
	value, err := decimal.NewFromString(gross)
	if err != nil {
		return false, errors.NewTransientError("parse proposal value", err)
	}
	return value.IsPositive(), nil
}

func (c *Coordinator) hasActiveFinancing(ctx context.Context, dealID uuid.UUID) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM financing_applications
		WHERE deal_id = $1 AND status NOT IN ('denied', 'cancelled', 'expired')`, dealID).Scan(&count)
	if err != nil {
		return false, errors.NewTransientError("count financing applications", err)
	}
	return count > 0, nil
}

func (c *Coordinator) envelopeCounts(ctx context.Context, dealID uuid.UUID) (signed, total int, err error) {
	envelopes, err := c.envelopes.ListEnvelopes(ctx, dealID)
	if err != nil {
		return 0, 0, errors.NewTransientError("list envelopes", err)
	}
	for _, env := range envelopes {
		if env.Status == models.EnvelopeVoided {
			continue
		}
		total++
		if env.Status == models.EnvelopeSigned {
			signed++
		}
	}
	return signed, total, nil
}

func (c *Coordinator) nextAttempt(ctx context.Context, tx *sql.Tx, dealID uuid.UUID) (int, error) {
	var attempt int
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(submission_attempt), 0) + 1
		FROM submission_attempts
		WHERE deal_id = $1`, dealID).Scan(&attempt)
	if err != nil {
		return 0, errors.NewTransientError("compute attempt counter", err)
	}
	return attempt, nil
}

func (c *Coordinator) insertAttempt(ctx context.Context, tx *sql.Tx, dealID uuid.UUID, attempt int, status string, failed []string, actorID uuid.UUID, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO submission_attempts (id, deal_id, submission_attempt, status, failed_items, submitted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), dealID, attempt, status, pq.Array(failed), actorID, now)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		// Two submits computed the same attempt counter; the unique
		// constraint on (deal_id, submission_attempt) caught the loser.
		return errors.NewConflictError("submission attempt")
	}
	if err != nil {
		return errors.NewTransientError("insert submission attempt", err)
	}
	return nil
}

func (c *Coordinator) loadDeal(ctx context.Context, dealID uuid.UUID) (*submissionDeal, error) {
	var deal submissionDeal
	err := c.db.QueryRowContext(ctx, `
		SELECT id, company_id, owner_id, customer_name, stage FROM deals
		WHERE id = $1 AND deleted_at IS NULL`, dealID).
		Scan(&deal.ID, &deal.CompanyID, &deal.OwnerID, &deal.CustomerName, &deal.Stage)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("deal", dealID.String())
	}
	if err != nil {
		return nil, errors.NewTransientError("load deal", err)
	}
	return &deal, nil
}

// notifyDecision tells the deal owner about the intake outcome. Best effort;
// the decision itself already committed.
func (c *Coordinator) notifyDecision(ctx context.Context, deal *submissionDeal, approved bool, reasons []string) {
	if c.notifier == nil {
		return
	}

	var email, phone sql.NullString
	err := c.db.QueryRowContext(ctx, `
		SELECT email, phone FROM users WHERE id = $1`, deal.OwnerID).Scan(&email, &phone)
	if err != nil {
		c.log.WithError(err).Warn("owner contact lookup failed, skipping notice", map[string]interface{}{
			"deal_id": deal.ID.String(),
		})
		return
	}

	c.notifier.NotifySubmissionDecision(ctx, notify.SubmissionDecision{
		DealID:       deal.ID.String(),
		CustomerName: deal.CustomerName,
		Approved:     approved,
		Reasons:      reasons,
		OwnerEmail:   email.String,
		OwnerPhone:   phone.String,
	})
}
