// internal/dealstage/service.go
package dealstage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"solar-salesops/internal/common/auth"
	"solar-salesops/internal/common/errors"
	"solar-salesops/internal/common/logger"
	"solar-salesops/internal/common/metrics"
	"solar-salesops/internal/models"
)

// GateChecker is the gate deck evaluation the stage machine consumes.
type GateChecker interface {
	RequiredGatesPassed(ctx context.Context, dealID uuid.UUID, stage models.Stage) (bool, []string, error)
	SnapshotStage(ctx context.Context, dealID uuid.UUID, stage models.Stage) error
}

type Service struct {
	db    *sql.DB
	gates GateChecker
	log   logger.Logger
}

func NewService(db *sql.DB, gates GateChecker, log logger.Logger) *Service {
	return &Service{db: db, gates: gates, log: log}
}

// Transition moves a deal to targetStage after checking adjacency and the
// target's entry guards. Guard check and stage write share one transaction;
// a concurrent transition on the same deal loses with CONFLICT.
func (s *Service) Transition(ctx context.Context, dealID uuid.UUID, targetStage models.Stage, notes string) error {
	actor, err := auth.FromContext(ctx)
	if err != nil {
		return err
	}
	if !models.IsValidStage(targetStage) {
		return s.reject(targetStage, errors.NewValidationError("unknown stage "+string(targetStage)))
	}
	if coordinatorOnly[targetStage] {
		return s.reject(targetStage, errors.NewStageGuardViolationError(string(targetStage),
			"stage is entered through the submission workflow, not directly"))
	}

	deal, err := s.loadDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if deal.CompanyID != actor.CompanyID {
		return errors.NewUnauthorizedError("deal belongs to another company")
	}

	if err := checkTransition(deal.Stage, targetStage); err != nil {
		return s.reject(targetStage, err)
	}
	if err := s.checkGuards(ctx, deal, targetStage); err != nil {
		return s.reject(targetStage, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := ApplyTransition(ctx, tx, dealID, deal.Stage, targetStage, actor.ID, notes); err != nil {
		return s.reject(targetStage, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewTransientError("commit transaction", err)
	}

	// Freeze the deck the deal just cleared so it stays inspectable once
	// the auto sources move on. Best effort; the transition already stuck.
	if err := s.gates.SnapshotStage(ctx, dealID, deal.Stage); err != nil {
		s.log.WithError(err).Warn("gate snapshot failed after stage transition", map[string]interface{}{
			"deal_id": dealID.String(),
			"stage":   string(deal.Stage),
		})
	}

	s.log.Info("deal stage changed", map[string]interface{}{
		"deal_id":    dealID.String(),
		"from_stage": string(deal.Stage),
		"to_stage":   string(targetStage),
		"actor":      actor.ID.String(),
	})
	return nil
}

// ApplyTransition writes one stage change inside the caller's transaction:
// the optimistic stage flip plus its history row. The caller owns guards
// and commit. Used by Transition and by the submission workflow.
func ApplyTransition(ctx context.Context, tx *sql.Tx, dealID uuid.UUID, from, to models.Stage, changedBy uuid.UUID, notes string) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE deals SET stage = $3, stage_changed_at = $4, updated_at = $4
		WHERE id = $1 AND stage = $2 AND deleted_at IS NULL`,
		dealID, from, to, now)
	if err != nil {
		return errors.NewTransientError("update deal stage", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewTransientError("update deal stage", err)
	}
	if affected == 0 {
		return errors.NewConflictError("deal")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deal_stage_history (id, deal_id, from_stage, to_stage, notes, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), dealID, from, to, notes, changedBy, now)
	if err != nil {
		return errors.NewTransientError("append stage history", err)
	}

	metrics.StageTransitions.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

// checkGuards enforces the entry conditions of the target stage.
func (s *Service) checkGuards(ctx context.Context, deal *models.Deal, targetStage models.Stage) error {
	switch targetStage {
	case models.StageFinancing:
		finalized, err := s.hasFinalizedActiveProposal(ctx, deal)
		if err != nil {
			return err
		}
		if !finalized {
			return errors.NewStageGuardViolationError(string(targetStage), "finalized proposal required")
		}
	case models.StageContracting:
		status, found, err := s.activeFinancingStatus(ctx, deal.ID)
		if err != nil {
			return err
		}
		if !found || !status.IsApprovedForGating() {
			return errors.NewStageGuardViolationError(string(targetStage),
				"financing must be approved or conditionally approved")
		}
	case models.StageSubmissionReady:
		passed, unmet, err := s.gates.RequiredGatesPassed(ctx, deal.ID, models.StagePreIntake)
		if err != nil {
			return err
		}
		if !passed {
			return errors.NewStageGuardViolationError(string(targetStage),
				"required gates incomplete: "+strings.Join(unmet, ", "))
		}
	}
	return nil
}

func (s *Service) hasFinalizedActiveProposal(ctx context.Context, deal *models.Deal) (bool, error) {
	if deal.ActiveProposalID == nil {
		return false, nil
	}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM proposals WHERE id = $1`, *deal.ActiveProposalID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewTransientError("load active proposal", err)
	}
	return status == string(models.ProposalFinalized), nil
}

func (s *Service) activeFinancingStatus(ctx context.Context, dealID uuid.UUID) (models.FinancingStatus, bool, error) {
	var status models.FinancingStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM financing_applications
		WHERE deal_id = $1 AND status NOT IN ('denied', 'cancelled', 'expired')
		ORDER BY created_at DESC
		LIMIT 1`, dealID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewTransientError("query financing status", err)
	}
	return status, true, nil
}

// History returns the deal's stage transitions, oldest first.
func (s *Service) History(ctx context.Context, dealID uuid.UUID) ([]models.DealStageHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deal_id, from_stage, to_stage, notes, changed_by, created_at
		FROM deal_stage_history
		WHERE deal_id = $1
		ORDER BY created_at`, dealID)
	if err != nil {
		return nil, errors.NewTransientError("query stage history", err)
	}
	defer rows.Close()

	var history []models.DealStageHistory
	for rows.Next() {
		var h models.DealStageHistory
		if err := rows.Scan(&h.ID, &h.DealID, &h.FromStage, &h.ToStage, &h.Notes, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, errors.NewTransientError("scan stage history", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *Service) loadDeal(ctx context.Context, dealID uuid.UUID) (*models.Deal, error) {
	var deal models.Deal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, stage, active_proposal_id FROM deals
		WHERE id = $1 AND deleted_at IS NULL`, dealID).
		Scan(&deal.ID, &deal.CompanyID, &deal.Stage, &deal.ActiveProposalID)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("deal", dealID.String())
	}
	if err != nil {
		return nil, errors.NewTransientError("load deal", err)
	}
	return &deal, nil
}

func (s *Service) reject(targetStage models.Stage, err error) error {
	metrics.StageTransitionsRejected.WithLabelValues(string(targetStage), string(errors.CodeOf(err))).Inc()
	return err
}
