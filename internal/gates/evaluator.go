// internal/gates/evaluator.go

// Package gates evaluates stage gate decks: tenant-configured requirements a
// deal must satisfy before advancing through the pipeline. Auto gates are
// derived fresh from related entities on every evaluation; manual gates read
// their per-deal completion record.
package gates

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"solar-salesops/internal/common/auth"
	"solar-salesops/internal/common/errors"
	"solar-salesops/internal/common/logger"
	"solar-salesops/internal/common/metrics"
	"solar-salesops/internal/models"
)

type Evaluator struct {
	db          *sql.DB
	cache       *StatusCache
	attachments AttachmentSource
	envelopes   EnvelopeSource
	log         logger.Logger
}

// NewEvaluator wires an evaluator onto Postgres with SQL-backed entity
// sources. Cache may be nil; snapshots are then skipped entirely.
func NewEvaluator(db *sql.DB, cache *StatusCache, log logger.Logger) *Evaluator {
	sources := NewSQLSources(db)
	return &Evaluator{
		db:          db,
		cache:       cache,
		attachments: sources,
		envelopes:   sources,
		log:         log,
	}
}

// NewEvaluatorWithSources is the injection point for tests and for callers
// that serve attachments or envelopes from somewhere other than Postgres.
func NewEvaluatorWithSources(db *sql.DB, cache *StatusCache, attachments AttachmentSource, envelopes EnvelopeSource, log logger.Logger) *Evaluator {
	return &Evaluator{
		db:          db,
		cache:       cache,
		attachments: attachments,
		envelopes:   envelopes,
		log:         log,
	}
}

// EvaluateGates computes the live gate deck for the deal's current stage.
func (e *Evaluator) EvaluateGates(ctx context.Context, dealID uuid.UUID) ([]models.GateWithStatus, error) {
	deal, err := e.loadDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	return e.evaluateStage(ctx, deal, deal.Stage)
}

// GetGateStatus returns the gate deck for any stage. Stages strictly behind
// the deal's current stage are served from the snapshot written when the deal
// advanced past them; the current and future stages are always evaluated live.
func (e *Evaluator) GetGateStatus(ctx context.Context, dealID uuid.UUID, stage models.Stage) ([]models.GateWithStatus, error) {
	if !models.IsValidStage(stage) {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown stage %q", stage))
	}

	deal, err := e.loadDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	if models.StepIndex(stage) < models.StepIndex(deal.Stage) {
		statuses, hit, err := e.cache.Get(ctx, dealID, stage)
		if err != nil {
			e.log.WithError(err).Warn("gate snapshot read failed, evaluating live", map[string]interface{}{
				"deal_id": dealID.String(),
				"stage":   string(stage),
			})
		} else if hit {
			metrics.GateEvaluations.WithLabelValues("cache").Inc()
			return statuses, nil
		}
	}

	return e.evaluateStage(ctx, deal, stage)
}

// RequiredGatesPassed evaluates the given stage's deck and returns whether
// every required gate is complete, along with the names of the unmet ones.
func (e *Evaluator) RequiredGatesPassed(ctx context.Context, dealID uuid.UUID, stage models.Stage) (bool, []string, error) {
	deal, err := e.loadDeal(ctx, dealID)
	if err != nil {
		return false, nil, err
	}

	statuses, err := e.evaluateStage(ctx, deal, stage)
	if err != nil {
		return false, nil, err
	}

	var unmet []string
	for _, s := range statuses {
		if s.Gate.IsRequired && !s.IsComplete {
			unmet = append(unmet, s.Gate.Name)
		}
	}
	return len(unmet) == 0, unmet, nil
}

// SnapshotStage evaluates a stage's deck and freezes it in the cache. Called
// when a deal advances so the deck it cleared stays inspectable afterwards.
func (e *Evaluator) SnapshotStage(ctx context.Context, dealID uuid.UUID, stage models.Stage) error {
	deal, err := e.loadDeal(ctx, dealID)
	if err != nil {
		return err
	}
	statuses, err := e.evaluateStage(ctx, deal, stage)
	if err != nil {
		return err
	}
	return e.cache.Set(ctx, dealID, stage, statuses)
}

// CompleteGate records a manual gate as satisfied. Auto gates reject.
func (e *Evaluator) CompleteGate(ctx context.Context, dealID, gateID uuid.UUID, value string) error {
	actor, err := auth.FromContext(ctx)
	if err != nil {
		return err
	}

	deal, err := e.loadDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if deal.CompanyID != actor.CompanyID {
		return errors.NewUnauthorizedError("deal belongs to another company")
	}

	gate, err := e.loadGate(ctx, gateID, deal.CompanyID)
	if err != nil {
		return err
	}
	if gate.GateType.IsAuto() {
		return errors.NewValidationError(
			fmt.Sprintf("gate %q is derived automatically and cannot be completed by hand", gate.Name))
	}
	if gate.GateType == models.GateQuestion {
		if err := validateConditions(gate); err != nil {
			return err
		}
		if err := validateAnswer(gate, value); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	_, err = e.db.ExecContext(ctx, `
		INSERT INTO gate_completions (id, deal_id, gate_id, is_complete, value, completed_by, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5, $6, $6, $6)
		ON CONFLICT (deal_id, gate_id) DO UPDATE SET
			is_complete = TRUE,
			value = EXCLUDED.value,
			completed_by = EXCLUDED.completed_by,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`,
		uuid.New(), dealID, gateID, value, actor.ID, now)
	if err != nil {
		return errors.NewTransientError("complete gate", err)
	}

	e.log.Info("gate completed", map[string]interface{}{
		"deal_id": dealID.String(),
		"gate_id": gateID.String(),
		"gate":    gate.Name,
		"actor":   actor.ID.String(),
	})
	return nil
}

// UncompleteGate clears a manual completion. The row is kept so the audit
// trail of who last touched the gate survives in updated_at.
func (e *Evaluator) UncompleteGate(ctx context.Context, dealID, gateID uuid.UUID) error {
	actor, err := auth.FromContext(ctx)
	if err != nil {
		return err
	}

	deal, err := e.loadDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if deal.CompanyID != actor.CompanyID {
		return errors.NewUnauthorizedError("deal belongs to another company")
	}

	gate, err := e.loadGate(ctx, gateID, deal.CompanyID)
	if err != nil {
		return err
	}
	if gate.GateType.IsAuto() {
		return errors.NewValidationError(
			fmt.Sprintf("gate %q is derived automatically and cannot be uncompleted by hand", gate.Name))
	}

	result, err := e.db.ExecContext(ctx, `
		UPDATE gate_completions
		SET is_complete = FALSE, value = '', completed_by = NULL, completed_at = NULL, updated_at = $3
		WHERE deal_id = $1 AND gate_id = $2`,
		dealID, gateID, time.Now().UTC())
	if err != nil {
		return errors.NewTransientError("uncomplete gate", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewTransientError("uncomplete gate", err)
	}
	if affected == 0 {
		return errors.NewNotFoundError("gate completion", gateID.String())
	}

	e.log.Info("gate completion cleared", map[string]interface{}{
		"deal_id": dealID.String(),
		"gate_id": gateID.String(),
		"gate":    gate.Name,
		"actor":   actor.ID.String(),
	})
	return nil
}

func (e *Evaluator) evaluateStage(ctx context.Context, deal *models.Deal, stage models.Stage) ([]models.GateWithStatus, error) {
	start := time.Now()
	defer func() {
		metrics.GateEvaluationDuration.WithLabelValues("live").Observe(time.Since(start).Seconds())
	}()
	metrics.GateEvaluations.WithLabelValues("live").Inc()

	definitions, err := e.loadDefinitions(ctx, deal.CompanyID, stage)
	if err != nil {
		return nil, err
	}
	completions, err := e.loadCompletions(ctx, deal.ID)
	if err != nil {
		return nil, err
	}

	statuses := make([]models.GateWithStatus, 0, len(definitions))
	for _, gate := range definitions {
		if err := validateConditions(gate); err != nil {
			return nil, err
		}

		status := models.GateWithStatus{Gate: gate, Auto: gate.GateType.IsAuto()}
		switch gate.GateType {
		case models.GateDocumentSigned:
			status.IsComplete, status.Value, err = e.evalDocumentSigned(ctx, deal.ID)
		case models.GateFinancingStatus:
			status.IsComplete, status.Value, err = e.evalFinancingStatus(ctx, deal.ID, gate)
		case models.GateFileUploaded:
			status.IsComplete, status.Value, err = e.evalFileUploaded(ctx, deal.ID, gate)
		default:
			completion, ok := completions[gate.ID]
			if ok {
				status.IsComplete = completion.IsComplete
				status.Value = completion.Value
				status.CompletedBy = completion.CompletedBy
				status.CompletedAt = completion.CompletedAt
			}
			if gate.GateType == models.GateQuestion && status.Value == "" {
				status.IsComplete = false
			}
		}
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// evalDocumentSigned passes when the deal has at least one envelope and every
// non-voided envelope is signed. Voided envelopes are ignored entirely.
func (e *Evaluator) evalDocumentSigned(ctx context.Context, dealID uuid.UUID) (bool, string, error) {
	envelopes, err := e.envelopes.ListEnvelopes(ctx, dealID)
	if err != nil {
		return false, "", errors.NewTransientError("list envelopes", err)
	}

	total, signed := 0, 0
	for _, env := range envelopes {
		if env.Status == models.EnvelopeVoided {
			continue
		}
		total++
		if env.Status == models.EnvelopeSigned {
			signed++
		}
	}
	return total > 0 && signed == total, fmt.Sprintf("%d/%d signed", signed, total), nil
}

func (e *Evaluator) evalFinancingStatus(ctx context.Context, dealID uuid.UUID, gate models.GateDefinition) (bool, string, error) {
	status, found, err := e.activeFinancingStatus(ctx, dealID)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "", nil
	}

	var cond FinancingConditions
	if len(gate.Conditions) > 0 {
		if err := json.Unmarshal(gate.Conditions, &cond); err != nil {
			return false, "", errors.NewValidationError(
				fmt.Sprintf("gate %q: conditions are not valid JSON", gate.Name))
		}
	}

	if len(cond.AcceptedStatuses) == 0 {
		return status.IsApprovedForGating(), string(status), nil
	}
	for _, accepted := range cond.AcceptedStatuses {
		if string(status) == accepted {
			return true, string(status), nil
		}
	}
	return false, string(status), nil
}

func (e *Evaluator) evalFileUploaded(ctx context.Context, dealID uuid.UUID, gate models.GateDefinition) (bool, string, error) {
	var cond FileConditions
	if err := json.Unmarshal(gate.Conditions, &cond); err != nil {
		return false, "", errors.NewValidationError(
			fmt.Sprintf("gate %q: conditions are not valid JSON", gate.Name))
	}

	attachments, err := e.attachments.ListAttachments(ctx, dealID, cond.Category)
	if err != nil {
		return false, "", errors.NewTransientError("list attachments", err)
	}
	return len(attachments) > 0, fmt.Sprintf("%d uploaded", len(attachments)), nil
}

// activeFinancingStatus returns the status of the deal's most recent live
// financing application. Denied, cancelled and expired applications stop
// being the active one; funded stays active for gating.
func (e *Evaluator) activeFinancingStatus(ctx context.Context, dealID uuid.UUID) (models.FinancingStatus, bool, error) {
	var status models.FinancingStatus
	err := e.db.QueryRowContext(ctx, `
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

func (e *Evaluator) loadDeal(ctx context.Context, dealID uuid.UUID) (*models.Deal, error) {
	var deal models.Deal
	err := e.db.QueryRowContext(ctx, `
		SELECT id, company_id, stage FROM deals
		WHERE id = $1 AND deleted_at IS NULL`, dealID).
		Scan(&deal.ID, &deal.CompanyID, &deal.Stage)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("deal", dealID.String())
	}
	if err != nil {
		return nil, errors.NewTransientError("load deal", err)
	}
	return &deal, nil
}

func (e *Evaluator) loadGate(ctx context.Context, gateID, companyID uuid.UUID) (models.GateDefinition, error) {
	var gate models.GateDefinition
	err := e.db.QueryRowContext(ctx, `
		SELECT id, company_id, stage, name, gate_type, is_required, conditions, sort_order, is_active, created_at
		FROM gate_definitions
		WHERE id = $1 AND company_id = $2`, gateID, companyID).
		Scan(&gate.ID, &gate.CompanyID, &gate.Stage, &gate.Name, &gate.GateType,
			&gate.IsRequired, &gate.Conditions, &gate.SortOrder, &gate.IsActive, &gate.CreatedAt)
	if err == sql.ErrNoRows {
		return gate, errors.NewNotFoundError("gate", gateID.String())
	}
	if err != nil {
		return gate, errors.NewTransientError("load gate", err)
	}
	return gate, nil
}

func (e *Evaluator) loadDefinitions(ctx context.Context, companyID uuid.UUID, stage models.Stage) ([]models.GateDefinition, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, company_id, stage, name, gate_type, is_required, conditions, sort_order, is_active, created_at
		FROM gate_definitions
		WHERE company_id = $1 AND stage = $2 AND is_active = TRUE
		ORDER BY sort_order, name`, companyID, stage)
	if err != nil {
		return nil, errors.NewTransientError("load gate definitions", err)
	}
	defer rows.Close()

	var definitions []models.GateDefinition
	for rows.Next() {
		var gate models.GateDefinition
		if err := rows.Scan(&gate.ID, &gate.CompanyID, &gate.Stage, &gate.Name, &gate.GateType,
			&gate.IsRequired, &gate.Conditions, &gate.SortOrder, &gate.IsActive, &gate.CreatedAt); err != nil {
			return nil, errors.NewTransientError("scan gate definition", err)
		}
		definitions = append(definitions, gate)
	}
	return definitions, rows.Err()
}

func (e *Evaluator) loadCompletions(ctx context.Context, dealID uuid.UUID) (map[uuid.UUID]models.GateCompletion, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT gate_id, is_complete, value, completed_by, completed_at
		FROM gate_completions
		WHERE deal_id = $1`, dealID)
	if err != nil {
		return nil, errors.NewTransientError("load gate completions", err)
	}
	defer rows.Close()

	completions := make(map[uuid.UUID]models.GateCompletion)
	for rows.Next() {
		var c models.GateCompletion
		if err := rows.Scan(&c.GateID, &c.IsComplete, &c.Value, &c.CompletedBy, &c.CompletedAt); err != nil {
			return nil, errors.NewTransientError("scan gate completion", err)
		}
		completions[c.GateID] = c
	}
	return completions, rows.Err()
}
