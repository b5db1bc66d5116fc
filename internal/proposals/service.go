// internal/proposals/service.go

// Package proposals manages the pricing snapshots attached to a deal. Drafts
// are recomputed on every edit; finalizing freezes a proposal exactly once
// and promotes it to the deal's active proposal.
package proposals

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"solar-salesops/internal/common/auth"
	"solar-salesops/internal/common/errors"
	"solar-salesops/internal/common/logger"
	"solar-salesops/internal/models"
	"solar-salesops/internal/pricing"
)

type Service struct {
	db   *sql.DB
	calc *pricing.Calculator
	log  logger.Logger
}

func NewService(db *sql.DB, calc *pricing.Calculator, log logger.Logger) *Service {
	return &Service{db: db, calc: calc, log: log}
}

// DraftInput is the editable surface of a proposal. Totals are never part
// of it; they are always derived.
type DraftInput struct {
	BasePPW        decimal.Decimal `json:"basePpw"`
	SystemSizeKw   decimal.Decimal `json:"systemSizeKw"`
	Adders         []models.Adder  `json:"adders"`
	GoalSeek       bool            `json:"goalSeek"`
	GoalSeekTarget decimal.Decimal `json:"goalSeekTarget"`
}

func (in DraftInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.SystemSizeKw, validation.Required, validation.By(positiveDecimal)),
		validation.Field(&in.BasePPW, validation.When(!in.GoalSeek, validation.By(nonNegativeDecimal))),
		validation.Field(&in.GoalSeekTarget, validation.When(in.GoalSeek, validation.Required, validation.By(positiveDecimal))),
		validation.Field(&in.Adders, validation.Each(validation.By(validAdder))),
	)
}

func positiveDecimal(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok || !d.IsPositive() {
		return errValidation("must be positive")
	}
	return nil
}

func nonNegativeDecimal(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok || d.IsNegative() {
		return errValidation("must not be negative")
	}
	return nil
}

func validAdder(value interface{}) error {
	adder, ok := value.(models.Adder)
	if !ok {
		return errValidation("must be an adder")
	}
	if adder.Name == "" {
		return errValidation("adder name is required")
	}
	if !adder.IsDiscount && adder.Total.IsNegative() {
		return errValidation("adder total must not be negative")
	}
	return nil
}

type validationMessage string

func (m validationMessage) Error() string { return string(m) }

func errValidation(msg string) error { return validationMessage(msg) }

// CreateDraft prices the input and stores a new draft proposal.
func (s *Service) CreateDraft(ctx context.Context, dealID uuid.UUID, input DraftInput) (*models.Proposal, error) {
	actor, err := auth.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	if err := s.checkDealAccess(ctx, dealID, actor); err != nil {
		return nil, err
	}

	proposal, err := s.price(dealID, input)
	if err != nil {
		return nil, err
	}

	addersJSON, err := json.Marshal(proposal.Adders)
	if err != nil {
		return nil, errors.NewValidationError("adders are not serializable")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, deal_id, status, base_ppw, system_size_kw, adders,
			goal_seek, goal_seek_target, gross_cost, gross_ppw, net_cost, net_ppw, commission_base,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		proposal.ID, proposal.DealID, proposal.Status,
		proposal.BasePPW.String(), proposal.SystemSizeKw.String(), addersJSON,
		proposal.GoalSeek, proposal.GoalSeekTarget.String(),
		proposal.GrossCost.String(), proposal.GrossPPW.String(),
		proposal.NetCost.String(), proposal.NetPPW.String(), proposal.CommissionBase.String(),
		proposal.CreatedAt)
	if err != nil {
		return nil, errors.NewTransientError("insert proposal", err)
	}

	s.log.Info("proposal draft created", map[string]interface{}{
		"proposal_id": proposal.ID.String(),
		"deal_id":     dealID.String(),
		"gross_cost":  proposal.GrossCost.String(),
		"actor":       actor.ID.String(),
	})
	return proposal, nil
}

// UpdateDraft reprices a draft in place. Finalized proposals are immutable;
// a concurrent finalize wins and the update fails with CONFLICT.
func (s *Service) UpdateDraft(ctx context.Context, proposalID uuid.UUID, input DraftInput) (*models.Proposal, error) {
	actor, err := auth.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	existing, err := s.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDealAccess(ctx, existing.DealID, actor); err != nil {
		return nil, err
	}
	if existing.Status != models.ProposalDraft {
		return nil, errors.NewValidationError("finalized proposals are immutable")
	}

	proposal, err := s.price(existing.DealID, input)
	if err != nil {
		return nil, err
	}
	proposal.ID = proposalID
	proposal.CreatedAt = existing.CreatedAt

	addersJSON, err := json.Marshal(proposal.Adders)
	if err != nil {
		return nil, errors.NewValidationError("adders are not serializable")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET base_ppw = $2, system_size_kw = $3, adders = $4, goal_seek = $5, goal_seek_target = $6,
		    gross_cost = $7, gross_ppw = $8, net_cost = $9, net_ppw = $10, commission_base = $11,
		    updated_at = $12
		WHERE id = $1 AND status = 'draft'`,
		proposalID,
		proposal.BasePPW.String(), proposal.SystemSizeKw.String(), addersJSON,
		proposal.GoalSeek, proposal.GoalSeekTarget.String(),
		proposal.GrossCost.String(), proposal.GrossPPW.String(),
		proposal.NetCost.String(), proposal.NetPPW.String(), proposal.CommissionBase.String(),
		time.Now().UTC())
	if err != nil {
		return nil, errors.NewTransientError("update proposal", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.NewTransientError("update proposal", err)
	}
	if affected == 0 {
		return nil, errors.NewConflictError("proposal")
	}
	return proposal, nil
}

// Finalize freezes a draft and makes it the deal's active proposal. A
// proposal finalizes at most once; racing callers lose with CONFLICT.
func (s *Service) Finalize(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	actor, err := auth.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := s.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDealAccess(ctx, existing.DealID, actor); err != nil {
		return nil, err
	}
	if existing.Status == models.ProposalFinalized {
		return nil, errors.NewValidationError("proposal is already finalized")
	}
	if !existing.GrossCost.IsPositive() {
		return nil, errors.NewValidationError("a zero-value proposal cannot be finalized")
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewTransientError("begin transaction", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE proposals
		SET status = 'finalized', finalized_at = $2, finalized_by = $3, updated_at = $2
		WHERE id = $1 AND status = 'draft'`,
		proposalID, now, actor.ID)
	if err != nil {
		return nil, errors.NewTransientError("finalize proposal", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.NewTransientError("finalize proposal", err)
	}
	if affected == 0 {
		return nil, errors.NewConflictError("proposal")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE deals SET active_proposal_id = $2, updated_at = $3
		WHERE id = $1`,
		existing.DealID, proposalID, now)
	if err != nil {
		return nil, errors.NewTransientError("set active proposal", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewTransientError("commit transaction", err)
	}

	existing.Status = models.ProposalFinalized
	existing.FinalizedAt = &now
	existing.FinalizedBy = &actor.ID
	existing.UpdatedAt = now

	s.log.Info("proposal finalized", map[string]interface{}{
		"proposal_id": proposalID.String(),
		"deal_id":     existing.DealID.String(),
		"gross_cost":  existing.GrossCost.String(),
		"actor":       actor.ID.String(),
	})
	return existing, nil
}

// Get loads one proposal.
func (s *Service) Get(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, deal_id, status, base_ppw, system_size_kw, adders, goal_seek, goal_seek_target,
		       gross_cost, gross_ppw, net_cost, net_ppw, commission_base,
		       finalized_at, finalized_by, created_at, updated_at
		FROM proposals
		WHERE id = $1`, proposalID)

	proposal, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("proposal", proposalID.String())
	}
	if err != nil {
		return nil, err
	}
	return proposal, nil
}

// ListByDeal returns a deal's proposals, newest first.
func (s *Service) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deal_id, status, base_ppw, system_size_kw, adders, goal_seek, goal_seek_target,
		       gross_cost, gross_ppw, net_cost, net_ppw, commission_base,
		       finalized_at, finalized_by, created_at, updated_at
		FROM proposals
		WHERE deal_id = $1
		ORDER BY created_at DESC`, dealID)
	if err != nil {
		return nil, errors.NewTransientError("query proposals", err)
	}
	defer rows.Close()

	var proposals []models.Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *proposal)
	}
	return proposals, rows.Err()
}

// price derives base ppw (via goal seek when requested) and the full totals
// block for one input.
func (s *Service) price(dealID uuid.UUID, input DraftInput) (*models.Proposal, error) {
	basePPW := input.BasePPW
	watts := input.SystemSizeKw.Mul(decimal.NewFromInt(1000))
	addersTotal, discountTotal := pricing.SumAdders(input.Adders)

	if input.GoalSeek {
		solved, ok := pricing.GoalSeekPPW(pricing.GoalSeekInput{
			TargetGross:     input.GoalSeekTarget,
			SystemSizeWatts: watts,
			AddersTotal:     addersTotal,
			TaxRate:         s.calc.TaxRate(),
			DealerFee:       s.calc.DealerFee(),
			DiscountTotal:   discountTotal,
			MinPPW:          s.calc.MinPPW(),
			MaxPPW:          s.calc.MaxPPW(),
		})
		if !ok {
			return nil, errors.NewValidationError("goal seek target is unreachable within ppw bounds")
		}
		basePPW = solved
	}

	totals, err := s.calc.ComputeTotals(basePPW, input.SystemSizeKw, input.Adders)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &models.Proposal{
		ID:             uuid.New(),
		DealID:         dealID,
		Status:         models.ProposalDraft,
		BasePPW:        basePPW,
		SystemSizeKw:   input.SystemSizeKw,
		Adders:         input.Adders,
		GoalSeek:       input.GoalSeek,
		GoalSeekTarget: input.GoalSeekTarget,
		GrossCost:      totals.GrossCost,
		GrossPPW:       totals.GrossPPW,
		NetCost:        totals.NetCost,
		NetPPW:         totals.NetPPW,
		CommissionBase: totals.CommissionBase,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *Service) checkDealAccess(ctx context.Context, dealID uuid.UUID, actor auth.Actor) error {
	var companyID uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		SELECT company_id FROM deals
		WHERE id = $1 AND deleted_at IS NULL`, dealID).Scan(&companyID)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError("deal", dealID.String())
	}
	if err != nil {
		return errors.NewTransientError("load deal", err)
	}
	if companyID != actor.CompanyID {
		return errors.NewUnauthorizedError("deal belongs to another company")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProposal(row rowScanner) (*models.Proposal, error) {
	var (
		p          models.Proposal
		basePPW    string
		sizeKw     string
		addersJSON []byte
		target     string
		gross      string
		grossPPW   string
		net        string
		netPPW     string
		commission string
	)
	err := row.Scan(&p.ID, &p.DealID, &p.Status, &basePPW, &sizeKw, &addersJSON,
		&p.GoalSeek, &target, &gross, &grossPPW, &net, &netPPW, &commission,
		&p.FinalizedAt, &p.FinalizedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.NewTransientError("scan proposal", err)
	}

	for _, field := range []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{basePPW, &p.BasePPW}, {sizeKw, &p.SystemSizeKw}, {target, &p.GoalSeekTarget},
		{gross, &p.GrossCost}, {grossPPW, &p.GrossPPW},
		{net, &p.NetCost}, {netPPW, &p.NetPPW}, {commission, &p.CommissionBase},
	} {
		d, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, errors.NewTransientError("parse proposal decimal", err)
		}
		*field.dest = d
	}

	if len(addersJSON) > 0 {
		if err := json.Unmarshal(addersJSON, &p.Adders); err != nil {
			return nil, errors.NewTransientError("decode proposal adders", err)
		}
	}
	return &p, nil
}
