// internal/financing/statemachine.go

// Package financing owns the lifecycle of financing applications: which
// status changes are legal, who may record lender decisions, and the
// append-only audit trail behind every change.
package financing

import (
	"solar-salesops/internal/common/errors"
	"solar-salesops/internal/models"
)

// statusTransitions is the fixed adjacency table for application statuses.
// It is the single source of truth consuming UIs use to enable buttons.
var statusTransitions = map[models.FinancingStatus][]models.FinancingStatus{
	models.FinancingDraft: {
		models.FinancingSubmitted,
		models.FinancingCancelled,
		models.FinancingExpired,
	},
	models.FinancingSubmitted: {
		models.FinancingUnderReview,
		models.FinancingCancelled,
		models.FinancingExpired,
	},
	models.FinancingUnderReview: {
		models.FinancingApproved,
		models.FinancingConditionallyApproved,
		models.FinancingDenied,
		models.FinancingCancelled,
		models.FinancingExpired,
	},
	models.FinancingApproved: {
		models.FinancingFunded,
		models.FinancingCancelled,
		models.FinancingExpired,
	},
	models.FinancingConditionallyApproved: {
		models.FinancingFunded,
		models.FinancingCancelled,
		models.FinancingExpired,
	},
	models.FinancingDenied:    {},
	models.FinancingCancelled: {},
	models.FinancingExpired:   {},
	models.FinancingFunded:    {},
}

// NextStatuses returns the legal next statuses from current. Unknown
// statuses return an empty slice.
func NextStatuses(current models.FinancingStatus) []models.FinancingStatus {
	next, ok := statusTransitions[current]
	if !ok {
		return nil
	}
	out := make([]models.FinancingStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to models.FinancingStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition fails with INVALID_TRANSITION when the move is illegal.
func checkTransition(from, to models.FinancingStatus) error {
	if !CanTransition(from, to) {
		return errors.NewInvalidTransitionError(string(from), string(to))
	}
	return nil
}

// isDecisionStatus marks statuses only a lender decision can produce.
func isDecisionStatus(s models.FinancingStatus) bool {
	switch s {
	case models.FinancingApproved, models.FinancingConditionallyApproved,
		models.FinancingDenied, models.FinancingFunded:
		return true
	}
	return false
}
