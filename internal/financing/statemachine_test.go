package financing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"solar-salesops/internal/models"
)

func TestNextStatuses(t *testing.T) {
	tests := []struct {
		name     string
		current  models.FinancingStatus
		expected []models.FinancingStatus
	}{
		{
			name:    "draft",
			current: models.FinancingDraft,
			expected: []models.FinancingStatus{
				models.FinancingSubmitted, models.FinancingCancelled, models.FinancingExpired,
			},
		},
		{
			name:    "submitted",
			current: models.FinancingSubmitted,
			expected: []models.FinancingStatus{
				models.FinancingUnderReview, models.FinancingCancelled, models.FinancingExpired,
			},
		},
		{
			name:    "under review fans out to decisions",
			current: models.FinancingUnderReview,
			expected: []models.FinancingStatus{
				models.FinancingApproved, models.FinancingConditionallyApproved,
				models.FinancingDenied, models.FinancingCancelled, models.FinancingExpired,
			},
		},
		{
			name:    "approved can fund",
			current: models.FinancingApproved,
			expected: []models.FinancingStatus{
				models.FinancingFunded, models.FinancingCancelled, models.FinancingExpired,
			},
		},
		{
			name:    "conditional approval can fund",
			current: models.FinancingConditionallyApproved,
			expected: []models.FinancingStatus{
				models.FinancingFunded, models.FinancingCancelled, models.FinancingExpired,
			},
		},
		{name: "denied is terminal", current: models.FinancingDenied, expected: []models.FinancingStatus{}},
		{name: "cancelled is terminal", current: models.FinancingCancelled, expected: []models.FinancingStatus{}},
		{name: "expired is terminal", current: models.FinancingExpired, expected: []models.FinancingStatus{}},
		{name: "funded is terminal", current: models.FinancingFunded, expected: []models.FinancingStatus{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.expected, NextStatuses(tt.current))
		})
	}
}

func TestNextStatuses_UnknownStatus(t *testing.T) {
	assert.Empty(t, NextStatuses(models.FinancingStatus("mystery")))
}

func TestCanTransition(t *testing.T) {
	// Funding requires an approval first; no shortcut from submitted.
	assert.False(t, CanTransition(models.FinancingSubmitted, models.FinancingFunded))
	assert.True(t, CanTransition(models.FinancingSubmitted, models.FinancingUnderReview))

	// A conditional approval never silently upgrades to full approval.
	assert.False(t, CanTransition(models.FinancingConditionallyApproved, models.FinancingApproved))

	// Nothing leaves a terminal state.
	for _, terminal := range []models.FinancingStatus{
		models.FinancingDenied, models.FinancingCancelled, models.FinancingExpired, models.FinancingFunded,
	} {
		for _, target := range []models.FinancingStatus{
			models.FinancingDraft, models.FinancingSubmitted, models.FinancingUnderReview,
			models.FinancingApproved, models.FinancingFunded,
		} {
			assert.False(t, CanTransition(terminal, target), "%s -> %s must be illegal", terminal, target)
		}
	}
}

func TestTransitionTableMatchesTerminalFlag(t *testing.T) {
	for status, next := range statusTransitions {
		if status.IsTerminal() {
			assert.Empty(t, next, "terminal status %s must have no exits", status)
		} else {
			assert.NotEmpty(t, next, "non-terminal status %s must have exits", status)
		}
	}
}
