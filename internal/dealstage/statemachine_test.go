package dealstage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"solar-salesops/internal/models"
)

func TestNextStages(t *testing.T) {
	tests := []struct {
		name     string
		current  models.Stage
		expected []models.Stage
	}{
		{"new lead", models.StageNewLead, []models.Stage{models.StageDesignRequested}},
		{"design requested", models.StageDesignRequested, []models.Stage{models.StageDesignComplete}},
		{"design complete", models.StageDesignComplete, []models.Stage{models.StageProposal}},
		{"proposal", models.StageProposal, []models.Stage{models.StageFinancing}},
		{"financing", models.StageFinancing, []models.Stage{models.StageContracting}},
		{"contracting can skip welcome call", models.StageContracting, []models.Stage{models.StageWelcomeCall, models.StagePreIntake}},
		{"welcome call", models.StageWelcomeCall, []models.Stage{models.StagePreIntake}},
		{"pre intake", models.StagePreIntake, []models.Stage{models.StageSubmissionReady}},
		{"submission ready", models.StageSubmissionReady, []models.Stage{models.StageSubmitted}},
		{"submitted splits on intake decision", models.StageSubmitted, []models.Stage{models.StageIntakeApproved, models.StageIntakeRejected}},
		{"intake approved is terminal", models.StageIntakeApproved, []models.Stage{}},
		{"intake rejected loops back", models.StageIntakeRejected, []models.Stage{models.StageSubmissionReady}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.expected, NextStages(tt.current))
		})
	}
}

func TestCanTransition_NoSkippingForward(t *testing.T) {
	// Multi-step jumps are never legal, in either direction.
	assert.False(t, CanTransition(models.StageNewLead, models.StageProposal))
	assert.False(t, CanTransition(models.StageProposal, models.StageContracting))
	assert.False(t, CanTransition(models.StageSubmissionReady, models.StageIntakeApproved))
	assert.False(t, CanTransition(models.StagePreIntake, models.StageContracting))
}

func TestCanTransition_RejectionLoopIsOnlyBackwardEdge(t *testing.T) {
	backward := 0
	for from, targets := range stageTransitions {
		for _, to := range targets {
			if models.StepIndex(to) < models.StepIndex(from) {
				backward++
				assert.Equal(t, models.StageIntakeRejected, from)
				assert.Equal(t, models.StageSubmissionReady, to)
			}
		}
	}
	assert.Equal(t, 1, backward)
}

func TestCoordinatorOnlyStages(t *testing.T) {
	assert.True(t, coordinatorOnly[models.StageSubmitted])
	assert.True(t, coordinatorOnly[models.StageIntakeApproved])
	assert.True(t, coordinatorOnly[models.StageIntakeRejected])
	assert.False(t, coordinatorOnly[models.StageSubmissionReady])
}
