// internal/dealstage/statemachine.go

// Package dealstage moves deals through the sales pipeline. Transitions are
// guarded by proposal, financing and gate state; every accepted move appends
// a history row for the activity timeline.
package dealstage

import (
	"solar-salesops/internal/common/errors"
	"solar-salesops/internal/models"
)

// stageTransitions is the pipeline adjacency table. Deals move strictly
// forward; intake_rejected -> submission_ready is the only backward edge.
// The welcome call step is optional, so contracting fans out to both.
var stageTransitions = map[models.Stage][]models.Stage{
	models.StageNewLead:         {models.StageDesignRequested},
	models.StageDesignRequested: {models.StageDesignComplete},
	models.StageDesignComplete:  {models.StageProposal},
	models.StageProposal:        {models.StageFinancing},
	models.StageFinancing:       {models.StageContracting},
	models.StageContracting:     {models.StageWelcomeCall, models.StagePreIntake},
	models.StageWelcomeCall:     {models.StagePreIntake},
	models.StagePreIntake:       {models.StageSubmissionReady},
	models.StageSubmissionReady: {models.StageSubmitted},
	models.StageSubmitted:       {models.StageIntakeApproved, models.StageIntakeRejected},
	models.StageIntakeApproved:  {},
	models.StageIntakeRejected:  {models.StageSubmissionReady},
}

// coordinatorOnly marks stages that only the submission workflow may enter.
var coordinatorOnly = map[models.Stage]bool{
	models.StageSubmitted:      true,
	models.StageIntakeApproved: true,
	models.StageIntakeRejected: true,
}

// NextStages returns the legal next stages from current.
func NextStages(current models.Stage) []models.Stage {
	next, ok := stageTransitions[current]
	if !ok {
		return nil
	}
	out := make([]models.Stage, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether moving from one stage to another is legal.
func CanTransition(from, to models.Stage) bool {
	for _, next := range stageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.Stage) error {
	if !CanTransition(from, to) {
		return errors.NewInvalidTransitionError(string(from), string(to))
	}
	return nil
}
