package domain

// StepState classifies one catalog phase relative to a task's current
// position. The derivation is pure: identical persisted state always yields
// identical steps.
type StepState string

const (
	StepComplete StepState = "complete"
	// StepCarriedPending marks a passed phase whose validation is still
	// pending, an anomaly the UI must surface rather than hide.
	StepCarriedPending StepState = "carried_pending"
	StepRejected       StepState = "rejected"
	StepAwaiting       StepState = "awaiting_validation"
	StepActive         StepState = "active"
	StepNotReached     StepState = "not_reached"
)

// PhaseProgress is one rendered step of a task's lifecycle strip.
type PhaseProgress struct {
	Phase Phase     `json:"phase"`
	Label string    `json:"label"`
	State StepState `json:"state"`
}

// Progress derives the per-phase display states for a task.
func Progress(t Task) []PhaseProgress {
	current, ok := PhaseIndex(t.LifecycleState)
	if !ok {
		current = 0
	}
	steps := make([]PhaseProgress, 0, len(phaseOrder))
	for i, p := range phaseOrder {
		steps = append(steps, PhaseProgress{
			Phase: p,
			Label: PhaseLabel(p),
			State: stepState(t, p, i, current),
		})
	}
	return steps
}

func stepState(t Task, p Phase, i, current int) StepState {
	v, recorded := t.PhaseValidations[p]
	switch {
	case i < current:
		if recorded && v.Status == ValidationPending {
			return StepCarriedPending
		}
		if recorded && v.Status == ValidationRejected {
			return StepRejected
		}
		return StepComplete
	case i == current:
		if (recorded && v.Status == ValidationPending) || t.SubState == SubStatePendingValidation {
			return StepAwaiting
		}
		return StepActive
	default:
		return StepNotReached
	}
}
