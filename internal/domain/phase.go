package domain

// Phase is one ordered stage in a task's delivery sequence.
type Phase string

const (
	PhaseRequirementRefiner Phase = "requirement_refiner"
	PhaseDesignGuidance     Phase = "design_guidance"
	PhaseBuildGuidance      Phase = "build_guidance"
	PhaseAcceptanceCriteria Phase = "acceptance_criteria"
	PhaseDeployment         Phase = "deployment"
	// PhaseClosed is terminal; no validation is recorded for it.
	PhaseClosed Phase = "closed"
)

var phaseOrder = []Phase{
	PhaseRequirementRefiner,
	PhaseDesignGuidance,
	PhaseBuildGuidance,
	PhaseAcceptanceCriteria,
	PhaseDeployment,
	PhaseClosed,
}

var phaseLabels = map[Phase]string{
	PhaseRequirementRefiner: "Requirements",
	PhaseDesignGuidance:     "Design",
	PhaseBuildGuidance:      "Build",
	PhaseAcceptanceCriteria: "Acceptance",
	PhaseDeployment:         "Deployment",
	PhaseClosed:             "Closed",
}

// Phases returns the full ordered catalog, terminal phase last.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// PhaseIndex returns the catalog position of p.
func PhaseIndex(p Phase) (int, bool) {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i, true
		}
	}
	return -1, false
}

// NextPhase returns the phase after p, or PhaseClosed past the end of the
// catalog. Unknown phases also map to PhaseClosed; callers validate phases
// before using them.
func NextPhase(p Phase) Phase {
	i, ok := PhaseIndex(p)
	if !ok || i >= len(phaseOrder)-1 {
		return PhaseClosed
	}
	return phaseOrder[i+1]
}

// PhaseLabel returns the display label for p, falling back to the raw value.
func PhaseLabel(p Phase) string {
	if label, ok := phaseLabels[p]; ok {
		return label
	}
	return string(p)
}

// ValidPhase reports whether p is in the catalog.
func ValidPhase(p Phase) bool {
	_, ok := PhaseIndex(p)
	return ok
}
