package domain

import "testing"

func TestProgressFreshTask(t *testing.T) {
	task := Task{LifecycleState: PhaseRequirementRefiner}
	steps := Progress(task)
	if len(steps) != len(Phases()) {
		t.Fatalf("steps = %d, want %d", len(steps), len(Phases()))
	}
	if steps[0].State != StepActive {
		t.Fatalf("first step = %s, want active", steps[0].State)
	}
	for _, s := range steps[1:] {
		if s.State != StepNotReached {
			t.Fatalf("step %s = %s, want not_reached", s.Phase, s.State)
		}
	}
}

func TestProgressAwaitingValidation(t *testing.T) {
	task := Task{
		LifecycleState: PhaseBuildGuidance,
		SubState:       SubStatePendingValidation,
		PhaseValidations: Ledger{
			PhaseRequirementRefiner: {Status: ValidationApproved},
			PhaseDesignGuidance:     {Status: ValidationApproved},
			PhaseBuildGuidance:      {Status: ValidationPending},
		},
	}
	steps := Progress(task)
	if steps[0].State != StepComplete || steps[1].State != StepComplete {
		t.Fatalf("passed steps = %s/%s", steps[0].State, steps[1].State)
	}
	if steps[2].State != StepAwaiting {
		t.Fatalf("current step = %s, want awaiting_validation", steps[2].State)
	}
}

func TestProgressCarriedPendingBehindPointer(t *testing.T) {
	// A pending entry behind the pointer means the task advanced without
	// that validation being stamped; the strip must show it.
	task := Task{
		LifecycleState: PhaseDesignGuidance,
		SubState:       SubStateInProgress,
		PhaseValidations: Ledger{
			PhaseRequirementRefiner: {Status: ValidationPending},
		},
	}
	steps := Progress(task)
	if steps[0].State != StepCarriedPending {
		t.Fatalf("passed pending step = %s, want carried_pending", steps[0].State)
	}
	if steps[1].State != StepActive {
		t.Fatalf("current step = %s, want active", steps[1].State)
	}
}

func TestProgressRejectedBehindPointer(t *testing.T) {
	task := Task{
		LifecycleState: PhaseBuildGuidance,
		PhaseValidations: Ledger{
			PhaseRequirementRefiner: {Status: ValidationApproved},
			PhaseDesignGuidance:     {Status: ValidationRejected},
		},
	}
	steps := Progress(task)
	if steps[1].State != StepRejected {
		t.Fatalf("rejected step = %s", steps[1].State)
	}
}

func TestProgressClosedTask(t *testing.T) {
	task := Task{
		LifecycleState: PhaseClosed,
		SubState:       SubStateApproved,
		PhaseValidations: Ledger{
			PhaseRequirementRefiner: {Status: ValidationApproved},
			PhaseDesignGuidance:     {Status: ValidationApproved},
			PhaseBuildGuidance:      {Status: ValidationApproved},
			PhaseAcceptanceCriteria: {Status: ValidationApproved},
			PhaseDeployment:         {Status: ValidationApproved},
		},
	}
	steps := Progress(task)
	for _, s := range steps[:len(steps)-1] {
		if s.State != StepComplete {
			t.Fatalf("step %s = %s, want complete", s.Phase, s.State)
		}
	}
	if steps[len(steps)-1].State != StepActive {
		t.Fatalf("closed step = %s", steps[len(steps)-1].State)
	}
}

func TestHasOpenIssue(t *testing.T) {
	var task Task
	if task.HasOpenIssue() {
		t.Fatal("empty log should have no open issue")
	}
	task.Issues = "[2024-01-01T00:00:00Z] Broken build (reported by Dana Fields)"
	if !task.HasOpenIssue() {
		t.Fatal("unresolved report should read as open")
	}
	task.Issues += "\n\n[2024-01-02T00:00:00Z] RESOLVED by Robin Okafor"
	if task.HasOpenIssue() {
		t.Fatal("resolved tail should read as closed")
	}
	task.Issues += "\n\n[2024-01-03T00:00:00Z] Regression (reported by Dana Fields)"
	if !task.HasOpenIssue() {
		t.Fatal("new report after resolution should reopen")
	}
}

func TestHasOpenIssueIgnoresMarkerInFreeText(t *testing.T) {
	var task Task
	task.Issues = "[2024-01-01T00:00:00Z] Ticket says RESOLVED by support but it is not (reported by Dana Fields)"
	if !task.HasOpenIssue() {
		t.Fatal("marker phrase inside report text must not close the issue")
	}
	task.Issues += "\n\n[2024-01-02T00:00:00Z] RESOLVED by Robin Okafor"
	if task.HasOpenIssue() {
		t.Fatal("real resolution entry should close the issue")
	}
}

func TestNextPhase(t *testing.T) {
	if got := NextPhase(PhaseRequirementRefiner); got != PhaseDesignGuidance {
		t.Fatalf("next = %s", got)
	}
	if got := NextPhase(PhaseDeployment); got != PhaseClosed {
		t.Fatalf("next = %s", got)
	}
	if got := NextPhase(PhaseClosed); got != PhaseClosed {
		t.Fatalf("next after closed = %s", got)
	}
	if got := NextPhase(Phase("bogus")); got != PhaseClosed {
		t.Fatalf("next for unknown = %s", got)
	}
}

func TestLedgerPendingPhasesOrdered(t *testing.T) {
	l := Ledger{
		PhaseDeployment:         {Status: ValidationPending},
		PhaseRequirementRefiner: {Status: ValidationPending},
		PhaseDesignGuidance:     {Status: ValidationApproved},
	}
	got := l.PendingPhases()
	if len(got) != 2 || got[0] != PhaseRequirementRefiner || got[1] != PhaseDeployment {
		t.Fatalf("pending = %v", got)
	}
}
