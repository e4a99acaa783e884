package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"talentops/internal/config"
	"talentops/internal/db"
	"talentops/internal/domain"
	"talentops/internal/engine"
	"talentops/internal/migrate"
	"talentops/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("acme")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	now := eng.Now().UTC().Format(time.RFC3339)
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := eng.Repo.EnsureOrg(ctx, tx, "acme", "Acme", now); err != nil {
		t.Fatalf("ensure org: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for _, p := range []domain.Profile{
		{ID: "emp-1", OrgID: "acme", FullName: "Dana Fields", Role: domain.RoleEmployee, CreatedAt: now},
		{ID: "mgr-1", OrgID: "acme", FullName: "Robin Okafor", Role: domain.RoleManager, CreatedAt: now},
	} {
		if err := eng.Repo.UpsertProfile(ctx, p); err != nil {
			t.Fatalf("seed profile %s: %v", p.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func createTask(t *testing.T, env testEnv) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID:      "acme",
		Title:      "Ship onboarding flow",
		AssignedTo: "emp-1",
		AssignedBy: "mgr-1",
		ActorID:    "mgr-1",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)
	if task.LifecycleState != domain.PhaseRequirementRefiner {
		t.Fatalf("lifecycle = %s, want %s", task.LifecycleState, domain.PhaseRequirementRefiner)
	}
	if task.SubState != domain.SubStateInProgress {
		t.Fatalf("sub_state = %s", task.SubState)
	}
	if task.Status != domain.StatusPending {
		t.Fatalf("status = %s", task.Status)
	}
	if task.Priority != domain.PriorityMedium {
		t.Fatalf("priority = %s", task.Priority)
	}
	if len(task.PhaseValidations) != 0 {
		t.Fatalf("ledger should start empty, got %v", task.PhaseValidations)
	}
}

func TestSubmitThenApproveAdvancesOnePhase(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)

	task, err := env.Engine.SubmitProof(env.Ctx, task.ID, domain.PhaseRequirementRefiner, "https://docs/req", "", "emp-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.SubState != domain.SubStatePendingValidation {
		t.Fatalf("sub_state = %s after submit", task.SubState)
	}
	if task.Status != domain.StatusInProgress {
		t.Fatalf("status = %s after submit", task.Status)
	}
	v := task.PhaseValidations[domain.PhaseRequirementRefiner]
	if v.Status != domain.ValidationPending || v.ProofURL != "https://docs/req" {
		t.Fatalf("ledger entry = %+v", v)
	}

	task, err = env.Engine.Approve(env.Ctx, task.ID, "mgr-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if task.LifecycleState != domain.PhaseDesignGuidance {
		t.Fatalf("lifecycle = %s, want %s", task.LifecycleState, domain.PhaseDesignGuidance)
	}
	if task.SubState != domain.SubStateInProgress {
		t.Fatalf("sub_state = %s after approve", task.SubState)
	}
	v = task.PhaseValidations[domain.PhaseRequirementRefiner]
	if v.Status != domain.ValidationApproved || v.ApprovedAt == "" {
		t.Fatalf("ledger entry after approve = %+v", v)
	}
}

func TestFullWalkToClosureAndTerminalImmutability(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)

	for _, phase := range domain.Phases()[:len(domain.Phases())-1] {
		var err error
		task, err = env.Engine.SubmitProof(env.Ctx, task.ID, phase, "https://proof/"+string(phase), "", "emp-1")
		if err != nil {
			t.Fatalf("submit %s: %v", phase, err)
		}
		task, err = env.Engine.Approve(env.Ctx, task.ID, "mgr-1")
		if err != nil {
			t.Fatalf("approve %s: %v", phase, err)
		}
	}
	if !task.Closed() {
		t.Fatalf("lifecycle = %s, want closed", task.LifecycleState)
	}
	if task.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", task.Status)
	}
	if task.SubState != domain.SubStateApproved {
		t.Fatalf("sub_state = %s", task.SubState)
	}
	for _, phase := range domain.Phases()[:len(domain.Phases())-1] {
		if task.PhaseValidations[phase].Status != domain.ValidationApproved {
			t.Fatalf("phase %s not approved: %+v", phase, task.PhaseValidations[phase])
		}
	}

	if _, err := env.Engine.SubmitProof(env.Ctx, task.ID, domain.PhaseClosed, "u", "", "emp-1"); !errors.Is(err, engine.ErrTaskClosed) {
		t.Fatalf("submit on closed task: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, task.ID, "mgr-1"); !errors.Is(err, engine.ErrTaskClosed) {
		t.Fatalf("approve on closed task: %v", err)
	}
	if _, err := env.Engine.Reject(env.Ctx, task.ID, "mgr-1"); !errors.Is(err, engine.ErrTaskClosed) {
		t.Fatalf("reject on closed task: %v", err)
	}
}

func TestSubmitWrongPhase(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)

	_, err := env.Engine.SubmitProof(env.Ctx, task.ID, domain.PhaseDeployment, "u", "", "emp-1")
	if !errors.Is(err, engine.ErrInvalidPhase) {
		t.Fatalf("wrong phase submit: %v", err)
	}
	_, err = env.Engine.SubmitProof(env.Ctx, task.ID, domain.Phase("shipping"), "u", "", "emp-1")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown phase submit: %v", err)
	}
}

func TestResubmitSamePhaseIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)

	task, err := env.Engine.SubmitProof(env.Ctx, task.ID, domain.PhaseRequirementRefiner, "https://docs/v1", "", "emp-1")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	task, err = env.Engine.SubmitProof(env.Ctx, task.ID, domain.PhaseRequirementRefiner, "https://docs/v2", "", "emp-1")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if task.LifecycleState != domain.PhaseRequirementRefiner {
		t.Fatalf("resubmit moved the phase pointer to %s", task.LifecycleState)
	}
	v := task.PhaseValidations[domain.PhaseRequirementRefiner]
	if v.Status != domain.ValidationPending || v.ProofURL != "https://docs/v2" {
		t.Fatalf("ledger entry after resubmit = %+v", v)
	}
	if got := len(task.PhaseValidations.PendingPhases()); got != 1 {
		t.Fatalf("pending phases = %d, want 1", got)
	}
}

func TestRejectKeepsPhaseAndLedgerEntry(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)

	task, err := env.Engine.SubmitProof(env.Ctx, task.ID, domain.PhaseRequirementRefiner, "https://docs/req", "", "emp-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	task, err = env.Engine.Reject(env.Ctx, task.ID, "mgr-1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if task.LifecycleState != domain.PhaseRequirementRefiner {
		t.Fatalf("reject moved the phase pointer to %s", task.LifecycleState)
	}
	if task.SubState != domain.SubStateInProgress {
		t.Fatalf("sub_state = %s after reject", task.SubState)
	}
	// The ledger entry stays pending after a reject; only the coarse flag
	// resets.
	if task.PhaseValidations[domain.PhaseRequirementRefiner].Status != domain.ValidationPending {
		t.Fatalf("ledger entry = %+v", task.PhaseValidations[domain.PhaseRequirementRefiner])
	}

	if _, err := env.Engine.Reject(env.Ctx, task.ID, "mgr-1"); !errors.Is(err, engine.ErrNotPendingValidation) {
		t.Fatalf("second reject: %v", err)
	}

	// Resubmission re-arms validation and approval advances.
	task, err = env.Engine.SubmitProof(env.Ctx, task.ID, domain.PhaseRequirementRefiner, "https://docs/req-v2", "", "emp-1")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	task, err = env.Engine.Approve(env.Ctx, task.ID, "mgr-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if task.LifecycleState != domain.PhaseDesignGuidance {
		t.Fatalf("lifecycle = %s after approve", task.LifecycleState)
	}
}

func TestApproveWithNothingPending(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)

	if _, err := env.Engine.Approve(env.Ctx, task.ID, "mgr-1"); !errors.Is(err, engine.ErrNothingToApprove) {
		t.Fatalf("approve fresh task: %v", err)
	}

	task, err := env.Engine.SubmitProof(env.Ctx, task.ID, domain.PhaseRequirementRefiner, "u", "", "emp-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, task.ID, "mgr-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// A second approval finds nothing pending and must not advance again.
	if _, err := env.Engine.Approve(env.Ctx, task.ID, "mgr-1"); !errors.Is(err, engine.ErrNothingToApprove) {
		t.Fatalf("second approve: %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LifecycleState != domain.PhaseDesignGuidance {
		t.Fatalf("lifecycle = %s, want %s", got.LifecycleState, domain.PhaseDesignGuidance)
	}
}

func TestConcurrentApproveHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)

	if _, err := env.Engine.SubmitProof(env.Ctx, task.ID, domain.PhaseRequirementRefiner, "https://docs/req", "", "emp-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.Approve(env.Ctx, task.ID, "mgr-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var approved, noop int
	for err := range results {
		switch {
		case err == nil:
			approved++
		case errors.Is(err, engine.ErrNothingToApprove):
			noop++
		default:
			t.Fatalf("unexpected approve error: %v", err)
		}
	}
	// The loser re-reads the advanced task, finds nothing pending and
	// reports the no-op; the phase pointer moves exactly once.
	if approved != 1 || noop != 1 {
		t.Fatalf("approved=%d noop=%d, want 1/1", approved, noop)
	}

	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LifecycleState != domain.PhaseDesignGuidance {
		t.Fatalf("lifecycle = %s, want %s", got.LifecycleState, domain.PhaseDesignGuidance)
	}
	if got.SubState != domain.SubStateInProgress {
		t.Fatalf("sub_state = %s", got.SubState)
	}
	if len(got.PhaseValidations.PendingPhases()) != 0 {
		t.Fatalf("pending phases remain: %v", got.PhaseValidations.PendingPhases())
	}
	v := got.PhaseValidations[domain.PhaseRequirementRefiner]
	if v.Status != domain.ValidationApproved || v.ApprovedAt == "" {
		t.Fatalf("ledger entry = %+v", v)
	}
}

func TestVersionGuardRejectsStaleWrite(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)

	stale, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// A later submit bumps the version; the stale copy must lose.
	if _, err := env.Engine.SubmitProof(env.Ctx, task.ID, domain.PhaseRequirementRefiner, "u", "", "emp-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	stale.SubState = domain.SubStateApproved
	ok, err := env.Engine.Repo.UpdateTaskStateTx(env.Ctx, tx, stale)
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if ok {
		t.Fatalf("stale write was applied")
	}
}

func TestIssueLogIsAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)

	task, err := env.Engine.ReportIssue(env.Ctx, task.ID, "Blocked on credentials", "emp-1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !task.HasOpenIssue() {
		t.Fatalf("expected open issue, log: %q", task.Issues)
	}
	if !strings.Contains(task.Issues, "Blocked on credentials") || !strings.Contains(task.Issues, "Dana Fields") {
		t.Fatalf("issue log = %q", task.Issues)
	}

	task, err = env.Engine.ResolveIssue(env.Ctx, task.ID, "mgr-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if task.HasOpenIssue() {
		t.Fatalf("issue still open after resolve, log: %q", task.Issues)
	}
	if !strings.Contains(task.Issues, "Blocked on credentials") {
		t.Fatalf("resolve erased history: %q", task.Issues)
	}
	if !strings.Contains(task.Issues, domain.ResolvedMarker+" Robin Okafor") {
		t.Fatalf("missing resolution marker: %q", task.Issues)
	}

	// A new report after a resolve reopens the log tail.
	task, err = env.Engine.ReportIssue(env.Ctx, task.ID, "Regression in staging", "emp-1")
	if err != nil {
		t.Fatalf("second report: %v", err)
	}
	if !task.HasOpenIssue() {
		t.Fatalf("expected reopened issue, log: %q", task.Issues)
	}
}

func TestIssueOpsDoNotTouchWorkflowState(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)

	task, err := env.Engine.SubmitProof(env.Ctx, task.ID, domain.PhaseRequirementRefiner, "u", "", "emp-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	task, err = env.Engine.ReportIssue(env.Ctx, task.ID, "Requirements unclear", "emp-1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if task.LifecycleState != domain.PhaseRequirementRefiner || task.SubState != domain.SubStatePendingValidation {
		t.Fatalf("issue report changed workflow state: %s/%s", task.LifecycleState, task.SubState)
	}
}

func TestLegacyPendingValidationWithoutLedgerEntry(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env)

	// Tasks written before the ledger existed can carry the coarse flag
	// alone; approve must still advance them.
	cur, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	cur.SubState = domain.SubStatePendingValidation
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := env.Engine.Repo.UpdateTaskStateTx(env.Ctx, tx, cur); err != nil {
		t.Fatalf("seed legacy state: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := env.Engine.Approve(env.Ctx, task.ID, "mgr-1")
	if err != nil {
		t.Fatalf("approve legacy: %v", err)
	}
	if got.LifecycleState != domain.PhaseDesignGuidance {
		t.Fatalf("lifecycle = %s, want %s", got.LifecycleState, domain.PhaseDesignGuidance)
	}
	if got.SubState != domain.SubStateInProgress {
		t.Fatalf("sub_state = %s", got.SubState)
	}
}
