package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"talentops/internal/config"
	"talentops/internal/domain"
	"talentops/internal/events"
	"talentops/internal/repo"
)

// Recoverable outcomes surfaced to callers. None of these abort persistence
// cleanup; they are returned, never panicked.
var (
	// ErrInvalidPhase means the submitted phase does not match the task's
	// current lifecycle state.
	ErrInvalidPhase = errors.New("phase does not match current lifecycle state")
	// ErrTaskClosed means a mutation was attempted on a terminal task.
	ErrTaskClosed = errors.New("task is closed")
	// ErrNothingToApprove is the explicit no-op outcome of approve; it must
	// stay distinguishable from both success and failure.
	ErrNothingToApprove = errors.New("nothing to approve")
	// ErrNotPendingValidation means reject was called without a pending
	// legacy state.
	ErrNotPendingValidation = errors.New("task is not pending validation")
	// ErrConflict means the optimistic version check kept losing; the caller
	// may retry the whole operation.
	ErrConflict = errors.New("task modified concurrently")
)

// Engine drives a task through its lifecycle phases. It is the only writer
// of lifecycle_state, sub_state and phase_validations.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	OrgID       string
	ProjectID   string
	Title       string
	Description string
	AssignedTo  string
	AssignedBy  string
	Priority    string
	DueDate     string
	DueTime     string
	StartDate   string
	ActorID     string
}

// CreateTask inserts a task at the first phase with an empty ledger.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.OrgID == "" {
		return domain.Task{}, errors.New("org is required")
	}
	if opts.ProjectID != "" {
		p, err := e.Repo.GetProject(ctx, opts.ProjectID)
		if err != nil {
			return domain.Task{}, err
		}
		if p.OrgID != opts.OrgID {
			return domain.Task{}, fmt.Errorf("project %s not in org %s", opts.ProjectID, opts.OrgID)
		}
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:               id,
		OrgID:            opts.OrgID,
		ProjectID:        optionalString(opts.ProjectID),
		Title:            opts.Title,
		Description:      opts.Description,
		AssignedTo:       optionalString(opts.AssignedTo),
		AssignedBy:       optionalString(opts.AssignedBy),
		LifecycleState:   domain.Phases()[0],
		SubState:         domain.SubStateInProgress,
		PhaseValidations: domain.Ledger{},
		Status:           domain.StatusPending,
		Priority:         opts.Priority,
		DueDate:          optionalString(opts.DueDate),
		DueTime:          optionalString(opts.DueTime),
		StartDate:        optionalString(opts.StartDate),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.OrgID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title":       t.Title,
		"assigned_to": opts.AssignedTo,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// SubmitProof records evidence for the task's current phase and flips the
// legacy sub-state to pending_validation.
func (e Engine) SubmitProof(ctx context.Context, taskID string, phase domain.Phase, proofURL, proofText, actorID string) (domain.Task, error) {
	if !domain.ValidPhase(phase) {
		return domain.Task{}, fmt.Errorf("phase %s: %w", phase, repo.ErrNotFound)
	}
	return e.mutateTask(ctx, taskID, actorID, func(t *domain.Task) (string, events.EventPayload, error) {
		if t.Closed() {
			return "", nil, ErrTaskClosed
		}
		if phase != t.LifecycleState {
			return "", nil, fmt.Errorf("submit for %s while task is at %s: %w", phase, t.LifecycleState, ErrInvalidPhase)
		}
		v := t.PhaseValidations[phase]
		v.Status = domain.ValidationPending
		if proofURL != "" {
			v.ProofURL = proofURL
		}
		if proofText != "" {
			v.ProofText = proofText
		}
		v.SubmittedAt = e.now().UTC().Format(time.RFC3339)
		if t.PhaseValidations == nil {
			t.PhaseValidations = domain.Ledger{}
		}
		t.PhaseValidations[phase] = v
		t.SubState = domain.SubStatePendingValidation
		if proofURL != "" {
			// Legacy column mirrors the latest submission.
			t.ProofURL = &proofURL
		}
		if t.Status == domain.StatusPending {
			t.Status = domain.StatusInProgress
		}
		return "task.proof.submitted", events.EventPayload{
			"phase":     string(phase),
			"proof_url": proofURL,
		}, nil
	})
}

// Approve stamps every pending ledger entry approved and, when the legacy
// sub-state was blocking, advances the phase pointer by one catalog step.
// With no pending work it reports ErrNothingToApprove instead of silently
// succeeding.
func (e Engine) Approve(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.mutateTask(ctx, taskID, actorID, func(t *domain.Task) (string, events.EventPayload, error) {
		if t.Closed() {
			return "", nil, ErrTaskClosed
		}
		pending := t.PhaseValidations.PendingPhases()
		legacyBlocked := t.SubState == domain.SubStatePendingValidation
		if len(pending) == 0 && !legacyBlocked {
			return "", nil, ErrNothingToApprove
		}
		ts := e.now().UTC().Format(time.RFC3339)
		approved := make([]string, 0, len(pending))
		for _, p := range pending {
			v := t.PhaseValidations[p]
			v.Status = domain.ValidationApproved
			v.ApprovedAt = ts
			t.PhaseValidations[p] = v
			approved = append(approved, string(p))
		}
		if legacyBlocked {
			t.LifecycleState = domain.NextPhase(t.LifecycleState)
			t.SubState = domain.SubStateInProgress
			if t.Closed() {
				t.Status = domain.StatusCompleted
				t.SubState = domain.SubStateApproved
			}
		}
		return "task.approved", events.EventPayload{
			"phases":          approved,
			"lifecycle_state": string(t.LifecycleState),
		}, nil
	})
}

// Reject resets the legacy blocking flag without moving the phase pointer.
// The ledger entry for the current phase keeps its pending status.
func (e Engine) Reject(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.mutateTask(ctx, taskID, actorID, func(t *domain.Task) (string, events.EventPayload, error) {
		if t.Closed() {
			return "", nil, ErrTaskClosed
		}
		if t.SubState != domain.SubStatePendingValidation {
			return "", nil, ErrNotPendingValidation
		}
		t.SubState = domain.SubStateInProgress
		return "task.rejected", events.EventPayload{
			"phase": string(t.LifecycleState),
		}, nil
	})
}

// ReportIssue appends a timestamped, actor-attributed entry to the task's
// issue log. No state-machine effect.
func (e Engine) ReportIssue(ctx context.Context, taskID, text, actorID string) (domain.Task, error) {
	if text == "" {
		return domain.Task{}, errors.New("issue text is required")
	}
	name := e.actorName(ctx, actorID)
	return e.mutateTask(ctx, taskID, actorID, func(t *domain.Task) (string, events.EventPayload, error) {
		ts := e.now().UTC().Format(time.RFC3339)
		t.Issues = appendLogEntry(t.Issues, fmt.Sprintf("[%s] %s (reported by %s)", ts, text, name))
		return "task.issue.reported", events.EventPayload{"text": text}, nil
	})
}

// ResolveIssue appends a resolution marker. Prior log text is never removed.
func (e Engine) ResolveIssue(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	name := e.actorName(ctx, actorID)
	return e.mutateTask(ctx, taskID, actorID, func(t *domain.Task) (string, events.EventPayload, error) {
		ts := e.now().UTC().Format(time.RFC3339)
		t.Issues = appendLogEntry(t.Issues, fmt.Sprintf("[%s] %s %s", ts, domain.ResolvedMarker, name))
		return "task.issue.resolved", events.EventPayload{}, nil
	})
}

const maxMutateAttempts = 3

type taskMutation func(t *domain.Task) (evtType string, payload events.EventPayload, err error)

// mutateTask serializes a read-modify-write on one task. The version guard
// makes each mutation atomic: a lost race re-reads and re-evaluates, so two
// concurrent approvals resolve to one advancement plus one
// ErrNothingToApprove.
func (e Engine) mutateTask(ctx context.Context, taskID, actorID string, fn taskMutation) (domain.Task, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		t, err := e.Repo.GetTask(ctx, taskID)
		if err != nil {
			return domain.Task{}, err
		}
		evtType, payload, err := fn(&t)
		if err != nil {
			return t, err
		}
		t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		applied, err := e.applyTaskState(ctx, t, evtType, actorID, payload)
		if err != nil {
			return t, err
		}
		if !applied {
			continue
		}
		t.Version++
		return t, nil
	}
	return domain.Task{}, ErrConflict
}

func (e Engine) applyTaskState(ctx context.Context, t domain.Task, evtType, actorID string, payload events.EventPayload) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdateTaskStateTx(ctx, tx, t)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := e.Events.Append(ctx, tx, evtType, t.OrgID, "task", t.ID, actorID, payload); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (e Engine) actorName(ctx context.Context, actorID string) string {
	p, err := e.Repo.GetProfile(ctx, actorID)
	if err != nil || p.FullName == "" {
		return actorID
	}
	return p.FullName
}

func appendLogEntry(log, entry string) string {
	if log == "" {
		return entry
	}
	return log + "\n\n" + entry
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
