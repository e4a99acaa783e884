package domain

import "strings"

// Validation statuses recorded in a task's ledger.
const (
	ValidationPending  = "pending"
	ValidationApproved = "approved"
	ValidationRejected = "rejected"
)

// Legacy coarse sub-states, retained for tasks created before the per-phase
// ledger existed.
const (
	SubStateInProgress        = "in_progress"
	SubStatePendingValidation = "pending_validation"
	SubStateApproved          = "approved"
)

// Coarse lifecycle summary shown to non-workflow consumers.
const (
	StatusPending    = "pending"
	StatusInProgress = "in progress"
	StatusCompleted  = "completed"
	StatusOnHold     = "on hold"
)

// Priorities are independent of workflow state.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Directory roles. Executives see the whole org, managers and team leads see
// their projects, employees see their own assignments.
const (
	RoleEmployee  = "employee"
	RoleTeamLead  = "team_lead"
	RoleManager   = "manager"
	RoleExecutive = "executive"
)

// Validation is the approval record attached to a task's entry into a phase.
type Validation struct {
	Status      string `json:"status" enum:"pending,approved,rejected"`
	ProofURL    string `json:"proof_url,omitempty"`
	ProofText   string `json:"proof_text,omitempty"`
	SubmittedAt string `json:"submitted_at,omitempty" format:"date-time"`
	ApprovedAt  string `json:"approved_at,omitempty" format:"date-time"`
	RejectedAt  string `json:"rejected_at,omitempty" format:"date-time"`
}

// Ledger maps phases to their validation records. Keys are inserted lazily
// as phases are entered.
type Ledger map[Phase]Validation

// PendingPhases returns the phases with a pending validation, in catalog
// order so approvals stamp approved_at deterministically.
func (l Ledger) PendingPhases() []Phase {
	var pending []Phase
	for _, p := range Phases() {
		if v, ok := l[p]; ok && v.Status == ValidationPending {
			pending = append(pending, p)
		}
	}
	return pending
}

// HasPending reports whether any phase awaits validation.
func (l Ledger) HasPending() bool {
	return len(l.PendingPhases()) > 0
}

// ResolvedMarker is appended to a task's issue log when a supervisor resolves
// the open issue. The log itself is append-only.
const ResolvedMarker = "RESOLVED by"

// Task is the workflow aggregate. The engine is the only writer of
// LifecycleState, SubState and PhaseValidations; the remaining fields belong
// to the surrounding CRUD layer.
type Task struct {
	ID               string  `json:"id"`
	OrgID            string  `json:"org_id"`
	ProjectID        *string `json:"project_id,omitempty"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	AssignedTo       *string `json:"assigned_to,omitempty"`
	AssignedBy       *string `json:"assigned_by,omitempty"`
	LifecycleState   Phase   `json:"lifecycle_state"`
	SubState         string  `json:"sub_state" enum:"in_progress,pending_validation,approved"`
	PhaseValidations Ledger  `json:"phase_validations"`
	Status           string  `json:"status" enum:"pending,in progress,completed,on hold"`
	Priority         string  `json:"priority" enum:"low,medium,high"`
	Issues           string  `json:"issues,omitempty"`
	ProofURL         *string `json:"proof_url,omitempty"`
	DueDate          *string `json:"due_date,omitempty"`
	DueTime          *string `json:"due_time,omitempty"`
	StartDate        *string `json:"start_date,omitempty"`
	Version          int64   `json:"version"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

// Closed reports whether the task has reached the terminal phase.
func (t Task) Closed() bool {
	return t.LifecycleState == PhaseClosed
}

// HasOpenIssue reports whether the issue log tail holds text not yet covered
// by a resolution marker. Only whole resolution entries count; report text
// that merely mentions the marker phrase does not close the issue.
func (t Task) HasOpenIssue() bool {
	log := strings.TrimSpace(t.Issues)
	if log == "" {
		return false
	}
	entries := strings.Split(log, "\n\n")
	return !isResolutionEntry(entries[len(entries)-1])
}

// isResolutionEntry matches the "[<ts>] RESOLVED by <name>" shape written on
// resolve. The marker must follow the timestamp bracket, not appear anywhere
// in free text.
func isResolutionEntry(entry string) bool {
	entry = strings.TrimSpace(entry)
	if !strings.HasPrefix(entry, "[") {
		return false
	}
	end := strings.Index(entry, "] ")
	if end == -1 {
		return false
	}
	return strings.HasPrefix(entry[end+2:], ResolvedMarker)
}

// Profile is a member of the org directory.
type Profile struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	FullName  string `json:"full_name"`
	Role      string `json:"role" enum:"employee,team_lead,manager,executive"`
	AvatarURL string `json:"avatar_url,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ProjectMember struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Notification is an in-app message row written by the dispatcher, never by
// the engine itself.
type Notification struct {
	ID         string `json:"id"`
	OrgID      string `json:"org_id"`
	ReceiverID string `json:"receiver_id"`
	SenderID   string `json:"sender_id,omitempty"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	IsRead     bool   `json:"is_read"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
