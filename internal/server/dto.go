package server

import (
	"talentops/internal/domain"
	"talentops/internal/listing"
)

// Request payloads

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	ProjectID   *string `json:"project_id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate     *string `json:"due_date,omitempty"`
	DueTime     *string `json:"due_time,omitempty"`
	StartDate   *string `json:"start_date,omitempty"`
}

type UpdateTaskRequest struct {
	Priority  *string `json:"priority,omitempty" enum:"low,medium,high"`
	Status    *string `json:"status,omitempty" enum:"pending,in progress,completed,on hold"`
	DueDate   *string `json:"due_date,omitempty"`
	DueTime   *string `json:"due_time,omitempty"`
	StartDate *string `json:"start_date,omitempty"`
}

type SubmitProofRequest struct {
	Phase     string `json:"phase"`
	ProofURL  string `json:"proof_url,omitempty"`
	ProofText string `json:"proof_text,omitempty"`
}

type ReportIssueRequest struct {
	Text string `json:"text"`
}

type UpsertProfileRequest struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Role      string `json:"role" enum:"employee,team_lead,manager,executive"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type CreateProjectRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

type AddProjectMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role" enum:"employee,team_lead,manager"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type TaskResponse struct {
	ID               string                 `json:"id"`
	OrgID            string                 `json:"org_id"`
	ProjectID        *string                `json:"project_id,omitempty"`
	ProjectName      string                 `json:"project_name,omitempty"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description,omitempty"`
	AssignedTo       *string                `json:"assigned_to,omitempty"`
	AssignedToName   string                 `json:"assigned_to_name,omitempty"`
	AssignedBy       *string                `json:"assigned_by,omitempty"`
	AssignedByName   string                 `json:"assigned_by_name,omitempty"`
	LifecycleState   string                 `json:"lifecycle_state"`
	SubState         string                 `json:"sub_state" enum:"in_progress,pending_validation,approved"`
	PhaseValidations domain.Ledger          `json:"phase_validations"`
	Status           string                 `json:"status" enum:"pending,in progress,completed,on hold"`
	Priority         string                 `json:"priority" enum:"low,medium,high"`
	Issues           string                 `json:"issues,omitempty"`
	OpenIssue        bool                   `json:"open_issue"`
	ProofURL         *string                `json:"proof_url,omitempty"`
	DueDate          *string                `json:"due_date,omitempty"`
	DueTime          *string                `json:"due_time,omitempty"`
	StartDate        *string                `json:"start_date,omitempty"`
	Progress         []domain.PhaseProgress `json:"progress"`
	Version          int64                  `json:"version"`
	CreatedAt        string                 `json:"created_at" format:"date-time"`
	UpdatedAt        string                 `json:"updated_at" format:"date-time"`
}

// ApproveResponse carries the explicit no-op outcome: approving with nothing
// pending succeeds with outcome "no_op" instead of an error.
type ApproveResponse struct {
	Outcome string       `json:"outcome" enum:"approved,no_op"`
	Task    TaskResponse `json:"task"`
}

type ProfileResponse struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ProjectResponse struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type NotificationResponse struct {
	ID         string `json:"id"`
	ReceiverID string `json:"receiver_id"`
	SenderID   string `json:"sender_id,omitempty"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	IsRead     bool   `json:"is_read"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func taskResponse(v listing.TaskView) TaskResponse {
	ledger := v.PhaseValidations
	if ledger == nil {
		ledger = domain.Ledger{}
	}
	return TaskResponse{
		ID:               v.ID,
		OrgID:            v.OrgID,
		ProjectID:        v.Task.ProjectID,
		ProjectName:      v.ProjectName,
		Title:            v.Title,
		Description:      v.Description,
		AssignedTo:       v.AssignedTo,
		AssignedToName:   v.AssignedToName,
		AssignedBy:       v.AssignedBy,
		AssignedByName:   v.AssignedByName,
		LifecycleState:   string(v.LifecycleState),
		SubState:         v.SubState,
		PhaseValidations: ledger,
		Status:           v.Status,
		Priority:         v.Priority,
		Issues:           v.Issues,
		OpenIssue:        v.OpenIssue,
		ProofURL:         v.Task.ProofURL,
		DueDate:          v.DueDate,
		DueTime:          v.DueTime,
		StartDate:        v.StartDate,
		Progress:         v.Progress,
		Version:          v.Version,
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
	}
}

// bareTaskResponse wraps a task that skipped listing enrichment.
func bareTaskResponse(t domain.Task) TaskResponse {
	return taskResponse(listing.TaskView{
		Task:      t,
		OpenIssue: t.HasOpenIssue(),
		Progress:  domain.Progress(t),
	})
}

func mapTasks(views []listing.TaskView) []TaskResponse {
	out := make([]TaskResponse, 0, len(views))
	for _, v := range views {
		out = append(out, taskResponse(v))
	}
	return out
}

func profileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{
		ID:        p.ID,
		OrgID:     p.OrgID,
		FullName:  p.FullName,
		Role:      p.Role,
		AvatarURL: p.AvatarURL,
		CreatedAt: p.CreatedAt,
	}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:        p.ID,
		OrgID:     p.OrgID,
		Name:      p.Name,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
	}
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:         n.ID,
		ReceiverID: n.ReceiverID,
		SenderID:   n.SenderID,
		Message:    n.Message,
		Type:       n.Type,
		IsRead:     n.IsRead,
		CreatedAt:  n.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		OrgID:      e.OrgID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
