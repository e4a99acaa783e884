package listing

import (
	"context"
	"strings"

	"talentops/internal/domain"
	"talentops/internal/repo"
)

// Service answers role-scoped task queries. It only reads; all writes go
// through the engine or the CRUD layer.
type Service struct {
	Repo repo.Repo
}

// Scope identifies who is asking. Role decides visibility: executives see
// the whole org, managers and team leads see their projects plus their own
// assignments, employees see only their own assignments.
type Scope struct {
	ActorID   string
	OrgID     string
	ProjectID string
	Role      string
}

// Filter narrows the scoped result set. Search matches task title and
// assignee name, case-insensitively. Status "pending" also matches tasks
// whose legacy sub-state is pending_validation.
type Filter struct {
	Search string
	Status string
	Limit  int
}

// TaskView is a task enriched with directory names and derived progress.
type TaskView struct {
	domain.Task
	AssignedToName string                 `json:"assigned_to_name,omitempty"`
	AssignedByName string                 `json:"assigned_by_name,omitempty"`
	ProjectName    string                 `json:"project_name,omitempty"`
	OpenIssue      bool                   `json:"open_issue"`
	Progress       []domain.PhaseProgress `json:"progress"`
}

func (s Service) List(ctx context.Context, scope Scope, f Filter) ([]TaskView, error) {
	tasks, err := s.Repo.ListTasks(ctx, repo.TaskFilters{OrgID: scope.OrgID, ProjectID: scope.ProjectID})
	if err != nil {
		return nil, err
	}
	tasks, err = s.applyScope(ctx, scope, tasks)
	if err != nil {
		return nil, err
	}
	if f.Status != "" {
		tasks = filterStatus(tasks, f.Status)
	}
	views, err := s.enrich(ctx, tasks)
	if err != nil {
		return nil, err
	}
	if f.Search != "" {
		views = filterSearch(views, f.Search)
	}
	if f.Limit > 0 && len(views) > f.Limit {
		views = views[:f.Limit]
	}
	return views, nil
}

// Get returns a single enriched task without scope checks; callers enforce
// access before asking.
func (s Service) Get(ctx context.Context, taskID string) (TaskView, error) {
	t, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return TaskView{}, err
	}
	views, err := s.enrich(ctx, []domain.Task{t})
	if err != nil {
		return TaskView{}, err
	}
	return views[0], nil
}

func (s Service) applyScope(ctx context.Context, scope Scope, tasks []domain.Task) ([]domain.Task, error) {
	switch scope.Role {
	case domain.RoleExecutive:
		return tasks, nil
	case domain.RoleManager, domain.RoleTeamLead:
		projectIDs, err := s.Repo.ProjectIDsForUser(ctx, scope.ActorID)
		if err != nil {
			return nil, err
		}
		member := make(map[string]bool, len(projectIDs))
		for _, id := range projectIDs {
			member[id] = true
		}
		var out []domain.Task
		for _, t := range tasks {
			if t.ProjectID != nil && member[*t.ProjectID] {
				out = append(out, t)
				continue
			}
			if assignedTo(t, scope.ActorID) {
				out = append(out, t)
			}
		}
		return out, nil
	default:
		var out []domain.Task
		for _, t := range tasks {
			if assignedTo(t, scope.ActorID) {
				out = append(out, t)
			}
		}
		return out, nil
	}
}

func assignedTo(t domain.Task, actorID string) bool {
	return t.AssignedTo != nil && *t.AssignedTo == actorID
}

func filterStatus(tasks []domain.Task, status string) []domain.Task {
	want := strings.ToLower(strings.TrimSpace(status))
	var out []domain.Task
	for _, t := range tasks {
		if strings.ToLower(t.Status) == want {
			out = append(out, t)
			continue
		}
		// A task awaiting validation still reads as pending work.
		if want == domain.StatusPending && t.SubState == domain.SubStatePendingValidation {
			out = append(out, t)
		}
	}
	return out
}

func filterSearch(views []TaskView, search string) []TaskView {
	needle := strings.ToLower(strings.TrimSpace(search))
	var out []TaskView
	for _, v := range views {
		if strings.Contains(strings.ToLower(v.Title), needle) ||
			strings.Contains(strings.ToLower(v.AssignedToName), needle) {
			out = append(out, v)
		}
	}
	return out
}

// enrich resolves assignee, assigner and project names with one directory
// query each.
func (s Service) enrich(ctx context.Context, tasks []domain.Task) ([]TaskView, error) {
	profileIDs := make(map[string]bool)
	projectIDs := make(map[string]bool)
	for _, t := range tasks {
		if t.AssignedTo != nil {
			profileIDs[*t.AssignedTo] = true
		}
		if t.AssignedBy != nil {
			profileIDs[*t.AssignedBy] = true
		}
		if t.ProjectID != nil {
			projectIDs[*t.ProjectID] = true
		}
	}
	profiles, err := s.Repo.ProfilesByIDs(ctx, keys(profileIDs))
	if err != nil {
		return nil, err
	}
	projects, err := s.Repo.ProjectsByIDs(ctx, keys(projectIDs))
	if err != nil {
		return nil, err
	}
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		v := TaskView{
			Task:      t,
			OpenIssue: t.HasOpenIssue(),
			Progress:  domain.Progress(t),
		}
		if t.AssignedTo != nil {
			v.AssignedToName = profiles[*t.AssignedTo].FullName
		}
		if t.AssignedBy != nil {
			v.AssignedByName = profiles[*t.AssignedBy].FullName
		}
		if t.ProjectID != nil {
			v.ProjectName = projects[*t.ProjectID].Name
		}
		views = append(views, v)
	}
	return views, nil
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
