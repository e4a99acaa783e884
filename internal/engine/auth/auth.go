package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"talentops/internal/config"
	"talentops/internal/domain"
	"talentops/internal/repo"
)

// ForbiddenError indicates the actor lacks authority for an action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("supervisory role required for %s", e.Action)
}

// Service answers role questions backed by profiles and project memberships.
type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
}

func New(db *sql.DB, cfg *config.Config) Service {
	return Service{DB: db, Repo: repo.Repo{DB: db}, Config: cfg}
}

// ActorRole returns the org-level role of the actor's profile.
func (s Service) ActorRole(ctx context.Context, actorID string) (string, error) {
	p, err := s.Repo.GetProfile(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.RoleEmployee, nil
		}
		return "", err
	}
	return p.Role, nil
}

// IsSupervisor reports whether the actor may approve or reject validations on
// the task. Supervisory roles from config qualify org-wide; a manager
// membership on the task's project also qualifies.
func (s Service) IsSupervisor(ctx context.Context, actorID string, t domain.Task) (bool, error) {
	role, err := s.ActorRole(ctx, actorID)
	if err != nil {
		return false, err
	}
	if s.Config != nil && s.Config.IsSupervisoryRole(role) {
		return true, nil
	}
	if t.ProjectID == nil {
		return false, nil
	}
	m, err := s.Repo.GetProjectMember(ctx, *t.ProjectID, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.Role == domain.RoleManager || m.Role == domain.RoleTeamLead, nil
}

// RequireSupervisor returns a ForbiddenError when IsSupervisor is false.
func (s Service) RequireSupervisor(ctx context.Context, actorID string, t domain.Task, action string) error {
	ok, err := s.IsSupervisor(ctx, actorID, t)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Action: action}
	}
	return nil
}
