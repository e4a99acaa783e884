package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"talentops/internal/config"
	"talentops/internal/domain"
)

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, orgID, name, createdAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO orgs(id,name,created_at) VALUES (?,?,?)`, orgID, name, createdAt)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (string, error) {
	var name string
	err := r.DB.QueryRowContext(ctx, `SELECT name FROM orgs WHERE id=?`, id).Scan(&name)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return name, err
}

func (r Repo) UpsertOrgConfig(ctx context.Context, orgID string, cfg *config.Config) error {
	return upsertOrgConfig(ctx, r.DB, nil, orgID, cfg)
}

func (r Repo) UpsertOrgConfigTx(ctx context.Context, tx *sql.Tx, orgID string, cfg *config.Config) error {
	return upsertOrgConfig(ctx, nil, tx, orgID, cfg)
}

func upsertOrgConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, orgID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Org.ID = orgID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO org_configs(org_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(org_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, orgID, string(payload), now, now)
	return err
}

func (r Repo) GetOrgConfig(ctx context.Context, orgID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM org_configs WHERE org_id=?`, orgID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Org.ID == "" {
		cfg.Org.ID = orgID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) UpsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO profiles(id,org_id,full_name,role,avatar_url,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET full_name=excluded.full_name, role=excluded.role, avatar_url=excluded.avatar_url`,
		p.ID, p.OrgID, p.FullName, p.Role, nullable(p.AvatarURL), p.CreatedAt)
	return err
}

func scanProfile(row rowScanner) (domain.Profile, error) {
	var p domain.Profile
	var avatar sql.NullString
	err := row.Scan(&p.ID, &p.OrgID, &p.FullName, &p.Role, &avatar, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if avatar.Valid {
		p.AvatarURL = avatar.String
	}
	return p, err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	return scanProfile(r.DB.QueryRowContext(ctx, `SELECT id,org_id,full_name,role,avatar_url,created_at FROM profiles WHERE id=?`, id))
}

func (r Repo) ListProfiles(ctx context.Context, orgID string) ([]domain.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,full_name,role,avatar_url,created_at FROM profiles WHERE org_id=? ORDER BY full_name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProfilesByIDs resolves display names in one query for listing enrichment.
func (r Repo) ProfilesByIDs(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	out := map[string]domain.Profile{}
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,full_name,role,avatar_url,created_at FROM profiles WHERE id IN (`+string(placeholders)+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,org_id,name,status,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.OrgID, p.Name, p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,name,status,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.OrgID, &p.Name, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context, orgID string) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,name,status,created_at FROM projects WHERE org_id=? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectsByIDs resolves project names for listing enrichment.
func (r Repo) ProjectsByIDs(ctx context.Context, ids []string) (map[string]domain.Project, error) {
	out := map[string]domain.Project{}
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,name,status,created_at FROM projects WHERE id IN (`+string(placeholders)+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r Repo) AddProjectMember(ctx context.Context, m domain.ProjectMember) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO project_members(project_id,user_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET role=excluded.role`,
		m.ProjectID, m.UserID, m.Role, m.CreatedAt)
	return err
}

func (r Repo) GetProjectMember(ctx context.Context, projectID, userID string) (domain.ProjectMember, error) {
	var m domain.ProjectMember
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,user_id,role,created_at FROM project_members WHERE project_id=? AND user_id=?`,
		projectID, userID).Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

// ProjectIDsForUser returns the projects the user is a member of.
func (r Repo) ProjectIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id FROM project_members WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) ListProjectMembers(ctx context.Context, projectID string) ([]domain.ProjectMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,user_id,role,created_at FROM project_members WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectMember
	for rows.Next() {
		var m domain.ProjectMember
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
