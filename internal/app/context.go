package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talentops/internal/config"
	"talentops/internal/domain"
	"talentops/internal/repo"
)

// ResolveOrgAndConfig picks the active org and ensures an org + config exist
// in DB, seeding defaults if missing. It prefers the override, then the
// workspace config file. If the org does not exist, it is created on the fly.
func ResolveOrgAndConfig(ctx context.Context, workspace, orgOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	orgID := orgOverride
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	if orgID == "" {
		if fileCfg == nil {
			return "", nil, fmt.Errorf("org not specified; use --org or create %s", config.Path(workspace))
		}
		orgID = fileCfg.Org.ID
	}
	seedCfg := fileCfg
	if seedCfg == nil {
		seedCfg = config.Default(orgID)
	}

	if _, err := r.GetOrg(ctx, orgID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createOrg(ctx, r, orgID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetOrgConfig(ctx, orgID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertOrgConfig(ctx, orgID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed org config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Org.ID = orgID
	return orgID, cfg, nil
}

// createOrg inserts a minimal org footprint plus a profile for the calling
// actor using the seed config.
func createOrg(ctx context.Context, r repo.Repo, orgID string, seedCfg *config.Config, actorID string) error {
	if seedCfg == nil {
		seedCfg = config.Default(orgID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	name := seedCfg.Org.Name
	if name == "" {
		name = orgID
	}
	if err := r.EnsureOrg(ctx, tx, orgID, name, now); err != nil {
		return fmt.Errorf("ensure org: %w", err)
	}
	if err := r.UpsertOrgConfigTx(ctx, tx, orgID, seedCfg); err != nil {
		return fmt.Errorf("insert org config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO profiles(id,org_id,full_name,role,created_at) VALUES (?,?,?,?,?)`,
		actorID, orgID, actorID, domain.RoleManager, now); err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}
