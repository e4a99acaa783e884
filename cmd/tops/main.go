package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"talentops/internal/app"
	"talentops/internal/config"
	"talentops/internal/db"
	"talentops/internal/domain"
	"talentops/internal/engine"
	"talentops/internal/engine/auth"
	"talentops/internal/listing"
	"talentops/internal/migrate"
	"talentops/internal/repo"
	"talentops/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tops",
	Short: "Talentops CLI",
	Long: `Talentops tracks workforce tasks through a validated delivery lifecycle.
Core concepts:
- Workspace: your .talentops directory with the database; the org config lives in talentops.yml.
- Org: the company that owns profiles, projects, and tasks.
- Tasks: work items that move through fixed phases (requirement_refiner -> design_guidance -> build_guidance -> acceptance_criteria -> deployment -> closed).
- Proof: evidence submitted for the current phase; a supervisor approves or rejects it.
- Ledger: each phase keeps its own validation record, so progress is auditable per phase.
- Issues: an append-only log of problems on a task; resolutions are markers, never erasures.
- Event log: diary of changes, view with 'tops log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TALENTOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("org", "", "org id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage the org"}
	org.AddCommand(orgInitCmd())
	org.AddCommand(orgShowCmd())
	return org
}

func orgInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default talentops.yml for the org",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "org id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func orgShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active org config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show org status",
		Long:  "The scoreboard for your org: task counts by status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				orgID := e.Config.Org.ID
				name, err := e.Repo.GetOrg(ctx, orgID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountTasksByStatus(ctx, orgID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"org_id":      orgID,
					"org_name":    name,
					"task_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Org: %s (%s)\n", orgID, name)
				fmt.Println("Tasks:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks move through the phase catalog one approval at a time. Submit proof for the current phase, then a supervisor approves (advances) or rejects (stays put).",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskProgressCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskSubmitProofCmd())
	task.AddCommand(taskApproveCmd())
	task.AddCommand(taskRejectCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if opts.AssignedBy == "" {
				opts.AssignedBy = opts.ActorID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.OrgID == "" {
					opts.OrgID = e.Config.Org.ID
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.AssignedTo, "assigned-to", "", "assignee profile id")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high)")
	cmd.Flags().StringVar(&opts.DueDate, "due-date", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.DueTime, "due-time", "", "due time (HH:MM)")
	cmd.Flags().StringVar(&opts.StartDate, "start-date", "", "start date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var projectID, status, search string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				authsvc := auth.New(e.DB, e.Config)
				role, err := authsvc.ActorRole(ctx, actorID)
				if err != nil {
					return err
				}
				lister := listing.Service{Repo: e.Repo}
				views, err := lister.List(ctx, listing.Scope{
					ActorID:   actorID,
					OrgID:     e.Config.Org.ID,
					ProjectID: projectID,
					Role:      role,
				}, listing.Filter{Search: search, Status: status, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Phase", "Status", "Assignee", "Priority"})
				for _, v := range views {
					assignee := v.AssignedToName
					if assignee == "" {
						assignee = stringOrDash(v.AssignedTo)
					}
					tw.AppendRow(table.Row{v.ID, v.Title, domain.PhaseLabel(v.LifecycleState), v.Status, assignee, v.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending also matches pending_validation)")
	cmd.Flags().StringVar(&search, "search", "", "search in title and assignee name")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lister := listing.Service{Repo: e.Repo}
				v, err := lister.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func taskProgressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Show per-phase progress for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				steps := domain.Progress(t)
				if viper.GetBool("json") {
					return printJSON(steps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Phase", "State"})
				for _, s := range steps {
					tw.AppendRow(table.Row{s.Label, s.State})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var priority, status, dueDate, dueTime, startDate string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task priority, hold status or schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if status != "" && status != domain.StatusOnHold && status != domain.StatusPending {
					return fmt.Errorf("status may only be set to %q or %q here; workflow commands own the rest", domain.StatusOnHold, domain.StatusPending)
				}
				u := repo.TaskMetaUpdate{Priority: priority, Status: status}
				if cmd.Flags().Changed("due-date") {
					u.DueDate = &dueDate
				}
				if cmd.Flags().Changed("due-time") {
					u.DueTime = &dueTime
				}
				if cmd.Flags().Changed("start-date") {
					u.StartDate = &startDate
				}
				now := time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.UpdateTaskMeta(ctx, args[0], now, u); err != nil {
					return err
				}
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, medium, high)")
	cmd.Flags().StringVar(&status, "status", "", "set 'on hold' or back to 'pending'")
	cmd.Flags().StringVar(&dueDate, "due-date", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dueTime, "due-time", "", "due time (HH:MM)")
	cmd.Flags().StringVar(&startDate, "start-date", "", "start date (YYYY-MM-DD)")
	return cmd
}

func taskSubmitProofCmd() *cobra.Command {
	var phase, proofURL, proofText string
	cmd := &cobra.Command{
		Use:   "submit-proof <id>",
		Short: "Submit proof for the task's current phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if phase == "" {
				return fmt.Errorf("--phase required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SubmitProof(ctx, args[0], domain.Phase(phase), proofURL, proofText, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "phase the proof is for (must match the task's current phase)")
	cmd.Flags().StringVar(&proofURL, "url", "", "proof URL")
	cmd.Flags().StringVar(&proofText, "text", "", "proof text")
	return cmd
}

func taskApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve pending validations and advance the task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				if err := requireSupervisor(ctx, e, args[0], actorID, "approve"); err != nil {
					return err
				}
				t, err := e.Approve(ctx, args[0], actorID)
				if err != nil {
					if errors.Is(err, engine.ErrNothingToApprove) {
						fmt.Println("nothing to approve")
						return nil
					}
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject the pending validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				if err := requireSupervisor(ctx, e, args[0], actorID, "reject"); err != nil {
					return err
				}
				t, err := e.Reject(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func issueCmd() *cobra.Command {
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Task issue log",
		Long:  "Issues are an append-only annotation channel; they never move the phase pointer.",
	}
	issue.AddCommand(issueReportCmd())
	issue.AddCommand(issueResolveCmd())
	return issue
}

func issueReportCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "report <task-id>",
		Short: "Report an issue on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--text required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ReportIssue(ctx, args[0], text, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "issue description")
	return cmd
}

func issueResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <task-id>",
		Short: "Mark the open issue resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				if err := requireSupervisor(ctx, e, args[0], actorID, "resolve_issue"); err != nil {
					return err
				}
				t, err := e.ResolveIssue(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func profileCmd() *cobra.Command {
	profile := &cobra.Command{Use: "profile", Short: "Manage profiles"}
	profile.AddCommand(profileAddCmd())
	profile.AddCommand(profileListCmd())
	return profile
}

func profileAddCmd() *cobra.Command {
	var id, fullName, role, avatarURL string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := domain.Profile{
					ID:        id,
					OrgID:     e.Config.Org.ID,
					FullName:  fullName,
					Role:      role,
					AvatarURL: avatarURL,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if p.Role == "" {
					p.Role = domain.RoleEmployee
				}
				if err := e.Repo.UpsertProfile(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "profile id")
	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	cmd.Flags().StringVar(&role, "role", "", "role (employee, team_lead, manager, executive)")
	cmd.Flags().StringVar(&avatarURL, "avatar", "", "avatar URL")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func profileListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProfiles(ctx, e.Config.Org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.FullName, p.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	project := &cobra.Command{Use: "project", Short: "Manage projects"}
	project.AddCommand(projectCreateCmd())
	project.AddCommand(projectListCmd())
	project.AddCommand(projectAddMemberCmd())
	return project
}

func projectCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := domain.Project{
					ID:        id,
					OrgID:     e.Config.Org.ID,
					Name:      name,
					Status:    "active",
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if p.ID == "" {
					p.ID = uuid.New().String()
				}
				if err := e.Repo.InsertProject(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx, e.Config.Org.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func projectAddMemberCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "add-member <project-id>",
		Short: "Add a member to a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetProject(ctx, args[0]); err != nil {
					return err
				}
				m := domain.ProjectMember{
					ProjectID: args[0],
					UserID:    userID,
					Role:      role,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if m.Role == "" {
					m.Role = domain.RoleEmployee
				}
				if err := e.Repo.AddProjectMember(ctx, m); err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "profile id")
	cmd.Flags().StringVar(&role, "role", "", "membership role (employee, team_lead, manager)")
	return cmd
}

func notifyCmd() *cobra.Command {
	notify := &cobra.Command{Use: "notify", Short: "In-app notifications"}
	notify.AddCommand(notifyListCmd())
	notify.AddCommand(notifyReadCmd())
	return notify
}

func notifyListCmd() *cobra.Command {
	var unreadOnly bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the actor's notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, viper.GetString("actor-id"), unreadOnly, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "unread only")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func notifyReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.MarkNotificationRead(ctx, args[0])
			})
		},
	}
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage API keys"}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyRevokeCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				owner := actorID
				if owner == "" {
					owner = viper.GetString("actor-id")
				}
				secret := uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					OrgID:     e.Config.Org.ID,
					ActorID:   owner,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				out := map[string]string{
					"id":       key.ID,
					"org_id":   key.OrgID,
					"actor_id": key.ActorID,
					"name":     key.Name,
					"key":      secret,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Created key %s for %s\n", key.ID, key.ActorID)
				fmt.Printf("Secret (store it now, it is not saved): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "owning actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func keyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, e.Config.Org.ID, actorID)
				if err != nil {
					return err
				}
				for i := range items {
					items[i].KeyHash = ""
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func keyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, e.Config.Org.ID, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: task changes, approvals, issues, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Org.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveOrgAndConfig(cmd.Context(), workspace, viper.GetString("org"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("TALENTOPS_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TALENTOPS_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartNotifier(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Talentops API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveOrgAndConfig(ctx, workspace, viper.GetString("org"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func requireSupervisor(ctx context.Context, e engine.Engine, taskID, actorID, action string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	authsvc := auth.New(e.DB, e.Config)
	return authsvc.RequireSupervisor(ctx, actorID, t, action)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stringOrDash(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
