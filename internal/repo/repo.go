package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"talentops/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const taskColumns = `id,org_id,project_id,title,description,assigned_to,assigned_by,lifecycle_state,sub_state,phase_validations,status,priority,issues,proof_url,due_date,due_time,start_date,version,created_at,updated_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	ledger, err := marshalLedger(t.PhaseValidations)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrgID, nullableStringPtr(t.ProjectID), t.Title, nullable(t.Description),
		nullableStringPtr(t.AssignedTo), nullableStringPtr(t.AssignedBy),
		string(t.LifecycleState), t.SubState, ledger, t.Status, t.Priority,
		nullable(t.Issues), nullableStringPtr(t.ProofURL),
		nullableStringPtr(t.DueDate), nullableStringPtr(t.DueTime), nullableStringPtr(t.StartDate),
		t.Version, t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTaskStateTx writes the workflow-owned fields guarded by the task's
// version. It reports false when another writer won the race, in which case
// the caller re-reads and retries.
func (r Repo) UpdateTaskStateTx(ctx context.Context, tx *sql.Tx, t domain.Task) (bool, error) {
	ledger, err := marshalLedger(t.PhaseValidations)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET lifecycle_state=?, sub_state=?, phase_validations=?, status=?, issues=?, proof_url=?, updated_at=?, version=version+1 WHERE id=? AND version=?`,
		string(t.LifecycleState), t.SubState, ledger, t.Status, nullable(t.Issues),
		nullableStringPtr(t.ProofURL), t.UpdatedAt, t.ID, t.Version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateTaskMeta writes the CRUD-owned fields only. Workflow state is never
// touched here.
type TaskMetaUpdate struct {
	Priority  string
	Status    string
	DueDate   *string
	DueTime   *string
	StartDate *string
}

func (r Repo) UpdateTaskMeta(ctx context.Context, id, updatedAt string, u TaskMetaUpdate) error {
	var (
		fields []string
		args   []any
	)
	if u.Priority != "" {
		fields = append(fields, "priority=?")
		args = append(args, u.Priority)
	}
	if u.Status != "" {
		fields = append(fields, "status=?")
		args = append(args, u.Status)
	}
	if u.DueDate != nil {
		fields = append(fields, "due_date=?")
		args = append(args, nullableStringPtr(u.DueDate))
	}
	if u.DueTime != nil {
		fields = append(fields, "due_time=?")
		args = append(args, nullableStringPtr(u.DueTime))
	}
	if u.StartDate != nil {
		fields = append(fields, "start_date=?")
		args = append(args, nullableStringPtr(u.StartDate))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var projectID, description, assignedTo, assignedBy, issues, proofURL, dueDate, dueTime, startDate sql.NullString
	var ledgerJSON string
	var lifecycle string
	err := row.Scan(&t.ID, &t.OrgID, &projectID, &t.Title, &description, &assignedTo, &assignedBy,
		&lifecycle, &t.SubState, &ledgerJSON, &t.Status, &t.Priority, &issues, &proofURL,
		&dueDate, &dueTime, &startDate, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.LifecycleState = domain.Phase(lifecycle)
	if err := json.Unmarshal([]byte(ledgerJSON), &t.PhaseValidations); err != nil {
		return t, fmt.Errorf("decode phase_validations for task %s: %w", t.ID, err)
	}
	if projectID.Valid {
		t.ProjectID = &projectID.String
	}
	if description.Valid {
		t.Description = description.String
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if assignedBy.Valid {
		t.AssignedBy = &assignedBy.String
	}
	if issues.Valid {
		t.Issues = issues.String
	}
	if proofURL.Valid {
		t.ProofURL = &proofURL.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if dueTime.Valid {
		t.DueTime = &dueTime.String
	}
	if startDate.Valid {
		t.StartDate = &startDate.String
	}
	return t, nil
}

// TaskFilters narrows ListTasks. Zero values are ignored.
type TaskFilters struct {
	OrgID      string
	ProjectID  string
	AssignedTo string
	Status     string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"org_id=?"}
	args := []any{f.OrgID}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, orgID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE org_id=? GROUP BY status`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func marshalLedger(l domain.Ledger) (string, error) {
	if l == nil {
		return "{}", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encode phase_validations: %w", err)
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
