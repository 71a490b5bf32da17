package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

const taskColumns = `id, tenant_id, project_id, deliverable_id, title, description,
	status, priority, kind, other_kind_label, is_milestone, work_kind, created_by,
	assigned_to, assigned_at, origin_task_id, qc_inspection_id, fix_source,
	fix_severity, minutes_spent, row_version, created_at, updated_at`

// CreateTask persists a new task. The caller is responsible for the
// task's semantic correctness; Validate plus the schema constraints guard
// the invariants.
func (t *sqliteTx) CreateTask(ctx context.Context, task *types.Task) error {
	now := time.Now().UTC()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.RowVersion == 0 {
		task.RowVersion = 1
	}

	if err := task.Validate(); err != nil {
		return fmt.Errorf("create task: %s: %w", err, storage.ErrValidation)
	}

	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		task.ID.String(), task.TenantID.String(), task.ProjectID.String(),
		nullableUUID(task.DeliverableID), task.Title, task.Description,
		string(task.Status), task.Priority, string(task.Kind),
		nullableString(task.OtherKindLabel), boolToInt(task.IsMilestone),
		string(task.WorkKind), task.CreatedBy.String(),
		nullableUUID(task.AssignedTo), nullableTime(task.AssignedAt),
		nullableUUID(task.OriginTaskID), nullableUUID(task.QcInspectionID),
		nullableFixSource(task.FixSource), nullableFixSeverity(task.FixSeverity),
		task.MinutesSpent, task.RowVersion, task.CreatedAt, task.UpdatedAt,
	)
	return wrapDBError("create task", err)
}

// GetTask loads a task by (tenant, id) within the transaction.
func (t *sqliteTx) GetTask(ctx context.Context, tenantID, taskID uuid.UUID) (*types.Task, error) {
	return getTask(ctx, t.conn, tenantID, taskID)
}

// GetTask loads a task by (tenant, id).
func (s *Store) GetTask(ctx context.Context, tenantID, taskID uuid.UUID) (*types.Task, error) {
	return getTask(ctx, s.db, tenantID, taskID)
}

func getTask(ctx context.Context, q querier, tenantID, taskID uuid.UUID) (*types.Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE tenant_id = ? AND id = ?`,
		tenantID.String(), taskID.String())
	task, err := scanTask(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get task %s", taskID), err)
	}
	return task, nil
}

// UpdateTaskVersioned persists the staged status/assignment mutation. The
// UPDATE is guarded by the optimistic version check; zero rows affected
// means another writer moved the task first.
func (t *sqliteTx) UpdateTaskVersioned(ctx context.Context, task *types.Task, fromVersion int) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("update task: %s: %w", err, storage.ErrValidation)
	}

	res, err := t.conn.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, assigned_to = ?, assigned_at = ?, row_version = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND row_version = ?`,
		string(task.Status), nullableUUID(task.AssignedTo), nullableTime(task.AssignedAt),
		task.RowVersion, task.UpdatedAt,
		task.TenantID.String(), task.ID.String(), fromVersion,
	)
	if err != nil {
		return wrapDBError(fmt.Sprintf("update task %s", task.ID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("update task", err)
	}
	if n == 0 {
		return fmt.Errorf("update task %s: row_version moved past %d: %w",
			task.ID, fromVersion, storage.ErrVersionConflict)
	}
	return nil
}

// ActiveTaskIDs returns the ids of tasks counting against the user's WIP
// limit in the tenant.
func (t *sqliteTx) ActiveTaskIDs(ctx context.Context, tenantID, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.conn.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE tenant_id = ? AND assigned_to = ?
		  AND status IN ('assigned','in_progress','submitted')`,
		tenantID.String(), userID.String())
	if err != nil {
		return nil, wrapDBError("active task ids", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapDBError("active task ids", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("active task ids: corrupt id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, wrapDBError("active task ids", rows.Err())
}

// ListTasks returns tasks in the tenant matching the filter, newest
// first.
func (s *Store) ListTasks(ctx context.Context, tenantID uuid.UUID, filter types.TaskFilter) ([]*types.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE tenant_id = ?`
	args := []any{tenantID.String()}

	if filter.ProjectID != nil {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID.String())
	}
	if filter.DeliverableID != nil {
		query += ` AND deliverable_id = ?`
		args = append(args, filter.DeliverableID.String())
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.AssignedTo != nil {
		query += ` AND assigned_to = ?`
		args = append(args, filter.AssignedTo.String())
	}
	if filter.WorkKind != nil {
		query += ` AND work_kind = ?`
		args = append(args, string(*filter.WorkKind))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list tasks", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, wrapDBError("list tasks", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, wrapDBError("list tasks", rows.Err())
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*types.Task, error) {
	var (
		t                                      types.Task
		id, tenantID, projectID, createdBy     string
		deliverableID, assignedTo              sql.NullString
		originTaskID, qcInspectionID           sql.NullString
		otherKindLabel, fixSource, fixSeverity sql.NullString
		minutesSpent                           sql.NullInt64
		isMilestone                            int
		assignedAt                             sql.NullTime
		status, kind, workKind                 string
	)

	err := row.Scan(&id, &tenantID, &projectID, &deliverableID, &t.Title,
		&t.Description, &status, &t.Priority, &kind, &otherKindLabel,
		&isMilestone, &workKind, &createdBy, &assignedTo, &assignedAt,
		&originTaskID, &qcInspectionID, &fixSource, &fixSeverity,
		&minutesSpent, &t.RowVersion, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt task id %q: %w", id, err)
	}
	if t.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("corrupt tenant id %q: %w", tenantID, err)
	}
	if t.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("corrupt project id %q: %w", projectID, err)
	}
	if t.CreatedBy, err = uuid.Parse(createdBy); err != nil {
		return nil, fmt.Errorf("corrupt created_by %q: %w", createdBy, err)
	}
	if t.DeliverableID, err = parseNullableUUID(deliverableID); err != nil {
		return nil, err
	}
	if t.AssignedTo, err = parseNullableUUID(assignedTo); err != nil {
		return nil, err
	}
	if t.OriginTaskID, err = parseNullableUUID(originTaskID); err != nil {
		return nil, err
	}
	if t.QcInspectionID, err = parseNullableUUID(qcInspectionID); err != nil {
		return nil, err
	}

	t.Status = types.TaskStatus(status)
	t.Kind = types.TaskKind(kind)
	t.WorkKind = types.WorkKind(workKind)
	t.IsMilestone = isMilestone != 0
	if otherKindLabel.Valid {
		t.OtherKindLabel = otherKindLabel.String
	}
	if fixSource.Valid {
		fs := types.FixSource(fixSource.String)
		t.FixSource = &fs
	}
	if fixSeverity.Valid {
		sev := types.FixSeverity(fixSeverity.String)
		t.FixSeverity = &sev
	}
	if minutesSpent.Valid {
		m := int(minutesSpent.Int64)
		t.MinutesSpent = &m
	}
	if assignedAt.Valid {
		at := assignedAt.Time
		t.AssignedAt = &at
	}
	return &t, nil
}

// --- binding helpers ---

func nullableUUID(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return u.String()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableFixSource(f *types.FixSource) any {
	if f == nil {
		return nil
	}
	return string(*f)
}

func nullableFixSeverity(f *types.FixSeverity) any {
	if f == nil {
		return nil
	}
	return string(*f)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseNullableUUID(ns sql.NullString) (*uuid.UUID, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil, fmt.Errorf("corrupt uuid %q: %w", ns.String, err)
	}
	return &id, nil
}
