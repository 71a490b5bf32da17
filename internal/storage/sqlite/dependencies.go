package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

// AddDependency records a predecessor -> successor edge. Self-references
// and cross-tenant references are rejected by schema constraints.
func (t *sqliteTx) AddDependency(ctx context.Context, dep *types.TaskDependency) error {
	if dep.PredecessorID == dep.SuccessorID {
		return fmt.Errorf("add dependency: self-referential edge: %w", storage.ErrValidation)
	}
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now().UTC()
	}
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO task_dependencies
			(tenant_id, project_id, predecessor_id, successor_id, created_by, created_at)
		VALUES (?,?,?,?,?,?)`,
		dep.TenantID.String(), dep.ProjectID.String(),
		dep.PredecessorID.String(), dep.SuccessorID.String(),
		dep.CreatedBy.String(), dep.CreatedAt,
	)
	return wrapDBError("add dependency", err)
}

// OpenPredecessorCount counts predecessors of the task that are not yet
// done. Canceled predecessors do not gate unblocking.
func (t *sqliteTx) OpenPredecessorCount(ctx context.Context, tenantID, successorID uuid.UUID) (int, error) {
	var n int
	err := t.conn.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM task_dependencies d
		JOIN tasks p ON p.tenant_id = d.tenant_id AND p.id = d.predecessor_id
		WHERE d.tenant_id = ? AND d.successor_id = ?
		  AND p.status NOT IN ('done','canceled')`,
		tenantID.String(), successorID.String()).Scan(&n)
	if err != nil {
		return 0, wrapDBError("open predecessor count", err)
	}
	return n, nil
}

// ListDependencies returns the edges ending at the given successor,
// oldest first.
func (s *Store) ListDependencies(ctx context.Context, tenantID, successorID uuid.UUID) ([]*types.TaskDependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, project_id, predecessor_id, successor_id, created_by, created_at
		FROM task_dependencies
		WHERE tenant_id = ? AND successor_id = ?
		ORDER BY created_at ASC`,
		tenantID.String(), successorID.String())
	if err != nil {
		return nil, wrapDBError("list dependencies", err)
	}
	defer rows.Close()

	var out []*types.TaskDependency
	for rows.Next() {
		var (
			dep                                    types.TaskDependency
			tenant, project, pred, succ, createdBy string
		)
		if err := rows.Scan(&tenant, &project, &pred, &succ, &createdBy, &dep.CreatedAt); err != nil {
			return nil, wrapDBError("list dependencies", err)
		}
		if dep.TenantID, err = uuid.Parse(tenant); err != nil {
			return nil, fmt.Errorf("corrupt tenant id %q: %w", tenant, err)
		}
		if dep.ProjectID, err = uuid.Parse(project); err != nil {
			return nil, fmt.Errorf("corrupt project id %q: %w", project, err)
		}
		if dep.PredecessorID, err = uuid.Parse(pred); err != nil {
			return nil, fmt.Errorf("corrupt predecessor id %q: %w", pred, err)
		}
		if dep.SuccessorID, err = uuid.Parse(succ); err != nil {
			return nil, fmt.Errorf("corrupt successor id %q: %w", succ, err)
		}
		if dep.CreatedBy, err = uuid.Parse(createdBy); err != nil {
			return nil, fmt.Errorf("corrupt created_by %q: %w", createdBy, err)
		}
		out = append(out, &dep)
	}
	return out, wrapDBError("list dependencies", rows.Err())
}
