package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

const transitionColumns = `id, tenant_id, project_id, task_id, actor_user_id,
	action, from_status, to_status, payload, client_event_id, fingerprint,
	expected_row_version, result_row_version, created_at`

// InsertTransition appends a transition record.
//
// The insert carries ON CONFLICT DO NOTHING semantics on the partial
// idempotency key (task_id, client_event_id): a duplicate client event is
// a silent no-op reported as inserted=false so the executor can replay the
// stored result. A conflict on (task_id, result_row_version) is a lost
// optimistic race and surfaces as ErrVersionConflict via the constraint
// translation.
func (t *sqliteTx) InsertTransition(ctx context.Context, tr *types.TaskTransition) (bool, error) {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	if err := tr.Validate(); err != nil {
		return false, fmt.Errorf("insert transition: %s: %w", err, storage.ErrValidation)
	}
	payload, err := tr.MarshalPayload()
	if err != nil {
		return false, fmt.Errorf("insert transition: %s: %w", err, storage.ErrValidation)
	}

	res, err := t.conn.ExecContext(ctx, `
		INSERT INTO task_transitions (`+transitionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(task_id, client_event_id) WHERE client_event_id IS NOT NULL
		DO NOTHING`,
		tr.ID.String(), tr.TenantID.String(), tr.ProjectID.String(),
		tr.TaskID.String(), tr.ActorUserID.String(), tr.Action,
		string(tr.FromStatus), string(tr.ToStatus), payload,
		nullableUUID(tr.ClientEventID), tr.Fingerprint,
		tr.ExpectedRowVersion, tr.ResultRowVersion, tr.CreatedAt,
	)
	if err != nil {
		return false, wrapDBError("insert transition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError("insert transition", err)
	}
	return n > 0, nil
}

// GetTransitionByClientEvent loads the transition recorded for an
// idempotency key, if any.
func (t *sqliteTx) GetTransitionByClientEvent(ctx context.Context, tenantID, taskID, clientEventID uuid.UUID) (*types.TaskTransition, error) {
	row := t.conn.QueryRowContext(ctx, `
		SELECT `+transitionColumns+` FROM task_transitions
		WHERE tenant_id = ? AND task_id = ? AND client_event_id = ?`,
		tenantID.String(), taskID.String(), clientEventID.String())
	tr, err := scanTransition(row)
	if err != nil {
		return nil, wrapDBError("get transition by client event", err)
	}
	return tr, nil
}

// ListTransitions returns the task's transition timeline, oldest first.
func (t *sqliteTx) ListTransitions(ctx context.Context, tenantID, taskID uuid.UUID) ([]*types.TaskTransition, error) {
	return listTransitions(ctx, t.conn, tenantID, taskID)
}

// ListTransitions returns the task's transition timeline, oldest first.
func (s *Store) ListTransitions(ctx context.Context, tenantID, taskID uuid.UUID) ([]*types.TaskTransition, error) {
	return listTransitions(ctx, s.db, tenantID, taskID)
}

func listTransitions(ctx context.Context, q querier, tenantID, taskID uuid.UUID) ([]*types.TaskTransition, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+transitionColumns+` FROM task_transitions
		WHERE tenant_id = ? AND task_id = ?
		ORDER BY created_at ASC, result_row_version ASC`,
		tenantID.String(), taskID.String())
	if err != nil {
		return nil, wrapDBError("list transitions", err)
	}
	defer rows.Close()

	var out []*types.TaskTransition
	for rows.Next() {
		tr, err := scanTransition(rows)
		if err != nil {
			return nil, wrapDBError("list transitions", err)
		}
		out = append(out, tr)
	}
	return out, wrapDBError("list transitions", rows.Err())
}

func scanTransition(row scanner) (*types.TaskTransition, error) {
	var (
		tr                                types.TaskTransition
		id, tenantID, projectID           string
		taskID, actorUserID               string
		fromStatus, toStatus, payload     string
		clientEventID                     sql.NullString
		expectedRowVersion, resultVersion sql.NullInt64
	)

	err := row.Scan(&id, &tenantID, &projectID, &taskID, &actorUserID,
		&tr.Action, &fromStatus, &toStatus, &payload, &clientEventID,
		&tr.Fingerprint, &expectedRowVersion, &resultVersion, &tr.CreatedAt)
	if err != nil {
		return nil, err
	}

	if tr.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt transition id %q: %w", id, err)
	}
	if tr.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("corrupt tenant id %q: %w", tenantID, err)
	}
	if tr.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("corrupt project id %q: %w", projectID, err)
	}
	if tr.TaskID, err = uuid.Parse(taskID); err != nil {
		return nil, fmt.Errorf("corrupt task id %q: %w", taskID, err)
	}
	if tr.ActorUserID, err = uuid.Parse(actorUserID); err != nil {
		return nil, fmt.Errorf("corrupt actor id %q: %w", actorUserID, err)
	}
	if tr.ClientEventID, err = parseNullableUUID(clientEventID); err != nil {
		return nil, err
	}

	tr.FromStatus = types.TaskStatus(fromStatus)
	tr.ToStatus = types.TaskStatus(toStatus)
	if expectedRowVersion.Valid {
		v := int(expectedRowVersion.Int64)
		tr.ExpectedRowVersion = &v
	}
	if resultVersion.Valid {
		v := int(resultVersion.Int64)
		tr.ResultRowVersion = &v
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &tr.Payload); err != nil {
			return nil, fmt.Errorf("corrupt transition payload: %w", err)
		}
	}
	return &tr, nil
}
