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

const deliverableColumns = `id, tenant_id, project_id, deliverable_type, serial,
	status, created_by, created_at, updated_at`

// CreateDeliverable persists a new deliverable. Serial uniqueness per
// tenant surfaces as ErrInvariantViolation.
func (t *sqliteTx) CreateDeliverable(ctx context.Context, d *types.Deliverable) error {
	now := time.Now().UTC()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = types.DeliverableOpen
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("create deliverable: %s: %w", err, storage.ErrValidation)
	}

	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO deliverables (`+deliverableColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID.String(), d.TenantID.String(), d.ProjectID.String(),
		d.DeliverableType, d.Serial, string(d.Status),
		d.CreatedBy.String(), d.CreatedAt, d.UpdatedAt,
	)
	return wrapDBError("create deliverable", err)
}

// GetDeliverable loads a deliverable by (tenant, id) within the transaction.
func (t *sqliteTx) GetDeliverable(ctx context.Context, tenantID, deliverableID uuid.UUID) (*types.Deliverable, error) {
	return getDeliverable(ctx, t.conn, tenantID, deliverableID)
}

// GetDeliverable loads a deliverable by (tenant, id).
func (s *Store) GetDeliverable(ctx context.Context, tenantID, deliverableID uuid.UUID) (*types.Deliverable, error) {
	return getDeliverable(ctx, s.db, tenantID, deliverableID)
}

func getDeliverable(ctx context.Context, q querier, tenantID, deliverableID uuid.UUID) (*types.Deliverable, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+deliverableColumns+` FROM deliverables
		WHERE tenant_id = ? AND id = ?`,
		tenantID.String(), deliverableID.String())
	d, err := scanDeliverable(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get deliverable %s", deliverableID), err)
	}
	return d, nil
}

// UpdateDeliverableStatus moves the deliverable to a new status.
func (t *sqliteTx) UpdateDeliverableStatus(ctx context.Context, tenantID, deliverableID uuid.UUID, status types.DeliverableStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("update deliverable status: invalid status %q: %w", status, storage.ErrValidation)
	}
	res, err := t.conn.ExecContext(ctx, `
		UPDATE deliverables SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		string(status), time.Now().UTC(), tenantID.String(), deliverableID.String())
	if err != nil {
		return wrapDBError("update deliverable status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("update deliverable status", err)
	}
	if n == 0 {
		return fmt.Errorf("update deliverable %s: %w", deliverableID, storage.ErrNotFound)
	}
	return nil
}

// ListDeliverables returns the project's deliverables, newest first.
func (s *Store) ListDeliverables(ctx context.Context, tenantID, projectID uuid.UUID) ([]*types.Deliverable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deliverableColumns+` FROM deliverables
		WHERE tenant_id = ? AND project_id = ?
		ORDER BY created_at DESC`,
		tenantID.String(), projectID.String())
	if err != nil {
		return nil, wrapDBError("list deliverables", err)
	}
	defer rows.Close()

	var out []*types.Deliverable
	for rows.Next() {
		d, err := scanDeliverable(rows)
		if err != nil {
			return nil, wrapDBError("list deliverables", err)
		}
		out = append(out, d)
	}
	return out, wrapDBError("list deliverables", rows.Err())
}

func scanDeliverable(row scanner) (*types.Deliverable, error) {
	var (
		d                                  types.Deliverable
		id, tenantID, projectID, createdBy string
		status                             string
	)
	err := row.Scan(&id, &tenantID, &projectID, &d.DeliverableType, &d.Serial,
		&status, &createdBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt deliverable id %q: %w", id, err)
	}
	if d.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("corrupt tenant id %q: %w", tenantID, err)
	}
	if d.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("corrupt project id %q: %w", projectID, err)
	}
	if d.CreatedBy, err = uuid.Parse(createdBy); err != nil {
		return nil, fmt.Errorf("corrupt created_by %q: %w", createdBy, err)
	}
	d.Status = types.DeliverableStatus(status)
	return &d, nil
}

// --- sign-offs ---

const signoffColumns = `id, tenant_id, project_id, deliverable_id, signed_off_by,
	result, comment, created_at`

// InsertSignoff appends a production sign-off.
func (t *sqliteTx) InsertSignoff(ctx context.Context, so *types.DeliverableSignoff) error {
	if so.ID == uuid.Nil {
		so.ID = uuid.New()
	}
	if so.CreatedAt.IsZero() {
		so.CreatedAt = time.Now().UTC()
	}
	if !so.Result.IsValid() {
		return fmt.Errorf("insert signoff: invalid result %q: %w", so.Result, storage.ErrValidation)
	}
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO deliverable_signoffs (`+signoffColumns+`)
		VALUES (?,?,?,?,?,?,?,?)`,
		so.ID.String(), so.TenantID.String(), so.ProjectID.String(),
		so.DeliverableID.String(), so.SignedOffBy.String(),
		string(so.Result), so.Comment, so.CreatedAt,
	)
	return wrapDBError("insert signoff", err)
}

// LatestSignoff returns the most recent sign-off for the deliverable.
func (t *sqliteTx) LatestSignoff(ctx context.Context, tenantID, deliverableID uuid.UUID) (*types.DeliverableSignoff, error) {
	return latestSignoff(ctx, t.conn, tenantID, deliverableID, "")
}

// LatestApprovedSignoff returns the most recent approved sign-off; its
// signer becomes the responsible user on QC rejection.
func (t *sqliteTx) LatestApprovedSignoff(ctx context.Context, tenantID, deliverableID uuid.UUID) (*types.DeliverableSignoff, error) {
	return latestSignoff(ctx, t.conn, tenantID, deliverableID, types.SignoffApproved)
}

func latestSignoff(ctx context.Context, q querier, tenantID, deliverableID uuid.UUID, result types.SignoffResult) (*types.DeliverableSignoff, error) {
	query := `SELECT ` + signoffColumns + ` FROM deliverable_signoffs
		WHERE tenant_id = ? AND deliverable_id = ?`
	args := []any{tenantID.String(), deliverableID.String()}
	if result != "" {
		query += ` AND result = ?`
		args = append(args, string(result))
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	row := q.QueryRowContext(ctx, query, args...)
	so, err := scanSignoff(row)
	if err != nil {
		return nil, wrapDBError("latest signoff", err)
	}
	return so, nil
}

// ListSignoffs returns the deliverable's sign-off trail, oldest first.
func (s *Store) ListSignoffs(ctx context.Context, tenantID, deliverableID uuid.UUID) ([]*types.DeliverableSignoff, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+signoffColumns+` FROM deliverable_signoffs
		WHERE tenant_id = ? AND deliverable_id = ?
		ORDER BY created_at ASC`,
		tenantID.String(), deliverableID.String())
	if err != nil {
		return nil, wrapDBError("list signoffs", err)
	}
	defer rows.Close()

	var out []*types.DeliverableSignoff
	for rows.Next() {
		so, err := scanSignoff(rows)
		if err != nil {
			return nil, wrapDBError("list signoffs", err)
		}
		out = append(out, so)
	}
	return out, wrapDBError("list signoffs", rows.Err())
}

func scanSignoff(row scanner) (*types.DeliverableSignoff, error) {
	var (
		so                                 types.DeliverableSignoff
		id, tenantID, projectID            string
		deliverableID, signedOffBy, result string
	)
	err := row.Scan(&id, &tenantID, &projectID, &deliverableID, &signedOffBy,
		&result, &so.Comment, &so.CreatedAt)
	if err != nil {
		return nil, err
	}
	if so.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt signoff id %q: %w", id, err)
	}
	if so.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("corrupt tenant id %q: %w", tenantID, err)
	}
	if so.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("corrupt project id %q: %w", projectID, err)
	}
	if so.DeliverableID, err = uuid.Parse(deliverableID); err != nil {
		return nil, fmt.Errorf("corrupt deliverable id %q: %w", deliverableID, err)
	}
	if so.SignedOffBy, err = uuid.Parse(signedOffBy); err != nil {
		return nil, fmt.Errorf("corrupt signed_off_by %q: %w", signedOffBy, err)
	}
	so.Result = types.SignoffResult(result)
	return &so, nil
}

// --- inspections ---

const inspectionColumns = `id, tenant_id, project_id, deliverable_id,
	inspector_user_id, responsible_user_id, result, notes, created_at`

// InsertInspection appends a QC inspection. The one-per-deliverable
// uniqueness surfaces as ErrInvariantViolation.
func (t *sqliteTx) InsertInspection(ctx context.Context, insp *types.QcInspection) error {
	if insp.ID == uuid.Nil {
		insp.ID = uuid.New()
	}
	if insp.CreatedAt.IsZero() {
		insp.CreatedAt = time.Now().UTC()
	}
	if !insp.Result.IsValid() {
		return fmt.Errorf("insert inspection: invalid result %q: %w", insp.Result, storage.ErrValidation)
	}
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO qc_inspections (`+inspectionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		insp.ID.String(), insp.TenantID.String(), insp.ProjectID.String(),
		insp.DeliverableID.String(), insp.InspectorUserID.String(),
		nullableUUID(insp.ResponsibleUserID), string(insp.Result),
		insp.Notes, insp.CreatedAt,
	)
	return wrapDBError("insert inspection", err)
}

// ListInspections returns the deliverable's inspections, oldest first.
func (s *Store) ListInspections(ctx context.Context, tenantID, deliverableID uuid.UUID) ([]*types.QcInspection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inspectionColumns+` FROM qc_inspections
		WHERE tenant_id = ? AND deliverable_id = ?
		ORDER BY created_at ASC`,
		tenantID.String(), deliverableID.String())
	if err != nil {
		return nil, wrapDBError("list inspections", err)
	}
	defer rows.Close()

	var out []*types.QcInspection
	for rows.Next() {
		insp, err := scanInspection(rows)
		if err != nil {
			return nil, wrapDBError("list inspections", err)
		}
		out = append(out, insp)
	}
	return out, wrapDBError("list inspections", rows.Err())
}

func scanInspection(row scanner) (*types.QcInspection, error) {
	var (
		insp                           types.QcInspection
		id, tenantID, projectID        string
		deliverableID, inspectorUserID string
		responsibleUserID              sql.NullString
		result                         string
	)
	err := row.Scan(&id, &tenantID, &projectID, &deliverableID,
		&inspectorUserID, &responsibleUserID, &result, &insp.Notes,
		&insp.CreatedAt)
	if err != nil {
		return nil, err
	}
	if insp.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt inspection id %q: %w", id, err)
	}
	if insp.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("corrupt tenant id %q: %w", tenantID, err)
	}
	if insp.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("corrupt project id %q: %w", projectID, err)
	}
	if insp.DeliverableID, err = uuid.Parse(deliverableID); err != nil {
		return nil, fmt.Errorf("corrupt deliverable id %q: %w", deliverableID, err)
	}
	if insp.InspectorUserID, err = uuid.Parse(inspectorUserID); err != nil {
		return nil, fmt.Errorf("corrupt inspector id %q: %w", inspectorUserID, err)
	}
	if insp.ResponsibleUserID, err = parseNullableUUID(responsibleUserID); err != nil {
		return nil, err
	}
	insp.Result = types.QcResult(result)
	return &insp, nil
}
