// Package fixtask is the sole constructor of work_kind=fix tasks. Every
// entry point delegates to CreateFix, which enforces the fix context
// invariants before anything reaches storage.
package fixtask

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

// Spec describes one fix-task to create.
type Spec struct {
	TenantID      uuid.UUID
	ProjectID     uuid.UUID
	DeliverableID *uuid.UUID
	ActorUserID   uuid.UUID

	Title       string
	Description string

	Source       types.FixSource
	Severity     types.FixSeverity
	MinutesSpent *int

	OriginTaskID   *uuid.UUID
	QcInspectionID *uuid.UUID

	// AssignTo hands the fix straight to a named worker instead of the
	// pool. The caller is responsible for the WIP check.
	AssignTo *uuid.UUID
}

// InitiativeForTask creates a worker-initiated fix bound to the task the
// defect was found on. The origin task must be linked to a deliverable.
func InitiativeForTask(ctx context.Context, tx storage.Tx, origin *types.Task, actor uuid.UUID, title, description string, severity types.FixSeverity, minutes *int) (*types.Task, error) {
	if origin.DeliverableID == nil {
		return nil, fmt.Errorf("origin task %s has no deliverable: %w",
			origin.ID, storage.ErrInvariantViolation)
	}
	originID := origin.ID
	return CreateFix(ctx, tx, Spec{
		TenantID:      origin.TenantID,
		ProjectID:     origin.ProjectID,
		DeliverableID: origin.DeliverableID,
		ActorUserID:   actor,
		Title:         title,
		Description:   description,
		Source:        types.FixSourceWorkerInitiative,
		Severity:      severity,
		MinutesSpent:  minutes,
		OriginTaskID:  &originID,
	})
}

// InitiativeForDeliverable creates a worker-initiated fix at deliverable
// level, with no origin task.
func InitiativeForDeliverable(ctx context.Context, tx storage.Tx, d *types.Deliverable, actor uuid.UUID, title, description string, severity types.FixSeverity, minutes *int) (*types.Task, error) {
	id := d.ID
	return CreateFix(ctx, tx, Spec{
		TenantID:      d.TenantID,
		ProjectID:     d.ProjectID,
		DeliverableID: &id,
		ActorUserID:   actor,
		Title:         title,
		Description:   description,
		Source:        types.FixSourceWorkerInitiative,
		Severity:      severity,
		MinutesSpent:  minutes,
	})
}

// QcReject creates the fix generated by a QC rejection, linked to the
// inspection that rejected the deliverable.
func QcReject(ctx context.Context, tx storage.Tx, d *types.Deliverable, actor, inspectionID uuid.UUID, title, description string, severity types.FixSeverity) (*types.Task, error) {
	id := d.ID
	return CreateFix(ctx, tx, Spec{
		TenantID:       d.TenantID,
		ProjectID:      d.ProjectID,
		DeliverableID:  &id,
		ActorUserID:    actor,
		Title:          title,
		Description:    description,
		Source:         types.FixSourceQcReject,
		Severity:       severity,
		QcInspectionID: &inspectionID,
	})
}

// CreateFix is the primitive all entry points delegate to. The fix is
// born available in the pool with kind=production, or assigned when the
// spec names a worker.
func CreateFix(ctx context.Context, tx storage.Tx, spec Spec) (*types.Task, error) {
	if spec.DeliverableID == nil {
		return nil, fmt.Errorf("fix-task must be linked to a deliverable: %w",
			storage.ErrInvariantViolation)
	}
	title := spec.Title
	if len(title) > 250 {
		title = title[:250]
	}

	fix := &types.Task{
		ID:             uuid.New(),
		TenantID:       spec.TenantID,
		ProjectID:      spec.ProjectID,
		DeliverableID:  spec.DeliverableID,
		Title:          title,
		Description:    spec.Description,
		Status:         types.StatusAvailable,
		Kind:           types.KindProduction,
		WorkKind:       types.WorkFix,
		CreatedBy:      spec.ActorUserID,
		OriginTaskID:   spec.OriginTaskID,
		QcInspectionID: spec.QcInspectionID,
		FixSource:      &spec.Source,
		FixSeverity:    &spec.Severity,
		MinutesSpent:   spec.MinutesSpent,
		RowVersion:     1,
	}
	if spec.AssignTo != nil {
		now := time.Now().UTC()
		fix.Status = types.StatusAssigned
		fix.AssignedTo = spec.AssignTo
		fix.AssignedAt = &now
	}

	if err := ValidateFixContext(fix); err != nil {
		return nil, err
	}

	if err := tx.CreateTask(ctx, fix); err != nil {
		return nil, err
	}

	// Creation audit row. It carries no row versions: the fix's ordered
	// log starts with its first real transition.
	audit := &types.TaskTransition{
		ID:          uuid.New(),
		TenantID:    fix.TenantID,
		ProjectID:   fix.ProjectID,
		TaskID:      fix.ID,
		ActorUserID: spec.ActorUserID,
		Action:      "create_fix_task",
		FromStatus:  fix.Status,
		ToStatus:    fix.Status,
		Payload: types.Payload{
			"source":   string(spec.Source),
			"severity": string(spec.Severity),
		},
		CreatedAt: time.Now().UTC(),
	}
	if spec.OriginTaskID != nil {
		audit.Payload["origin_task_id"] = spec.OriginTaskID.String()
	}
	if spec.QcInspectionID != nil {
		audit.Payload["qc_inspection_id"] = spec.QcInspectionID.String()
	}
	if spec.AssignTo != nil {
		audit.Payload["assign_to"] = spec.AssignTo.String()
	}
	if _, err := tx.InsertTransition(ctx, audit); err != nil {
		return nil, err
	}

	return fix, nil
}
