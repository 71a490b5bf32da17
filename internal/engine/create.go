package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/fixtask"
	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

// TaskSpec describes a regular task to create. Fix-tasks are never created
// through this path; the fixtask package is their sole constructor.
type TaskSpec struct {
	ProjectID     uuid.UUID
	DeliverableID *uuid.UUID
	Title         string
	Description   string
	Priority      int

	Kind           types.TaskKind
	OtherKindLabel string

	// DependsOn lists predecessor task ids. A task created with
	// dependencies starts blocked; otherwise it starts available.
	DependsOn []uuid.UUID
}

// CreateTask validates the task spec, checks deliverable consistency and
// persists the task plus its dependency edges in one transaction.
func (e *Engine) CreateTask(ctx context.Context, actor types.ActorContext, spec TaskSpec) (*types.Task, error) {
	if err := actor.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, storage.ErrUnauthenticated)
	}
	if spec.ProjectID == uuid.Nil {
		return nil, fmt.Errorf("project_id is required: %w", storage.ErrValidation)
	}
	kind := spec.Kind
	if kind == "" {
		kind = types.KindProduction
	}

	status := types.StatusAvailable
	if len(spec.DependsOn) > 0 {
		status = types.StatusBlocked
	}

	task := &types.Task{
		ID:             uuid.New(),
		TenantID:       actor.TenantID,
		ProjectID:      spec.ProjectID,
		DeliverableID:  spec.DeliverableID,
		Title:          spec.Title,
		Description:    spec.Description,
		Priority:       spec.Priority,
		Status:         status,
		Kind:           kind,
		OtherKindLabel: spec.OtherKindLabel,
		WorkKind:       types.WorkRegular,
		CreatedBy:      actor.ActorUserID,
		RowVersion:     1,
	}
	if err := fixtask.ValidateFixContext(task); err != nil {
		return nil, err
	}

	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if spec.DeliverableID != nil {
			d, err := tx.GetDeliverable(ctx, actor.TenantID, *spec.DeliverableID)
			if err != nil {
				return err
			}
			if d.ProjectID != spec.ProjectID {
				return fmt.Errorf("deliverable %s belongs to project %s, not %s: %w",
					d.ID, d.ProjectID, spec.ProjectID, storage.ErrInvariantViolation)
			}
		}
		if err := tx.CreateTask(ctx, task); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, pred := range spec.DependsOn {
			if _, err := tx.GetTask(ctx, actor.TenantID, pred); err != nil {
				return fmt.Errorf("predecessor %s: %w", pred, err)
			}
			dep := &types.TaskDependency{
				TenantID:      actor.TenantID,
				ProjectID:     spec.ProjectID,
				PredecessorID: pred,
				SuccessorID:   task.ID,
				CreatedBy:     actor.ActorUserID,
				CreatedAt:     now,
			}
			if err := tx.AddDependency(ctx, dep); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// AddDependency records a predecessor -> successor edge between two
// existing tasks of the actor's tenant. The edge only gates future
// unblock attempts; it does not retroactively change the successor's
// status.
func (e *Engine) AddDependency(ctx context.Context, actor types.ActorContext, predecessorID, successorID uuid.UUID) (*types.TaskDependency, error) {
	if err := actor.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, storage.ErrUnauthenticated)
	}
	var dep *types.TaskDependency
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		pred, err := tx.GetTask(ctx, actor.TenantID, predecessorID)
		if err != nil {
			return fmt.Errorf("predecessor %s: %w", predecessorID, err)
		}
		succ, err := tx.GetTask(ctx, actor.TenantID, successorID)
		if err != nil {
			return fmt.Errorf("successor %s: %w", successorID, err)
		}
		if succ.Status.IsTerminal() {
			return fmt.Errorf("successor %s is %s: %w",
				succ.ID, succ.Status, storage.ErrInvariantViolation)
		}
		dep = &types.TaskDependency{
			TenantID:      actor.TenantID,
			ProjectID:     pred.ProjectID,
			PredecessorID: predecessorID,
			SuccessorID:   successorID,
			CreatedBy:     actor.ActorUserID,
			CreatedAt:     time.Now().UTC(),
		}
		return tx.AddDependency(ctx, dep)
	})
	if err != nil {
		return nil, err
	}
	return dep, nil
}

// CreateInitiativeFix creates a worker-initiative fix-task for either an
// origin task or a deliverable. Exactly one of taskID/deliverableID must
// be set.
func (e *Engine) CreateInitiativeFix(ctx context.Context, actor types.ActorContext, taskID, deliverableID *uuid.UUID, title, description string, severity types.FixSeverity, minutes *int) (*types.Task, error) {
	if err := actor.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, storage.ErrUnauthenticated)
	}
	if (taskID == nil) == (deliverableID == nil) {
		return nil, fmt.Errorf("exactly one of task_id and deliverable_id is required: %w",
			storage.ErrValidation)
	}
	if severity == "" {
		severity = types.SeverityMajor
	}
	var fix *types.Task
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		var txErr error
		if taskID != nil {
			origin, err := tx.GetTask(ctx, actor.TenantID, *taskID)
			if err != nil {
				return err
			}
			fix, txErr = fixtask.InitiativeForTask(ctx, tx, origin, actor.ActorUserID, title, description, severity, minutes)
			return txErr
		}
		d, err := tx.GetDeliverable(ctx, actor.TenantID, *deliverableID)
		if err != nil {
			return err
		}
		fix, txErr = fixtask.InitiativeForDeliverable(ctx, tx, d, actor.ActorUserID, title, description, severity, minutes)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return fix, nil
}
