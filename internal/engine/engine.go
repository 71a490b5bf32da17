// Package engine is the transition executor: it applies one action to one
// task inside a single storage transaction, with optimistic locking on
// row_version and idempotent replay on client_event_id.
//
// The ordering guarantee the executor maintains: the transition record is
// inserted before the task row is mutated, so a losing racer produces no
// task changes and observes the winner's result via replay.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/fingerprint"
	"github.com/fabworks/shopfloor/internal/fixtask"
	"github.com/fabworks/shopfloor/internal/fsm"
	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

// Engine executes task transitions against a store.
type Engine struct {
	store storage.Store
}

// New returns an Engine backed by the given store.
func New(store storage.Store) *Engine {
	return &Engine{store: store}
}

// Request is one transition request as it arrives from the boundary.
type Request struct {
	Actor              types.ActorContext
	TaskID             uuid.UUID
	Action             string
	ExpectedRowVersion int
	Payload            types.Payload
	ClientEventID      *uuid.UUID
}

// Result is the outcome of an applied (or replayed) transition.
type Result struct {
	Task       *types.Task
	Transition *types.TaskTransition
	// FixTask is set when the transition spawned a fix-task (review_reject).
	FixTask *types.Task
	// Replayed is true when the result was served from a previously
	// recorded transition with the same client_event_id.
	Replayed bool
}

// Apply runs one transition end to end inside a single transaction; on
// any error no partial mutation escapes.
func (e *Engine) Apply(ctx context.Context, req Request) (*Result, error) {
	if err := req.Actor.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, storage.ErrUnauthenticated)
	}
	if req.ExpectedRowVersion < 1 {
		return nil, fmt.Errorf("expected_row_version must be >= 1 (got %d): %w",
			req.ExpectedRowVersion, storage.ErrValidation)
	}
	action, err := fsm.ParseAction(req.Action)
	if err != nil {
		return nil, err
	}

	fp := fingerprint.Compute(fingerprint.Request{
		TaskID:             req.TaskID,
		ActorUserID:        req.Actor.ActorUserID,
		Action:             string(action),
		ExpectedRowVersion: req.ExpectedRowVersion,
		Payload:            req.Payload,
	})

	var result *Result
	err = e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		var txErr error
		result, txErr = e.applyInTx(ctx, tx, req, action, fp)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) applyInTx(ctx context.Context, tx storage.Tx, req Request, action fsm.Action, fp string) (*Result, error) {
	tenant := req.Actor.TenantID

	// Idempotency short-circuit before any other work.
	if req.ClientEventID != nil {
		prior, err := tx.GetTransitionByClientEvent(ctx, tenant, req.TaskID, *req.ClientEventID)
		switch {
		case err == nil:
			return e.replay(ctx, tx, tenant, prior, fp)
		case !isNotFound(err):
			return nil, err
		}
	}

	task, err := tx.GetTask(ctx, tenant, req.TaskID)
	if err != nil {
		return nil, err
	}
	if task.RowVersion != req.ExpectedRowVersion {
		return nil, fmt.Errorf("task %s is at row_version %d, request expected %d: %w",
			task.ID, task.RowVersion, req.ExpectedRowVersion, storage.ErrVersionConflict)
	}

	outcome, err := fsm.Eval(task.Status, action, req.Payload)
	if err != nil {
		return nil, err
	}

	staged := *task
	now := time.Now().UTC()
	if err := e.stageMutations(ctx, tx, &staged, action, req, now); err != nil {
		return nil, err
	}

	payload := req.Payload.Clone()
	res := &Result{}
	for _, effect := range outcome.Effects {
		switch effect.Kind {
		case fsm.EffectCreateFixTask:
			fix, err := e.createRejectFix(ctx, tx, task, req.Actor, effect.Payload)
			if err != nil {
				return nil, err
			}
			payload["fix_task_id"] = fix.ID.String()
			res.FixTask = fix
		case fsm.EffectEscalate:
			payload["message"] = effect.Payload.String("message")
		}
	}

	tr := &types.TaskTransition{
		ID:            uuid.New(),
		TenantID:      task.TenantID,
		ProjectID:     task.ProjectID,
		TaskID:        task.ID,
		ActorUserID:   req.Actor.ActorUserID,
		Action:        string(action),
		FromStatus:    task.Status,
		ToStatus:      outcome.To,
		Payload:       types.Payload(fingerprint.NormalizePayload(payload)),
		ClientEventID: req.ClientEventID,
		Fingerprint:   fp,
		CreatedAt:     now,
	}
	// fix_task_id is server-generated and survives normalization only by
	// re-adding it after the canonical pass.
	if res.FixTask != nil {
		tr.Payload["fix_task_id"] = res.FixTask.ID.String()
	}
	if !outcome.NoVersionBump {
		expected := req.ExpectedRowVersion
		resultVersion := expected + 1
		tr.ExpectedRowVersion = &expected
		tr.ResultRowVersion = &resultVersion
	}

	inserted, err := tx.InsertTransition(ctx, tr)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// A concurrent request with the same client_event_id won the
		// insert; serve its result.
		prior, err := tx.GetTransitionByClientEvent(ctx, tenant, req.TaskID, *req.ClientEventID)
		if err != nil {
			return nil, err
		}
		return e.replay(ctx, tx, tenant, prior, fp)
	}

	// The task row is mutated only by the writer whose record insert
	// produced a row.
	if !outcome.NoVersionBump {
		staged.Status = outcome.To
		staged.RowVersion = req.ExpectedRowVersion + 1
		staged.UpdatedAt = now
		if err := tx.UpdateTaskVersioned(ctx, &staged, req.ExpectedRowVersion); err != nil {
			return nil, err
		}
		res.Task = &staged
	} else {
		res.Task = task
	}
	res.Transition = tr
	return res, nil
}

// stageMutations prepares action-specific task field changes in memory.
// Nothing is persisted here.
func (e *Engine) stageMutations(ctx context.Context, tx storage.Tx, staged *types.Task, action fsm.Action, req Request, now time.Time) error {
	switch action {
	case fsm.ActionUnblock:
		open, err := tx.OpenPredecessorCount(ctx, staged.TenantID, staged.ID)
		if err != nil {
			return err
		}
		if open > 0 {
			return &fsm.TransitionError{
				Action: string(action),
				From:   staged.Status,
				Reason: fmt.Sprintf("task has %d unfinished predecessor(s)", open),
			}
		}
	case fsm.ActionAssign:
		assignee, err := req.Payload.UUID("assign_to")
		if err != nil {
			return fmt.Errorf("%s: %w", err, storage.ErrValidation)
		}
		if assignee == nil {
			return fmt.Errorf("assign requires payload.assign_to: %w", storage.ErrValidation)
		}
		if err := e.checkWIP(ctx, tx, staged.TenantID, *assignee); err != nil {
			return err
		}
		staged.AssignedTo = assignee
		staged.AssignedAt = &now
	case fsm.ActionSelfAssign:
		actor := req.Actor.ActorUserID
		if err := e.checkWIP(ctx, tx, staged.TenantID, actor); err != nil {
			return err
		}
		staged.AssignedTo = &actor
		staged.AssignedAt = &now
	case fsm.ActionShiftRelease, fsm.ActionRecallToPool:
		staged.AssignedTo = nil
		staged.AssignedAt = nil
	}
	return nil
}

// checkWIP enforces the one-active-task-per-user limit before assignment.
// The partial unique index on tasks backs this up under races.
func (e *Engine) checkWIP(ctx context.Context, tx storage.Tx, tenantID, userID uuid.UUID) error {
	active, err := tx.ActiveTaskIDs(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return fmt.Errorf("user %s already has active task %s: %w",
			userID, active[0], storage.ErrInvariantViolation)
	}
	return nil
}

// createRejectFix runs the create_fix_task side effect emitted by
// review_reject. The rejected task must belong to a deliverable.
func (e *Engine) createRejectFix(ctx context.Context, tx storage.Tx, task *types.Task, actor types.ActorContext, effect types.Payload) (*types.Task, error) {
	if task.DeliverableID == nil {
		return nil, &fsm.TransitionError{
			Action: string(fsm.ActionReviewReject),
			From:   task.Status,
			Reason: "review_reject with fix creation requires the task to be linked to a deliverable",
		}
	}
	severity := types.SeverityMajor
	if s := effect.String("severity"); s != "" {
		severity = types.FixSeverity(s)
	}
	title := effect.String("fix_title")
	if title == "" {
		title = "Fix: " + task.Title
	}
	assignTo, err := effect.UUID("assign_to")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, storage.ErrValidation)
	}
	if assignTo != nil {
		if err := e.checkWIP(ctx, tx, task.TenantID, *assignTo); err != nil {
			return nil, err
		}
	}
	originID := task.ID
	return fixtask.CreateFix(ctx, tx, fixtask.Spec{
		TenantID:      task.TenantID,
		ProjectID:     task.ProjectID,
		DeliverableID: task.DeliverableID,
		ActorUserID:   actor.ActorUserID,
		Title:         title,
		Description:   effect.String("reason"),
		Source:        types.FixSourceSupervisorRequest,
		Severity:      severity,
		OriginTaskID:  &originID,
		AssignTo:      assignTo,
	})
}

// replay serves a request whose client_event_id matched a recorded
// transition. The stored fingerprint decides replay versus conflict.
func (e *Engine) replay(ctx context.Context, tx storage.Tx, tenantID uuid.UUID, prior *types.TaskTransition, fp string) (*Result, error) {
	if prior.Fingerprint != fp {
		return nil, fmt.Errorf("client_event_id %s was used for a different request: %w",
			prior.ClientEventID, storage.ErrIdempotencyConflict)
	}
	task, err := tx.GetTask(ctx, tenantID, prior.TaskID)
	if err != nil {
		return nil, err
	}
	res := &Result{Task: task, Transition: prior, Replayed: true}
	if fixID, err := prior.Payload.UUID("fix_task_id"); err == nil && fixID != nil {
		fix, err := tx.GetTask(ctx, tenantID, *fixID)
		if err != nil {
			return nil, err
		}
		res.FixTask = fix
	}
	return res, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
