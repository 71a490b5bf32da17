// Package storage defines the transactional store contract the transition
// core depends on.
//
// The concrete implementation lives in the sqlite sub-package. This package
// holds the interfaces and the error kinds shared by the implementation and
// its consumers, so alternative backends (mocks, other engines) can be
// substituted.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/types"
)

// Store is the transactional store the core operates on. All reads outside
// a transaction are tenant-scoped convenience wrappers; every write path
// goes through RunInTransaction.
type Store interface {
	// RunInTransaction executes fn atomically. On error or panic the
	// transaction is rolled back; on nil return it is committed. No partial
	// mutation ever escapes.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Tenant-scoped reads.
	GetTask(ctx context.Context, tenantID, taskID uuid.UUID) (*types.Task, error)
	ListTasks(ctx context.Context, tenantID uuid.UUID, filter types.TaskFilter) ([]*types.Task, error)
	ListTransitions(ctx context.Context, tenantID, taskID uuid.UUID) ([]*types.TaskTransition, error)
	GetDeliverable(ctx context.Context, tenantID, deliverableID uuid.UUID) (*types.Deliverable, error)
	ListDeliverables(ctx context.Context, tenantID, projectID uuid.UUID) ([]*types.Deliverable, error)
	ListSignoffs(ctx context.Context, tenantID, deliverableID uuid.UUID) ([]*types.DeliverableSignoff, error)
	ListInspections(ctx context.Context, tenantID, deliverableID uuid.UUID) ([]*types.QcInspection, error)
	ListDependencies(ctx context.Context, tenantID, successorID uuid.UUID) ([]*types.TaskDependency, error)

	// Lifecycle
	Close() error
}

// Tx exposes the operations available within one transaction. The storage
// layer enforces the domain invariants via schema constraints; violations
// surface as the sentinel error kinds in errors.go, never as raw database
// errors.
type Tx interface {
	// Tasks
	CreateTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, tenantID, taskID uuid.UUID) (*types.Task, error)
	// UpdateTaskVersioned persists staged task mutations guarded by the
	// optimistic version check: the row is updated only where row_version
	// still equals fromVersion. A vanished row reports ErrVersionConflict.
	UpdateTaskVersioned(ctx context.Context, task *types.Task, fromVersion int) error
	// ActiveTaskIDs returns ids of tasks counting against the WIP limit
	// for the user (status assigned/in_progress/submitted).
	ActiveTaskIDs(ctx context.Context, tenantID, userID uuid.UUID) ([]uuid.UUID, error)

	// Transitions
	//
	// InsertTransition appends a transition record with insert-if-no-
	// conflict semantics on (task_id, client_event_id): when a record with
	// the same idempotency key already exists the insert is a no-op and
	// inserted is false. Conflicts on (task_id, result_row_version) are a
	// lost optimistic race and report ErrVersionConflict.
	InsertTransition(ctx context.Context, tr *types.TaskTransition) (inserted bool, err error)
	GetTransitionByClientEvent(ctx context.Context, tenantID, taskID, clientEventID uuid.UUID) (*types.TaskTransition, error)
	ListTransitions(ctx context.Context, tenantID, taskID uuid.UUID) ([]*types.TaskTransition, error)

	// Deliverables
	CreateDeliverable(ctx context.Context, d *types.Deliverable) error
	GetDeliverable(ctx context.Context, tenantID, deliverableID uuid.UUID) (*types.Deliverable, error)
	UpdateDeliverableStatus(ctx context.Context, tenantID, deliverableID uuid.UUID, status types.DeliverableStatus) error

	// Sign-offs and inspections
	InsertSignoff(ctx context.Context, s *types.DeliverableSignoff) error
	LatestSignoff(ctx context.Context, tenantID, deliverableID uuid.UUID) (*types.DeliverableSignoff, error)
	LatestApprovedSignoff(ctx context.Context, tenantID, deliverableID uuid.UUID) (*types.DeliverableSignoff, error)
	InsertInspection(ctx context.Context, insp *types.QcInspection) error

	// Dependencies
	AddDependency(ctx context.Context, dep *types.TaskDependency) error
	// OpenPredecessorCount returns how many predecessors of the task are
	// not yet done (unblock gate).
	OpenPredecessorCount(ctx context.Context, tenantID, successorID uuid.UUID) (int, error)
}
