package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

func TestCreateAndGetTask(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()

	task := seedTask(t, store, tenant, project, nil)
	require.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, 1, task.RowVersion)

	got, err := store.GetTask(ctx, tenant, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, types.StatusAvailable, got.Status)
	assert.Equal(t, types.WorkRegular, got.WorkKind)
	assert.Nil(t, got.AssignedTo)
}

func TestGetTaskTenantScoped(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	task := seedTask(t, store, uuid.New(), uuid.New(), nil)

	_, err := store.GetTask(ctx, uuid.New(), task.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestUpdateTaskVersionedConflict(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()
	task := seedTask(t, store, tenant, project, nil)

	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		fresh, err := tx.GetTask(ctx, tenant, task.ID)
		require.NoError(t, err)
		fresh.Status = types.StatusCanceled
		fresh.RowVersion = 2
		fresh.UpdatedAt = time.Now().UTC()
		return tx.UpdateTaskVersioned(ctx, fresh, 1)
	})
	require.NoError(t, err)

	// Same expected version again: the row has moved on.
	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		stale, err := tx.GetTask(ctx, tenant, task.ID)
		require.NoError(t, err)
		stale.RowVersion = 2
		stale.UpdatedAt = time.Now().UTC()
		return tx.UpdateTaskVersioned(ctx, stale, 1)
	})
	assert.True(t, errors.Is(err, storage.ErrVersionConflict))
}

func TestWIPLimitIndex(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()
	worker := uuid.New()
	now := time.Now().UTC()

	assignTo := func(task *types.Task) {
		task.Status = types.StatusAssigned
		task.AssignedTo = &worker
		task.AssignedAt = &now
		task.CreatedAt = now
	}
	seedTask(t, store, tenant, project, assignTo)

	second := &types.Task{
		TenantID:   tenant,
		ProjectID:  project,
		Title:      "second active task",
		Status:     types.StatusInProgress,
		Kind:       types.KindProduction,
		WorkKind:   types.WorkRegular,
		CreatedBy:  uuid.New(),
		AssignedTo: &worker,
		AssignedAt: &now,
		CreatedAt:  now,
	}
	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.CreateTask(ctx, second)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrInvariantViolation))
	assert.Contains(t, err.Error(), "WIP")

	// A done task for the same worker is fine: the index only covers
	// active statuses.
	doneTask := &types.Task{
		TenantID:  tenant,
		ProjectID: project,
		Title:     "finished earlier",
		Status:    types.StatusDone,
		Kind:      types.KindProduction,
		WorkKind:  types.WorkRegular,
		CreatedBy: uuid.New(),
	}
	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.CreateTask(ctx, doneTask)
	})
	require.NoError(t, err)
}

func TestActiveTaskIDs(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()
	worker := uuid.New()
	now := time.Now().UTC()

	task := seedTask(t, store, tenant, project, func(task *types.Task) {
		task.Status = types.StatusAssigned
		task.AssignedTo = &worker
		task.AssignedAt = &now
		task.CreatedAt = now
	})

	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		ids, err := tx.ActiveTaskIDs(ctx, tenant, worker)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{task.ID}, ids)

		ids, err = tx.ActiveTaskIDs(ctx, tenant, uuid.New())
		require.NoError(t, err)
		assert.Empty(t, ids)
		return nil
	})
	require.NoError(t, err)
}

func TestDeliverableSerialUnique(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()

	seedDeliverable(t, store, tenant, project, "SN-1001")

	dup := &types.Deliverable{
		TenantID:        tenant,
		ProjectID:       project,
		DeliverableType: "bracket",
		Serial:          "SN-1001",
		Status:          types.DeliverableOpen,
		CreatedBy:       uuid.New(),
	}
	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.CreateDeliverable(ctx, dup)
	})
	assert.True(t, errors.Is(err, storage.ErrInvariantViolation))

	// Same serial in another tenant is fine.
	seedDeliverable(t, store, uuid.New(), uuid.New(), "SN-1001")
}

func TestInsertTransitionIdempotentNoOp(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()
	task := seedTask(t, store, tenant, project, nil)
	clientEvent := uuid.New()

	first := seedTransition(task, "self_assign", types.StatusAvailable, types.StatusAssigned, 1)
	first.ClientEventID = &clientEvent
	first.Fingerprint = "fp-1"

	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		inserted, err := tx.InsertTransition(ctx, first)
		require.NoError(t, err)
		assert.True(t, inserted)
		return nil
	})
	require.NoError(t, err)

	// Same client event: silent no-op, prior row is readable.
	second := seedTransition(task, "self_assign", types.StatusAvailable, types.StatusAssigned, 1)
	second.ClientEventID = &clientEvent
	second.Fingerprint = "fp-2"

	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		inserted, err := tx.InsertTransition(ctx, second)
		require.NoError(t, err)
		assert.False(t, inserted)

		prior, err := tx.GetTransitionByClientEvent(ctx, tenant, task.ID, clientEvent)
		require.NoError(t, err)
		assert.Equal(t, first.ID, prior.ID)
		assert.Equal(t, "fp-1", prior.Fingerprint)
		return nil
	})
	require.NoError(t, err)

	trs, err := store.ListTransitions(ctx, tenant, task.ID)
	require.NoError(t, err)
	assert.Len(t, trs, 1)
}

func TestInsertTransitionResultVersionRace(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()
	task := seedTask(t, store, tenant, project, nil)

	winner := seedTransition(task, "self_assign", types.StatusAvailable, types.StatusAssigned, 1)
	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertTransition(ctx, winner)
		return err
	})
	require.NoError(t, err)

	// Different client event, same result version: a lost race.
	loser := seedTransition(task, "assign", types.StatusAvailable, types.StatusAssigned, 1)
	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertTransition(ctx, loser)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrVersionConflict))
}

func TestEscalateTransitionsCarryNoVersions(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()
	task := seedTask(t, store, tenant, project, nil)

	// Two escalations may coexist: NULL result versions sit outside the
	// uniqueness index.
	for i := 0; i < 2; i++ {
		esc := &types.TaskTransition{
			TenantID:    tenant,
			ProjectID:   project,
			TaskID:      task.ID,
			ActorUserID: uuid.New(),
			Action:      "escalate",
			FromStatus:  types.StatusAvailable,
			ToStatus:    types.StatusAvailable,
			Payload:     types.Payload{"message": "tooling issue"},
		}
		err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
			inserted, err := tx.InsertTransition(ctx, esc)
			require.NoError(t, err)
			assert.True(t, inserted)
			return nil
		})
		require.NoError(t, err)
	}

	trs, err := store.ListTransitions(ctx, tenant, task.ID)
	require.NoError(t, err)
	require.Len(t, trs, 2)
	for _, tr := range trs {
		assert.Nil(t, tr.ExpectedRowVersion)
		assert.Nil(t, tr.ResultRowVersion)
		assert.Equal(t, tr.FromStatus, tr.ToStatus)
	}
}

func TestFixCoherenceConstraint(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()

	// fix task without fix_source/severity violates the schema even
	// though field-level validation passes.
	badFix := &types.Task{
		TenantID:  tenant,
		ProjectID: project,
		Title:     "half-built fix",
		Status:    types.StatusAvailable,
		Kind:      types.KindProduction,
		WorkKind:  types.WorkFix,
		CreatedBy: uuid.New(),
	}
	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.CreateTask(ctx, badFix)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrInvariantViolation))
}

func TestTaskDeliverableProjectConsistency(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant := uuid.New()
	d := seedDeliverable(t, store, tenant, uuid.New(), "SN-2001")

	// Task in a different project referencing the deliverable fails the
	// composite foreign key.
	task := &types.Task{
		TenantID:      tenant,
		ProjectID:     uuid.New(),
		DeliverableID: &d.ID,
		Title:         "cross-project reference",
		Status:        types.StatusAvailable,
		Kind:          types.KindProduction,
		WorkKind:      types.WorkRegular,
		CreatedBy:     uuid.New(),
	}
	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.CreateTask(ctx, task)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrInvariantViolation))
}

func TestInspectionUniquePerDeliverable(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()
	d := seedDeliverable(t, store, tenant, project, "SN-3001")

	insert := func() error {
		return store.RunInTransaction(ctx, func(tx storage.Tx) error {
			return tx.InsertInspection(ctx, &types.QcInspection{
				TenantID:        tenant,
				ProjectID:       project,
				DeliverableID:   d.ID,
				InspectorUserID: uuid.New(),
				Result:          types.QcRejected,
				Notes:           "scratch",
			})
		})
	}
	require.NoError(t, insert())

	err := insert()
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrInvariantViolation))
	assert.Contains(t, err.Error(), "inspection")
}

func TestSignoffLookups(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()
	d := seedDeliverable(t, store, tenant, project, "SN-4001")

	approver, rejecter := uuid.New(), uuid.New()
	base := time.Now().UTC().Add(-time.Hour)

	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		for i, so := range []*types.DeliverableSignoff{
			{SignedOffBy: approver, Result: types.SignoffApproved},
			{SignedOffBy: rejecter, Result: types.SignoffRejected},
		} {
			so.TenantID = tenant
			so.ProjectID = project
			so.DeliverableID = d.ID
			so.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			if err := tx.InsertSignoff(ctx, so); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		latest, err := tx.LatestSignoff(ctx, tenant, d.ID)
		require.NoError(t, err)
		assert.Equal(t, types.SignoffRejected, latest.Result)

		approved, err := tx.LatestApprovedSignoff(ctx, tenant, d.ID)
		require.NoError(t, err)
		assert.Equal(t, approver, approved.SignedOffBy)

		_, err = tx.LatestSignoff(ctx, tenant, uuid.New())
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		return nil
	})
	require.NoError(t, err)

	all, err := store.ListSignoffs(ctx, tenant, d.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDependencies(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()

	pred := seedTask(t, store, tenant, project, nil)
	succ := seedTask(t, store, tenant, project, func(task *types.Task) {
		task.Status = types.StatusBlocked
		task.Title = "blocked successor"
	})

	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.AddDependency(ctx, &types.TaskDependency{
			TenantID:      tenant,
			ProjectID:     project,
			PredecessorID: pred.ID,
			SuccessorID:   succ.ID,
			CreatedBy:     uuid.New(),
		})
	})
	require.NoError(t, err)

	// Self-reference is rejected before the database sees it.
	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.AddDependency(ctx, &types.TaskDependency{
			TenantID:      tenant,
			ProjectID:     project,
			PredecessorID: succ.ID,
			SuccessorID:   succ.ID,
			CreatedBy:     uuid.New(),
		})
	})
	assert.True(t, errors.Is(err, storage.ErrValidation))

	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		open, err := tx.OpenPredecessorCount(ctx, tenant, succ.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, open)

		// Close the predecessor; the gate opens.
		fresh, err := tx.GetTask(ctx, tenant, pred.ID)
		require.NoError(t, err)
		fresh.Status = types.StatusCanceled
		fresh.RowVersion = 2
		fresh.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateTaskVersioned(ctx, fresh, 1); err != nil {
			return err
		}

		open, err = tx.OpenPredecessorCount(ctx, tenant, succ.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, open)
		return nil
	})
	require.NoError(t, err)

	deps, err := store.ListDependencies(ctx, tenant, succ.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, pred.ID, deps[0].PredecessorID)
}

func TestRollbackOnError(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	tenant, project := uuid.New(), uuid.New()

	sentinel := errors.New("abort")
	var created uuid.UUID
	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		task := &types.Task{
			TenantID:  tenant,
			ProjectID: project,
			Title:     "never committed",
			Status:    types.StatusAvailable,
			Kind:      types.KindProduction,
			WorkKind:  types.WorkRegular,
			CreatedBy: uuid.New(),
		}
		if err := tx.CreateTask(ctx, task); err != nil {
			return err
		}
		created = task.ID
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = store.GetTask(ctx, tenant, created)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
