package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

// newTestStore creates a Store backed by a temp-dir database file.
// File-based databases give each test full isolation; pass a custom
// dbPath only when a test needs a specific location.
func newTestStore(t *testing.T, dbPath string) *Store {
	t.Helper()

	if dbPath == "" {
		dbPath = t.TempDir() + "/test.db"
	}

	ctx := context.Background()
	store, err := New(ctx, dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	return store
}

// seedTask inserts a task with sensible defaults, mutated by fn.
func seedTask(t *testing.T, store *Store, tenantID, projectID uuid.UUID, fn func(*types.Task)) *types.Task {
	t.Helper()

	task := &types.Task{
		TenantID:  tenantID,
		ProjectID: projectID,
		Title:     "mill bracket",
		Status:    types.StatusAvailable,
		Kind:      types.KindProduction,
		WorkKind:  types.WorkRegular,
		CreatedBy: uuid.New(),
	}
	if fn != nil {
		fn(task)
	}
	err := store.RunInTransaction(context.Background(), func(tx storage.Tx) error {
		return tx.CreateTask(context.Background(), task)
	})
	if err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}
	return task
}

// seedDeliverable inserts a deliverable with a unique serial.
func seedDeliverable(t *testing.T, store *Store, tenantID, projectID uuid.UUID, serial string) *types.Deliverable {
	t.Helper()

	d := &types.Deliverable{
		TenantID:        tenantID,
		ProjectID:       projectID,
		DeliverableType: "bracket",
		Serial:          serial,
		Status:          types.DeliverableOpen,
		CreatedBy:       uuid.New(),
	}
	err := store.RunInTransaction(context.Background(), func(tx storage.Tx) error {
		return tx.CreateDeliverable(context.Background(), d)
	})
	if err != nil {
		t.Fatalf("Failed to seed deliverable: %v", err)
	}
	return d
}

// intPtr is a test shorthand for version fields.
func intPtr(v int) *int { return &v }

// seedTransition builds a minimal versioned transition for a task.
func seedTransition(task *types.Task, action string, from, to types.TaskStatus, expected int) *types.TaskTransition {
	return &types.TaskTransition{
		ID:                 uuid.New(),
		TenantID:           task.TenantID,
		ProjectID:          task.ProjectID,
		TaskID:             task.ID,
		ActorUserID:        uuid.New(),
		Action:             action,
		FromStatus:         from,
		ToStatus:           to,
		Payload:            types.Payload{},
		ExpectedRowVersion: intPtr(expected),
		ResultRowVersion:   intPtr(expected + 1),
		CreatedAt:          time.Now().UTC(),
	}
}
