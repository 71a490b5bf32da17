package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTask() *Task {
	return &Task{
		ID:         uuid.New(),
		TenantID:   uuid.New(),
		ProjectID:  uuid.New(),
		Title:      "drill housing",
		Status:     StatusAvailable,
		Kind:       KindProduction,
		WorkKind:   WorkRegular,
		CreatedBy:  uuid.New(),
		RowVersion: 1,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestTaskValidate(t *testing.T) {
	require.NoError(t, validTask().Validate())
}

func TestTaskValidateRejects(t *testing.T) {
	now := time.Now().UTC()
	u := uuid.New()

	tests := []struct {
		name   string
		mutate func(*Task)
	}{
		{"empty title", func(task *Task) { task.Title = "" }},
		{"negative priority", func(task *Task) { task.Priority = -1 }},
		{"bad status", func(task *Task) { task.Status = "in_review" }},
		{"bad kind", func(task *Task) { task.Kind = "assembly" }},
		{"other kind without label", func(task *Task) { task.Kind = KindOther }},
		{"label without other kind", func(task *Task) { task.OtherKindLabel = "audit" }},
		{"bad work kind", func(task *Task) { task.WorkKind = "rework" }},
		{"zero row version", func(task *Task) { task.RowVersion = 0 }},
		{"assignee without timestamp", func(task *Task) {
			task.Status = StatusAssigned
			task.AssignedTo = &u
		}},
		{"timestamp without assignee", func(task *Task) { task.AssignedAt = &now }},
		{"assigned before created", func(task *Task) {
			past := task.CreatedAt.Add(-time.Hour)
			task.Status = StatusAssigned
			task.AssignedTo = &u
			task.AssignedAt = &past
		}},
		{"available with assignee", func(task *Task) {
			task.AssignedTo = &u
			task.AssignedAt = &now
		}},
		{"in_progress without assignee", func(task *Task) { task.Status = StatusInProgress }},
		{"negative minutes", func(task *Task) {
			m := -5
			task.MinutesSpent = &m
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := validTask()
			tt.mutate(task)
			assert.Error(t, task.Validate())
		})
	}
}

func TestTaskStatusPredicates(t *testing.T) {
	assert.True(t, StatusDone.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
	assert.False(t, StatusSubmitted.IsTerminal())

	assert.True(t, StatusAssigned.IsActive())
	assert.True(t, StatusInProgress.IsActive())
	assert.True(t, StatusSubmitted.IsActive())
	assert.False(t, StatusAvailable.IsActive())

	assert.True(t, StatusBlocked.IsUnassigned())
	assert.True(t, StatusAvailable.IsUnassigned())
	assert.False(t, StatusAssigned.IsUnassigned())
}

func TestTransitionValidate(t *testing.T) {
	tr := &TaskTransition{
		Action:             "assign",
		FromStatus:         StatusAvailable,
		ToStatus:           StatusAssigned,
		ExpectedRowVersion: intp(1),
		ResultRowVersion:   intp(2),
	}
	require.NoError(t, tr.Validate())

	tr.ResultRowVersion = intp(3)
	assert.Error(t, tr.Validate())

	tr.ResultRowVersion = nil
	assert.Error(t, tr.Validate())

	// escalate rows carry no versions at all
	esc := &TaskTransition{
		Action:     "escalate",
		FromStatus: StatusInProgress,
		ToStatus:   StatusInProgress,
	}
	require.NoError(t, esc.Validate())
}

func TestPayloadHelpers(t *testing.T) {
	id := uuid.New()
	p := Payload{"assign_to": id.String(), "count": 3}

	got, err := p.UUID("assign_to")
	require.NoError(t, err)
	assert.Equal(t, id, *got)

	got, err = p.UUID("absent")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = p.UUID("count")
	assert.Error(t, err)

	clone := p.Clone()
	clone["extra"] = true
	assert.NotContains(t, p, "extra")

	var nilPayload Payload
	assert.NotNil(t, nilPayload.Clone())
}

func TestActorContextValidate(t *testing.T) {
	actor := ActorContext{TenantID: uuid.New(), ActorUserID: uuid.New(), Role: "lead"}
	require.NoError(t, actor.Validate())

	assert.Error(t, ActorContext{ActorUserID: uuid.New(), Role: "lead"}.Validate())
	assert.Error(t, ActorContext{TenantID: uuid.New(), Role: "lead"}.Validate())
	assert.Error(t, ActorContext{TenantID: uuid.New(), ActorUserID: uuid.New()}.Validate())
}

func intp(v int) *int { return &v }
