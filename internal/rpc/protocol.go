package rpc

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/types"
)

// Operation constants for the service surface
const (
	OpPing   = "ping"
	OpHealth = "health"

	OpTaskCreate      = "task.create"
	OpTaskGet         = "task.get"
	OpTaskList        = "task.list"
	OpTaskTransition  = "task.transition"
	OpTaskTransitions = "task.transitions"
	OpTaskDepAdd      = "task.dep_add"
	OpTaskDepList     = "task.dep_list"

	OpFixCreate = "fix.create"

	OpDeliverableCreate      = "deliverable.create"
	OpDeliverableGet         = "deliverable.get"
	OpDeliverableList        = "deliverable.list"
	OpDeliverableSignoff     = "deliverable.signoff"
	OpDeliverableSignoffs    = "deliverable.signoffs"
	OpDeliverableSubmitToQc  = "deliverable.submit_to_qc"
	OpDeliverableQcDecision  = "deliverable.qc_decision"
	OpDeliverableInspections = "deliverable.qc_inspections"
)

// Request is one RPC request as posted by the client. The actor identity
// travels in HTTP headers, not in the body.
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Response is the uniform RPC response envelope.
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
}

// NewSuccessResponse marshals data into a success envelope.
func NewSuccessResponse(data interface{}) *Response {
	if data == nil {
		return &Response{Success: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Response{Success: true, Data: raw}
}

// NewErrorResponse wraps an error into the envelope, classifying its kind.
func NewErrorResponse(err error) *Response {
	return &Response{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: KindOf(err),
	}
}

// TransitionArgs carries one apply-transition request.
type TransitionArgs struct {
	TaskID             uuid.UUID     `json:"task_id"`
	Action             string        `json:"action"`
	ExpectedRowVersion int           `json:"expected_row_version"`
	Payload            types.Payload `json:"payload,omitempty"`
	ClientEventID      *uuid.UUID    `json:"client_event_id,omitempty"`
}

// TransitionResult is the apply-transition response payload. A replayed
// request reproduces the original body exactly, so replay status is not
// part of it.
type TransitionResult struct {
	Task       *types.Task           `json:"task"`
	Transition *types.TaskTransition `json:"transition"`
	FixTask    *types.Task           `json:"fix_task,omitempty"`
}

// CreateTaskArgs carries a task-creation request.
type CreateTaskArgs struct {
	ProjectID      uuid.UUID   `json:"project_id"`
	DeliverableID  *uuid.UUID  `json:"deliverable_id,omitempty"`
	Title          string      `json:"title"`
	Description    string      `json:"description,omitempty"`
	Priority       int         `json:"priority,omitempty"`
	Kind           string      `json:"kind,omitempty"`
	OtherKindLabel string      `json:"other_kind_label,omitempty"`
	DependsOn      []uuid.UUID `json:"depends_on,omitempty"`
}

// GetTaskArgs identifies one task.
type GetTaskArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

// ListTasksArgs carries the task list filter.
type ListTasksArgs struct {
	ProjectID     *uuid.UUID `json:"project_id,omitempty"`
	DeliverableID *uuid.UUID `json:"deliverable_id,omitempty"`
	Status        *string    `json:"status,omitempty"`
	AssignedTo    *uuid.UUID `json:"assigned_to,omitempty"`
	WorkKind      *string    `json:"work_kind,omitempty"`
	Limit         int        `json:"limit,omitempty"`
}

// DepAddArgs carries one dependency edge.
type DepAddArgs struct {
	PredecessorID uuid.UUID `json:"predecessor_id"`
	SuccessorID   uuid.UUID `json:"successor_id"`
}

// FixCreateArgs carries a worker-initiative fix request. Exactly one of
// TaskID and DeliverableID must be set.
type FixCreateArgs struct {
	TaskID        *uuid.UUID `json:"task_id,omitempty"`
	DeliverableID *uuid.UUID `json:"deliverable_id,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Severity      string     `json:"severity,omitempty"`
	MinutesSpent  *int       `json:"minutes_spent,omitempty"`
}

// DeliverableCreateArgs carries a deliverable-creation request.
type DeliverableCreateArgs struct {
	ProjectID       uuid.UUID `json:"project_id"`
	DeliverableType string    `json:"deliverable_type"`
	Serial          string    `json:"serial"`
}

// DeliverableArgs identifies one deliverable.
type DeliverableArgs struct {
	DeliverableID uuid.UUID `json:"deliverable_id"`
}

// DeliverableListArgs scopes the deliverable list to a project.
type DeliverableListArgs struct {
	ProjectID uuid.UUID `json:"project_id"`
}

// SignoffArgs carries one production sign-off.
type SignoffArgs struct {
	DeliverableID uuid.UUID `json:"deliverable_id"`
	Result        string    `json:"result"`
	Comment       string    `json:"comment,omitempty"`
}

// QcDecisionArgs carries one QC inspection decision.
type QcDecisionArgs struct {
	DeliverableID uuid.UUID `json:"deliverable_id"`
	Result        string    `json:"result"`
	Notes         string    `json:"notes,omitempty"`
}

// QcDecisionResult is the qc_decision response payload.
type QcDecisionResult struct {
	Deliverable *types.Deliverable  `json:"deliverable"`
	Inspection  *types.QcInspection `json:"inspection"`
	FixTask     *types.Task         `json:"fix_task,omitempty"`
}

// HealthResult is the health response payload.
type HealthResult struct {
	Status  string  `json:"status"`
	Version string  `json:"version"`
	Uptime  float64 `json:"uptime_seconds"`
}
