// Package types defines core data structures for the shopfloor task
// orchestration service.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task is a unit of work or corrective action within a tenant/project,
// optionally bound to a physical deliverable.
type Task struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	ProjectID uuid.UUID `json:"project_id"`
	// DeliverableID is nil for tasks not tied to a physical artifact
	// (maintenance/admin work).
	DeliverableID *uuid.UUID `json:"deliverable_id,omitempty"`

	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Kind           TaskKind `json:"kind"`
	OtherKindLabel string   `json:"other_kind_label,omitempty"`
	IsMilestone    bool     `json:"is_milestone,omitempty"`
	Priority       int      `json:"priority"` // No omitempty: 0 is a valid priority

	Status    TaskStatus `json:"status"`
	CreatedBy uuid.UUID  `json:"created_by"`

	AssignedTo *uuid.UUID `json:"assigned_to,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`

	WorkKind WorkKind `json:"work_kind"`

	// Fix context, populated iff WorkKind == WorkFix.
	OriginTaskID   *uuid.UUID   `json:"origin_task_id,omitempty"`
	QcInspectionID *uuid.UUID   `json:"qc_inspection_id,omitempty"`
	FixSource      *FixSource   `json:"fix_source,omitempty"`
	FixSeverity    *FixSeverity `json:"fix_severity,omitempty"`
	MinutesSpent   *int         `json:"minutes_spent,omitempty"`

	// RowVersion is the optimistic concurrency counter; starts at 1 and
	// increments by exactly 1 per committed transition.
	RowVersion int `json:"row_version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks cross-field invariants that must hold on every write.
// Storage-level constraints mirror each of these as a last line of defense.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.Priority < 0 {
		return fmt.Errorf("priority cannot be negative (got %d)", t.Priority)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("invalid task kind: %s", t.Kind)
	}
	if (t.Kind == KindOther) != (t.OtherKindLabel != "") {
		return fmt.Errorf("other_kind_label is required iff kind is %q", KindOther)
	}
	if !t.WorkKind.IsValid() {
		return fmt.Errorf("invalid work kind: %s", t.WorkKind)
	}
	if t.RowVersion < 1 {
		return fmt.Errorf("row_version must be >= 1 (got %d)", t.RowVersion)
	}

	// assigned_to and assigned_at must be set together
	if (t.AssignedTo == nil) != (t.AssignedAt == nil) {
		return fmt.Errorf("assigned_to and assigned_at must be set together")
	}
	if t.AssignedAt != nil && t.AssignedAt.Before(t.CreatedAt) {
		return fmt.Errorf("assigned_at cannot precede created_at")
	}

	// Status/assignment consistency
	switch {
	case t.Status.IsUnassigned() && t.AssignedTo != nil:
		return fmt.Errorf("status %q does not permit an assignee", t.Status)
	case t.Status.IsActive() && t.AssignedTo == nil:
		return fmt.Errorf("status %q requires an assignee", t.Status)
	}

	if t.MinutesSpent != nil && *t.MinutesSpent < 0 {
		return fmt.Errorf("minutes_spent cannot be negative")
	}
	return nil
}

// TaskStatus represents the current lifecycle state of a task.
type TaskStatus string

// Task status constants (pool architecture)
const (
	StatusBlocked    TaskStatus = "blocked"
	StatusAvailable  TaskStatus = "available"
	StatusAssigned   TaskStatus = "assigned"
	StatusInProgress TaskStatus = "in_progress"
	StatusSubmitted  TaskStatus = "submitted"
	StatusDone       TaskStatus = "done"
	StatusCanceled   TaskStatus = "canceled"
)

// IsValid checks if the status value is valid
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusBlocked, StatusAvailable, StatusAssigned, StatusInProgress,
		StatusSubmitted, StatusDone, StatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusCanceled
}

// IsActive reports whether the status counts against the WIP=1 limit
// and requires an assignee.
func (s TaskStatus) IsActive() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusSubmitted:
		return true
	}
	return false
}

// IsUnassigned reports whether the status forbids an assignee.
func (s TaskStatus) IsUnassigned() bool {
	return s == StatusBlocked || s == StatusAvailable
}

// TaskKind is the domain classification of a task. It is orthogonal to
// WorkKind (work vs fix).
type TaskKind string

// Task kind constants
const (
	KindProduction  TaskKind = "production"
	KindMaintenance TaskKind = "maintenance"
	KindAdmin       TaskKind = "admin"
	KindOther       TaskKind = "other"
)

// IsValid checks if the task kind value is valid
func (k TaskKind) IsValid() bool {
	switch k {
	case KindProduction, KindMaintenance, KindAdmin, KindOther:
		return true
	}
	return false
}

// WorkKind distinguishes regular work from corrective fix-tasks.
type WorkKind string

// Work kind constants
const (
	WorkRegular WorkKind = "work"
	WorkFix     WorkKind = "fix"
)

// IsValid checks if the work kind value is valid
func (w WorkKind) IsValid() bool {
	return w == WorkRegular || w == WorkFix
}

// FixSource records why a fix-task exists.
type FixSource string

// Fix source constants
const (
	FixSourceQcReject          FixSource = "qc_reject"
	FixSourceWorkerInitiative  FixSource = "worker_initiative"
	FixSourceSupervisorRequest FixSource = "supervisor_request"
)

// IsValid checks if the fix source value is valid
func (f FixSource) IsValid() bool {
	switch f {
	case FixSourceQcReject, FixSourceWorkerInitiative, FixSourceSupervisorRequest:
		return true
	}
	return false
}

// FixSeverity grades a defect.
type FixSeverity string

// Fix severity constants
const (
	SeverityMinor    FixSeverity = "minor"
	SeverityMajor    FixSeverity = "major"
	SeverityCritical FixSeverity = "critical"
)

// IsValid checks if the fix severity value is valid
func (f FixSeverity) IsValid() bool {
	switch f {
	case SeverityMinor, SeverityMajor, SeverityCritical:
		return true
	}
	return false
}

// TaskDependency is a predecessor -> successor edge between tasks of the
// same tenant. A task created blocked stays blocked until every
// predecessor is done.
type TaskDependency struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	ProjectID     uuid.UUID `json:"project_id"`
	PredecessorID uuid.UUID `json:"predecessor_id"`
	SuccessorID   uuid.UUID `json:"successor_id"`
	CreatedBy     uuid.UUID `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// TaskFilter selects tasks for list queries. All tenant scoping is
// applied by the storage layer; the filter never crosses tenants.
type TaskFilter struct {
	ProjectID     *uuid.UUID
	DeliverableID *uuid.UUID
	Status        *TaskStatus
	AssignedTo    *uuid.UUID
	WorkKind      *WorkKind
	Limit         int
}
