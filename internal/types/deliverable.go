package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Deliverable is a physical artifact identified by (tenant, serial). Its
// lifecycle is independent from tasks but generates fix-tasks on QC
// rejection.
type Deliverable struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	ProjectID uuid.UUID `json:"project_id"`

	DeliverableType string            `json:"deliverable_type"`
	Serial          string            `json:"serial"`
	Status          DeliverableStatus `json:"status"`
	CreatedBy       uuid.UUID         `json:"created_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks field values before a write.
func (d *Deliverable) Validate() error {
	if d.Serial == "" {
		return fmt.Errorf("serial is required")
	}
	if d.DeliverableType == "" {
		return fmt.Errorf("deliverable_type is required")
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("invalid deliverable status: %s", d.Status)
	}
	return nil
}

// DeliverableStatus is the deliverable's own small FSM state.
type DeliverableStatus string

// Deliverable status constants
const (
	DeliverableOpen          DeliverableStatus = "open"
	DeliverableSubmittedToQc DeliverableStatus = "submitted_to_qc"
	DeliverableQcRejected    DeliverableStatus = "qc_rejected"
	DeliverableQcApproved    DeliverableStatus = "qc_approved"
	DeliverableCanceled      DeliverableStatus = "canceled"
)

// IsValid checks if the deliverable status value is valid
func (s DeliverableStatus) IsValid() bool {
	switch s {
	case DeliverableOpen, DeliverableSubmittedToQc, DeliverableQcRejected,
		DeliverableQcApproved, DeliverableCanceled:
		return true
	}
	return false
}

// SignoffResult is the outcome of a production sign-off.
type SignoffResult string

// Sign-off result constants
const (
	SignoffApproved SignoffResult = "approved"
	SignoffRejected SignoffResult = "rejected"
)

// IsValid checks if the sign-off result value is valid
func (r SignoffResult) IsValid() bool {
	return r == SignoffApproved || r == SignoffRejected
}

// DeliverableSignoff is the production responsibility point before QC.
// The most recent approved signer becomes the responsible user when QC
// rejects the deliverable.
type DeliverableSignoff struct {
	ID            uuid.UUID     `json:"id"`
	TenantID      uuid.UUID     `json:"tenant_id"`
	ProjectID     uuid.UUID     `json:"project_id"`
	DeliverableID uuid.UUID     `json:"deliverable_id"`
	SignedOffBy   uuid.UUID     `json:"signed_off_by"`
	Result        SignoffResult `json:"result"`
	Comment       string        `json:"comment,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// QcResult is the outcome of a QC inspection.
type QcResult string

// QC result constants
const (
	QcApproved QcResult = "approved"
	QcRejected QcResult = "rejected"
)

// IsValid checks if the QC result value is valid
func (r QcResult) IsValid() bool {
	return r == QcApproved || r == QcRejected
}

// QcInspection is an immutable record of one QC decision on a
// deliverable. At most one exists per (tenant, project, deliverable).
type QcInspection struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	ProjectID     uuid.UUID `json:"project_id"`
	DeliverableID uuid.UUID `json:"deliverable_id"`

	InspectorUserID uuid.UUID `json:"inspector_user_id"`
	// ResponsibleUserID is the signer of the last approved production
	// sign-off at rejection time; nil when no approved sign-off exists.
	ResponsibleUserID *uuid.UUID `json:"responsible_user_id,omitempty"`

	Result QcResult `json:"result"`
	Notes  string   `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
