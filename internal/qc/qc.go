// Package qc drives the deliverable lifecycle: creation, production
// sign-offs, submission to quality control and the QC decision itself.
// A rejection spawns a fix-task through the fixtask package within the
// same transaction as the inspection record.
package qc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/fixtask"
	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

// Service executes deliverable operations against a store.
type Service struct {
	store storage.Store
}

// NewService returns a Service backed by the given store.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// DeliverableSpec describes a deliverable to create.
type DeliverableSpec struct {
	ProjectID       uuid.UUID
	DeliverableType string
	Serial          string
}

// CreateDeliverable persists a new deliverable in status open. A serial
// already used within the tenant reports InvariantViolation.
func (s *Service) CreateDeliverable(ctx context.Context, actor types.ActorContext, spec DeliverableSpec) (*types.Deliverable, error) {
	if err := actor.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, storage.ErrUnauthenticated)
	}
	if spec.ProjectID == uuid.Nil {
		return nil, fmt.Errorf("project_id is required: %w", storage.ErrValidation)
	}
	d := &types.Deliverable{
		ID:              uuid.New(),
		TenantID:        actor.TenantID,
		ProjectID:       spec.ProjectID,
		DeliverableType: strings.TrimSpace(spec.DeliverableType),
		Serial:          strings.TrimSpace(spec.Serial),
		Status:          types.DeliverableOpen,
		CreatedBy:       actor.ActorUserID,
	}
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.CreateDeliverable(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// AddSignoff appends a production sign-off. Sign-offs are append-only;
// the latest one determines whether the deliverable may go to QC.
func (s *Service) AddSignoff(ctx context.Context, actor types.ActorContext, deliverableID uuid.UUID, result types.SignoffResult, comment string) (*types.DeliverableSignoff, error) {
	if err := actor.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, storage.ErrUnauthenticated)
	}
	if !result.IsValid() {
		return nil, fmt.Errorf("invalid sign-off result %q: %w", result, storage.ErrValidation)
	}
	var signoff *types.DeliverableSignoff
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		d, err := tx.GetDeliverable(ctx, actor.TenantID, deliverableID)
		if err != nil {
			return err
		}
		if d.Status != types.DeliverableOpen && d.Status != types.DeliverableQcRejected {
			return fmt.Errorf("deliverable %s is %s, sign-off requires open or qc_rejected: %w",
				d.ID, d.Status, storage.ErrTransitionNotAllowed)
		}
		signoff = &types.DeliverableSignoff{
			ID:            uuid.New(),
			TenantID:      d.TenantID,
			ProjectID:     d.ProjectID,
			DeliverableID: d.ID,
			SignedOffBy:   actor.ActorUserID,
			Result:        result,
			Comment:       strings.TrimSpace(comment),
			CreatedAt:     time.Now().UTC(),
		}
		return tx.InsertSignoff(ctx, signoff)
	})
	if err != nil {
		return nil, err
	}
	return signoff, nil
}

// SubmitToQc moves an open or previously rejected deliverable to
// submitted_to_qc, gated on its latest sign-off being approved.
func (s *Service) SubmitToQc(ctx context.Context, actor types.ActorContext, deliverableID uuid.UUID) (*types.Deliverable, error) {
	if err := actor.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, storage.ErrUnauthenticated)
	}
	var out *types.Deliverable
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		d, err := tx.GetDeliverable(ctx, actor.TenantID, deliverableID)
		if err != nil {
			return err
		}
		if d.Status != types.DeliverableOpen && d.Status != types.DeliverableQcRejected {
			return fmt.Errorf("deliverable %s is %s, submit requires open or qc_rejected: %w",
				d.ID, d.Status, storage.ErrTransitionNotAllowed)
		}
		latest, err := tx.LatestSignoff(ctx, d.TenantID, d.ID)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("deliverable %s has no production sign-off: %w",
					d.ID, storage.ErrTransitionNotAllowed)
			}
			return err
		}
		if latest.Result != types.SignoffApproved {
			return fmt.Errorf("latest sign-off for deliverable %s is %s: %w",
				d.ID, latest.Result, storage.ErrTransitionNotAllowed)
		}
		if err := tx.UpdateDeliverableStatus(ctx, d.TenantID, d.ID, types.DeliverableSubmittedToQc); err != nil {
			return err
		}
		d.Status = types.DeliverableSubmittedToQc
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Decision is the outcome of one QC inspection.
type Decision struct {
	Deliverable *types.Deliverable
	Inspection  *types.QcInspection
	// FixTask is set when the deliverable was rejected.
	FixTask *types.Task
}

// Decide records the QC inspection for a deliverable in submitted_to_qc.
// Approval closes the deliverable as qc_approved; rejection marks it
// qc_rejected and creates a qc_reject fix-task carrying the notes and the
// responsible user from the latest approved sign-off.
func (s *Service) Decide(ctx context.Context, actor types.ActorContext, deliverableID uuid.UUID, result types.QcResult, notes string) (*Decision, error) {
	if err := actor.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, storage.ErrUnauthenticated)
	}
	if !result.IsValid() {
		return nil, fmt.Errorf("invalid qc result %q: %w", result, storage.ErrValidation)
	}
	notes = strings.TrimSpace(notes)
	// Rejection without notes fails before any state change.
	if result == types.QcRejected && notes == "" {
		return nil, fmt.Errorf("qc rejection requires notes: %w", storage.ErrValidation)
	}

	var decision *Decision
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		d, err := tx.GetDeliverable(ctx, actor.TenantID, deliverableID)
		if err != nil {
			return err
		}
		if d.Status != types.DeliverableSubmittedToQc {
			return fmt.Errorf("deliverable %s is %s, qc decision requires submitted_to_qc: %w",
				d.ID, d.Status, storage.ErrTransitionNotAllowed)
		}

		insp := &types.QcInspection{
			ID:              uuid.New(),
			TenantID:        d.TenantID,
			ProjectID:       d.ProjectID,
			DeliverableID:   d.ID,
			InspectorUserID: actor.ActorUserID,
			Result:          result,
			Notes:           notes,
			CreatedAt:       time.Now().UTC(),
		}
		decision = &Decision{Deliverable: d, Inspection: insp}

		if result == types.QcApproved {
			if err := tx.InsertInspection(ctx, insp); err != nil {
				return err
			}
			if err := tx.UpdateDeliverableStatus(ctx, d.TenantID, d.ID, types.DeliverableQcApproved); err != nil {
				return err
			}
			d.Status = types.DeliverableQcApproved
			return nil
		}

		responsible, err := tx.LatestApprovedSignoff(ctx, d.TenantID, d.ID)
		switch {
		case err == nil:
			signer := responsible.SignedOffBy
			insp.ResponsibleUserID = &signer
		case !isNotFound(err):
			return err
		}

		if err := tx.InsertInspection(ctx, insp); err != nil {
			return err
		}
		if err := tx.UpdateDeliverableStatus(ctx, d.TenantID, d.ID, types.DeliverableQcRejected); err != nil {
			return err
		}
		d.Status = types.DeliverableQcRejected

		title := fmt.Sprintf("QC reject: %s %s", d.DeliverableType, d.Serial)
		fix, err := fixtask.QcReject(ctx, tx, d, actor.ActorUserID, insp.ID, title, notes, types.SeverityMajor)
		if err != nil {
			return err
		}
		decision.FixTask = fix
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
