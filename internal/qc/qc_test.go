package qc

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/storage/sqlite"
	"github.com/fabworks/shopfloor/internal/types"
)

type harness struct {
	svc    *Service
	store  storage.Store
	tenant uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ctx := context.Background()
	store, err := sqlite.New(ctx, t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	return &harness{svc: NewService(store), store: store, tenant: uuid.New()}
}

func (h *harness) actorAs(role string) types.ActorContext {
	return types.ActorContext{TenantID: h.tenant, ActorUserID: uuid.New(), Role: role}
}

func (h *harness) openDeliverable(t *testing.T, serial string) *types.Deliverable {
	t.Helper()
	d, err := h.svc.CreateDeliverable(context.Background(), h.actorAs("planner"), DeliverableSpec{
		ProjectID:       uuid.New(),
		DeliverableType: "gearbox",
		Serial:          serial,
	})
	require.NoError(t, err)
	return d
}

func TestCreateDeliverable(t *testing.T) {
	h := newHarness(t)
	d := h.openDeliverable(t, "  GB-001  ")

	assert.Equal(t, types.DeliverableOpen, d.Status)
	assert.Equal(t, "GB-001", d.Serial)

	// Serials are unique per tenant.
	_, err := h.svc.CreateDeliverable(context.Background(), h.actorAs("planner"), DeliverableSpec{
		ProjectID:       uuid.New(),
		DeliverableType: "gearbox",
		Serial:          "GB-001",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrInvariantViolation))
}

func TestSubmitRequiresApprovedSignoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.openDeliverable(t, "GB-010")
	lead := h.actorAs("lead")

	// No sign-off at all.
	_, err := h.svc.SubmitToQc(ctx, lead, d.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrTransitionNotAllowed))

	// Latest sign-off rejected.
	_, err = h.svc.AddSignoff(ctx, lead, d.ID, types.SignoffRejected, "torque spec not met")
	require.NoError(t, err)
	_, err = h.svc.SubmitToQc(ctx, lead, d.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrTransitionNotAllowed))

	// A newer approval opens the gate.
	_, err = h.svc.AddSignoff(ctx, lead, d.ID, types.SignoffApproved, "")
	require.NoError(t, err)
	got, err := h.svc.SubmitToQc(ctx, lead, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeliverableSubmittedToQc, got.Status)

	// Submitted deliverables accept no further sign-offs.
	_, err = h.svc.AddSignoff(ctx, lead, d.ID, types.SignoffApproved, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrTransitionNotAllowed))
}

func TestDecideApprove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.openDeliverable(t, "GB-020")
	lead := h.actorAs("lead")
	inspector := h.actorAs("qc")

	_, err := h.svc.AddSignoff(ctx, lead, d.ID, types.SignoffApproved, "")
	require.NoError(t, err)
	_, err = h.svc.SubmitToQc(ctx, lead, d.ID)
	require.NoError(t, err)

	decision, err := h.svc.Decide(ctx, inspector, d.ID, types.QcApproved, "")
	require.NoError(t, err)
	assert.Equal(t, types.DeliverableQcApproved, decision.Deliverable.Status)
	assert.Equal(t, types.QcApproved, decision.Inspection.Result)
	assert.Equal(t, inspector.ActorUserID, decision.Inspection.InspectorUserID)
	assert.Nil(t, decision.FixTask)
}

func TestDecideRejectSpawnsFix(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.openDeliverable(t, "GB-030")
	firstSigner := h.actorAs("lead")
	secondSigner := h.actorAs("lead")
	inspector := h.actorAs("qc")

	_, err := h.svc.AddSignoff(ctx, firstSigner, d.ID, types.SignoffApproved, "")
	require.NoError(t, err)
	_, err = h.svc.AddSignoff(ctx, secondSigner, d.ID, types.SignoffApproved, "recheck ok")
	require.NoError(t, err)
	_, err = h.svc.SubmitToQc(ctx, secondSigner, d.ID)
	require.NoError(t, err)

	decision, err := h.svc.Decide(ctx, inspector, d.ID, types.QcRejected, "backlash out of range")
	require.NoError(t, err)
	assert.Equal(t, types.DeliverableQcRejected, decision.Deliverable.Status)

	// Responsibility lands on the most recent approving signer.
	require.NotNil(t, decision.Inspection.ResponsibleUserID)
	assert.Equal(t, secondSigner.ActorUserID, *decision.Inspection.ResponsibleUserID)

	fix := decision.FixTask
	require.NotNil(t, fix)
	assert.Equal(t, types.WorkFix, fix.WorkKind)
	assert.Equal(t, "QC reject: gearbox GB-030", fix.Title)
	assert.Equal(t, "backlash out of range", fix.Description)
	require.NotNil(t, fix.FixSource)
	assert.Equal(t, types.FixSourceQcReject, *fix.FixSource)
	require.NotNil(t, fix.QcInspectionID)
	assert.Equal(t, decision.Inspection.ID, *fix.QcInspectionID)
	require.NotNil(t, fix.DeliverableID)
	assert.Equal(t, d.ID, *fix.DeliverableID)

	// Exactly one inspection exists; a second decision is rejected.
	_, err = h.svc.Decide(ctx, inspector, d.ID, types.QcApproved, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrTransitionNotAllowed))

	inspections, err := h.store.ListInspections(ctx, h.tenant, d.ID)
	require.NoError(t, err)
	assert.Len(t, inspections, 1)
}

func TestDecideRejectRequiresNotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.openDeliverable(t, "GB-040")
	lead := h.actorAs("lead")

	_, err := h.svc.AddSignoff(ctx, lead, d.ID, types.SignoffApproved, "")
	require.NoError(t, err)
	_, err = h.svc.SubmitToQc(ctx, lead, d.ID)
	require.NoError(t, err)

	_, err = h.svc.Decide(ctx, h.actorAs("qc"), d.ID, types.QcRejected, "   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrValidation))

	// The failed decision left the deliverable untouched.
	got, err := h.store.GetDeliverable(ctx, h.tenant, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeliverableSubmittedToQc, got.Status)
}

func TestDecideRequiresSubmittedStatus(t *testing.T) {
	h := newHarness(t)
	d := h.openDeliverable(t, "GB-050")

	_, err := h.svc.Decide(context.Background(), h.actorAs("qc"), d.ID, types.QcApproved, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrTransitionNotAllowed))
}

func TestDecideInvalidResult(t *testing.T) {
	h := newHarness(t)
	d := h.openDeliverable(t, "GB-060")

	_, err := h.svc.Decide(context.Background(), h.actorAs("qc"), d.ID, types.QcResult("maybe"), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrValidation))
}

func TestRejectedDeliverableCanResubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.openDeliverable(t, "GB-070")
	lead := h.actorAs("lead")

	_, err := h.svc.AddSignoff(ctx, lead, d.ID, types.SignoffApproved, "")
	require.NoError(t, err)
	_, err = h.svc.SubmitToQc(ctx, lead, d.ID)
	require.NoError(t, err)
	_, err = h.svc.Decide(ctx, h.actorAs("qc"), d.ID, types.QcRejected, "paint run on cover")
	require.NoError(t, err)

	// After rework the deliverable is signed off and submitted again.
	_, err = h.svc.AddSignoff(ctx, lead, d.ID, types.SignoffApproved, "rework done")
	require.NoError(t, err)
	got, err := h.svc.SubmitToQc(ctx, lead, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeliverableSubmittedToQc, got.Status)
}

func TestUnauthenticatedActor(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateDeliverable(context.Background(), types.ActorContext{}, DeliverableSpec{
		ProjectID: uuid.New(),
		Serial:    "GB-080",
	})
	assert.True(t, errors.Is(err, storage.ErrUnauthenticated))
}
