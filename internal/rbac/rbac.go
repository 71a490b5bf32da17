// Package rbac is the permission oracle consulted before any write
// operation reaches the core. It is pure and freely shareable across
// workers.
package rbac

import (
	"fmt"

	"github.com/fabworks/shopfloor/internal/storage"
)

// Roles understood by the permission table. Role names are stringly typed
// on purpose: they arrive from an auth header today and from JWT claims
// later, and the permission keys stay stable either way.
const (
	RoleSystem             = "system"
	RoleLead               = "lead"
	RoleSupervisor         = "supervisor"
	RoleExecutor           = "executor"
	RoleQc                 = "qc"
	RoleInternalController = "internal_controller"
	RoleReceiver           = "receiver"
	RoleProjectCreator     = "project_creator"
	RoleResponsible        = "responsible"
	RoleQualifiedWorker    = "qualified_worker"
)

// allow maps permission keys ("task.<action>", "deliverable.<op>",
// "fix.<source>") to the roles that may perform them.
var allow = map[string]map[string]bool{
	// Deliverables
	"deliverable.create":       roles(RoleProjectCreator, RoleReceiver),
	"deliverable.submit_to_qc": roles(RoleInternalController),
	"deliverable.qc_decision":  roles(RoleQc),
	"deliverable.signoff":      roles(RoleLead, RoleResponsible),

	// Task FSM transitions
	"task.create":         roles(RoleSystem, RoleLead, RoleSupervisor),
	"task.unblock":        roles(RoleSystem, RoleLead),
	"task.self_assign":    roles(RoleExecutor, RoleQualifiedWorker),
	"task.assign":         roles(RoleLead, RoleSupervisor),
	"task.start":          roles(RoleExecutor, RoleLead),
	"task.submit":         roles(RoleExecutor, RoleLead),
	"task.review_approve": roles(RoleLead, RoleSupervisor),
	"task.review_reject":  roles(RoleLead, RoleSupervisor),
	"task.shift_release":  roles(RoleSystem, RoleLead, RoleSupervisor),
	"task.recall_to_pool": roles(RoleLead, RoleSupervisor),
	"task.escalate":       roles(RoleExecutor, RoleLead, RoleSupervisor),
	"task.cancel":         roles(RoleLead, RoleSupervisor),
	"task.dep_add":        roles(RoleSystem, RoleLead),

	// Fix tasks
	"fix.worker_initiative":  roles(RoleQualifiedWorker, RoleExecutor, RoleLead, RoleSupervisor),
	"fix.supervisor_request": roles(RoleLead, RoleSupervisor),
	"fix.qc_reject":          roles(RoleQc),
}

func roles(rr ...string) map[string]bool {
	m := make(map[string]bool, len(rr))
	for _, r := range rr {
		m[r] = true
	}
	return m
}

// EnsureAllowed returns ErrForbidden when the role may not perform the
// operation named by permission. Unknown permissions deny everyone.
func EnsureAllowed(permission, role string) error {
	if !allow[permission][role] {
		return fmt.Errorf("role %q is not allowed for %q: %w", role, permission, storage.ErrForbidden)
	}
	return nil
}

// Known reports whether the permission key exists in the table. The
// transport adapter uses it to reject unknown operation families before
// they reach the core.
func Known(permission string) bool {
	_, ok := allow[permission]
	return ok
}
