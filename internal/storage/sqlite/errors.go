package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fabworks/shopfloor/internal/storage"
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to storage.ErrNotFound and constraint violations to their
// equivalent error kind. Driver-specific text never leaks past this
// package.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if kind, detail := classifyConstraint(err); kind != nil {
		return fmt.Errorf("%s: %s: %w", op, detail, kind)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// classifyConstraint translates a SQLite constraint failure into the
// invariant it guards. SQLite names the violated columns for UNIQUE
// indexes and the constraint for named CHECKs, which is enough to map
// every schema constraint onto a stable error kind.
func classifyConstraint(err error) (kind error, detail string) {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "tasks.tenant_id, tasks.assigned_to"):
		return storage.ErrInvariantViolation, "WIP limit: user already has an active task in tenant"
	case strings.Contains(msg, "tasks.tenant_id, tasks.origin_task_id"):
		return storage.ErrInvariantViolation, "a qc_reject fix-task already exists for this origin task"
	case strings.Contains(msg, "qc_inspections.tenant_id, qc_inspections.project_id, qc_inspections.deliverable_id"):
		return storage.ErrInvariantViolation, "a QC inspection already exists for this deliverable"
	case strings.Contains(msg, "deliverables.tenant_id, deliverables.serial"):
		return storage.ErrInvariantViolation, "a deliverable with this serial already exists in tenant"
	case strings.Contains(msg, "task_transitions.tenant_id, task_transitions.task_id, task_transitions.result_row_version"):
		// Two writers raced the same expected version; exactly one committed.
		return storage.ErrVersionConflict, "another transition committed this row version"
	case strings.Contains(msg, "task_dependencies"):
		return storage.ErrInvariantViolation, "dependency already exists"
	case strings.Contains(msg, "CHECK constraint failed"):
		return storage.ErrInvariantViolation, checkConstraintDetail(msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return storage.ErrInvariantViolation, "reference does not exist in tenant/project"
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return storage.ErrInvariantViolation, "uniqueness violated"
	}
	return nil, ""
}

// checkConstraintDetail maps named CHECK constraints onto readable
// explanations; unnamed ones fall back to the constraint text.
func checkConstraintDetail(msg string) string {
	for name, detail := range map[string]string{
		"ck_tasks_other_kind_label":        "other_kind_label is required iff kind is 'other'",
		"ck_tasks_assignment_pair":         "assigned_to and assigned_at must be set together",
		"ck_tasks_status_assignment":       "status and assignment are inconsistent",
		"ck_tasks_assigned_after_created":  "assigned_at cannot precede created_at",
		"ck_tasks_fix_coherence":           "fix fields are inconsistent with work_kind",
		"ck_tasks_qc_reject_inspection":    "qc_reject fix requires a qc_inspection reference",
		"ck_transitions_expected_plus_one": "result_row_version must equal expected_row_version+1",
	} {
		if strings.Contains(msg, name) {
			return detail
		}
	}
	return "check constraint failed"
}
