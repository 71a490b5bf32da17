package fixtask

import (
	"fmt"

	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

// ValidateFixContext checks the coherence of a task's fix fields: a fix
// carries a deliverable, source and severity; qc_reject fixes also carry
// the inspection that spawned them; regular tasks carry none of it.
func ValidateFixContext(t *types.Task) error {
	if t.WorkKind != types.WorkFix {
		if t.FixSource != nil || t.FixSeverity != nil || t.OriginTaskID != nil || t.QcInspectionID != nil {
			return fmt.Errorf("regular task cannot carry fix context: %w",
				storage.ErrInvariantViolation)
		}
		return nil
	}

	if t.DeliverableID == nil {
		return fmt.Errorf("fix-task must be linked to a deliverable: %w",
			storage.ErrInvariantViolation)
	}
	if t.FixSource == nil || !t.FixSource.IsValid() {
		return fmt.Errorf("fix-task requires a valid fix_source: %w",
			storage.ErrValidation)
	}
	if t.FixSeverity == nil || !t.FixSeverity.IsValid() {
		return fmt.Errorf("fix-task requires a valid fix_severity: %w",
			storage.ErrValidation)
	}
	switch *t.FixSource {
	case types.FixSourceQcReject:
		if t.QcInspectionID == nil {
			return fmt.Errorf("qc_reject fix requires qc_inspection_id: %w",
				storage.ErrInvariantViolation)
		}
	default:
		if t.QcInspectionID != nil {
			return fmt.Errorf("%s fix cannot reference a qc inspection: %w",
				*t.FixSource, storage.ErrInvariantViolation)
		}
	}
	return nil
}
