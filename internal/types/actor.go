package types

import (
	"fmt"

	"github.com/google/uuid"
)

// ActorContext carries the authenticated caller identity through the core.
// It is extracted from request headers by the transport adapter; the core
// never reads headers itself.
type ActorContext struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	ActorUserID uuid.UUID `json:"actor_user_id"`
	Role        string    `json:"role"`
}

// Validate reports whether the context identifies a caller.
func (a ActorContext) Validate() error {
	if a.TenantID == uuid.Nil {
		return fmt.Errorf("tenant_id is required")
	}
	if a.ActorUserID == uuid.Nil {
		return fmt.Errorf("actor_user_id is required")
	}
	if a.Role == "" {
		return fmt.Errorf("role is required")
	}
	return nil
}
