package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Payload is the free-form request body attached to a transition. The
// engine canonicalizes it before fingerprinting and persistence; handlers
// validate the keys an action requires.
type Payload map[string]any

// Clone returns a shallow copy so stages of the executor can annotate the
// payload (fix_task_id) without mutating the caller's map.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns the trimmed string value for key, or "" when absent or
// not a string.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// UUID parses the value for key as a UUID. Returns nil when the key is
// absent or empty, an error when present but malformed.
func (p Payload) UUID(key string) (*uuid.UUID, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, fmt.Errorf("payload field %q must be a UUID string", key)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("payload field %q is not a valid UUID: %w", key, err)
	}
	return &id, nil
}

// TaskTransition is one applied action on a task, recorded immutably.
// The log per task is totally ordered by ResultRowVersion; escalations
// and creation audit rows carry no versions and sit outside that order.
type TaskTransition struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	ProjectID uuid.UUID `json:"project_id"`
	TaskID    uuid.UUID `json:"task_id"`

	ActorUserID uuid.UUID `json:"actor_user_id"`

	Action     string     `json:"action"`
	FromStatus TaskStatus `json:"from_status"`
	ToStatus   TaskStatus `json:"to_status"`

	// Payload is the canonical JSON of the request payload plus
	// server-derived fields (fix_task_id).
	Payload Payload `json:"payload"`

	ClientEventID *uuid.UUID `json:"client_event_id,omitempty"`
	// Fingerprint is the canonical request digest captured at insert time;
	// replays with the same client_event_id compare against it.
	Fingerprint string `json:"-"`

	ExpectedRowVersion *int `json:"expected_row_version,omitempty"`
	ResultRowVersion   *int `json:"result_row_version,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the transition audit invariants.
func (tr *TaskTransition) Validate() error {
	if tr.Action == "" {
		return fmt.Errorf("action is required")
	}
	if !tr.FromStatus.IsValid() {
		return fmt.Errorf("invalid from_status: %s", tr.FromStatus)
	}
	if !tr.ToStatus.IsValid() {
		return fmt.Errorf("invalid to_status: %s", tr.ToStatus)
	}
	if tr.ExpectedRowVersion != nil {
		if tr.ResultRowVersion == nil {
			return fmt.Errorf("result_row_version is required when expected_row_version is set")
		}
		if *tr.ResultRowVersion != *tr.ExpectedRowVersion+1 {
			return fmt.Errorf("result_row_version must equal expected_row_version+1 (expected %d, got %d)",
				*tr.ExpectedRowVersion+1, *tr.ResultRowVersion)
		}
	}
	return nil
}

// MarshalPayload renders the payload as JSON for storage. A nil payload
// serializes as an empty object.
func (tr *TaskTransition) MarshalPayload() (string, error) {
	if tr.Payload == nil {
		return "{}", nil
	}
	data, err := json.Marshal(tr.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal transition payload: %w", err)
	}
	return string(data), nil
}
