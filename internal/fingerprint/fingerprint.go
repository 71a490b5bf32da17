// Package fingerprint computes the canonical fingerprint used to decide
// whether two requests sharing a client_event_id are the same request.
//
// Normalization ruleset:
//   - server-generated payload keys (fix_task_id) are dropped
//   - identifier values are coerced to canonical lowercase hyphenated
//     UUID form
//   - enum-valued keys (severity, source, result) compare case-insensitively
//     in lowercase form
//   - textual fields are whitespace-trimmed
//   - serialization is JSON with keys sorted and fixed separators
//
// Two requests with equal canonical form are "the same request"; a reused
// client_event_id with a different form is an idempotency conflict.
package fingerprint

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/types"
)

// serverKeys are payload keys written by the server after the request was
// fingerprinted; they never participate in comparison.
var serverKeys = map[string]bool{
	"fix_task_id": true,
}

// enumKeys hold closed-set values; their case never matters.
var enumKeys = map[string]bool{
	"severity": true,
	"source":   true,
	"result":   true,
}

// Request is the set of fields that identify a transition request.
type Request struct {
	TaskID             uuid.UUID
	ActorUserID        uuid.UUID
	Action             string
	ExpectedRowVersion int
	Payload            types.Payload
}

// Compute returns the hex digest of the request's canonical form.
func Compute(req Request) string {
	canonical := map[string]any{
		"task_id":              req.TaskID.String(),
		"actor_user_id":        req.ActorUserID.String(),
		"action":               strings.TrimSpace(req.Action),
		"expected_row_version": req.ExpectedRowVersion,
		"payload":              NormalizePayload(req.Payload),
	}
	// json.Marshal sorts map keys and uses fixed separators, which is
	// exactly the canonical serialization we need.
	data, err := json.Marshal(canonical)
	if err != nil {
		// Only unmarshalable values (chan, func) can get here; payloads
		// arrive from JSON so this is unreachable in practice.
		panic(fmt.Sprintf("fingerprint: canonical form not serializable: %v", err))
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// NormalizePayload returns the canonical form of a payload map. The input
// is not mutated. Nil normalizes to an empty map so absent and empty
// payloads compare equal.
func NormalizePayload(p types.Payload) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		if serverKeys[k] {
			continue
		}
		norm := normalizeValue(v)
		if s, ok := norm.(string); ok && enumKeys[k] {
			norm = strings.ToLower(s)
		}
		out[k] = norm
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if id, err := uuid.Parse(trimmed); err == nil {
			return id.String()
		}
		return trimmed
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, nested := range val {
			m[k] = normalizeValue(nested)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, nested := range val {
			s[i] = normalizeValue(nested)
		}
		return s
	case json.Number:
		return val.String()
	default:
		return v
	}
}

// Equal reports whether two payloads have the same canonical form given
// the same request envelope. Used when replaying a stored transition
// against a fresh request.
func Equal(a, b Request) bool {
	return Compute(a) == Compute(b)
}
