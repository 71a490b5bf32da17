package storage

import "errors"

// Sentinel error kinds crossing the storage boundary. The transport
// adapter maps these onto stable HTTP statuses; nothing above the storage
// layer ever sees driver-specific error text.
var (
	// ErrNotFound indicates the target task/deliverable does not exist in
	// the tenant.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates the caller's expected_row_version no
	// longer matches the task, or the caller lost an optimistic race.
	ErrVersionConflict = errors.New("version conflict")

	// ErrIdempotencyConflict indicates a client_event_id was reused with a
	// different request fingerprint.
	ErrIdempotencyConflict = errors.New("idempotency conflict")

	// ErrTransitionNotAllowed indicates the action is invalid from the
	// current status or is missing required action data.
	ErrTransitionNotAllowed = errors.New("transition not allowed")

	// ErrInvariantViolation indicates a durable invariant (WIP limit, fix
	// context rules, uniqueness, reference consistency) would be broken.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrValidation indicates a malformed payload or entity.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden indicates the actor's role lacks permission.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated indicates missing actor/tenant context.
	ErrUnauthenticated = errors.New("unauthenticated")
)
