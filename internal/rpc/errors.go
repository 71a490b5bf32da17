package rpc

import (
	"errors"
	"net/http"

	"github.com/fabworks/shopfloor/internal/storage"
)

// Error kind names as they appear on the wire.
const (
	KindNotFound             = "NotFound"
	KindVersionConflict      = "VersionConflict"
	KindIdempotencyConflict  = "IdempotencyConflict"
	KindTransitionNotAllowed = "TransitionNotAllowed"
	KindInvariantViolation   = "InvariantViolation"
	KindValidation           = "Validation"
	KindForbidden            = "Forbidden"
	KindUnauthenticated      = "Unauthenticated"
	KindInternal             = "Internal"
)

// KindOf classifies an error into its wire kind via the storage sentinels.
func KindOf(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return KindNotFound
	case errors.Is(err, storage.ErrVersionConflict):
		return KindVersionConflict
	case errors.Is(err, storage.ErrIdempotencyConflict):
		return KindIdempotencyConflict
	case errors.Is(err, storage.ErrTransitionNotAllowed):
		return KindTransitionNotAllowed
	case errors.Is(err, storage.ErrInvariantViolation):
		return KindInvariantViolation
	case errors.Is(err, storage.ErrValidation):
		return KindValidation
	case errors.Is(err, storage.ErrForbidden):
		return KindForbidden
	case errors.Is(err, storage.ErrUnauthenticated):
		return KindUnauthenticated
	default:
		return KindInternal
	}
}

// HTTPStatus maps a wire kind to its HTTP status code.
func HTTPStatus(kind string) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindVersionConflict, KindIdempotencyConflict:
		return http.StatusConflict
	case KindTransitionNotAllowed, KindInvariantViolation, KindValidation:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
