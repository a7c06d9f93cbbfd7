package model

import "errors"

// Domain errors. They are client-correctable and surfaced verbatim; wrap them
// with fmt.Errorf("%w: ...") to add detail.
var (
	ErrInvalidRange        = errors.New("invalid range")
	ErrNotFound            = errors.New("not found")
	ErrServiceNotOffered   = errors.New("service not offered")
	ErrOutsideAvailability = errors.New("outside availability")
	ErrSlotUnavailable     = errors.New("slot unavailable")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
)

// ErrInfrastructure marks persistence or dependency failures. Callers may retry
// these; domain errors should not be retried as-is.
var ErrInfrastructure = errors.New("infrastructure error")

var domainErrors = []error{
	ErrInvalidRange,
	ErrNotFound,
	ErrServiceNotOffered,
	ErrOutsideAvailability,
	ErrSlotUnavailable,
	ErrInvalidTransition,
	ErrForbidden,
	ErrInvalidInput,
}

func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Infra wraps err as an infrastructure failure unless it already carries a
// domain error.
func Infra(err error) error {
	if err == nil || IsDomainError(err) || errors.Is(err, ErrInfrastructure) {
		return err
	}
	return &infraError{err: err}
}

type infraError struct {
	err error
}

func (e *infraError) Error() string { return ErrInfrastructure.Error() + ": " + e.err.Error() }

func (e *infraError) Unwrap() []error { return []error{ErrInfrastructure, e.err} }
