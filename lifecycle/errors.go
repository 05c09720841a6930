package lifecycle

import (
	"errors"

	"Gin_postgres_redis_rent_tracker/store"
)

var (
	ErrNotFound            = store.ErrNotFound
	ErrDuplicateID         = store.ErrDuplicateID
	ErrGenerationExhausted = store.ErrGenerationExhausted

	ErrAlreadyRented        = errors.New("equipment is already rented")
	ErrNotRented            = errors.New("equipment is not rented")
	ErrStatusRequired       = errors.New("status is required")
	ErrUnknownStatus        = errors.New("unknown status")
	ErrReservedByRequired   = errors.New("reservedBy is required for reserved status")
	ErrInvalidState         = errors.New("status cannot be changed while rented")
	ErrInvalidHours         = errors.New("hours must not be negative")
	ErrCompanyRequired      = errors.New("rental company is required")
	ErrValidation           = errors.New("validation failed")
	ErrConfirmationRequired = errors.New("confirmation required")
)

// IsValidation reports whether err is caused by bad command input rather than record state.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrStatusRequired, ErrUnknownStatus, ErrReservedByRequired, ErrInvalidHours,
		ErrCompanyRequired, ErrValidation, ErrConfirmationRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict reports whether err is a state conflict with the current record.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateID) || errors.Is(err, ErrAlreadyRented) ||
		errors.Is(err, ErrNotRented) || errors.Is(err, ErrInvalidState)
}
