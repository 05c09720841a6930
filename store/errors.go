package store

import "errors"

var (
	ErrDuplicateID         = errors.New("equipment id already registered")
	ErrNotFound            = errors.New("equipment not found")
	ErrGenerationExhausted = errors.New("could not generate a unique serial number")
)
