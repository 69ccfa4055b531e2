package model

import "errors"

// Sentinel errors for model loading and validation. A model that fails
// validation is a configuration error: requests against it are rejected
// before any query tree is built, and nothing is retried.
//
// Use the Is*Err helpers to check for specific errors.
var (
	// ErrInvalidModel is returned when a model definition is structurally
	// wrong: unknown field types, duplicate names, bad permission
	// profiles, malformed language tags.
	ErrInvalidModel = errors.New("stillsuit: invalid model")

	// ErrCyclicModel is returned when embedded object fields form a
	// cycle. Embedded objects nest their full shape, so a cycle would
	// mean an infinitely deep document; break the cycle by declaring one
	// side as a reference field.
	ErrCyclicModel = errors.New("stillsuit: cyclic embedded object fields")
)

// IsInvalidModelErr returns true if err is or wraps ErrInvalidModel.
func IsInvalidModelErr(err error) bool {
	return errors.Is(err, ErrInvalidModel)
}

// IsCyclicModelErr returns true if err is or wraps ErrCyclicModel.
func IsCyclicModelErr(err error) bool {
	return errors.Is(err, ErrCyclicModel)
}
