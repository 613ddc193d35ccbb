package model

import "errors"

// Sentinel errors shared by the stores, the core services and the façades.
// Callers match them with errors.Is; stores wrap them with the offending key.
var (
	ErrStationNotFound = errors.New("station not found")
	ErrTrainNotFound   = errors.New("train not found")
	ErrCoachNotFound   = errors.New("coach not found")
	ErrObjectNotFound  = errors.New("object not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrAlertNotFound   = errors.New("alert not found")

	ErrStationExists = errors.New("station already exists")
	ErrTrainExists   = errors.New("train already exists")
	ErrObjectExists  = errors.New("object already exists")
	ErrUserExists    = errors.New("user already exists")

	// ErrAlertExists reports a violation of the "one unresolved alert per
	// natural key" constraint.
	ErrAlertExists = errors.New("unresolved alert already exists")

	// ErrInvalidArgument marks client-side validation failures.
	ErrInvalidArgument = errors.New("invalid argument")
)

// IsNotFound reports whether err wraps any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStationNotFound) ||
		errors.Is(err, ErrTrainNotFound) ||
		errors.Is(err, ErrCoachNotFound) ||
		errors.Is(err, ErrObjectNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrAlertNotFound)
}

// IsConflict reports whether err wraps one of the uniqueness sentinels.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStationExists) ||
		errors.Is(err, ErrTrainExists) ||
		errors.Is(err, ErrObjectExists) ||
		errors.Is(err, ErrUserExists) ||
		errors.Is(err, ErrAlertExists)
}
