package motion

import "codeberg.org/mutker/servoctl/internal/errors"

const (
	// Lookup Errors
	ErrActuatorNotFound = errors.ErrorCode("actuator_not_found")

	// Registration Errors
	ErrRegisterFailed = errors.ErrorCode("actuator_register_failed")

	// Actuation Errors
	ErrWriteFailed = errors.ErrorCode("actuator_write_failed")
)
