package servo

import "codeberg.org/mutker/servoctl/internal/errors"

const (
	// Lifecycle Errors
	ErrAttachFailed = errors.ErrorCode("servo_attach_failed")
	ErrDetachFailed = errors.ErrorCode("servo_detach_failed")
	ErrNotAttached  = errors.ErrorCode("servo_not_attached")

	// Output Errors
	ErrWriteFailed = errors.ErrorCode("servo_write_failed")
)
