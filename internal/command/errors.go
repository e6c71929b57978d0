package command

import "codeberg.org/mutker/servoctl/internal/errors"

const (
	ErrInvalidCommand = errors.ErrorCode("invalid_command")
	ErrUnknownCommand = errors.ErrorCode("unknown_command")
)
