package kubectl

import "errors"

var (
	// ErrNotLaunched is returned when the kubectl process could not be
	// started at all (binary missing, permission denied). A command that
	// starts and exits non-zero is not an error.
	ErrNotLaunched = errors.New("command could not be launched")

	// ErrEmptyCommand is returned when Execute is called with no arguments.
	ErrEmptyCommand = errors.New("command cannot be empty")
)
