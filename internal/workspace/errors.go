package workspace

import "errors"

var (
	// ErrNotFound is returned when a workspace or a file inside it does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPath is returned when a relative path fails validation.
	ErrInvalidPath = errors.New("invalid path")
)
