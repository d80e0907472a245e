package domain

import "errors"

// ErrInvalidArgument indicates that a caller-provided value violates a
// precondition. Construction-time configuration errors wrap it.
var ErrInvalidArgument = errors.New("invalid argument")
