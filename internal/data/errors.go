package data

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("already exists")
	ErrAlreadyRequested = errors.New("request already outstanding")
	ErrNoChanges        = errors.New("no updatable fields supplied")
	ErrInvalidRole      = errors.New("invalid role")
)

// FieldError reports a rejected input field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
