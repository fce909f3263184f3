package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrMissingIdentity occurs when a request carries no company scope.
	ErrMissingIdentity = errors.New("missing company identity")
)
