package credentials

import "errors"

var (
	// ErrNotFound covers both a missing id and an id owned by someone else.
	ErrNotFound = errors.New("credentials: not found")
	ErrConflict = errors.New("credentials: already exists")
	ErrInactive = errors.New("credentials: credential is inactive")
)
