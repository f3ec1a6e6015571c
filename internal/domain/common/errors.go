package common

import "errors"

var (
	ErrNotFound     = errors.New("requested item not found")
	ErrConflict     = errors.New("item already exists or conflict")
	ErrForbidden    = errors.New("action forbidden")
	ErrInvalidInput = errors.New("invalid input")
)
