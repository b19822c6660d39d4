package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidArgument indicates a record failed basic shape checks before persistence.
	ErrInvalidArgument = errors.New("repository: invalid argument")
)
