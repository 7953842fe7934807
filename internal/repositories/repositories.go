package repositories

import (
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when an optimistic update lost a race
	ErrVersionConflict = errors.New("version conflict")
)
