package orders

import "errors"

var (
	// ErrNotFound is returned when a patch targets a record that does not exist.
	ErrNotFound = errors.New("order record not found")
	// ErrEmptyFilter is returned by Scan for a filter set with no conditions.
	ErrEmptyFilter = errors.New("at least one filter required")
	// ErrEmptyPatch is returned when an update carries no patchable field.
	ErrEmptyPatch = errors.New("no fields to update")
	// ErrUnknownField is returned for filter or patch keys outside the record schema.
	ErrUnknownField = errors.New("unknown field")
)
