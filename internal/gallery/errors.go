package gallery

import "errors"

// Errors returned by collection operations. Check them with errors.Is.
var (
	// ErrValidation is returned when input is rejected before any I/O,
	// such as an empty document name.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a document id is not in the collection.
	ErrNotFound = errors.New("document not found")

	// ErrIndex is returned when an image index is out of bounds.
	ErrIndex = errors.New("image index out of range")
)
