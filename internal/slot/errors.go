package slot

import "errors"

// Domain-specific errors for the slot store.
var (
	// ErrNotFound is returned when the backend holds no value for a tag.
	ErrNotFound = errors.New("slot: not found")

	// ErrBackend wraps any storage failure. The store never retries.
	ErrBackend = errors.New("slot: backend failure")

	// ErrPayloadTooLong is returned when a payload exceeds the record buffer.
	ErrPayloadTooLong = errors.New("slot: payload too long")

	// ErrCorruptRecord is returned when a stored value has the wrong size.
	ErrCorruptRecord = errors.New("slot: corrupt record")
)
