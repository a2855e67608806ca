package eddystone

import "errors"

// Domain-specific errors for the frame codec.
var (
	// ErrUnsupportedFrame is returned for EID frames and unknown frame types.
	ErrUnsupportedFrame = errors.New("eddystone: unsupported frame type")

	// ErrPayloadLength is returned when a slot payload does not fit its frame type.
	ErrPayloadLength = errors.New("eddystone: invalid payload length")

	// ErrNotEddystone is returned by Parse when no 0xFEAA service data is present.
	ErrNotEddystone = errors.New("eddystone: no eddystone service data")

	// ErrMalformed is returned by Parse for truncated or inconsistent AD structures.
	ErrMalformed = errors.New("eddystone: malformed advertising data")

	// ErrInvalidURL is returned when a URL cannot be compressed or expanded.
	ErrInvalidURL = errors.New("eddystone: invalid url")

	// ErrURLTooLong is returned when the compressed URL body exceeds 17 bytes.
	ErrURLTooLong = errors.New("eddystone: encoded url too long")

	// ErrInvalidIdentifier is returned for badly formed namespace or instance IDs.
	ErrInvalidIdentifier = errors.New("eddystone: invalid identifier")
)
