package beacon

import "errors"

// Domain errors for the beacon package.
//
// Configuration write errors map onto GATT attribute errors:
//
//	ErrLocked            -> insufficient authorization
//	ErrInvalidLength     -> invalid attribute value length
//	ErrWriteNotPermitted -> write not permitted
var (
	// ErrLocked is returned for configuration writes while the beacon is locked.
	ErrLocked = errors.New("beacon: locked")

	// ErrInvalidLength is returned when a written value has the wrong size.
	ErrInvalidLength = errors.New("beacon: invalid value length")

	// ErrInvalidValue is returned when a written value is out of range.
	ErrInvalidValue = errors.New("beacon: invalid value")

	// ErrWriteNotPermitted is returned for factory reset writes without the magic byte.
	ErrWriteNotPermitted = errors.New("beacon: write not permitted")

	// ErrUnlockFailed is returned when an unlock key does not match.
	ErrUnlockFailed = errors.New("beacon: unlock failed")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("beacon: machine already running")

	// ErrSlotEmpty is returned when reading a slot with no valid record.
	ErrSlotEmpty = errors.New("beacon: slot empty")
)
