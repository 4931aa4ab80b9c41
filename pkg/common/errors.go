package common

import "errors"

var (
	// ErrNotFound is returned when a key is absent from the probed tier.
	ErrNotFound = errors.New("key not found")

	// ErrAlreadyExists is returned when a compare-and-insert lost a race.
	ErrAlreadyExists = errors.New("key already exists")

	// ErrSlotTooSmall is returned when a payload does not fit an existing slot.
	ErrSlotTooSmall = errors.New("payload larger than slot")
)
