package device

import "errors"

// Domain errors for the device package, checked with errors.Is.
var (
	// ErrNotFound is returned when a device or line name does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrExists is returned when registering a duplicate device or line.
	ErrExists = errors.New("device: already exists")

	// ErrLineOwned is returned when attaching a line that another device
	// already references.
	ErrLineOwned = errors.New("device: line already attached")

	// ErrSubLimit is returned when a line has no free subchannel slot.
	ErrSubLimit = errors.New("device: subchannel limit reached")

	// ErrAuth is returned when a registration source address fails the
	// device ACL.
	ErrAuth = errors.New("device: address not permitted")
)
