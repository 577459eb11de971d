package driver

import "errors"

// Sentinel errors for driver construction and transfers.
var (
	// ErrUnknownDriver is returned by New for an unrecognised driver name.
	ErrUnknownDriver = errors.New("driver: unknown driver")

	// ErrInvalidSpec is returned by New when a spec field is out of range.
	ErrInvalidSpec = errors.New("driver: invalid spec")

	// ErrOutOfRange is returned when a block transfer starts past the end of the disk.
	ErrOutOfRange = errors.New("driver: offset beyond end of device")

	// ErrStopped is the completion error of requests still pending when a
	// ramdisk shuts down.
	ErrStopped = errors.New("driver: controller stopped")
)
