package doublebuffer

import "errors"

// Sentinel errors for double buffer operations.
var (
	// ErrInvalidCapacity is returned by New for a non-positive capacity.
	ErrInvalidCapacity = errors.New("doublebuffer: invalid capacity")

	// ErrClosed is returned when writing to a closed buffer.
	ErrClosed = errors.New("doublebuffer: closed")
)
