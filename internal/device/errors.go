package device

import (
	"errors"

	"github.com/nerrad567/devio-core/internal/waitqueue"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrWouldBlock) {
//	    // retry later
//	}
var (
	// ErrDeviceNotFound is returned when no device is registered at a (major, minor) pair.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceConflict is returned when a (major, minor) pair is already registered.
	ErrDeviceConflict = errors.New("device: major/minor already registered")

	// ErrDeviceClosed is returned for operations on a closed device.
	ErrDeviceClosed = errors.New("device: closed")

	// ErrInvalidArgument is returned for malformed offsets, sizes or configuration.
	ErrInvalidArgument = errors.New("device: invalid argument")

	// ErrUnsupported is returned when the driver does not implement an operation.
	ErrUnsupported = errors.New("device: operation not supported")

	// ErrWouldBlock is returned by non-blocking calls that cannot proceed now.
	ErrWouldBlock = errors.New("device: operation would block")

	// ErrRequestFailed is the terminal error of a failed AsyncRequest.
	ErrRequestFailed = errors.New("device: request failed")

	// ErrRequestCancelled is the terminal error of a cancelled AsyncRequest.
	ErrRequestCancelled = errors.New("device: request cancelled")

	// ErrRequestPending is returned by AsyncRequest.Result before the request finishes.
	ErrRequestPending = errors.New("device: request not finished")

	// ErrInvalidToken is returned by ProcessNextQueuedRequest for a token that
	// does not belong to the request at the head of the queue.
	ErrInvalidToken = errors.New("device: invalid completion token")
)

// Wait errors are shared with the wait queue so either package's sentinel matches.
var (
	ErrTimedOut    = waitqueue.ErrTimedOut
	ErrInterrupted = waitqueue.ErrInterrupted
)
