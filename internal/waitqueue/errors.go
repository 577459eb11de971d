package waitqueue

import "errors"

// Errors returned by Queue.Wait and Result.Err.
var (
	// ErrTimedOut is returned when the timeout or context deadline expired
	// before the queue was signalled.
	ErrTimedOut = errors.New("waitqueue: timed out")

	// ErrInterrupted is returned when the context was cancelled before the
	// queue was signalled.
	ErrInterrupted = errors.New("waitqueue: interrupted")
)
