package journal

import "errors"

// ErrNotFound is returned by Get for an unknown request ID.
var ErrNotFound = errors.New("journal: request not found")
