package device

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devio-core/internal/waitqueue"
)

// ID is the (major, minor) pair that addresses a device.
type ID struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
}

// String returns "major:minor".
func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Major, id.Minor)
}

// Kind classifies a device by how it is addressed.
type Kind string

// Device kinds.
const (
	// KindCharacter devices are byte streams; offsets are ignored.
	KindCharacter Kind = "character"

	// KindBlock devices are random-access and served through the request queue.
	KindBlock Kind = "block"
)

// AllKinds returns all valid device kinds.
func AllKinds() []Kind {
	return []Kind{KindCharacter, KindBlock}
}

// Operation is the direction of a transfer.
type Operation string

// Transfer directions.
const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// Description is the open-file context a caller passes with every operation.
// A nil *Description behaves like the zero value: blocking, no timeout.
type Description struct {
	// NonBlocking makes operations return ErrWouldBlock instead of waiting.
	NonBlocking bool

	// Timeout bounds each blocking wait. waitqueue.Forever (zero) disables it.
	Timeout time.Duration
}

// IsNonBlocking reports whether d is non-nil and non-blocking.
func (d *Description) IsNonBlocking() bool {
	return d != nil && d.NonBlocking
}

// WaitTimeout returns the per-wait timeout, waitqueue.Forever for a nil d.
func (d *Description) WaitTimeout() time.Duration {
	if d == nil {
		return waitqueue.Forever
	}
	return d.Timeout
}

// Events is a set of readiness conditions for WaitReady.
type Events uint8

// Readiness conditions.
const (
	EventRead Events = 1 << iota
	EventWrite
)

// String returns a "|"-joined list such as "read|write".
func (e Events) String() string {
	var parts []string
	if e&EventRead != 0 {
		parts = append(parts, "read")
	}
	if e&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// RequestState is the lifecycle position of an AsyncRequest.
//
//	Queued ──▶ InProgress ──▶ Completed | Failed | Cancelled
//	   │
//	   └──────▶ Cancelled
type RequestState int32

// Request states.
const (
	StateQueued RequestState = iota
	StateInProgress
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns the lower-case state name used in logs and the API.
func (s RequestState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RequestState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RequestState) UnmarshalText(text []byte) error {
	st, ok := ParseRequestState(string(text))
	if !ok {
		return fmt.Errorf("%w: unknown request state %q", ErrInvalidArgument, text)
	}
	*s = st
	return nil
}

// ParseRequestState is the inverse of RequestState.String.
func ParseRequestState(name string) (RequestState, bool) {
	for st := StateQueued; st <= StateCancelled; st++ {
		if st.String() == name {
			return st, true
		}
	}
	return 0, false
}

// IsTerminal reports whether the state is final.
func (s RequestState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Entry is the registry listing of one device, as exposed to management tooling.
type Entry struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Path string `json:"path"`
	UID  uint32 `json:"uid"`
	GID  uint32 `json:"gid"`
}

// Stats are per-device I/O counters.
type Stats struct {
	BytesRead         uint64 `json:"bytes_read"`
	BytesWritten      uint64 `json:"bytes_written"`
	Reads             uint64 `json:"reads"`
	Writes            uint64 `json:"writes"`
	Errors            uint64 `json:"errors"`
	RequestsCompleted uint64 `json:"requests_completed"`
	RequestsFailed    uint64 `json:"requests_failed"`
	RequestsCancelled uint64 `json:"requests_cancelled"`
	Queued            int    `json:"queued"`
}

// add accumulates o into s.
func (s *Stats) add(o Stats) {
	s.BytesRead += o.BytesRead
	s.BytesWritten += o.BytesWritten
	s.Reads += o.Reads
	s.Writes += o.Writes
	s.Errors += o.Errors
	s.RequestsCompleted += o.RequestsCompleted
	s.RequestsFailed += o.RequestsFailed
	s.RequestsCancelled += o.RequestsCancelled
	s.Queued += o.Queued
}

// RequestInfo is a point-in-time copy of an AsyncRequest.
type RequestInfo struct {
	ID          uuid.UUID    `json:"id"`
	Device      ID           `json:"device"`
	Op          Operation    `json:"op"`
	Offset      int64        `json:"offset"`
	Length      int          `json:"length"`
	Transferred int          `json:"transferred"`
	State       RequestState `json:"state"`
	Error       string       `json:"error,omitempty"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

// IOEvent describes one finished Read or Write call on a device.
type IOEvent struct {
	Device      ID
	Name        string
	Op          Operation
	Requested   int
	Transferred int
	Duration    time.Duration
	Err         error
}
