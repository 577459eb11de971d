package device

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devio-core/internal/waitqueue"
)

// AsyncRequest is one queued unit of device work. It is shared between the
// device queue, the driver and whoever waits on it; only the device and the
// driver's completion path change its state.
type AsyncRequest struct {
	id     uuid.UUID
	device *Device
	op     Operation
	offset int64
	buf    []byte

	state           atomic.Int32
	cancelRequested atomic.Bool

	mu          sync.Mutex
	transferred int
	err         error
	enqueuedAt  time.Time
	startedAt   time.Time
	finishedAt  time.Time

	waiters waitqueue.Queue
}

// CompletionToken proves that a request reached a terminal state through
// AsyncRequest.Complete. Only Complete can produce a usable token, so only the
// driver's completion path can advance a device queue.
type CompletionToken struct {
	req *AsyncRequest
}

func newRequest(d *Device, op Operation, offset int64, p []byte) *AsyncRequest {
	r := &AsyncRequest{
		id:         uuid.New(),
		device:     d,
		op:         op,
		offset:     offset,
		buf:        p,
		enqueuedAt: time.Now().UTC(),
	}
	r.state.Store(int32(StateQueued))
	return r
}

// ID returns the request's unique ID.
func (r *AsyncRequest) ID() uuid.UUID { return r.id }

// Device returns the device that owns the request.
func (r *AsyncRequest) Device() *Device { return r.device }

// Op returns the transfer direction.
func (r *AsyncRequest) Op() Operation { return r.op }

// Offset returns the byte offset of the transfer.
func (r *AsyncRequest) Offset() int64 { return r.offset }

// Buffer returns the caller's buffer: the destination of a read or the source
// of a write. Drivers may touch it only while the request is in progress.
func (r *AsyncRequest) Buffer() []byte { return r.buf }

// Len returns the requested transfer size.
func (r *AsyncRequest) Len() int { return len(r.buf) }

// State returns the current state.
func (r *AsyncRequest) State() RequestState {
	return RequestState(r.state.Load())
}

// CancelRequested reports whether Cancel was called while the request was in
// progress. Drivers check it between units of work.
func (r *AsyncRequest) CancelRequested() bool {
	return r.cancelRequested.Load()
}

// Transferred returns the bytes moved so far (final once terminal).
func (r *AsyncRequest) Transferred() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transferred
}

// Complete records the outcome of an in-progress request, wakes its waiters
// and returns the token for Device.ProcessNextQueuedRequest.
//
// The terminal state is decided here:
//   - err != nil: Failed
//   - cancelled with nothing transferred: Cancelled
//   - cancelled after a partial transfer: Failed
//   - otherwise: Completed (a short transfer is still a completion)
//
// Calling Complete on a request that is not in progress returns a zero token,
// which ProcessNextQueuedRequest rejects.
func (r *AsyncRequest) Complete(n int, err error) CompletionToken {
	if r.State() != StateInProgress {
		return CompletionToken{}
	}
	n = max(0, min(n, len(r.buf)))

	state := StateCompleted
	switch {
	case err != nil:
		state = StateFailed
	case r.cancelRequested.Load() && n == 0:
		state = StateCancelled
	case r.cancelRequested.Load() && n < len(r.buf):
		state = StateFailed
		err = fmt.Errorf("cancelled after %d of %d bytes", n, len(r.buf))
	}

	if !r.finish(state, n, err) {
		return CompletionToken{}
	}
	return CompletionToken{req: r}
}

// Cancel cancels the request. A queued request is removed and finishes as
// Cancelled immediately. An in-progress request is only flagged; the driver
// decides the outcome when it completes. It reports false if the request had
// already finished.
func (r *AsyncRequest) Cancel() bool {
	return r.device.cancel(r)
}

// Wait blocks until the request reaches a terminal state. timeout bounds the
// whole wait (waitqueue.Forever disables it). A nil error only means the
// request finished; use Result for its outcome.
func (r *AsyncRequest) Wait(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	done := func() bool { return r.State().IsTerminal() }
	for !done() {
		if err := r.waiters.Wait(ctx, waitqueue.Forever, done); err != nil {
			return err
		}
	}
	return nil
}

// Result returns the bytes transferred and the terminal error: nil when
// Completed, ErrRequestFailed (wrapping the driver's cause) when Failed,
// ErrRequestCancelled when Cancelled and ErrRequestPending before that.
func (r *AsyncRequest) Result() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.State() {
	case StateCompleted:
		return r.transferred, nil
	case StateFailed:
		if r.err != nil {
			return r.transferred, fmt.Errorf("%w: %w", ErrRequestFailed, r.err)
		}
		return r.transferred, ErrRequestFailed
	case StateCancelled:
		return 0, ErrRequestCancelled
	default:
		return 0, ErrRequestPending
	}
}

// Info returns a snapshot of the request.
func (r *AsyncRequest) Info() RequestInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := RequestInfo{
		ID:          r.id,
		Device:      r.device.id,
		Op:          r.op,
		Offset:      r.offset,
		Length:      len(r.buf),
		Transferred: r.transferred,
		State:       r.State(),
		EnqueuedAt:  r.enqueuedAt,
	}
	if r.err != nil {
		info.Error = r.err.Error()
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		info.StartedAt = &t
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		info.FinishedAt = &t
	}
	return info
}

// begin moves a queued request to InProgress. Caller holds the device lock.
func (r *AsyncRequest) begin() {
	r.mu.Lock()
	r.startedAt = time.Now().UTC()
	r.state.Store(int32(StateInProgress))
	r.mu.Unlock()
}

// finish moves the request to a terminal state and wakes its waiters. It
// reports false if the request had already finished.
func (r *AsyncRequest) finish(state RequestState, n int, err error) bool {
	r.mu.Lock()
	if r.State().IsTerminal() {
		r.mu.Unlock()
		return false
	}
	r.transferred = n
	r.err = err
	r.finishedAt = time.Now().UTC()
	r.state.Store(int32(state))
	r.mu.Unlock()

	r.waiters.WakeAll()
	return true
}

// QueueRequest appends a request to the tail of the device queue and returns
// it. If the queue was idle the request starts immediately. The caller waits
// for it with AsyncRequest.Wait.
//
// Returns ErrUnsupported for devices without an AsyncDriver, ErrInvalidArgument
// for a bad operation or offset and ErrDeviceClosed after Close.
func (d *Device) QueueRequest(op Operation, offset int64, p []byte) (*AsyncRequest, error) {
	drv, ok := d.driver.(AsyncDriver)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no request queue", ErrUnsupported, d.id)
	}
	if op != OpRead && op != OpWrite {
		return nil, fmt.Errorf("%w: operation %q", ErrInvalidArgument, op)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, offset)
	}

	req := newRequest(d, op, offset, p)

	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return nil, ErrDeviceClosed
	}
	d.queue = append(d.queue, req)
	idle := len(d.queue) == 1
	if idle {
		req.begin()
	}
	d.mu.Unlock()

	d.registry.log().Debug("request queued",
		"device", d.id.String(), "request_id", req.id.String(), "op", string(op), "len", len(p))

	if idle {
		drv.StartRequest(req)
	}
	return req, nil
}

// ProcessNextQueuedRequest retires the finished request at the head of the
// queue and starts the next one. It is the completion path's entry point and
// accepts only a token minted by AsyncRequest.Complete for the current head.
func (d *Device) ProcessNextQueuedRequest(tok CompletionToken) error {
	req := tok.req
	if req == nil || req.device != d || !req.State().IsTerminal() {
		return ErrInvalidToken
	}

	d.mu.Lock()
	if len(d.queue) == 0 || d.queue[0] != req {
		d.mu.Unlock()
		return ErrInvalidToken
	}
	d.queue[0] = nil
	d.queue = d.queue[1:]

	var next *AsyncRequest
	if len(d.queue) > 0 && !d.closed.Load() {
		next = d.queue[0]
		next.begin()
	}
	d.mu.Unlock()

	d.requestFinished(req)

	if next != nil {
		d.driver.(AsyncDriver).StartRequest(next)
	}
	return nil
}

// Requests returns snapshots of the queued and in-flight requests, head first.
func (d *Device) Requests() []RequestInfo {
	d.mu.Lock()
	queue := make([]*AsyncRequest, len(d.queue))
	copy(queue, d.queue)
	d.mu.Unlock()

	infos := make([]RequestInfo, 0, len(queue))
	for _, r := range queue {
		infos = append(infos, r.Info())
	}
	return infos
}

func (d *Device) cancel(r *AsyncRequest) bool {
	d.mu.Lock()
	switch r.State() {
	case StateQueued:
		for i, q := range d.queue {
			if q == r {
				d.queue = slices.Delete(d.queue, i, i+1)
				break
			}
		}
		d.mu.Unlock()
		if !r.finish(StateCancelled, 0, nil) {
			return false
		}
		d.requestFinished(r)
		return true
	case StateInProgress:
		r.cancelRequested.Store(true)
		d.mu.Unlock()
		return true
	default:
		d.mu.Unlock()
		return false
	}
}

// requestFinished updates counters and reports a terminal request.
func (d *Device) requestFinished(r *AsyncRequest) {
	info := r.Info()
	switch info.State {
	case StateCompleted:
		d.requestsCompleted.Add(1)
	case StateFailed:
		d.requestsFailed.Add(1)
	case StateCancelled:
		d.requestsCancelled.Add(1)
	}

	d.registry.log().Debug("request finished",
		"device", d.id.String(),
		"request_id", info.ID.String(),
		"state", info.State.String(),
		"transferred", info.Transferred,
	)
	d.registry.observe().RequestFinished(info)
	d.NotifyReady()
}
