package device

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devio-core/internal/waitqueue"
)

// Driver is the hardware-facing half of a device. CanRead and CanWrite are
// readiness checks: they run on the wait path, sometimes with a wait queue
// lock held, so they must not block or call back into the device.
type Driver interface {
	Kind() Kind
	CanRead(desc *Description, size int) bool
	CanWrite(desc *Description, size int) bool
}

// SyncDriver transfers bytes directly in the caller's goroutine. Blocking is
// the driver's business: it honours ctx and desc.
type SyncDriver interface {
	Driver
	ReadAt(ctx context.Context, desc *Description, offset int64, p []byte) (int, error)
	WriteAt(ctx context.Context, desc *Description, offset int64, p []byte) (int, error)
}

// AsyncDriver serves the device request queue. StartRequest is called with no
// device lock held when req becomes the head of the queue. It must not block;
// the driver finishes the work elsewhere and then calls
//
//	dev.ProcessNextQueuedRequest(req.Complete(n, err))
type AsyncDriver interface {
	Driver
	StartRequest(req *AsyncRequest)
}

// Attacher is implemented by drivers that need their Device, typically to call
// NotifyReady when their readiness changes.
type Attacher interface {
	Attach(d *Device)
}

// Config identifies a device at construction.
type Config struct {
	Major uint32
	Minor uint32
	Name  string
	UID   uint32
	GID   uint32
}

// Device is a registered (major, minor) endpoint exposing the byte-stream
// contract to the file-descriptor layer.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - d.mu guards the request queue only; drivers are always called without it.
type Device struct {
	id        ID
	name      string
	uid       uint32
	gid       uint32
	driver    Driver
	registry  *Registry
	createdAt time.Time

	mu     sync.Mutex
	queue  []*AsyncRequest
	closed atomic.Bool

	// ready parks WaitReady callers until the driver reports a change.
	ready waitqueue.Queue

	bytesRead         atomic.Uint64
	bytesWritten      atomic.Uint64
	reads             atomic.Uint64
	writes            atomic.Uint64
	failures          atomic.Uint64
	requestsCompleted atomic.Uint64
	requestsFailed    atomic.Uint64
	requestsCancelled atomic.Uint64
}

// NewDevice constructs a device and registers it. A nil registry means Default().
//
// Parameters:
//   - reg: Registry to join (nil for the process-wide registry)
//   - cfg: Major/minor pair, node name and ownership
//   - drv: Driver serving the device (SyncDriver or AsyncDriver)
//
// Returns:
//   - *Device: The registered device
//   - error: ErrInvalidArgument for a bad config, ErrDeviceConflict if the
//     pair is already taken
func NewDevice(reg *Registry, cfg Config, drv Driver) (*Device, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: device name is required", ErrInvalidArgument)
	}
	if drv == nil {
		return nil, fmt.Errorf("%w: driver is required", ErrInvalidArgument)
	}
	_, isSync := drv.(SyncDriver)
	_, isAsync := drv.(AsyncDriver)
	if !isSync && !isAsync {
		return nil, fmt.Errorf("%w: driver %T implements neither SyncDriver nor AsyncDriver", ErrInvalidArgument, drv)
	}
	if reg == nil {
		reg = Default()
	}

	d := &Device{
		id:        ID{Major: cfg.Major, Minor: cfg.Minor},
		name:      cfg.Name,
		uid:       cfg.UID,
		gid:       cfg.GID,
		driver:    drv,
		registry:  reg,
		createdAt: time.Now().UTC(),
	}
	if a, ok := drv.(Attacher); ok {
		a.Attach(d)
	}
	if err := reg.register(d); err != nil {
		return nil, err
	}
	return d, nil
}

// MustNewDevice is NewDevice for boot-time construction, where a conflicting
// registration is fatal. It panics on any error.
func MustNewDevice(reg *Registry, cfg Config, drv Driver) *Device {
	d, err := NewDevice(reg, cfg, drv)
	if err != nil {
		panic(err)
	}
	return d
}

// ID returns the (major, minor) pair.
func (d *Device) ID() ID { return d.id }

// Major returns the major number.
func (d *Device) Major() uint32 { return d.id.Major }

// Minor returns the minor number.
func (d *Device) Minor() uint32 { return d.id.Minor }

// Name returns the device node name, e.g. "tty0".
func (d *Device) Name() string { return d.name }

// UID returns the owning user ID of the device node.
func (d *Device) UID() uint32 { return d.uid }

// GID returns the owning group ID of the device node.
func (d *Device) GID() uint32 { return d.gid }

// Kind returns the driver's device kind.
func (d *Device) Kind() Kind { return d.driver.Kind() }

// Driver returns the driver serving this device.
func (d *Device) Driver() Driver { return d.driver }

// CreatedAt returns the construction time.
func (d *Device) CreatedAt() time.Time { return d.createdAt }

// IsClosed reports whether Close has been called.
func (d *Device) IsClosed() bool { return d.closed.Load() }

// AbsolutePath returns the node path, "/dev/<name>". desc may be nil.
func (d *Device) AbsolutePath(_ *Description) string {
	return "/dev/" + d.name
}

// Entry returns the registry listing for this device.
func (d *Device) Entry() Entry {
	return Entry{
		ID:   d.id,
		Name: d.name,
		Kind: d.Kind(),
		Path: d.AbsolutePath(nil),
		UID:  d.uid,
		GID:  d.gid,
	}
}

// CanRead reports whether a read of size bytes could make progress now.
func (d *Device) CanRead(desc *Description, size int) bool {
	if d.closed.Load() {
		return false
	}
	return d.driver.CanRead(desc, size)
}

// CanWrite reports whether a write of size bytes could make progress now.
func (d *Device) CanWrite(desc *Description, size int) bool {
	if d.closed.Load() {
		return false
	}
	return d.driver.CanWrite(desc, size)
}

// Read reads up to len(p) bytes at offset. Short reads are not errors.
//
// Parameters:
//   - ctx: Cancels (ErrInterrupted) or bounds (ErrTimedOut) blocking
//   - desc: Open-file context (nil for blocking, no timeout)
//   - offset: Byte offset (ignored by character devices, must be >= 0)
//   - p: Destination buffer
//
// Returns:
//   - int: Bytes read
//   - error: ErrInvalidArgument, ErrWouldBlock, ErrTimedOut, ErrInterrupted,
//     ErrDeviceClosed, ErrRequestFailed or a driver error
func (d *Device) Read(ctx context.Context, desc *Description, offset int64, p []byte) (int, error) {
	return d.transfer(ctx, desc, OpRead, offset, p)
}

// Write writes up to len(p) bytes at offset. Short writes are not errors; the
// caller loops to push the rest.
func (d *Device) Write(ctx context.Context, desc *Description, offset int64, p []byte) (int, error) {
	return d.transfer(ctx, desc, OpWrite, offset, p)
}

func (d *Device) transfer(ctx context.Context, desc *Description, op Operation, offset int64, p []byte) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, offset)
	}
	if d.closed.Load() {
		return 0, ErrDeviceClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if desc.IsNonBlocking() && !d.canTransfer(op, desc, len(p)) {
		return 0, ErrWouldBlock
	}

	start := time.Now()
	var n int
	var err error
	switch drv := d.driver.(type) {
	case SyncDriver:
		if op == OpRead {
			n, err = drv.ReadAt(ctx, desc, offset, p)
		} else {
			n, err = drv.WriteAt(ctx, desc, offset, p)
		}
	case AsyncDriver:
		n, err = d.submit(ctx, desc, op, offset, p)
	default:
		err = ErrUnsupported
	}

	d.account(op, n, err)
	d.registry.observe().IOCompleted(IOEvent{
		Device:      d.id,
		Name:        d.name,
		Op:          op,
		Requested:   len(p),
		Transferred: n,
		Duration:    time.Since(start),
		Err:         err,
	})
	return n, err
}

// submit queues an asynchronous request and waits for it. If the wait is cut
// short the request is cancelled, and an in-flight one is still waited out so
// the driver never touches p after return.
func (d *Device) submit(ctx context.Context, desc *Description, op Operation, offset int64, p []byte) (int, error) {
	req, err := d.QueueRequest(op, offset, p)
	if err != nil {
		return 0, err
	}
	if werr := req.Wait(ctx, desc.WaitTimeout()); werr != nil {
		req.Cancel()
		if waitErr := req.Wait(context.WithoutCancel(ctx), waitqueue.Forever); waitErr != nil {
			return 0, werr
		}
		if n, rerr := req.Result(); rerr == nil {
			return n, nil
		}
		return req.Transferred(), werr
	}
	return req.Result()
}

func (d *Device) canTransfer(op Operation, desc *Description, size int) bool {
	if op == OpRead {
		return d.CanRead(desc, size)
	}
	return d.CanWrite(desc, size)
}

func (d *Device) account(op Operation, n int, err error) {
	if err != nil {
		d.failures.Add(1)
	}
	if op == OpRead {
		d.reads.Add(1)
		d.bytesRead.Add(uint64(n))
		return
	}
	d.writes.Add(1)
	d.bytesWritten.Add(uint64(n))
}

// readyEvents returns the subset of events that hold now.
func (d *Device) readyEvents(desc *Description, events Events) Events {
	var got Events
	if events&EventRead != 0 && d.CanRead(desc, 1) {
		got |= EventRead
	}
	if events&EventWrite != 0 && d.CanWrite(desc, 1) {
		got |= EventWrite
	}
	return got
}

// WaitReady blocks until at least one of events holds and returns the ones
// that do. timeout bounds the whole call (waitqueue.Forever disables it).
//
// Returns ErrInvalidArgument for an empty event set and ErrDeviceClosed if
// the device is closed before or during the wait.
func (d *Device) WaitReady(ctx context.Context, desc *Description, timeout time.Duration, events Events) (Events, error) {
	if events == 0 {
		return 0, fmt.Errorf("%w: no events requested", ErrInvalidArgument)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pred := func() bool {
		return d.closed.Load() || d.readyEvents(desc, events) != 0
	}
	for {
		if d.closed.Load() {
			return 0, ErrDeviceClosed
		}
		if got := d.readyEvents(desc, events); got != 0 {
			return got, nil
		}
		if err := d.ready.Wait(ctx, waitqueue.Forever, pred); err != nil {
			return 0, err
		}
	}
}

// NotifyReady wakes WaitReady callers so they re-check readiness. Drivers call
// it whenever data becomes readable or space becomes writable. It never blocks.
func (d *Device) NotifyReady() {
	d.ready.WakeAll()
}

// Stats returns a snapshot of the device's counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	queued := len(d.queue)
	d.mu.Unlock()

	return Stats{
		BytesRead:         d.bytesRead.Load(),
		BytesWritten:      d.bytesWritten.Load(),
		Reads:             d.reads.Load(),
		Writes:            d.writes.Load(),
		Errors:            d.failures.Load(),
		RequestsCompleted: d.requestsCompleted.Load(),
		RequestsFailed:    d.requestsFailed.Load(),
		RequestsCancelled: d.requestsCancelled.Load(),
		Queued:            queued,
	}
}

// Close deregisters the device, cancels every request still waiting in the
// queue and closes the driver if it is an io.Closer. An in-flight request is
// flagged for cancellation and left for the driver to finish. Close is
// idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return nil
	}
	d.closed.Store(true)

	var dropped []*AsyncRequest
	kept := d.queue[:0]
	for _, r := range d.queue {
		if r.State() == StateQueued {
			dropped = append(dropped, r)
			continue
		}
		r.cancelRequested.Store(true)
		kept = append(kept, r)
	}
	for i := len(kept); i < len(d.queue); i++ {
		d.queue[i] = nil
	}
	d.queue = kept
	d.mu.Unlock()

	for _, r := range dropped {
		if r.finish(StateCancelled, 0, nil) {
			d.requestFinished(r)
		}
	}

	d.registry.unregister(d)
	d.ready.WakeAll()

	if c, ok := d.driver.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("closing driver for %s: %w", d.id, err)
		}
	}
	return nil
}
