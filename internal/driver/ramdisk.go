package driver

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/devio-core/internal/device"
)

// DefaultBlockSize is the ramdisk transfer unit when none is configured.
const DefaultBlockSize = 512

// Ramdisk is an in-memory block device served through the device request
// queue. A controller goroutine plays the part of the disk controller: it
// moves one block at a time, optionally sleeping between blocks, and reports
// completion back to the device.
type Ramdisk struct {
	mu        sync.Mutex
	data      []byte
	blockSize int
	latency   time.Duration

	work     chan *device.AsyncRequest
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	loggerMu sync.RWMutex
	logger   Logger
}

// NewRamdisk creates a ramdisk and starts its controller.
//
// Parameters:
//   - size: Disk size in bytes (must be positive)
//   - blockSize: Transfer unit in bytes (0 for DefaultBlockSize)
//   - latency: Simulated time per block (0 for none)
//
// Returns:
//   - *Ramdisk: Running driver (call Close to stop the controller)
//   - error: ErrInvalidSpec for a bad size or block size
func NewRamdisk(size, blockSize int, latency time.Duration) (*Ramdisk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: ramdisk size %d", ErrInvalidSpec, size)
	}
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize < 0 || blockSize > size {
		return nil, fmt.Errorf("%w: block size %d for %d byte ramdisk", ErrInvalidSpec, blockSize, size)
	}
	if latency < 0 {
		return nil, fmt.Errorf("%w: negative latency %s", ErrInvalidSpec, latency)
	}

	r := &Ramdisk{
		data:      make([]byte, size),
		blockSize: blockSize,
		latency:   latency,
		// One request is in flight per device, so one slot never fills.
		work:   make(chan *device.AsyncRequest, 1),
		done:   make(chan struct{}),
		logger: noopLogger{},
	}
	r.wg.Add(1)
	go r.run()
	return r, nil
}

// SetLogger sets the logger for the controller.
func (r *Ramdisk) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Ramdisk) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// Kind reports a block device.
func (r *Ramdisk) Kind() device.Kind { return device.KindBlock }

// Size returns the disk size in bytes.
func (r *Ramdisk) Size() int { return len(r.data) }

// BlockSize returns the transfer unit in bytes.
func (r *Ramdisk) BlockSize() int { return r.blockSize }

// CanRead is always true: block requests queue rather than block.
func (r *Ramdisk) CanRead(*device.Description, int) bool { return true }

// CanWrite is always true: block requests queue rather than block.
func (r *Ramdisk) CanWrite(*device.Description, int) bool { return true }

// StartRequest hands req to the controller. Once the controller has stopped
// the request is completed at once with ErrStopped.
func (r *Ramdisk) StartRequest(req *device.AsyncRequest) {
	select {
	case <-r.done:
		r.complete(req, 0, ErrStopped)
		return
	default:
	}

	select {
	case r.work <- req:
	case <-r.done:
		r.complete(req, 0, ErrStopped)
	}
}

// Close stops the controller. A request waiting for it is completed with
// ErrStopped. Safe to call multiple times.
func (r *Ramdisk) Close() error {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
	return nil
}

func (r *Ramdisk) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			select {
			case req := <-r.work:
				r.complete(req, 0, ErrStopped)
			default:
			}
			return
		case req := <-r.work:
			n, err := r.serve(req)
			r.complete(req, n, err)
		}
	}
}

// serve moves req block by block until it is done, cancelled or stopped.
func (r *Ramdisk) serve(req *device.AsyncRequest) (int, error) {
	off := req.Offset()
	buf := req.Buffer()
	size := int64(len(r.data))

	if off > size || (off == size && req.Op() == device.OpWrite) {
		return 0, fmt.Errorf("%w: offset %d, size %d", ErrOutOfRange, off, size)
	}
	if end := size - off; int64(len(buf)) > end {
		buf = buf[:end]
	}

	n := 0
	for n < len(buf) {
		if req.CancelRequested() {
			return n, nil
		}
		if r.latency > 0 {
			t := time.NewTimer(r.latency)
			select {
			case <-t.C:
			case <-r.done:
				t.Stop()
				return n, ErrStopped
			}
		}

		chunk := min(r.blockSize, len(buf)-n)
		pos := int(off) + n
		r.mu.Lock()
		if req.Op() == device.OpRead {
			copy(buf[n:n+chunk], r.data[pos:pos+chunk])
		} else {
			copy(r.data[pos:pos+chunk], buf[n:n+chunk])
		}
		r.mu.Unlock()
		n += chunk
	}
	return n, nil
}

func (r *Ramdisk) complete(req *device.AsyncRequest, n int, err error) {
	dev := req.Device()
	if perr := dev.ProcessNextQueuedRequest(req.Complete(n, err)); perr != nil {
		r.log().Error("completing ramdisk request",
			"device", dev.ID().String(),
			"request_id", req.ID().String(),
			"error", perr,
		)
	}
}
