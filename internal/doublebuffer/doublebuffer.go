package doublebuffer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devio-core/internal/waitqueue"
)

// DefaultCapacity is the capacity used when none is configured.
const DefaultCapacity = 64 * 1024

// innerBuffer is one half of the double buffer.
type innerBuffer struct {
	data []byte
	size int
}

// Buffer is a fixed-capacity byte stream split into two halves. Writers append
// to the write half while readers drain the read half; the halves swap roles
// (flip) when the read half is empty and the write half holds data.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Read and Write block on the buffer's wait queues with no lock held.
type Buffer struct {
	mu sync.Mutex

	storage []byte
	halves  [2]innerBuffer
	write   *innerBuffer
	read    *innerBuffer

	// readIndex is the offset of the next unread byte in the read half.
	readIndex int
	capacity  int
	closed    bool

	// Published under mu, read lock-free by predicates and Can* checks.
	spaceForWriting atomic.Int64
	empty           atomic.Bool
	done            atomic.Bool

	unblock atomic.Pointer[func()]

	readers waitqueue.Queue
	writers waitqueue.Queue
}

// New allocates a buffer holding at most capacity unread bytes.
//
// Parameters:
//   - capacity: Maximum unread bytes (must be positive)
//
// Returns:
//   - *Buffer: Empty buffer ready for use
//   - error: ErrInvalidCapacity if capacity is not positive
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	b := &Buffer{
		storage:  make([]byte, 2*capacity),
		capacity: capacity,
	}
	b.halves[0] = innerBuffer{data: b.storage[:capacity]}
	b.halves[1] = innerBuffer{data: b.storage[capacity:]}
	b.write = &b.halves[0]
	b.read = &b.halves[1]
	b.computeLockfreeMetadata()
	return b, nil
}

// Capacity returns the maximum number of unread bytes.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// SpaceForWriting returns how many bytes a write could accept right now.
func (b *Buffer) SpaceForWriting() int {
	return int(b.spaceForWriting.Load())
}

// IsEmpty reports whether there is nothing to read.
func (b *Buffer) IsEmpty() bool {
	return b.empty.Load()
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unread()
}

// IsClosed reports whether Close has been called.
func (b *Buffer) IsClosed() bool {
	return b.done.Load()
}

// SetUnblockCallback registers fn to run after a write leaves data readable
// and after a read leaves space writable. fn runs with no buffer lock held and
// must not block. Passing nil removes the callback.
func (b *Buffer) SetUnblockCallback(fn func()) {
	if fn == nil {
		b.unblock.Store(nil)
		return
	}
	b.unblock.Store(&fn)
}

// TryWrite copies as much of p as fits and returns the count. It never blocks;
// zero means the buffer is full (or p is empty).
func (b *Buffer) TryWrite(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrClosed
	}
	n := copy(b.write.data[b.write.size:b.write.size+b.space()], p)
	b.write.size += n
	b.computeLockfreeMetadata()
	b.mu.Unlock()

	if n > 0 {
		b.readers.WakeAll()
		b.notify(!b.empty.Load())
	}
	return n, nil
}

// TryRead copies up to len(p) unread bytes into p, flipping the halves as
// needed, and returns the count. It never blocks; zero means the buffer is
// empty (io.EOF once it is also closed).
func (b *Buffer) TryRead(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	n := 0
	for n < len(p) {
		if b.readIndex >= b.read.size {
			if b.write.size == 0 {
				break
			}
			b.flip()
		}
		c := copy(p[n:], b.read.data[b.readIndex:b.read.size])
		b.readIndex += c
		n += c
	}
	b.computeLockfreeMetadata()
	closed := b.closed
	b.mu.Unlock()

	if n == 0 {
		if closed {
			return 0, io.EOF
		}
		return 0, nil
	}

	b.writers.WakeAll()
	b.notify(b.spaceForWriting.Load() > 0)
	return n, nil
}

// Write copies as much of p as fits, blocking while the buffer is full. It
// returns once at least one byte was accepted, so the count may be short;
// callers loop to push more than the free space.
//
// Parameters:
//   - ctx: Cancels (ErrInterrupted) or bounds (ErrTimedOut) the wait
//   - timeout: Per-wait timeout, waitqueue.Forever for none
//   - p: Bytes to write
//
// Returns:
//   - int: Bytes accepted
//   - error: ErrClosed, waitqueue.ErrTimedOut or waitqueue.ErrInterrupted
func (b *Buffer) Write(ctx context.Context, timeout time.Duration, p []byte) (int, error) {
	for {
		n, err := b.TryWrite(p)
		if n > 0 || err != nil || len(p) == 0 {
			return n, err
		}
		if err := b.writers.Wait(ctx, timeout, b.writable); err != nil {
			return 0, err
		}
	}
}

// Read copies up to len(p) bytes into p, blocking while the buffer is empty.
// After Close it drains what is left and then returns io.EOF.
//
// Parameters:
//   - ctx: Cancels (ErrInterrupted) or bounds (ErrTimedOut) the wait
//   - timeout: Per-wait timeout, waitqueue.Forever for none
//   - p: Destination
//
// Returns:
//   - int: Bytes read
//   - error: io.EOF, waitqueue.ErrTimedOut or waitqueue.ErrInterrupted
func (b *Buffer) Read(ctx context.Context, timeout time.Duration, p []byte) (int, error) {
	for {
		n, err := b.TryRead(p)
		if n > 0 || err != nil || len(p) == 0 {
			return n, err
		}
		if err := b.readers.Wait(ctx, timeout, b.readable); err != nil {
			return 0, err
		}
	}
}

// WriteAll writes p in as many rounds as it takes, blocking between them.
func (b *Buffer) WriteAll(ctx context.Context, timeout time.Duration, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := b.Write(ctx, timeout, p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close stops further writes and wakes every blocked reader and writer.
// Buffered data remains readable.
func (b *Buffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.done.Store(true)
	b.mu.Unlock()

	b.readers.WakeAll()
	b.writers.WakeAll()
	return nil
}

// flip swaps the halves. Caller holds b.mu and the read half is drained.
func (b *Buffer) flip() {
	if b.readIndex != b.read.size {
		panic("doublebuffer: flip with unread data")
	}
	b.write, b.read = b.read, b.write
	b.write.size = 0
	b.readIndex = 0
	b.computeLockfreeMetadata()
}

// computeLockfreeMetadata publishes empty and spaceForWriting. Caller holds b.mu.
func (b *Buffer) computeLockfreeMetadata() {
	b.empty.Store(b.readIndex >= b.read.size && b.write.size == 0)
	b.spaceForWriting.Store(int64(b.space()))
}

// space is the free room in the write half, bounded so that unread bytes never
// exceed capacity. Caller holds b.mu.
func (b *Buffer) space() int {
	s := b.capacity - b.unread()
	if room := len(b.write.data) - b.write.size; room < s {
		s = room
	}
	return s
}

// unread counts bytes written but not yet read. Caller holds b.mu.
func (b *Buffer) unread() int {
	return (b.read.size - b.readIndex) + b.write.size
}

func (b *Buffer) readable() bool {
	return !b.empty.Load() || b.done.Load()
}

func (b *Buffer) writable() bool {
	return b.spaceForWriting.Load() > 0 || b.done.Load()
}

func (b *Buffer) notify(ok bool) {
	if !ok {
		return
	}
	if fn := b.unblock.Load(); fn != nil {
		(*fn)()
	}
}
