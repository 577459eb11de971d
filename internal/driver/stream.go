package driver

import (
	"context"
	"errors"
	"io"

	"github.com/nerrad567/devio-core/internal/device"
	"github.com/nerrad567/devio-core/internal/doublebuffer"
)

// Stream is a tty-like loopback character device: bytes written to it are
// read back in order. It is backed by a double buffer, so a full stream
// blocks writers and an empty one blocks readers.
type Stream struct {
	buf *doublebuffer.Buffer
}

// NewStream creates a stream driver holding at most capacity unread bytes.
func NewStream(capacity int) (*Stream, error) {
	buf, err := doublebuffer.New(capacity)
	if err != nil {
		return nil, err
	}
	return &Stream{buf: buf}, nil
}

// Attach makes buffer activity wake the device's readiness waiters.
func (s *Stream) Attach(d *device.Device) {
	s.buf.SetUnblockCallback(d.NotifyReady)
}

// Kind reports a character device.
func (s *Stream) Kind() device.Kind { return device.KindCharacter }

// CanRead reports unread data, or a closed stream whose read returns at once.
func (s *Stream) CanRead(_ *device.Description, _ int) bool {
	return !s.buf.IsEmpty() || s.buf.IsClosed()
}

// CanWrite reports free space. Any space will do since short writes are allowed.
func (s *Stream) CanWrite(_ *device.Description, _ int) bool {
	return s.buf.SpaceForWriting() > 0
}

// ReadAt reads up to len(p) buffered bytes; the offset is ignored. Once the
// stream is closed and drained it returns 0, nil.
func (s *Stream) ReadAt(ctx context.Context, desc *device.Description, _ int64, p []byte) (int, error) {
	var n int
	var err error
	if desc.IsNonBlocking() {
		n, err = s.buf.TryRead(p)
		if n == 0 && err == nil {
			return 0, device.ErrWouldBlock
		}
	} else {
		n, err = s.buf.Read(ctx, desc.WaitTimeout(), p)
	}
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// WriteAt writes as much of p as fits; the offset is ignored.
func (s *Stream) WriteAt(ctx context.Context, desc *device.Description, _ int64, p []byte) (int, error) {
	if desc.IsNonBlocking() {
		n, err := s.buf.TryWrite(p)
		if n == 0 && err == nil {
			return 0, device.ErrWouldBlock
		}
		return n, err
	}
	return s.buf.Write(ctx, desc.WaitTimeout(), p)
}

// Buffered returns the number of unread bytes.
func (s *Stream) Buffered() int {
	return s.buf.Len()
}

// Close closes the underlying buffer, waking blocked readers and writers.
func (s *Stream) Close() error {
	return s.buf.Close()
}
