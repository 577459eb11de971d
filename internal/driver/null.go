package driver

import (
	"context"

	"github.com/nerrad567/devio-core/internal/device"
)

// Null is /dev/null: reads return nothing, writes are discarded in full.
type Null struct{}

// NewNull returns the null driver.
func NewNull() *Null { return &Null{} }

// Kind reports a character device.
func (*Null) Kind() device.Kind { return device.KindCharacter }

// CanRead is always true; reads return end of stream at once.
func (*Null) CanRead(*device.Description, int) bool { return true }

// CanWrite is always true; writes are discarded.
func (*Null) CanWrite(*device.Description, int) bool { return true }

// ReadAt always reports end of stream.
func (*Null) ReadAt(context.Context, *device.Description, int64, []byte) (int, error) {
	return 0, nil
}

// WriteAt accepts and drops p.
func (*Null) WriteAt(_ context.Context, _ *device.Description, _ int64, p []byte) (int, error) {
	return len(p), nil
}

// Zero is /dev/zero: reads fill the buffer with zero bytes, writes are
// discarded.
type Zero struct{}

// NewZero returns the zero driver.
func NewZero() *Zero { return &Zero{} }

// Kind reports a character device.
func (*Zero) Kind() device.Kind { return device.KindCharacter }

// CanRead is always true; the zero stream never runs dry.
func (*Zero) CanRead(*device.Description, int) bool { return true }

// CanWrite is always true; writes are discarded.
func (*Zero) CanWrite(*device.Description, int) bool { return true }

// ReadAt fills p with zero bytes.
func (*Zero) ReadAt(_ context.Context, _ *device.Description, _ int64, p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// WriteAt accepts and drops p.
func (*Zero) WriteAt(_ context.Context, _ *device.Description, _ int64, p []byte) (int, error) {
	return len(p), nil
}
