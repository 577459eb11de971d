package driver

import (
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/devio-core/internal/device"
	"github.com/nerrad567/devio-core/internal/doublebuffer"
)

// Logger defines the logging interface used by drivers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Driver names accepted by New.
const (
	NameNull    = "null"
	NameZero    = "zero"
	NameStream  = "stream"
	NameRamdisk = "ramdisk"
)

// Names returns every driver name accepted by New, sorted.
func Names() []string {
	names := []string{NameNull, NameZero, NameStream, NameRamdisk}
	slices.Sort(names)
	return names
}

// Spec describes a driver instance, usually decoded from configuration.
type Spec struct {
	// Driver is one of Names().
	Driver string

	// Capacity is the stream buffer size in bytes (0 for the default).
	Capacity int

	// Size is the ramdisk size in bytes.
	Size int

	// BlockSize is the ramdisk transfer unit (0 for DefaultBlockSize).
	BlockSize int

	// Latency is the simulated ramdisk time per block.
	Latency time.Duration
}

// New builds the driver a spec names.
//
// Parameters:
//   - spec: Driver name and its parameters
//   - logger: Logger for drivers that log (nil for none)
//
// Returns:
//   - device.Driver: Ready for device.NewDevice
//   - error: ErrUnknownDriver or ErrInvalidSpec
func New(spec Spec, logger Logger) (device.Driver, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	switch spec.Driver {
	case NameNull:
		return NewNull(), nil
	case NameZero:
		return NewZero(), nil
	case NameStream:
		capacity := spec.Capacity
		if capacity == 0 {
			capacity = doublebuffer.DefaultCapacity
		}
		s, err := NewStream(capacity)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
		}
		return s, nil
	case NameRamdisk:
		r, err := NewRamdisk(spec.Size, spec.BlockSize, spec.Latency)
		if err != nil {
			return nil, err
		}
		r.SetLogger(logger)
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownDriver, spec.Driver, Names())
	}
}
