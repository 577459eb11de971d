package device

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Logger defines the logging interface used by the Registry and its devices.
// This allows different logging implementations to be used.
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

// Observer receives device lifecycle and I/O events. Callbacks run on the
// caller's goroutine, including the driver completion path, so they must
// return quickly and never block.
type Observer interface {
	DeviceRegistered(e Entry)
	DeviceUnregistered(e Entry)
	RequestFinished(info RequestInfo)
	IOCompleted(ev IOEvent)
}

type noopObserver struct{}

func (noopObserver) DeviceRegistered(Entry)      {}
func (noopObserver) DeviceUnregistered(Entry)    {}
func (noopObserver) RequestFinished(RequestInfo) {}
func (noopObserver) IOCompleted(IOEvent)         {}

// Registry maps (major, minor) pairs to live devices. Devices join it when
// constructed and leave it when closed.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	devices  map[ID]*Device
	logger   Logger
	observer Observer
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry, creating it on first use.
// Tests should use NewRegistry instead.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:  make(map[ID]*Device),
		logger:   noopLogger{},
		observer: noopObserver{},
	}
}

// SetLogger sets the logger for the registry and its devices.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// SetObserver installs the event observer. nil removes it.
func (r *Registry) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

func (r *Registry) log() Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}

func (r *Registry) observe() Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.observer
}

// register adds d, refusing a pair that is already taken.
func (r *Registry) register(d *Device) error {
	r.mu.Lock()
	if existing, ok := r.devices[d.id]; ok {
		logger := r.logger
		r.mu.Unlock()
		logger.Error("device conflict",
			"device", d.id.String(),
			"name", d.name,
			"existing", existing.name,
		)
		return fmt.Errorf("%w: %s requested by %q, held by %q", ErrDeviceConflict, d.id, d.name, existing.name)
	}
	r.devices[d.id] = d
	logger, observer := r.logger, r.observer
	r.mu.Unlock()

	logger.Info("device registered", "device", d.id.String(), "name", d.name, "kind", string(d.Kind()))
	observer.DeviceRegistered(d.Entry())
	return nil
}

// unregister removes d if the registry still maps its ID to it.
func (r *Registry) unregister(d *Device) {
	r.mu.Lock()
	if r.devices[d.id] != d {
		r.mu.Unlock()
		return
	}
	delete(r.devices, d.id)
	logger, observer := r.logger, r.observer
	r.mu.Unlock()

	logger.Info("device unregistered", "device", d.id.String(), "name", d.name)
	observer.DeviceUnregistered(d.Entry())
}

// GetDevice looks up a device by major and minor number.
// Returns ErrDeviceNotFound if nothing is registered there.
func (r *Registry) GetDevice(major, minor uint32) (*Device, error) {
	return r.Lookup(ID{Major: major, Minor: minor})
}

// Lookup is GetDevice keyed by ID.
func (r *Registry) Lookup(id ID) (*Device, error) {
	r.mu.RLock()
	d, ok := r.devices[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// snapshot returns the registered devices ordered by (major, minor).
func (r *Registry) snapshot() []*Device {
	r.mu.RLock()
	devices := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.RUnlock()

	slices.SortFunc(devices, func(a, b *Device) int {
		if c := cmp.Compare(a.id.Major, b.id.Major); c != 0 {
			return c
		}
		return cmp.Compare(a.id.Minor, b.id.Minor)
	})
	return devices
}

// ForEach calls fn for every device in (major, minor) order until fn returns
// false. It walks a snapshot taken up front, so fn may register or close
// devices; those changes are not seen by the current walk.
func (r *Registry) ForEach(fn func(*Device) bool) {
	for _, d := range r.snapshot() {
		if !fn(d) {
			return
		}
	}
}

// Entries lists every device in (major, minor) order.
func (r *Registry) Entries() []Entry {
	devices := r.snapshot()
	entries := make([]Entry, 0, len(devices))
	for _, d := range devices {
		entries = append(entries, d.Entry())
	}
	return entries
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// RegistryStats summarises the registry for monitoring.
type RegistryStats struct {
	TotalDevices int          `json:"total_devices"`
	ByKind       map[Kind]int `json:"by_kind"`
	Totals       Stats        `json:"totals"`
}

// Stats returns current registry statistics, summing every device's counters.
func (r *Registry) Stats() RegistryStats {
	devices := r.snapshot()
	stats := RegistryStats{
		TotalDevices: len(devices),
		ByKind:       make(map[Kind]int),
	}
	for _, d := range devices {
		stats.ByKind[d.Kind()]++
		stats.Totals.add(d.Stats())
	}
	return stats
}

// CloseAll closes every registered device. It returns the first error.
func (r *Registry) CloseAll() error {
	var first error
	for _, d := range r.snapshot() {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
