package device

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// memDriver is a synchronous character driver over a byte slice with
// switchable readiness.
type memDriver struct {
	mu       sync.Mutex
	data     []byte
	readable atomic.Bool
	writable atomic.Bool
	dev      *Device
}

func newMemDriver() *memDriver {
	m := &memDriver{}
	m.readable.Store(true)
	m.writable.Store(true)
	return m
}

func (m *memDriver) Kind() Kind                          { return KindCharacter }
func (m *memDriver) CanRead(_ *Description, _ int) bool  { return m.readable.Load() }
func (m *memDriver) CanWrite(_ *Description, _ int) bool { return m.writable.Load() }
func (m *memDriver) Attach(d *Device)                    { m.dev = d }

func (m *memDriver) ReadAt(_ context.Context, _ *Description, _ int64, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(p, m.data)
	m.data = m.data[n:]
	return n, nil
}

func (m *memDriver) WriteAt(_ context.Context, _ *Description, _ int64, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, p...)
	return len(p), nil
}

func (m *memDriver) setReadable(v bool) {
	m.readable.Store(v)
	if m.dev != nil {
		m.dev.NotifyReady()
	}
}

// manualDriver is an asynchronous block driver whose requests are completed
// by the test.
type manualDriver struct {
	started chan *AsyncRequest
	closed  atomic.Bool
}

func newManualDriver() *manualDriver {
	return &manualDriver{started: make(chan *AsyncRequest, 16)}
}

func (m *manualDriver) Kind() Kind                          { return KindBlock }
func (m *manualDriver) CanRead(_ *Description, _ int) bool  { return true }
func (m *manualDriver) CanWrite(_ *Description, _ int) bool { return true }
func (m *manualDriver) StartRequest(req *AsyncRequest)      { m.started <- req }

func (m *manualDriver) Close() error {
	m.closed.Store(true)
	return nil
}

// nextStarted returns the next request handed to the driver.
func (m *manualDriver) nextStarted(t *testing.T) *AsyncRequest {
	t.Helper()
	select {
	case req := <-m.started:
		return req
	case <-time.After(time.Second):
		t.Fatal("no request started")
		return nil
	}
}

// assertNotStarted fails if the driver was handed another request.
func (m *manualDriver) assertNotStarted(t *testing.T) {
	t.Helper()
	select {
	case req := <-m.started:
		t.Fatalf("unexpected request %s started", req.ID())
	default:
	}
}

// completeAndAdvance finishes req with n bytes and advances its queue.
func completeAndAdvance(t *testing.T, req *AsyncRequest, n int, err error) {
	t.Helper()
	if perr := req.Device().ProcessNextQueuedRequest(req.Complete(n, err)); perr != nil {
		t.Fatalf("ProcessNextQueuedRequest() error = %v", perr)
	}
}

// recordingObserver captures observer callbacks.
type recordingObserver struct {
	mu           sync.Mutex
	registered   []Entry
	unregistered []Entry
	finished     []RequestInfo
	io           []IOEvent
}

func (o *recordingObserver) DeviceRegistered(e Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registered = append(o.registered, e)
}

func (o *recordingObserver) DeviceUnregistered(e Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unregistered = append(o.unregistered, e)
}

func (o *recordingObserver) RequestFinished(info RequestInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, info)
}

func (o *recordingObserver) IOCompleted(ev IOEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.io = append(o.io, ev)
}

func (o *recordingObserver) counts() (reg, unreg, fin, io int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.registered), len(o.unregistered), len(o.finished), len(o.io)
}

func mustDevice(t *testing.T, reg *Registry, major, minor uint32, name string, drv Driver) *Device {
	t.Helper()
	d, err := NewDevice(reg, Config{Major: major, Minor: minor, Name: name}, drv)
	if err != nil {
		t.Fatalf("NewDevice(%d:%d) error = %v", major, minor, err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}
