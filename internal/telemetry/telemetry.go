package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/devio-core/internal/device"
	"github.com/nerrad567/devio-core/internal/infrastructure/mqtt"
)

// DefaultQueueSize bounds the event channel when Options.QueueSize is zero.
const DefaultQueueSize = 1024

// sinkTimeout bounds each journal write.
const sinkTimeout = 5 * time.Second

// EventKind names an event; the values double as websocket message types.
type EventKind string

// Event kinds.
const (
	EventRegistered      EventKind = "device.registered"
	EventUnregistered    EventKind = "device.unregistered"
	EventRequestFinished EventKind = "request.finished"
	EventIO              EventKind = "device.io"
)

// Event is one queued notification from the device layer.
type Event struct {
	Kind    EventKind
	At      time.Time
	Entry   device.Entry
	Request device.RequestInfo
	IO      device.IOEvent
}

// Logger is the logging interface used by the pump.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the MQTT side of the pump. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Topics() mqtt.Topics
}

// MetricsWriter is the time-series side. *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteIO(ev device.IOEvent)
	WriteRequest(info device.RequestInfo)
	WriteStats(e device.Entry, s device.Stats)
}

// Journal persists requests and inventory changes. *journal.SQLiteRepository
// satisfies it.
type Journal interface {
	Record(ctx context.Context, info device.RequestInfo) error
	DeviceRegistered(ctx context.Context, e device.Entry) error
	DeviceRemoved(ctx context.Context, e device.Entry) error
}

// Broadcaster pushes events to live websocket clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// Options wires the sinks. Nil sinks are skipped.
type Options struct {
	QueueSize         int
	InventoryInterval time.Duration // 0 disables periodic inventory
	Logger            Logger
	MQTT              Publisher
	Metrics           MetricsWriter
	Journal           Journal
	Hub               Broadcaster
}

// Counters reports pump throughput.
type Counters struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}

// Pump implements device.Observer. Callbacks from the device layer only
// enqueue; Run drains the queue into the sinks on its own goroutine so a
// slow broker or disk never stalls I/O. When the queue is full the event is
// dropped and counted.
type Pump struct {
	registry *device.Registry
	opts     Options
	logger   Logger
	events   chan Event

	delivered atomic.Uint64
	dropped   atomic.Uint64
	now       func() time.Time
}

var _ device.Observer = (*Pump)(nil)

// New creates a pump for reg. It does not attach itself; call
// reg.SetObserver(p) once Run is about to start.
func New(reg *device.Registry, opts Options) *Pump {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Pump{
		registry: reg,
		opts:     opts,
		logger:   logger,
		events:   make(chan Event, opts.QueueSize),
		now:      time.Now,
	}
}

// DeviceRegistered implements device.Observer.
func (p *Pump) DeviceRegistered(e device.Entry) {
	p.enqueue(Event{Kind: EventRegistered, Entry: e})
}

// DeviceUnregistered implements device.Observer.
func (p *Pump) DeviceUnregistered(e device.Entry) {
	p.enqueue(Event{Kind: EventUnregistered, Entry: e})
}

// RequestFinished implements device.Observer.
func (p *Pump) RequestFinished(info device.RequestInfo) {
	p.enqueue(Event{Kind: EventRequestFinished, Request: info})
}

// IOCompleted implements device.Observer.
func (p *Pump) IOCompleted(ev device.IOEvent) {
	p.enqueue(Event{Kind: EventIO, IO: ev})
}

func (p *Pump) enqueue(ev Event) {
	ev.At = p.now()
	select {
	case p.events <- ev:
	default:
		// Logged on powers of two.
		if n := p.dropped.Add(1); n&(n-1) == 0 {
			p.logger.Warn("telemetry queue full, dropping events", "dropped", n, "kind", ev.Kind)
		}
	}
}

// Counters returns a snapshot of the pump counters.
func (p *Pump) Counters() Counters {
	return Counters{
		Delivered: p.delivered.Load(),
		Dropped:   p.dropped.Load(),
		Pending:   len(p.events),
	}
}

// Run delivers events until ctx is cancelled, then drains what is already
// queued. It also publishes the inventory once at start and on every
// InventoryInterval.
func (p *Pump) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case ev := <-p.events:
				p.deliver(ev)
			case <-gctx.Done():
				p.drain()
				return nil
			}
		}
	})

	g.Go(func() error {
		p.PublishInventory(gctx)
		if p.opts.InventoryInterval <= 0 {
			return nil
		}
		ticker := time.NewTicker(p.opts.InventoryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.PublishInventory(gctx)
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

func (p *Pump) drain() {
	for {
		select {
		case ev := <-p.events:
			p.deliver(ev)
		default:
			return
		}
	}
}

func (p *Pump) deliver(ev Event) {
	switch ev.Kind {
	case EventRegistered, EventUnregistered:
		p.deliverDeviceEvent(ev)
	case EventRequestFinished:
		p.deliverRequest(ev)
	case EventIO:
		if p.opts.Metrics != nil {
			p.opts.Metrics.WriteIO(ev.IO)
		}
	}
	p.delivered.Add(1)
}

// deviceEventPayload is published on DeviceEvent topics and over websocket.
type deviceEventPayload struct {
	Event     EventKind    `json:"event"`
	Device    device.Entry `json:"device"`
	Timestamp time.Time    `json:"timestamp"`
}

func (p *Pump) deliverDeviceEvent(ev Event) {
	payload := deviceEventPayload{Event: ev.Kind, Device: ev.Entry, Timestamp: ev.At.UTC()}

	if p.opts.Journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		var err error
		if ev.Kind == EventRegistered {
			err = p.opts.Journal.DeviceRegistered(ctx, ev.Entry)
		} else {
			err = p.opts.Journal.DeviceRemoved(ctx, ev.Entry)
		}
		cancel()
		if err != nil {
			p.logger.Warn("journal inventory update failed", "device", ev.Entry.ID.String(), "error", err)
		}
	}
	if p.opts.MQTT != nil {
		topic := p.opts.MQTT.Topics().DeviceEvent(ev.Entry.ID.Major, ev.Entry.ID.Minor)
		if err := p.opts.MQTT.PublishJSON(topic, payload, false); err != nil {
			p.logger.Debug("mqtt device event not published", "topic", topic, "error", err)
		}
	}
	if p.opts.Hub != nil {
		p.opts.Hub.Broadcast(string(ev.Kind), payload)
	}
}

func (p *Pump) deliverRequest(ev Event) {
	info := ev.Request

	if p.opts.Journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := p.opts.Journal.Record(ctx, info)
		cancel()
		if err != nil {
			p.logger.Warn("journal record failed", "request_id", info.ID.String(), "error", err)
		}
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.WriteRequest(info)
	}
	if p.opts.MQTT != nil {
		topic := p.opts.MQTT.Topics().RequestFinished(info.Device.Major, info.Device.Minor)
		if err := p.opts.MQTT.PublishJSON(topic, info, false); err != nil {
			p.logger.Debug("mqtt request not published", "topic", topic, "error", err)
		}
	}
	if p.opts.Hub != nil {
		p.opts.Hub.Broadcast(string(EventRequestFinished), info)
	}
}

// InventoryDevice is one device in the published inventory.
type InventoryDevice struct {
	device.Entry
	Stats device.Stats `json:"stats"`
}

// Inventory is the retained document published on Topics.Inventory.
type Inventory struct {
	Devices   []InventoryDevice `json:"devices"`
	Timestamp time.Time         `json:"timestamp"`
}

// Snapshot builds the current inventory from the registry.
func (p *Pump) Snapshot() Inventory {
	inv := Inventory{Devices: []InventoryDevice{}, Timestamp: p.now().UTC()}
	p.registry.ForEach(func(d *device.Device) bool {
		inv.Devices = append(inv.Devices, InventoryDevice{Entry: d.Entry(), Stats: d.Stats()})
		return true
	})
	return inv
}

// PublishInventory pushes the inventory to MQTT (retained) and per-device
// counters to MQTT and the metrics sink.
func (p *Pump) PublishInventory(ctx context.Context) {
	if p.opts.MQTT == nil && p.opts.Metrics == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}
	inv := p.Snapshot()

	if p.opts.MQTT != nil {
		topics := p.opts.MQTT.Topics()
		if err := p.opts.MQTT.PublishJSON(topics.Inventory(), inv, true); err != nil {
			p.logger.Debug("mqtt inventory not published", "error", err)
		}
		for _, d := range inv.Devices {
			if err := p.opts.MQTT.PublishJSON(topics.DeviceStats(d.ID.Major, d.ID.Minor), d.Stats, true); err != nil {
				p.logger.Debug("mqtt stats not published", "device", d.ID.String(), "error", err)
			}
		}
	}
	if p.opts.Metrics != nil {
		for _, d := range inv.Devices {
			p.opts.Metrics.WriteStats(d.Entry, d.Stats)
		}
	}
}

// HandleCommand is an mqtt.MessageHandler for Topics.AllCommands. The only
// command is "inventory", which republishes the inventory immediately.
func (p *Pump) HandleCommand(topic string, _ []byte) error {
	name := topic[strings.LastIndex(topic, "/")+1:]
	switch name {
	case "inventory":
		p.PublishInventory(context.Background())
		return nil
	default:
		return fmt.Errorf("telemetry: unknown command %q", name)
	}
}
