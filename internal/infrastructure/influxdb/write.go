package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/devio-core/internal/device"
)

// Measurement names written by devio.
const (
	MeasurementIO      = "device_io"
	MeasurementRequest = "device_request"
	MeasurementStats   = "device_stats"
)

// WriteIO records one finished Read or Write call.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteIO(device.IOEvent{Device: id, Name: "tty0", Op: device.OpRead, Requested: 64, Transferred: 12})
func (c *Client) WriteIO(ev device.IOEvent) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ioPoint(ev, time.Now()))
}

// WriteRequest records a finished asynchronous request.
func (c *Client) WriteRequest(info device.RequestInfo) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(requestPoint(info))
}

// WriteStats records a device's cumulative counters, typically on the
// inventory interval.
func (c *Client) WriteStats(e device.Entry, s device.Stats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statsPoint(e, s, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func deviceTags(id device.ID, name string) map[string]string {
	return map[string]string{
		"major":  strconv.FormatUint(uint64(id.Major), 10),
		"minor":  strconv.FormatUint(uint64(id.Minor), 10),
		"device": name,
	}
}

func ioPoint(ev device.IOEvent, at time.Time) *write.Point {
	tags := deviceTags(ev.Device, ev.Name)
	tags["op"] = string(ev.Op)

	fields := map[string]any{
		"requested":   int64(ev.Requested),
		"transferred": int64(ev.Transferred),
		"duration_us": ev.Duration.Microseconds(),
		"error":       ev.Err != nil,
	}
	return write.NewPoint(MeasurementIO, tags, fields, at)
}

func requestPoint(info device.RequestInfo) *write.Point {
	tags := map[string]string{
		"major": strconv.FormatUint(uint64(info.Device.Major), 10),
		"minor": strconv.FormatUint(uint64(info.Device.Minor), 10),
		"op":    string(info.Op),
		"state": info.State.String(),
	}
	fields := map[string]any{
		"offset":      info.Offset,
		"length":      int64(info.Length),
		"transferred": int64(info.Transferred),
	}

	at := time.Now()
	if info.FinishedAt != nil {
		at = *info.FinishedAt
	}
	if info.StartedAt != nil {
		fields["queue_wait_us"] = info.StartedAt.Sub(info.EnqueuedAt).Microseconds()
		fields["service_us"] = at.Sub(*info.StartedAt).Microseconds()
	}
	return write.NewPoint(MeasurementRequest, tags, fields, at)
}

func statsPoint(e device.Entry, s device.Stats, at time.Time) *write.Point {
	tags := deviceTags(e.ID, e.Name)
	tags["kind"] = string(e.Kind)

	fields := map[string]any{
		"bytes_read":         int64(s.BytesRead),
		"bytes_written":      int64(s.BytesWritten),
		"reads":              int64(s.Reads),
		"writes":             int64(s.Writes),
		"errors":             int64(s.Errors),
		"requests_completed": int64(s.RequestsCompleted),
		"requests_failed":    int64(s.RequestsFailed),
		"requests_cancelled": int64(s.RequestsCancelled),
		"queued":             int64(s.Queued),
	}
	return write.NewPoint(MeasurementStats, tags, fields, at)
}
