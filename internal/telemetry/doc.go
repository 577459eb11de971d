// Package telemetry fans device events out to the optional integrations.
//
// A Pump is installed as the registry's device.Observer. Registration
// changes, finished requests and per-call I/O events are queued on a bounded
// channel and delivered by Run to:
//
//   - the SQLite journal (finished requests, device inventory)
//   - MQTT (retained inventory and counters, device and request events)
//   - InfluxDB (device_io, device_request, device_stats points)
//   - the websocket hub of the HTTP API
//
// Any sink may be nil. A full queue drops events rather than blocking the
// caller that triggered them; Counters reports how many were lost.
package telemetry
