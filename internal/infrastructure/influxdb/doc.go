// Package influxdb writes devio I/O metrics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health monitoring.
//
// Measurements:
//   - device_io: one point per Read/Write call (bytes, latency, error flag)
//   - device_request: one point per finished async request (queue wait, service time)
//   - device_stats: cumulative device counters, written on the inventory interval
//
// All are tagged with major, minor and device name so dashboards can group
// by device.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Warn("influx write failed", "error", err) })
//	client.WriteIO(ev)
package influxdb
