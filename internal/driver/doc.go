// Package driver provides the concrete drivers behind devio devices.
//
//   - null: discards writes, reads return nothing
//   - zero: reads return zero bytes, writes are discarded
//   - stream: loopback character device on a doublebuffer.Buffer
//   - ramdisk: block device served through the device request queue by a
//     controller goroutine
//
// New builds a driver from a Spec, which is how the service turns its
// configured device list into drivers at boot.
package driver
