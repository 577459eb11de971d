// Package device provides the device layer of devio: (major, minor)
// addressed devices, their asynchronous request queues, and the registry
// that maps pairs to live devices.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                             Registry                                  │
//	│               map[ID]*Device, one RWMutex, Default()                  │
//	│                                                                       │
//	│  ┌───────────────────────┐          ┌───────────────────────┐         │
//	│  │   Device (null, 1:3)  │          │  Device (ram0, 1:0)   │  ...    │
//	│  │   SyncDriver          │          │  AsyncDriver          │         │
//	│  │   Read/Write direct   │          │  queue: R1 ◀ R2 ◀ R3  │         │
//	│  └───────────────────────┘          └───────────┬───────────┘         │
//	│                                                 │ StartRequest(head)  │
//	└─────────────────────────────────────────────────│─────────────────────┘
//	                                                  ▼
//	                                       driver completion path
//	                         dev.ProcessNextQueuedRequest(req.Complete(n, err))
//
// # Key Types
//
//   - Device: A registered endpoint implementing the byte-stream contract
//     (CanRead, CanWrite, Read, Write, AbsolutePath)
//   - Driver, SyncDriver, AsyncDriver: What a device delegates to
//   - AsyncRequest: A queued unit of work with its own wait point
//   - CompletionToken: Proof of completion, minted only by AsyncRequest.Complete
//   - Registry: Process-wide (Default) or injected (NewRegistry) device map
//
// # Request Queue
//
// Each device runs one request at a time in FIFO order. QueueRequest appends
// to the tail and starts the request at once if the queue was idle. When the
// driver finishes the head it calls Complete and hands the token to
// ProcessNextQueuedRequest, which retires the head and starts the next.
//
// Cancelling a queued request removes it immediately. Cancelling an in-flight
// request only sets a flag; when the driver completes it the request ends
// Cancelled if nothing moved, Failed if part of it moved, and Completed if the
// transfer finished anyway.
//
// # Usage
//
//	reg := device.NewRegistry()
//	reg.SetLogger(log)
//
//	dev, err := device.NewDevice(reg, device.Config{Major: 1, Minor: 3, Name: "null"}, drv)
//	if errors.Is(err, device.ErrDeviceConflict) {
//	    // two drivers claimed the same pair
//	}
//
//	n, err := dev.Write(ctx, &device.Description{NonBlocking: true}, 0, data)
//	if errors.Is(err, device.ErrWouldBlock) {
//	    ev, err := dev.WaitReady(ctx, nil, time.Second, device.EventWrite)
//	    // ...
//	}
//
// # Thread Safety
//
// The registry, each device's queue, and each request are guarded by their
// own locks. No lock is held while calling a driver or an Observer, and every
// blocking call parks on a waitqueue.Queue with no lock held.
package device
