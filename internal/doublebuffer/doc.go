// Package doublebuffer implements the producer/consumer byte buffer that sits
// behind stream devices.
//
// A Buffer owns one allocation of twice its capacity, split into two halves.
// One half accepts writes while the other is drained by reads. When the read
// half runs dry and the write half holds data the halves flip under the
// buffer mutex, so bytes come out in the order they went in.
//
// Free space and emptiness are published through atomics after every change
// so that readiness checks (SpaceForWriting, IsEmpty) never take the lock.
//
// Blocking:
//
//	n, err := buf.Write(ctx, waitqueue.Forever, p) // parks while full
//	n, err = buf.Read(ctx, time.Second, p)         // parks while empty
//
// TryWrite and TryRead are the non-blocking forms. A short count is normal
// backpressure, not an error.
package doublebuffer
