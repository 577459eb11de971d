package doublebuffer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/devio-core/internal/waitqueue"
)

func newTestBuffer(t *testing.T, capacity int) *Buffer {
	t.Helper()
	b, err := New(capacity)
	if err != nil {
		t.Fatalf("New(%d) error = %v", capacity, err)
	}
	return b
}

func mustTryWrite(t *testing.T, b *Buffer, s string, want int) {
	t.Helper()
	n, err := b.TryWrite([]byte(s))
	if err != nil {
		t.Fatalf("TryWrite(%q) error = %v", s, err)
	}
	if n != want {
		t.Fatalf("TryWrite(%q) = %d, want %d", s, n, want)
	}
}

func mustTryRead(t *testing.T, b *Buffer, size int, want string) {
	t.Helper()
	p := make([]byte, size)
	n, err := b.TryRead(p)
	if err != nil {
		t.Fatalf("TryRead(%d) error = %v", size, err)
	}
	if got := string(p[:n]); got != want {
		t.Fatalf("TryRead(%d) = %q, want %q", size, got, want)
	}
}

func TestNew_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := New(c); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("New(%d) error = %v, want ErrInvalidCapacity", c, err)
		}
	}
}

func TestNew_Empty(t *testing.T) {
	b := newTestBuffer(t, 16)

	if !b.IsEmpty() {
		t.Error("IsEmpty() = false for new buffer")
	}
	if b.SpaceForWriting() != 16 {
		t.Errorf("SpaceForWriting() = %d, want 16", b.SpaceForWriting())
	}
	if b.Capacity() != 16 {
		t.Errorf("Capacity() = %d, want 16", b.Capacity())
	}
}

func TestScenario_EightByteBuffer(t *testing.T) {
	b := newTestBuffer(t, 8)

	mustTryWrite(t, b, "ABCD", 4)
	mustTryWrite(t, b, "EFGH", 4)
	if b.SpaceForWriting() != 0 {
		t.Fatalf("SpaceForWriting() = %d after filling, want 0", b.SpaceForWriting())
	}
	mustTryRead(t, b, 4, "ABCD")
	mustTryWrite(t, b, "IJ", 2)
	mustTryRead(t, b, 6, "EFGHIJ")

	if !b.IsEmpty() {
		t.Error("IsEmpty() = false after draining")
	}
}

func TestTryWrite_Backpressure(t *testing.T) {
	b := newTestBuffer(t, 8)

	mustTryWrite(t, b, "12345", 5)
	mustTryWrite(t, b, "abcdef", 3)
	mustTryWrite(t, b, "x", 0)

	if got := b.Len(); got != 8 {
		t.Errorf("Len() = %d, want 8", got)
	}
}

func TestUnreadNeverExceedsCapacity(t *testing.T) {
	b := newTestBuffer(t, 8)

	mustTryWrite(t, b, "ABCDEFGH", 8)
	mustTryRead(t, b, 2, "AB")
	// Six bytes remain unread in the read half, so only two fit.
	mustTryWrite(t, b, "1234", 2)

	if got := b.Len(); got != 8 {
		t.Errorf("Len() = %d, want 8", got)
	}
	mustTryRead(t, b, 16, "CDEFGH12")
}

func TestFlip_ExposesWrittenData(t *testing.T) {
	b := newTestBuffer(t, 4)

	mustTryWrite(t, b, "ab", 2)
	mustTryRead(t, b, 2, "ab")
	mustTryWrite(t, b, "cde", 3)
	// Read half is drained; the next read must flip on its own.
	mustTryRead(t, b, 3, "cde")
}

func TestZeroLength(t *testing.T) {
	b := newTestBuffer(t, 4)

	if n, err := b.TryWrite(nil); n != 0 || err != nil {
		t.Errorf("TryWrite(nil) = %d, %v; want 0, nil", n, err)
	}
	if n, err := b.TryRead(nil); n != 0 || err != nil {
		t.Errorf("TryRead(nil) = %d, %v; want 0, nil", n, err)
	}
	if n, err := b.Read(context.Background(), waitqueue.Forever, []byte{}); n != 0 || err != nil {
		t.Errorf("Read(empty) = %d, %v; want 0, nil", n, err)
	}
}

func TestTryRead_EmptyReturnsZero(t *testing.T) {
	b := newTestBuffer(t, 4)

	n, err := b.TryRead(make([]byte, 4))
	if n != 0 || err != nil {
		t.Errorf("TryRead() on empty = %d, %v; want 0, nil", n, err)
	}
}

func TestNoDataLoss_Sequences(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		reads  []int
	}{
		{"single", []string{"hello"}, []int{5}},
		{"many small", []string{"a", "bc", "def", "g"}, []int{1, 1, 5}},
		{"exact capacity", []string{"0123456789abcdef"}, []int{16}},
		{"split reads", []string{"abcdefgh", "ijklmnop"}, []int{3, 3, 3, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuffer(t, 16)
			var want bytes.Buffer
			for _, w := range tt.writes {
				n, err := b.TryWrite([]byte(w))
				if err != nil || n != len(w) {
					t.Fatalf("TryWrite(%q) = %d, %v", w, n, err)
				}
				want.WriteString(w)
			}

			var got bytes.Buffer
			for _, r := range tt.reads {
				p := make([]byte, r)
				n, err := b.TryRead(p)
				if err != nil {
					t.Fatalf("TryRead(%d) error = %v", r, err)
				}
				got.Write(p[:n])
			}

			if got.String() != want.String() {
				t.Errorf("read %q, want %q", got.String(), want.String())
			}
		})
	}
}

func TestWrite_BlocksUntilSpace(t *testing.T) {
	b := newTestBuffer(t, 4)
	mustTryWrite(t, b, "full", 4)

	done := make(chan int, 1)
	go func() {
		n, err := b.Write(context.Background(), waitqueue.Forever, []byte("xy"))
		if err != nil {
			t.Errorf("Write() error = %v", err)
		}
		done <- n
	}()

	select {
	case <-done:
		t.Fatal("Write() returned while buffer was full")
	case <-time.After(30 * time.Millisecond):
	}

	mustTryRead(t, b, 2, "fu")

	select {
	case n := <-done:
		if n != 2 {
			t.Errorf("Write() = %d, want 2", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Write() still blocked after space was freed")
	}
	mustTryRead(t, b, 4, "llxy")
}

func TestRead_BlocksUntilData(t *testing.T) {
	b := newTestBuffer(t, 4)

	done := make(chan string, 1)
	go func() {
		p := make([]byte, 4)
		n, err := b.Read(context.Background(), waitqueue.Forever, p)
		if err != nil {
			t.Errorf("Read() error = %v", err)
		}
		done <- string(p[:n])
	}()

	time.Sleep(20 * time.Millisecond)
	mustTryWrite(t, b, "hi", 2)

	select {
	case got := <-done:
		if got != "hi" {
			t.Errorf("Read() = %q, want %q", got, "hi")
		}
	case <-time.After(time.Second):
		t.Fatal("Read() still blocked after a write")
	}
}

func TestRead_Timeout(t *testing.T) {
	b := newTestBuffer(t, 4)

	_, err := b.Read(context.Background(), 20*time.Millisecond, make([]byte, 1))
	if !errors.Is(err, waitqueue.ErrTimedOut) {
		t.Errorf("Read() error = %v, want ErrTimedOut", err)
	}
}

func TestWrite_Interrupted(t *testing.T) {
	b := newTestBuffer(t, 1)
	mustTryWrite(t, b, "x", 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.Write(ctx, waitqueue.Forever, []byte("y"))
	if !errors.Is(err, waitqueue.ErrInterrupted) {
		t.Errorf("Write() error = %v, want ErrInterrupted", err)
	}
}

func TestClose(t *testing.T) {
	b := newTestBuffer(t, 4)
	mustTryWrite(t, b, "ab", 2)

	readDone := make(chan error, 1)
	go func() {
		p := make([]byte, 4)
		// Drain the buffered data, then block until Close.
		if _, err := b.Read(context.Background(), waitqueue.Forever, p); err != nil {
			readDone <- err
			return
		}
		_, err := b.Read(context.Background(), waitqueue.Forever, p)
		readDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-readDone:
		if !errors.Is(err, io.EOF) {
			t.Errorf("Read() after Close error = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader not woken by Close")
	}

	if _, err := b.TryWrite([]byte("z")); !errors.Is(err, ErrClosed) {
		t.Errorf("TryWrite() after Close error = %v, want ErrClosed", err)
	}
	if !b.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestUnblockCallback(t *testing.T) {
	b := newTestBuffer(t, 4)
	var calls atomic.Int32
	b.SetUnblockCallback(func() { calls.Add(1) })

	mustTryWrite(t, b, "ab", 2)
	if calls.Load() != 1 {
		t.Errorf("calls after write = %d, want 1", calls.Load())
	}
	mustTryRead(t, b, 1, "a")
	if calls.Load() != 2 {
		t.Errorf("calls after read = %d, want 2", calls.Load())
	}

	b.SetUnblockCallback(nil)
	mustTryRead(t, b, 1, "b")
	if calls.Load() != 2 {
		t.Errorf("callback ran after removal: calls = %d", calls.Load())
	}
}

// TestConcurrentProducerConsumer streams more than capacity through the buffer
// with several writers and checks nothing is lost or duplicated.
func TestConcurrentProducerConsumer(t *testing.T) {
	b := newTestBuffer(t, 7)
	const writers = 4
	const perWriter = 500

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for w := 0; w < writers; w++ {
		go func(id byte) {
			for i := 0; i < perWriter; i++ {
				if _, err := b.WriteAll(ctx, waitqueue.Forever, []byte{id}); err != nil {
					t.Errorf("writer %d: %v", id, err)
					return
				}
			}
		}(byte(w))
	}

	counts := make([]int, writers)
	total := 0
	p := make([]byte, 5)
	for total < writers*perWriter {
		n, err := b.Read(ctx, waitqueue.Forever, p)
		if err != nil {
			t.Fatalf("Read() error = %v after %d bytes", err, total)
		}
		for _, c := range p[:n] {
			counts[c]++
		}
		total += n
	}

	for id, c := range counts {
		if c != perWriter {
			t.Errorf("writer %d: read %d bytes, want %d", id, c, perWriter)
		}
	}
}

// TestConcurrentOrder checks FIFO ordering with one writer and one reader.
func TestConcurrentOrder(t *testing.T) {
	b := newTestBuffer(t, 5)
	src := make([]byte, 4096)
	for i := range src {
		src[i] = byte(i % 251)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		if _, err := b.WriteAll(ctx, waitqueue.Forever, src); err != nil {
			t.Errorf("WriteAll() error = %v", err)
		}
		b.Close()
	}()

	var got bytes.Buffer
	p := make([]byte, 3)
	for {
		n, err := b.Read(ctx, waitqueue.Forever, p)
		got.Write(p[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
	}

	if !bytes.Equal(got.Bytes(), src) {
		t.Errorf("stream mismatch: got %d bytes, want %d", got.Len(), len(src))
	}
}
