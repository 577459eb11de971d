package waitqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitForParked polls until n goroutines are parked on q.
func waitForParked(t *testing.T, q *Queue, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Len() = %d, want %d parked waiters", q.Len(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWaitOn_PredicateAlreadyTrue(t *testing.T) {
	var q Queue

	res := q.WaitOn(context.Background(), Forever, func() bool { return true })
	if res != Woken {
		t.Fatalf("WaitOn() = %v, want %v", res, Woken)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestWaitOn_SignalBeforeWait(t *testing.T) {
	var q Queue

	if q.WakeOne() {
		t.Fatal("WakeOne() reported a woken waiter on an empty queue")
	}
	if !q.WakeRequested() {
		t.Fatal("WakeRequested() = false after wake on empty queue")
	}

	done := make(chan Result, 1)
	go func() { done <- q.WaitOn(context.Background(), Forever, nil) }()

	select {
	case res := <-done:
		if res != Woken {
			t.Errorf("WaitOn() = %v, want %v", res, Woken)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitOn() blocked despite a pending wake")
	}

	if q.WakeRequested() {
		t.Error("pending wake was not consumed")
	}
}

func TestWaitOn_CoalescedWakes(t *testing.T) {
	var q Queue
	q.WakeOne()
	q.WakeOne()

	if res := q.WaitOn(context.Background(), Forever, nil); res != Woken {
		t.Fatalf("first WaitOn() = %v, want %v", res, Woken)
	}
	if res := q.WaitOn(context.Background(), 20*time.Millisecond, nil); res != TimedOut {
		t.Errorf("second WaitOn() = %v, want %v (wakes should coalesce)", res, TimedOut)
	}
}

func TestWaitOn_Timeout(t *testing.T) {
	var q Queue

	start := time.Now()
	res := q.WaitOn(context.Background(), 30*time.Millisecond, func() bool { return false })
	if res != TimedOut {
		t.Fatalf("WaitOn() = %v, want %v", res, TimedOut)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", elapsed)
	}
	if q.Len() != 0 {
		t.Errorf("timed out waiter left parked: Len() = %d", q.Len())
	}
}

func TestWaitOn_ContextDeadlineIsTimeout(t *testing.T) {
	var q Queue
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if res := q.WaitOn(ctx, Forever, nil); res != TimedOut {
		t.Errorf("WaitOn() = %v, want %v", res, TimedOut)
	}
}

func TestWaitOn_Interrupted(t *testing.T) {
	var q Queue
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result, 1)
	go func() { done <- q.WaitOn(ctx, Forever, nil) }()

	waitForParked(t, &q, 1)
	cancel()

	select {
	case res := <-done:
		if res != Interrupted {
			t.Errorf("WaitOn() = %v, want %v", res, Interrupted)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitOn() did not return after cancellation")
	}
}

func TestWait_Errors(t *testing.T) {
	var q Queue

	err := q.Wait(context.Background(), 10*time.Millisecond, nil)
	if !errors.Is(err, ErrTimedOut) {
		t.Errorf("Wait() error = %v, want ErrTimedOut", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = q.Wait(ctx, Forever, nil)
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("Wait() error = %v, want ErrInterrupted", err)
	}
}

func TestWakeOne_FIFO(t *testing.T) {
	var q Queue
	order := make(chan int, 3)

	for i := 1; i <= 3; i++ {
		go func(i int) {
			q.WaitOn(context.Background(), Forever, nil)
			order <- i
		}(i)
		waitForParked(t, &q, i)
	}

	for want := 1; want <= 3; want++ {
		if !q.WakeOne() {
			t.Fatal("WakeOne() = false with parked waiters")
		}
		select {
		case got := <-order:
			if got != want {
				t.Errorf("woken waiter = %d, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatal("waiter not woken")
		}
	}
}

func TestWakeOne_SkipsWaiterWithFalsePredicate(t *testing.T) {
	var q Queue
	var ready atomic.Bool

	first := make(chan Result, 1)
	go func() { first <- q.WaitOn(context.Background(), 300*time.Millisecond, func() bool { return false }) }()
	waitForParked(t, &q, 1)

	second := make(chan Result, 1)
	go func() { second <- q.WaitOn(context.Background(), Forever, ready.Load) }()
	waitForParked(t, &q, 2)

	ready.Store(true)
	if !q.WakeOne() {
		t.Fatal("WakeOne() = false with an admissible waiter parked")
	}

	select {
	case res := <-second:
		if res != Woken {
			t.Errorf("admissible waiter WaitOn() = %v, want %v", res, Woken)
		}
	case <-time.After(time.Second):
		t.Fatal("wake went to the waiter whose predicate was false")
	}

	if got := q.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1 (inadmissible waiter stays parked)", got)
	}
	if q.WakeRequested() {
		t.Error("WakeRequested() = true after the wake was delivered")
	}
	if res := <-first; res != TimedOut {
		t.Errorf("inadmissible waiter WaitOn() = %v, want %v", res, TimedOut)
	}
}

func TestWakeAll_IgnoresPredicates(t *testing.T) {
	var q Queue
	done := make(chan Result, 2)
	for i := 0; i < 2; i++ {
		go func() { done <- q.WaitOn(context.Background(), 2*time.Second, func() bool { return false }) }()
	}
	waitForParked(t, &q, 2)

	if got := q.WakeAll(); got != 2 {
		t.Fatalf("WakeAll() = %d, want 2", got)
	}
	for i := 0; i < 2; i++ {
		if res := <-done; res != Woken {
			t.Errorf("WaitOn() = %v, want %v", res, Woken)
		}
	}
}

func TestWakeAll(t *testing.T) {
	var q Queue
	const n = 5
	var wg sync.WaitGroup
	var woken atomic.Int32

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if q.WaitOn(context.Background(), Forever, nil) == Woken {
				woken.Add(1)
			}
		}()
	}
	waitForParked(t, &q, n)

	if got := q.WakeAll(); got != n {
		t.Errorf("WakeAll() = %d, want %d", got, n)
	}
	wg.Wait()

	if woken.Load() != n {
		t.Errorf("woken = %d, want %d", woken.Load(), n)
	}
	if q.WakeRequested() {
		t.Error("WakeAll() with waiters should not leave a pending wake")
	}
}

func TestWakeN(t *testing.T) {
	var q Queue
	for i := 0; i < 3; i++ {
		go q.WaitOn(context.Background(), 2*time.Second, nil)
	}
	waitForParked(t, &q, 3)

	if got := q.WakeN(2); got != 2 {
		t.Errorf("WakeN(2) = %d, want 2", got)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	if got := q.WakeN(0); got != 0 {
		t.Errorf("WakeN(0) = %d, want 0", got)
	}
	q.WakeAll()
}

// TestNoLostWakeup hammers the check-then-park window: a producer flips a flag
// and wakes, a consumer waits on the flag. The consumer must never hang.
func TestNoLostWakeup(t *testing.T) {
	for i := 0; i < 500; i++ {
		var q Queue
		var ready atomic.Bool

		done := make(chan struct{})
		go func() {
			defer close(done)
			for !ready.Load() {
				q.WaitOn(context.Background(), Forever, ready.Load)
			}
		}()

		ready.Store(true)
		q.WakeAll()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: consumer missed the wakeup", i)
		}
	}
}

func TestResult_String(t *testing.T) {
	tests := []struct {
		res  Result
		want string
	}{
		{Woken, "woken"},
		{TimedOut, "timed_out"},
		{Interrupted, "interrupted"},
		{Result(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.res.String(); got != tt.want {
			t.Errorf("Result(%d).String() = %q, want %q", tt.res, got, tt.want)
		}
	}
}
