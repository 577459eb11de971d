package waitqueue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Forever disables the timeout of WaitOn.
const Forever time.Duration = 0

// Result describes why WaitOn returned.
type Result int

const (
	// Woken means the queue was signalled or the predicate already held.
	Woken Result = iota

	// TimedOut means the timeout or the context deadline expired first.
	TimedOut

	// Interrupted means the context was cancelled first.
	Interrupted
)

// String returns the lower-case name of the result.
func (r Result) String() string {
	switch r {
	case Woken:
		return "woken"
	case TimedOut:
		return "timed_out"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Err converts a non-Woken result into the matching sentinel error.
func (r Result) Err() error {
	switch r {
	case TimedOut:
		return ErrTimedOut
	case Interrupted:
		return ErrInterrupted
	default:
		return nil
	}
}

// Predicate reports whether the condition a waiter is about to block on
// already holds. It is evaluated with the queue lock held, so it must not call
// back into the queue. Predicates typically read atomics published by the
// guarded resource.
type Predicate func() bool

// waiter is one parked goroutine. ready has capacity one so a wake never
// blocks the signalling side.
type waiter struct {
	id    uint64
	pred  Predicate
	ready chan struct{}
}

// Queue parks goroutines until it is signalled, a timeout expires or their
// context is cancelled.
//
// The zero value is an empty queue ready for use. A Queue must not be copied
// after first use.
type Queue struct {
	mu            sync.Mutex
	wakeRequested bool
	nextID        uint64
	waiters       map[uint64]*waiter
	order         []uint64
}

// WaitOn blocks the calling goroutine until the queue is signalled, timeout
// elapses (Forever disables it), or ctx is done.
//
// pred is the admission check run just before the goroutine would park: if it
// reports true the call returns Woken without blocking. A wake that arrived
// while nobody was waiting is also consumed here and returns Woken. Either way
// the caller must re-check its own state; Woken is a hint, not a guarantee.
func (q *Queue) WaitOn(ctx context.Context, timeout time.Duration, pred Predicate) Result {
	q.mu.Lock()
	if pred != nil && pred() {
		q.mu.Unlock()
		return Woken
	}
	if q.wakeRequested {
		q.wakeRequested = false
		q.mu.Unlock()
		return Woken
	}
	w := q.park(pred)
	q.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var res Result
	select {
	case <-w.ready:
		return Woken
	case <-expired:
		res = TimedOut
	case <-ctx.Done():
		res = Interrupted
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res = TimedOut
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.unpark(w.id) {
		// Already removed by a waker; the signal belongs to us.
		return Woken
	}
	return res
}

// Wait is WaitOn converted to an error: nil when woken, ErrTimedOut or
// ErrInterrupted otherwise.
func (q *Queue) Wait(ctx context.Context, timeout time.Duration, pred Predicate) error {
	return q.WaitOn(ctx, timeout, pred).Err()
}

// WakeOne wakes the longest-waiting goroutine whose predicate holds. Waiters
// whose predicate is still false stay parked in place. If no admissible
// goroutine is waiting the wake is remembered and satisfies the next WaitOn.
// It reports whether a waiter was woken.
func (q *Queue) WakeOne() bool {
	return q.WakeN(1) == 1
}

// WakeN wakes up to n admissible waiters in FIFO order and returns how many
// were woken. A waiter is admissible when it has no predicate or its
// predicate reports true.
func (q *Queue) WakeN(n int) int {
	if n <= 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	woken := 0
	kept := q.order[:0]
	for _, id := range q.order {
		w, ok := q.waiters[id]
		if !ok {
			continue
		}
		if woken == n || (w.pred != nil && !w.pred()) {
			kept = append(kept, id)
			continue
		}
		q.signal(w)
		woken++
	}
	clear(q.order[len(kept):])
	q.order = kept
	q.wakeRequested = woken == 0
	return woken
}

// WakeAll wakes every current waiter regardless of its predicate and returns
// how many were woken. As with WakeOne, a broadcast to an empty queue is
// remembered.
func (q *Queue) WakeAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	woken := 0
	for _, id := range q.order {
		if w, ok := q.waiters[id]; ok {
			q.signal(w)
			woken++
		}
	}
	q.order = q.order[:0]
	q.wakeRequested = woken == 0
	return woken
}

// Len returns the number of parked goroutines.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// WakeRequested reports whether a wake is pending with nobody to receive it.
func (q *Queue) WakeRequested() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wakeRequested
}

// park registers a new waiter. Caller holds q.mu.
func (q *Queue) park(pred Predicate) *waiter {
	if q.waiters == nil {
		q.waiters = make(map[uint64]*waiter)
	}
	q.nextID++
	w := &waiter{id: q.nextID, pred: pred, ready: make(chan struct{}, 1)}
	q.waiters[w.id] = w
	q.order = append(q.order, w.id)
	return w
}

// signal hands w its wakeup and forgets it. Caller holds q.mu.
func (q *Queue) signal(w *waiter) {
	delete(q.waiters, w.id)
	w.ready <- struct{}{}
}

// unpark removes a waiter that gave up. It reports false if a waker got there
// first. Caller holds q.mu.
func (q *Queue) unpark(id uint64) bool {
	if _, ok := q.waiters[id]; !ok {
		return false
	}
	delete(q.waiters, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}
