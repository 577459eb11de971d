// Package waitqueue provides the blocking primitive used by the device I/O
// subsystem to park goroutines until a resource becomes ready.
//
// A Queue keeps an arena of parked waiters indexed by ID, each with its own
// one-slot wake channel. A waiter is admitted only after its Predicate has
// been checked under the queue lock, so a producer that changes state and then
// calls WakeOne or WakeAll can never slip between the check and the park.
//
// The predicate is kept with the parked waiter. WakeOne and WakeN skip
// waiters whose predicate is still false, so a targeted wake reaches a
// goroutine that can make progress. WakeAll ignores predicates and is the
// call to use when tearing a resource down.
//
// Wakes that arrive while nobody waits are coalesced into a single pending
// flag that the next WaitOn consumes:
//
//	q.WakeOne()                        // nobody waiting yet
//	res := q.WaitOn(ctx, 0, nil)       // returns Woken immediately
//
// Typical use from a resource guarded by its own mutex:
//
//	for !buf.hasData() {
//	    if err := q.Wait(ctx, timeout, buf.hasData); err != nil {
//	        return err // ErrTimedOut or ErrInterrupted
//	    }
//	}
//
// No lock of the guarded resource may be held across WaitOn.
package waitqueue
