package coroloop

import "time"

// Event is a marker that something has happened: a boolean flag plus the set
// of coroutines currently waiting on it.
//
// All Event operations are driver-only: call them from coroutine bodies, or
// from outside any running loop. Worker functions dispatched via
// [RunInThread] must not touch events; they communicate through their return
// value.
type Event struct {
	flag    bool
	waiters []*waitEntry
}

// NewEvent creates an event with the flag unset.
func NewEvent() *Event {
	return &Event{}
}

// IsSet returns the current flag.
func (e *Event) IsSet() bool {
	return e.flag
}

// Set sets the flag. If it was unset, every coroutine currently waiting on
// the event becomes runnable, in the order they began waiting, and their
// timer entries are tombstoned. Waiters added after Set do not see this
// transition; with the flag already set they resume promptly regardless.
func (e *Event) Set() {
	if !e.flag {
		waiters := e.waiters
		e.waiters = nil
		for _, w := range waiters {
			if w.fired {
				continue
			}
			w.fired = true
			w.group.run.decrement(w.group)
		}
	}
	e.flag = true
}

// Clear unsets the flag. Waiter state is untouched: a waiter already woken by
// a previous Set still resumes, but will observe the flag as it is at resume
// time. The documented pattern for waiters is therefore to re-check in a
// loop (see [Semaphore] for an example).
func (e *Event) Clear() {
	e.flag = false
}

// Wait returns a handle that, when awaited, suspends the coroutine until the
// flag is set. The resumed value is the flag as observed at resume time: a
// Clear that lands between the wake and the resumption yields false.
//
// Handles are single-use; awaiting one twice fails with [ErrWaitReused].
func (e *Event) Wait() *WaitHandle {
	return &WaitHandle{event: e}
}

// WaitTimeout is Wait bounded by a timeout: the coroutine resumes once the
// flag is set or the deadline is reached, whichever comes first. The resumed
// value distinguishes the two only insofar as it reports the flag at resume
// time. A negative timeout means no timeout; a zero timeout parks for one
// scheduling cycle.
func (e *Event) WaitTimeout(timeout time.Duration) *WaitHandle {
	if timeout < 0 {
		return e.Wait()
	}
	return &WaitHandle{event: e, timeout: timeout, hasTimeout: true}
}

// Sleep returns an awaitable that suspends the coroutine for at least d: a
// wait, with timeout d, on a fresh event whose flag is never set.
func Sleep(d time.Duration) *WaitHandle {
	return NewEvent().WaitTimeout(d)
}

// WaitHandle is a single-use timed wait produced by [Event.Wait],
// [Event.WaitTimeout], or [Sleep].
type WaitHandle struct {
	event      *Event
	timeout    time.Duration
	hasTimeout bool
	used       bool
}

// waitEntry tracks one suspended waiter of an event. It is referenced from
// the event's waiter list and, for finite timeouts, from the timer queue;
// fired tombstones both.
type waitEntry struct {
	group *waitGroup
	event *Event
	fired bool
}

// removeWaiter drops the entry from the event's waiter list, so the event
// does not keep cancelled or timed-out waiters reachable.
func (e *Event) removeWaiter(w *waitEntry) {
	for i, x := range e.waiters {
		if x == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}
