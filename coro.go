package coroloop

import (
	"runtime/debug"
	"sync/atomic"
	"time"
)

var coroIDCounter atomic.Uint64

// Body is a coroutine body. It receives a [Yielder] bound to the coroutine,
// through which it suspends, and returns the coroutine's value or error.
//
// A body that never suspends is valid; it completes synchronously within the
// resumption that started it.
type Body func(y *Yielder) (any, error)

// resumeMsg is the driver-to-coroutine half of the rendezvous: the value to
// deliver at the suspension point, or the error to inject there.
type resumeMsg struct {
	value any
	err   error
}

// yieldMsg is the coroutine-to-driver half: either a classification object to
// suspend on (out), or the body's final value/error (done).
type yieldMsg struct {
	out   any
	value any
	err   error
	done  bool
}

// Coro is a coroutine record: a unit of cooperative work with stable identity
// for the lifetime of a single loop invocation.
//
// All scheduling state is owned by the driver. The result slot (Result) is
// frozen once the coroutine reaches a terminal status and is never
// reassigned.
type Coro struct {
	// Prevent copying
	_ [0]func()

	id   uint64
	body Body

	// Driver-owned scheduling state, valid while registered to an
	// invocation.
	run       *runState
	status    Status
	resumeErr error
	queued    bool
	waiters   []*waitGroup // gathers blocked on this coroutine
	group     *waitGroup   // the gather this coroutine is blocked on

	// Frame: the body's goroutine and its rendezvous channels, created
	// lazily on first resumption.
	started  bool
	resumeCh chan resumeMsg
	yieldCh  chan yieldMsg

	// Result slot; frozen once status is terminal.
	value any
	err   error
}

// NewCoro creates a coroutine from the given body. The body does not start
// executing until the coroutine is driven by [Loop.Run] or awaited from a
// coroutine already running on a loop.
func NewCoro(body Body) *Coro {
	return &Coro{
		id:   coroIDCounter.Add(1),
		body: body,
	}
}

// ID returns the coroutine's process-unique identity.
func (c *Coro) ID() uint64 {
	return c.id
}

// Status returns the coroutine's lifecycle status. It is owned by the driver:
// the value is only stable once the driving Loop.Run call has returned (or
// before the coroutine is ever submitted).
func (c *Coro) Status() Status {
	return c.status
}

// Result returns the coroutine's final value and error. It is meaningful only
// once Status reports a terminal state; before that both returns are nil.
func (c *Coro) Result() (any, error) {
	if !c.status.Terminal() {
		return nil, nil
	}
	return c.value, c.err
}

// startFrame spawns the body goroutine. The goroutine blocks until the first
// resumption, runs the body to completion with panic recovery, and hands the
// final result back to the driver.
//
// Cancellation before the first resumption never reaches here: the driver
// completes the record directly without starting the body, so a coroutine
// that was never started is never resumed at all.
func (c *Coro) startFrame() {
	c.resumeCh = make(chan resumeMsg)
	c.yieldCh = make(chan yieldMsg)
	go func() {
		<-c.resumeCh
		var v any
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					v, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			v, err = c.body(&Yielder{coro: c})
		}()
		c.yieldCh <- yieldMsg{done: true, value: v, err: err}
	}()
}

// Yielder is the suspension interface handed to a coroutine body. It is bound
// to that body's coroutine and must only be used from within it, on the
// goroutine the body runs on.
type Yielder struct {
	coro *Coro
}

// yield suspends the coroutine on the given classification object and blocks
// until the driver resumes it, returning the delivered value or the injected
// error.
func (y *Yielder) yield(out any) (any, error) {
	c := y.coro
	if c == nil || c.status != StatusRunning {
		return nil, ErrNotInCoroutine
	}
	c.yieldCh <- yieldMsg{out: out}
	in := <-c.resumeCh
	return in.value, in.err
}

// Yield suspends cooperatively: the coroutine is placed at the back of the
// ready queue and resumed with no value.
func (y *Yielder) Yield() error {
	_, err := y.yield(nil)
	return err
}

// Await suspends on a single awaitable: a *Coro, a *WaitHandle, or a
// *ThreadTask. For a coroutine or thread task the returned value is its
// result; for a wait handle it is the event's flag (bool) as observed at
// resume time. Awaiting nil behaves like [Yielder.Yield], and awaiting a
// []*Coro or []any behaves like [Yielder.Gather] (the value is the []any of
// results). Awaiting anything else fails with a [BadYieldError].
//
// Awaiting an already-completed coroutine of the same invocation resumes
// promptly with its recorded result; a coroutine completed in a previous
// invocation resolves to nil (see [Loop.Run]).
func (y *Yielder) Await(aw any) (any, error) {
	return y.yield(aw)
}

// Gather suspends on an ordered list of awaitables and resumes once every one
// of them has a result, delivering the results in the original positions
// regardless of completion order. Duplicate entries are allowed: the same
// completed result is delivered at each position, and the underlying
// coroutine runs exactly once.
func (y *Yielder) Gather(aws ...any) ([]any, error) {
	out, err := y.yield(append([]any(nil), aws...))
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

// Wait suspends until the event's flag is set. The returned bool is the flag
// as observed at resume time; see [Event.Wait] for why it may be false.
func (y *Yielder) Wait(e *Event) (bool, error) {
	return y.awaitFlag(e.Wait())
}

// WaitTimeout suspends until the event's flag is set or the timeout elapses,
// whichever comes first. A negative timeout means no timeout.
func (y *Yielder) WaitTimeout(e *Event, timeout time.Duration) (bool, error) {
	return y.awaitFlag(e.WaitTimeout(timeout))
}

// Sleep suspends for at least the given duration without blocking the loop.
func (y *Yielder) Sleep(d time.Duration) error {
	_, err := y.yield(Sleep(d))
	return err
}

// Spawn registers the given coroutines runnable in the background, without
// awaiting them. The parent resumes immediately. Spawned coroutines
// participate in failure atomicity like any other: the loop does not return
// until they complete, and a failure anywhere cancels them.
//
// Coroutines that already completed (in this or a previous invocation) are
// ignored.
func (y *Yielder) Spawn(coros ...*Coro) error {
	_, err := y.yield(&spawnRequest{coros: coros})
	return err
}

func (y *Yielder) awaitFlag(h *WaitHandle) (bool, error) {
	v, err := y.yield(h)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
