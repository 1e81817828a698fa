// Package coroloop provides a minimal cooperative event loop that multiplexes
// coroutines on a single driver goroutine, with a worker bridge for running
// blocking synchronous work.
//
// # Failure Atomicity
//
// The defining feature is strict failure atomicity: if any coroutine (or
// function dispatched via [RunInThread]) fails, the loop cancels every other
// coroutine and thread task, gives each a chance to clean up, joins them all,
// and then surfaces the originating error from [Loop.Run]. The design goal is
// predictable, debuggable error propagation - not throughput or fairness.
//
// # Architecture
//
// A [Loop] drives a root [Coro] and everything transitively awaited from it.
// Each coroutine body runs on its own goroutine, but control is handed back
// and forth with the driver over a rendezvous, so exactly one unit of user
// code runs at a time. A coroutine suspends by awaiting one of:
//   - nothing ([Yielder.Yield]): a pure cooperative yield
//   - a single [Coro] ([Yielder.Await])
//   - an ordered list ([Yielder.Gather]): results delivered positionally
//   - a timed wait ([Event.Wait], [Event.WaitTimeout], [Sleep])
//   - a [ThreadTask] ([RunInThread], [ThreadPool.RunInThread])
//
// Runnable coroutines are resumed in FIFO order. Timed waits are tracked in a
// min-heap keyed by monotonic deadline. When the ready queue is empty the
// driver parks on a cross-thread wake signal (eventfd on Linux, a self-pipe
// elsewhere) bounded by the next timer deadline; worker goroutines publish
// results and write to the signal to rouse it.
//
// # Concurrency Model
//
// Coroutine scheduling is single-threaded and cooperative; parallelism comes
// only from the thread bridge. The driver exclusively owns the ready queue,
// timer queue, and coroutine records. Event operations ([Event.Set],
// [Event.Clear], [Event.IsSet]) must run on the driver, i.e. from coroutine
// bodies or before/after [Loop.Run]; worker functions communicate with the
// loop only through their return value and their context.
//
// # Usage
//
//	root := coroloop.NewCoro(func(y *coroloop.Yielder) (any, error) {
//	    out, err := y.Gather(
//	        coroloop.NewCoro(childA),
//	        coroloop.NewCoro(childB),
//	    )
//	    if err != nil {
//	        return nil, err
//	    }
//	    return out, nil
//	})
//
//	loop, err := coroloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	v, err := loop.Run(context.Background(), root)
//
// # Error Types
//
//   - [CancelledError]: injected into every other unit after a failure; its
//     cause chain references the origin error
//   - [BadYieldError]: a coroutine awaited an unclassifiable object
//   - [PanicError]: wraps recovered panics from coroutine bodies and thread
//     functions
//   - [AggregateError]: multi-error delivery (Go 1.20+ Unwrap() []error)
//
// All error types implement the standard [error] interface and support
// matching via [errors.Is] and [errors.As] through their cause chains.
package coroloop
