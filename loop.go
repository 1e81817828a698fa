package coroloop

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Standard errors.
var (
	// ErrNilRoot is returned when Run is called without a root coroutine.
	ErrNilRoot = errors.New("coroloop: Run requires a non-nil root coroutine")
)

var loopIDCounter atomic.Uint64

// Loop drives coroutines to completion. The zero value is not usable; create
// instances with [New]. A Loop holds only configuration: every Run call
// builds its own tables, queues, and wake signal, so invocations may be
// nested (a coroutine body may construct a Loop and call Run) or reused
// sequentially.
type Loop struct {
	// Prevent copying
	_ [0]func()

	id       uint64
	logger   *logiface.Logger[logiface.Event]
	delivery ErrorDelivery
	pool     *ThreadPool
}

// New creates a loop with the given options.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		id:       loopIDCounter.Add(1),
		logger:   cfg.logger,
		delivery: cfg.delivery,
	}
	if cfg.maxThreads > 0 {
		l.pool = NewThreadPool(cfg.maxThreads)
	}
	return l, nil
}

// waitGroup tracks one suspension: the parent coroutine, the object it
// awaited, and how many of that object's constituents are still pending.
// When pending reaches zero the parent becomes runnable; done tombstones the
// group so late decrements (from cancelled children or fired timers) are
// no-ops.
type waitGroup struct {
	run     *runState
	parent  *Coro
	out     any // nil | *Coro | *WaitHandle | *ThreadTask | []any
	pending int
	done    bool
	entries []*waitEntry // timed-wait registrations owned by this group
}

// runState is the per-invocation scheduler state. It is owned exclusively by
// the driver goroutine; the completions list (fed by workers) and the wake
// signal are the only cross-thread surface.
type runState struct {
	loop *Loop

	ready      []*Coro // FIFO
	order      []*Coro // registration order
	incomplete int

	timers   timerHeap
	timerSeq uint64

	wake *wakeSignal

	threadCtx     context.Context
	cancelThreads context.CancelFunc
	outstanding   int // dispatched, unswept thread tasks
	completions   struct {
		mu   sync.Mutex
		list []*ThreadTask
	}

	shuttingDown bool
	origin       error
	siblings     []error // distinct errors raised whilst cancelling
	cancelled    []error // successful cancellations (group delivery only)
}

func (rs *runState) logger() *logiface.Logger[logiface.Event] {
	return rs.loop.logger
}

// Run drives root, and every coroutine and thread task transitively awaited
// from it, to completion. It returns root's value, or an error per the
// loop's [ErrorDelivery] mode if any unit failed. On failure every other
// unit is cancelled and joined before Run returns: no coroutine remains
// suspended and no thread task remains unpublished.
//
// Cancelling ctx injects cancellation into every unit exactly as an internal
// failure would, with ctx.Err() as the origin.
//
// A root that already completed in a previous invocation is not re-run: Run
// returns a nil value (and logs a warning), matching the treatment of any
// previously-completed coroutine awaited again.
func (l *Loop) Run(ctx context.Context, root *Coro) (any, error) {
	if root == nil {
		return nil, ErrNilRoot
	}
	if root.run != nil || root.status.Terminal() {
		if b := l.logger.Warning(); b.Enabled() {
			b.Uint64("coroutine", root.id).
				Log("root coroutine from a previous invocation; treating its value as absent")
		}
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	wake, err := newWakeSignal()
	if err != nil {
		return nil, err
	}
	threadCtx, cancelThreads := context.WithCancel(context.Background())
	rs := &runState{
		loop:          l,
		wake:          wake,
		threadCtx:     threadCtx,
		cancelThreads: cancelThreads,
	}
	defer func() {
		cancelThreads()
		wake.close()
	}()

	// Watcher to rouse a parked driver on context cancellation.
	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		go func() {
			select {
			case <-done:
				wake.signal()
			case <-stop:
			}
		}()
		defer close(stop)
	}

	rs.register(root)
	rs.enqueue(root)
	rs.debugf("run started")

	for rs.incomplete > 0 || rs.outstanding > 0 {
		if !rs.shuttingDown {
			if err := ctx.Err(); err != nil {
				rs.fail(err)
			}
		}
		rs.sweepCompletions()
		rs.runDueTimers()
		if c := rs.popReady(); c != nil {
			rs.step(c)
			continue
		}
		if rs.incomplete == 0 && rs.outstanding == 0 {
			break
		}
		when, hasTimer := rs.nextDeadline()
		if !hasTimer && rs.outstanding == 0 && !rs.shuttingDown && rs.checkCycle(root) {
			continue
		}
		timeout := 10 * time.Second
		if hasTimer {
			timeout = time.Until(when)
		}
		rs.wake.park(pollTimeout(timeout))
	}

	rs.debugf("run finished")
	if rs.origin != nil {
		return nil, rs.deliver()
	}
	return root.value, nil
}

// register adds a coroutine record to this invocation.
func (rs *runState) register(c *Coro) {
	c.run = rs
	c.status = StatusPending
	rs.order = append(rs.order, c)
	rs.incomplete++
}

// enqueue marks a coroutine runnable at the back of the ready queue.
func (rs *runState) enqueue(c *Coro) {
	if c.queued || c.status.Terminal() {
		return
	}
	c.queued = true
	c.status = StatusRunnable
	rs.ready = append(rs.ready, c)
}

// popReady removes and returns the next runnable coroutine, skipping records
// that completed while queued (cancelled before their first resumption).
func (rs *runState) popReady() *Coro {
	for len(rs.ready) > 0 {
		c := rs.ready[0]
		rs.ready[0] = nil
		rs.ready = rs.ready[1:]
		c.queued = false
		if c.status.Terminal() {
			continue
		}
		return c
	}
	return nil
}

// step resumes one coroutine with its value or injected error and handles
// whatever it does next: suspend again, or complete.
func (rs *runState) step(c *Coro) {
	var in resumeMsg
	if c.resumeErr != nil {
		in.err = c.resumeErr
		c.resumeErr = nil
	} else {
		in.value = rs.resumeValue(c)
	}
	c.group = nil

	if !c.started {
		if in.err != nil {
			// Cancelled before the first resumption: the body never runs.
			rs.finish(c, nil, in.err)
			return
		}
		c.started = true
		c.startFrame()
	}
	c.status = StatusRunning
	c.resumeCh <- in
	msg := <-c.yieldCh
	if msg.done {
		rs.finish(c, msg.value, msg.err)
		return
	}
	rs.classify(c, msg.out)
}

// resumeValue assembles the value to deliver at the coroutine's suspension
// point, per the object it awaited. Event flags are read here, at resume
// time, which is what gives Clear-between-wake-and-resume its documented
// semantics.
func (rs *runState) resumeValue(c *Coro) any {
	grp := c.group
	if grp == nil {
		return nil
	}
	switch out := grp.out.(type) {
	case []any:
		vals := make([]any, len(out))
		for i, el := range out {
			vals[i] = rs.itemValue(el)
		}
		return vals
	default:
		return rs.itemValue(out)
	}
}

func (rs *runState) itemValue(el any) any {
	switch el := el.(type) {
	case *Coro:
		if el.run == rs && el.status.Terminal() {
			return el.value
		}
		return nil // completed in a previous invocation: absent
	case *WaitHandle:
		return el.event.flag
	case *ThreadTask:
		if el.run == rs && el.done {
			return el.value
		}
		return nil
	}
	return nil
}

// classify interprets the object a coroutine suspended on and installs the
// corresponding waits, exactly one of: reschedule (nil), background spawn,
// a single awaitable, or an ordered list of awaitables.
func (rs *runState) classify(c *Coro, out any) {
	if rs.shuttingDown {
		// Newly yielded coroutines are still registered, but everything a
		// cancelled coroutine awaits resolves to another cancellation.
		rs.adoptCancelled(out)
		c.resumeErr = &CancelledError{Cause: rs.origin}
		rs.enqueue(c)
		return
	}

	switch v := out.(type) {
	case nil:
		rs.enqueue(c)
		return
	case *spawnRequest:
		for _, child := range v.coros {
			if child == nil || child.status.Terminal() || child.run == rs {
				continue
			}
			if child.run != nil {
				rs.warnReuse(child)
				continue
			}
			rs.register(child)
			rs.enqueue(child)
		}
		rs.enqueue(c)
		return
	}

	items, single, ok := normalizeAwait(out)
	if !ok {
		c.resumeErr = &BadYieldError{Value: out}
		rs.enqueue(c)
		return
	}
	if !single {
		out = items
	}

	// Validate the whole list before installing anything, so a bad element
	// never leaves a half-registered gather behind.
	seenHandles := make(map[*WaitHandle]struct{})
	for _, it := range items {
		switch it := it.(type) {
		case *Coro, *ThreadTask:
		case *WaitHandle:
			if _, dup := seenHandles[it]; dup || it.used {
				c.resumeErr = ErrWaitReused
				rs.enqueue(c)
				return
			}
			seenHandles[it] = struct{}{}
		default:
			c.resumeErr = &BadYieldError{Value: out}
			rs.enqueue(c)
			return
		}
	}

	grp := &waitGroup{run: rs, parent: c, out: out}
	satisfied := 0
	status := StatusAwaitingChildren
	for _, it := range items {
		switch it := it.(type) {
		case *Coro:
			switch {
			case it.run == rs && it.status.Terminal():
				satisfied++
			case it.run == rs:
				it.waiters = append(it.waiters, grp)
			case it.run != nil || it.status.Terminal():
				rs.warnReuse(it)
				satisfied++
			default:
				rs.register(it)
				rs.enqueue(it)
				it.waiters = append(it.waiters, grp)
			}
		case *WaitHandle:
			it.used = true
			if single {
				status = StatusAwaitingEvent
			}
			if it.event.flag {
				satisfied++
				continue
			}
			e := &waitEntry{group: grp, event: it.event}
			grp.entries = append(grp.entries, e)
			it.event.waiters = append(it.event.waiters, e)
			if it.hasTimeout {
				rs.timerSeq++
				heap.Push(&rs.timers, timerEntry{
					when:  time.Now().Add(it.timeout),
					seq:   rs.timerSeq,
					entry: e,
				})
			}
		case *ThreadTask:
			if single {
				status = StatusAwaitingThread
			}
			switch {
			case it.run == rs && it.done:
				satisfied++
			case it.run != nil && it.run != rs:
				// A task from another invocation: absent, like a reused
				// coroutine.
				satisfied++
			default:
				if !it.dispatched {
					rs.dispatch(it)
				}
				it.waiters = append(it.waiters, grp)
			}
		}
	}

	grp.pending = len(items) - satisfied
	c.group = grp
	if grp.pending == 0 {
		grp.done = true
		rs.enqueue(c)
		return
	}
	c.status = status
}

// normalizeAwait flattens the awaited object to its constituent items.
func normalizeAwait(out any) (items []any, single bool, ok bool) {
	switch v := out.(type) {
	case *Coro:
		return []any{v}, true, true
	case *WaitHandle:
		return []any{v}, true, true
	case *ThreadTask:
		return []any{v}, true, true
	case []any:
		return v, false, true
	case []*Coro:
		items = make([]any, len(v))
		for i, c := range v {
			items[i] = c
		}
		return items, false, true
	}
	return nil, false, false
}

// adoptCancelled registers coroutines yielded during shutdown so they are
// accounted for, completing them as cancelled without ever starting them.
func (rs *runState) adoptCancelled(out any) {
	adopt := func(el any) {
		if child, ok := el.(*Coro); ok && child != nil && child.run == nil && !child.status.Terminal() {
			rs.register(child)
			rs.finish(child, nil, &CancelledError{Cause: rs.origin})
		}
	}
	switch v := out.(type) {
	case *spawnRequest:
		for _, child := range v.coros {
			adopt(child)
		}
	case []*Coro:
		for _, child := range v {
			adopt(child)
		}
	case []any:
		for _, el := range v {
			adopt(el)
		}
	default:
		adopt(out)
	}
}

// decrement resolves one pending constituent of a gather.
func (rs *runState) decrement(grp *waitGroup) {
	if grp == nil || grp.done {
		return
	}
	grp.pending--
	if grp.pending <= 0 {
		grp.done = true
		rs.enqueue(grp.parent)
	}
}

// detach removes a coroutine from whatever it is waiting on, tombstoning the
// group and any timed-wait registrations.
func (rs *runState) detach(c *Coro) {
	grp := c.group
	if grp == nil {
		return
	}
	grp.done = true
	for _, e := range grp.entries {
		if !e.fired {
			e.fired = true
			e.event.removeWaiter(e)
		}
	}
	c.group = nil
}

// finish freezes a coroutine's result slot and propagates the completion:
// waiters are resolved on success, the failure controller takes over on the
// first error, and completions during shutdown are classified as clean or
// improper cancellation.
func (rs *runState) finish(c *Coro, value any, err error) {
	c.value, c.err = value, err
	rs.incomplete--
	if err == nil {
		c.status = StatusDone
		if rs.shuttingDown {
			rs.warnImproperCancel(c, nil)
		} else {
			for _, grp := range c.waiters {
				rs.decrement(grp)
			}
		}
		c.waiters = nil
		return
	}
	var cerr *CancelledError
	switch {
	case errors.As(err, &cerr) && rs.shuttingDown:
		c.status = StatusCancelled
		rs.cancelled = append(rs.cancelled, err)
	case rs.shuttingDown:
		c.status = StatusFailed
		rs.warnImproperCancel(c, err)
		rs.siblings = append(rs.siblings, err)
	default:
		c.status = StatusFailed
		rs.fail(err)
	}
	c.waiters = nil
}

// fail is the failure controller: the first error becomes the origin, and
// every other non-completed unit is cancelled. Started coroutines get the
// cancellation injected at their suspension point so they can clean up;
// unstarted ones complete as cancelled without running. Thread tasks have
// their context cancelled and are awaited to publication.
func (rs *runState) fail(origin error) {
	rs.shuttingDown = true
	rs.origin = origin
	if b := rs.logger().Err(); b.Enabled() {
		b.Uint64("loop", rs.loop.id).Err(origin).Log("loop failure; cancelling all units")
	}
	rs.cancelThreads()
	snapshot := rs.order
	for _, c := range snapshot {
		if c.status.Terminal() {
			continue
		}
		rs.detach(c)
		cerr := &CancelledError{Cause: origin}
		if !c.started {
			rs.finish(c, nil, cerr)
			continue
		}
		c.resumeErr = cerr
		rs.enqueue(c)
	}
}

// sweepCompletions drains results published by workers since the last sweep,
// observed batched per wake in publication order.
func (rs *runState) sweepCompletions() {
	rs.completions.mu.Lock()
	list := rs.completions.list
	rs.completions.list = nil
	rs.completions.mu.Unlock()
	for _, task := range list {
		rs.outstanding--
		task.done = true
		if rs.shuttingDown {
			// The worker ran to completion; its result is discarded in
			// favour of cancellation. Distinct errors are kept as siblings.
			var cerr *CancelledError
			if task.err != nil && !errors.As(task.err, &cerr) && !errors.Is(task.err, context.Canceled) {
				rs.siblings = append(rs.siblings, task.err)
			}
			task.value, task.err = nil, &CancelledError{Cause: rs.origin}
			task.waiters = nil
			continue
		}
		if task.err != nil {
			task.value = nil
			task.waiters = nil
			rs.fail(task.err)
			continue
		}
		for _, grp := range task.waiters {
			rs.decrement(grp)
		}
		task.waiters = nil
	}
}

// runDueTimers fires every timer whose deadline has passed, waking the
// associated waiters in deadline order.
func (rs *runState) runDueTimers() {
	now := time.Now()
	for len(rs.timers) > 0 {
		head := rs.timers[0]
		if head.entry.fired {
			heap.Pop(&rs.timers)
			continue
		}
		if head.when.After(now) {
			break
		}
		heap.Pop(&rs.timers)
		head.entry.fired = true
		head.entry.event.removeWaiter(head.entry)
		rs.decrement(head.entry.group)
	}
}

// nextDeadline returns the earliest live timer deadline, discarding
// tombstones.
func (rs *runState) nextDeadline() (time.Time, bool) {
	for len(rs.timers) > 0 {
		if rs.timers[0].entry.fired {
			heap.Pop(&rs.timers)
			continue
		}
		return rs.timers[0].when, true
	}
	return time.Time{}, false
}

// checkCycle looks for a dependency cycle in the wait graph. Called only
// when the loop is otherwise idle with nothing external to wait for. On
// detection the cycle error is injected into the root (or becomes the origin
// directly if the root already completed); returns whether a cycle was
// found.
func (rs *runState) checkCycle(root *Coro) bool {
	const (
		grey = 1
		done = 2
	)
	colors := make(map[*Coro]int)
	var visit func(c *Coro) bool
	visit = func(c *Coro) bool {
		switch colors[c] {
		case grey:
			return true
		case done:
			return false
		}
		colors[c] = grey
		if grp := c.group; grp != nil && !grp.done {
			items, _, _ := normalizeAwait(grp.out)
			for _, it := range items {
				if ch, ok := it.(*Coro); ok && ch.run == rs && !ch.status.Terminal() && visit(ch) {
					return true
				}
			}
		}
		colors[c] = done
		return false
	}
	for _, c := range rs.order {
		if c.status.Terminal() || !visit(c) {
			continue
		}
		if root.status.Terminal() {
			rs.fail(ErrCycle)
		} else {
			rs.detach(root)
			root.resumeErr = ErrCycle
			rs.enqueue(root)
		}
		return true
	}
	return false
}

// deliver assembles the error raised out of Run per the delivery mode.
func (rs *runState) deliver() error {
	origin := rs.origin
	switch rs.loop.delivery {
	case DeliverGroup:
		errs := make([]error, 0, 1+len(rs.siblings)+len(rs.cancelled))
		errs = append(errs, origin)
		errs = append(errs, rs.siblings...)
		errs = append(errs, rs.cancelled...)
		return &AggregateError{Message: aggregateMessage, Errors: errs}
	case DeliverOrigin:
		return origin
	default:
		if len(rs.siblings) == 0 {
			return origin
		}
		errs := make([]error, 0, 1+len(rs.siblings))
		errs = append(errs, origin)
		errs = append(errs, rs.siblings...)
		return &AggregateError{Message: aggregateMessage, Errors: errs}
	}
}

const aggregateMessage = "coroloop: an error occurred running the loop; the first error is the origin, the rest occurred whilst cancelling the other units"
