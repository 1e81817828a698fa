package coroloop

import (
	"context"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var taskIDCounter atomic.Uint64

// ThreadFunc is a blocking synchronous function dispatched to a worker
// goroutine. The context is cancelled when the loop enters shutdown;
// cancellation is advisory - the function is never preempted, and a function
// that ignores its context simply delays the loop's return until it
// completes.
type ThreadFunc func(ctx context.Context) (any, error)

// ThreadTask is the handle produced by [RunInThread] or
// [ThreadPool.RunInThread]. Awaiting it suspends the coroutine until the
// function completes on a worker; dispatch happens when the handle is first
// awaited.
type ThreadTask struct {
	// Prevent copying
	_ [0]func()

	id   uint64
	fn   ThreadFunc
	pool *ThreadPool

	// Driver-owned state.
	run        *runState
	dispatched bool
	done       bool
	waiters    []*waitGroup

	// Result slot: owned by the worker until publication, then by the
	// driver. Frozen once done.
	value any
	err   error
}

// RunInThread creates a task that runs fn on its own worker goroutine,
// bounded only by the loop's WithMaxThreads pool if one is configured.
// The task is dispatched when first awaited.
func RunInThread(fn ThreadFunc) *ThreadTask {
	return &ThreadTask{
		id: taskIDCounter.Add(1),
		fn: fn,
	}
}

// ID returns the task's process-unique identity.
func (t *ThreadTask) ID() uint64 {
	return t.id
}

// ThreadPool bounds the number of concurrently running thread functions.
// Tasks beyond the cap queue on a weighted semaphore; queued tasks abort
// with the cancellation error if the loop shuts down first.
type ThreadPool struct {
	sem *semaphore.Weighted
}

// NewThreadPool creates a pool allowing at most maxWorkers concurrent
// functions. Panics if maxWorkers is not positive.
func NewThreadPool(maxWorkers int) *ThreadPool {
	if maxWorkers <= 0 {
		panic("coroloop: NewThreadPool requires a positive worker count")
	}
	return &ThreadPool{sem: semaphore.NewWeighted(int64(maxWorkers))}
}

// RunInThread creates a task that runs fn on a worker goroutine, subject to
// the pool's concurrency cap.
func (p *ThreadPool) RunInThread(fn ThreadFunc) *ThreadTask {
	t := RunInThread(fn)
	t.pool = p
	return t
}

// Map returns a coroutine that runs fn over every item on the pool and
// resolves to the results in item order.
func (p *ThreadPool) Map(items []any, fn func(ctx context.Context, item any) (any, error)) *Coro {
	return NewCoro(func(y *Yielder) (any, error) {
		tasks := make([]any, len(items))
		for i, item := range items {
			item := item
			tasks[i] = p.RunInThread(func(ctx context.Context) (any, error) {
				return fn(ctx, item)
			})
		}
		out, err := y.Gather(tasks...)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// dispatch hands the task to a worker goroutine. Driver-only; called on
// first await.
func (rs *runState) dispatch(task *ThreadTask) {
	task.run = rs
	task.dispatched = true
	rs.outstanding++
	if task.pool == nil {
		task.pool = rs.loop.pool
	}
	ctx := rs.threadCtx
	go func() {
		var v any
		var err error
		if task.pool != nil {
			if aerr := task.pool.sem.Acquire(ctx, 1); aerr != nil {
				err = aerr
			} else {
				v, err = runThreadFunc(ctx, task.fn)
				task.pool.sem.Release(1)
			}
		} else {
			v, err = runThreadFunc(ctx, task.fn)
		}
		rs.publish(task, v, err)
	}()
}

// runThreadFunc invokes fn with panic recovery.
func runThreadFunc(ctx context.Context, fn ThreadFunc) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// publish stores the worker's result and rouses the driver. The result slot
// hand-off is ordered by the completions mutex; the driver only reads the
// slot after popping the task from the list.
func (rs *runState) publish(task *ThreadTask, v any, err error) {
	task.value, task.err = v, err
	rs.completions.mu.Lock()
	rs.completions.list = append(rs.completions.list, task)
	rs.completions.mu.Unlock()
	rs.wake.signal()
}
