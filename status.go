package coroloop

// Status is the lifecycle state of a coroutine record.
//
// State Machine:
//
//	StatusPending    → StatusRunnable         [registered/enqueued]
//	StatusRunnable   → StatusRunning          [driver resumes]
//	StatusRunning    → StatusRunnable         [cooperative yield]
//	StatusRunning    → StatusAwaitingChildren [awaited a Coro / list]
//	StatusRunning    → StatusAwaitingEvent    [awaited a timed wait]
//	StatusRunning    → StatusAwaitingThread   [awaited a ThreadTask]
//	StatusAwaiting*  → StatusRunnable         [dependency resolved / cancelled]
//	StatusRunning    → StatusDone | StatusFailed | StatusCancelled [body returned]
//	StatusPending    → StatusCancelled        [cancelled before first resumption]
//	StatusRunnable   → StatusCancelled        [cancelled before first resumption]
//
// The three terminal states freeze the result slot; it is never reassigned.
// Status fields are owned by the driver: reading one concurrently with a
// running loop is racy, but it is stable once Loop.Run has returned.
type Status uint8

const (
	// StatusPending indicates the coroutine is registered but its body has
	// not started executing.
	StatusPending Status = iota
	// StatusRunnable indicates the coroutine is queued for resumption.
	StatusRunnable
	// StatusRunning indicates the coroutine body is currently executing.
	StatusRunning
	// StatusAwaitingChildren indicates the coroutine is suspended on one or
	// more child coroutines.
	StatusAwaitingChildren
	// StatusAwaitingEvent indicates the coroutine is suspended on a timed
	// wait.
	StatusAwaitingEvent
	// StatusAwaitingThread indicates the coroutine is suspended on a thread
	// task.
	StatusAwaitingThread
	// StatusDone indicates the coroutine completed with a value.
	StatusDone
	// StatusFailed indicates the coroutine completed with an error.
	StatusFailed
	// StatusCancelled indicates the coroutine was cancelled and propagated
	// the cancellation.
	StatusCancelled
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRunnable:
		return "Runnable"
	case StatusRunning:
		return "Running"
	case StatusAwaitingChildren:
		return "AwaitingChildren"
	case StatusAwaitingEvent:
		return "AwaitingEvent"
	case StatusAwaitingThread:
		return "AwaitingThread"
	case StatusDone:
		return "Done"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status is one of the three completed states.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}
