package coroloop

// Coroutine-level synchronization primitives, built on [Event] with the
// documented wait-and-recheck loop (a wake only means the flag was set at
// some point; the flag is re-read after resuming).

// Semaphore limits coroutines so that at most value of them hold the
// resource concurrently.
//
//	guard, err := y.Await(sem.Acquire())
//	if err != nil {
//	    return nil, err
//	}
//	defer guard.(*SemaphoreGuard).Release()
type Semaphore struct {
	value int
	event *Event
}

// NewSemaphore creates a semaphore allowing value concurrent holders.
// Panics if value is not positive.
func NewSemaphore(value int) *Semaphore {
	if value <= 0 {
		panic("coroloop: NewSemaphore requires a positive value")
	}
	s := &Semaphore{value: value, event: NewEvent()}
	s.event.Set()
	return s
}

// Acquire returns a coroutine that resolves to a *SemaphoreGuard once a slot
// is held. Release the guard exactly once.
func (s *Semaphore) Acquire() *Coro {
	return NewCoro(func(y *Yielder) (any, error) {
		for {
			if _, err := y.Wait(s.event); err != nil {
				return nil, err
			}
			if s.event.IsSet() {
				break
			}
		}
		s.value--
		if s.value == 0 {
			s.event.Clear()
		}
		return &SemaphoreGuard{sem: s}, nil
	})
}

// SemaphoreGuard is a held semaphore slot.
type SemaphoreGuard struct {
	sem      *Semaphore
	released bool
}

// Release returns the slot and wakes waiters. Releasing twice is a no-op.
func (g *SemaphoreGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.sem.value++
	g.sem.event.Set()
}

// Lock prevents multiple coroutines from accessing a single resource.
type Lock struct {
	sem *Semaphore
}

// NewLock creates an unlocked lock.
func NewLock() *Lock {
	return &Lock{sem: NewSemaphore(1)}
}

// Acquire returns a coroutine that resolves to a *SemaphoreGuard once the
// lock is held.
func (l *Lock) Acquire() *Coro {
	return l.sem.Acquire()
}

// Barrier prevents coroutines from progressing until at least value of them
// have awaited Wait.
type Barrier struct {
	count int
	value int
	event *Event
}

// NewBarrier creates a barrier that releases once value coroutines arrive.
// Panics if value is not positive.
func NewBarrier(value int) *Barrier {
	if value <= 0 {
		panic("coroloop: NewBarrier requires a positive value")
	}
	return &Barrier{value: value, event: NewEvent()}
}

// Wait returns a coroutine that suspends until the barrier releases and
// resolves to the arrival index (int), starting at zero.
func (b *Barrier) Wait() *Coro {
	return NewCoro(func(y *Yielder) (any, error) {
		count := b.count
		b.count++
		if b.count == b.value {
			b.event.Set()
		}
		if _, err := y.Wait(b.event); err != nil {
			return nil, err
		}
		return count, nil
	})
}
