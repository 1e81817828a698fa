package coroloop

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// wakeSignal is the cross-thread wake primitive: an eventfd (Linux) or
// self-pipe (elsewhere) the driver parks on, plus a pending flag that
// deduplicates writes. It tolerates concurrent signals without losing wakes:
// the fd itself carries the edge, the flag only suppresses redundant writes.
type wakeSignal struct {
	readFd  int
	writeFd int
	pending atomic.Uint32
	buf     [8]byte
}

func newWakeSignal() (*wakeSignal, error) {
	readFd, writeFd, err := createWakeFd()
	if err != nil {
		return nil, err
	}
	return &wakeSignal{readFd: readFd, writeFd: writeFd}, nil
}

// signal rouses a parked driver. Safe to call from any goroutine, including
// after close: write errors on a closed fd are expected during shutdown and
// ignored (the published result is already queued and will be swept).
func (s *wakeSignal) signal() {
	if !s.pending.CompareAndSwap(0, 1) {
		return
	}
	// Native endianness; eventfd requires an 8-byte counter value.
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	if _, err := unix.Write(s.writeFd, buf); err != nil {
		s.pending.Store(0)
	}
}

// park blocks until the signal fires or the timeout elapses. timeoutMs < 0
// blocks indefinitely. EINTR returns early; the caller's loop re-evaluates
// and parks again, so a premature wake is harmless.
func (s *wakeSignal) park(timeoutMs int) {
	fds := []unix.PollFd{{Fd: int32(s.readFd), Events: unix.POLLIN}}
	_, _ = unix.Poll(fds, timeoutMs)
	s.drain()
}

// drain empties the fd and resets the pending flag. The flag reset happens
// after the read so that a signal racing the drain either lands in the fd
// (seen by the next park) or is suppressed only while its payload is already
// queued for the sweep that follows.
func (s *wakeSignal) drain() {
	for {
		if _, err := unix.Read(s.readFd, s.buf[:]); err != nil {
			break
		}
	}
	s.pending.Store(0)
}

func (s *wakeSignal) close() {
	_ = unix.Close(s.readFd)
	if s.writeFd != s.readFd {
		_ = unix.Close(s.writeFd)
	}
}

// pollTimeout converts a park duration to poll's millisecond timeout.
// Sub-millisecond waits round up to 1ms, and the wait is capped so the loop
// periodically re-checks its context even with no timer pending.
func pollTimeout(d time.Duration) int {
	const maxDelay = 10 * time.Second
	if d < 0 {
		d = 0
	}
	if d > maxDelay {
		d = maxDelay
	}
	if d > 0 && d < time.Millisecond {
		return 1
	}
	return int(d.Milliseconds())
}
