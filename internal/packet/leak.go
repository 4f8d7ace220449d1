package packet

import (
	"fmt"
	"sync/atomic"
)

// leakLatch is a process-wide outstanding-allocation counter. When panic
// mode is enabled, Close aborts if any allocation from the pools it
// watches is still outstanding, the only process-fatal error kind in
// this package.
//
// The counter itself uses sequentially-consistent ordering: it is the
// one place in this package where a relaxed or acquire/release ordering
// would not be enough, since the abort decision must observe every
// increment that happened-before Close was called from any goroutine.
type leakLatch struct {
	name        string
	outstanding atomic.Int64
	panicMode   bool
}

// NewLeakLatch creates a latch. When panicMode is true, Close panics
// with a diagnostic naming the pool and the outstanding count if any
// allocation tracked by this latch has not been released.
func NewLeakLatch(name string, panicMode bool) *leakLatch {
	return &leakLatch{name: name, panicMode: panicMode}
}

func (l *leakLatch) track(delta int64) {
	if l == nil {
		return
	}
	l.outstanding.Add(delta)
}

// Outstanding reports the current number of un-released allocations
// tracked by this latch.
func (l *leakLatch) Outstanding() int64 {
	if l == nil {
		return 0
	}
	return l.outstanding.Load()
}

// Close checks the latch at pool teardown. In panic mode, a nonzero
// outstanding count aborts the process with a diagnostic; otherwise it
// returns a descriptive error so the caller can log and continue.
func (l *leakLatch) Close() error {
	if l == nil {
		return nil
	}
	n := l.outstanding.Load()
	if n == 0 {
		return nil
	}
	msg := fmt.Sprintf("packet: leak detected in pool %q: %d outstanding allocation(s)", l.name, n)
	if l.panicMode {
		panic(msg)
	}
	return fmt.Errorf("%s", msg)
}
