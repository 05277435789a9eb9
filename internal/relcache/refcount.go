package relcache

import (
	"fmt"
	"sync/atomic"
)

// refCount tracks open references to a descriptor. Referenced entries are
// never evicted.
type refCount struct {
	count int32
}

func (r *refCount) inc() {
	atomic.AddInt32(&r.count, 1)
}

func (r *refCount) dec() bool {
	n := atomic.AddInt32(&r.count, -1)
	if n < 0 {
		panic("relcache: refcount dropped below zero")
	}
	return n == 0
}

func (r *refCount) get() int32 {
	return atomic.LoadInt32(&r.count)
}

func (r *refCount) String() string {
	return fmt.Sprintf("RefCount: %d", r.get())
}
