package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
)

// ErrSandboxUnavailable is returned when no pooled runtime becomes free
// within the pool's acquisition grace interval (spec section 4.2).
var ErrSandboxUnavailable = errors.New("sandbox: unavailable")

// runtimeSlot is one pooled goja runtime.
type runtimeSlot struct {
	rt *goja.Runtime
}

// Pool is a bounded pool of goja runtimes, grounded on the teacher's
// TEEExecutor pattern (internal/services/functions/tee_executor.go) of
// constructing a fresh goja.Runtime per invocation, generalized here to a
// reusable bounded pool so invocation rate isn't bound by runtime
// construction cost. Each runtime carries a memory cap via goja's
// SetMemoryLimit.
type Pool struct {
	slots     chan *runtimeSlot
	memoryMiB int
}

// NewPool creates a pool of size runtimes, each capped at memoryMiB.
func NewPool(size, memoryMiB int) *Pool {
	p := &Pool{slots: make(chan *runtimeSlot, size), memoryMiB: memoryMiB}
	for i := 0; i < size; i++ {
		p.slots <- p.newSlot()
	}
	return p
}

func (p *Pool) newSlot() *runtimeSlot {
	rt := goja.New()
	rt.SetMemoryLimit(int64(p.memoryMiB) * 1024 * 1024)
	return &runtimeSlot{rt: rt}
}

// Acquire waits up to grace for a free runtime, or returns
// ErrSandboxUnavailable. It also respects ctx cancellation.
func (p *Pool) Acquire(ctx context.Context, grace time.Duration) (*runtimeSlot, error) {
	select {
	case slot := <-p.slots:
		return slot, nil
	default:
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case slot := <-p.slots:
		return slot, nil
	case <-timer.C:
		return nil, ErrSandboxUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns slot to the pool. If discard is true, a fresh runtime
// takes its place instead, per spec section 4.2's recycle-on-exhaustion
// recovery; Invoke discards after any failed run, whether a timeout, an
// interrupt (including a memory-cap hit), a script exception or a failed
// efun install.
func (p *Pool) Release(slot *runtimeSlot, discard bool) {
	if discard {
		slot = p.newSlot()
	}
	p.slots <- slot
}

// Size reports the pool's configured capacity.
func (p *Pool) Size() int { return cap(p.slots) }
