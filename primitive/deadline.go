package primitive

import (
	"context"
	"math"
	"time"

	"github.com/caffeineduck/gorux/errno"
)

// Forever is the duration sentinel meaning "no timeout".
const Forever = math.MaxUint64

// Deadline is an absolute wake-up time computed once when a timed call
// enters the host.
type Deadline struct {
	at      time.Time
	forever bool
	poll    bool
}

// NoDeadline blocks until the object becomes available.
var NoDeadline = Deadline{forever: true}

// DeadlineAfter converts a relative timeout in microseconds into a Deadline.
// Forever waits without limit and zero tries exactly once.
func DeadlineAfter(usec uint64) Deadline {
	switch {
	case usec == Forever:
		return NoDeadline
	case usec == 0:
		return Deadline{poll: true}
	case usec > math.MaxInt64/uint64(time.Microsecond):
		return NoDeadline
	}
	return Deadline{at: time.Now().Add(time.Duration(usec) * time.Microsecond)}
}

// await blocks until ch is closed, ctx is done or the deadline passes.
// Both the poll case and an elapsed deadline report ETIMEDOUT.
func (d Deadline) await(ctx context.Context, ch <-chan struct{}) error {
	if d.poll {
		return errno.ETIMEDOUT
	}

	var timeout <-chan time.Time
	if !d.forever {
		wait := time.Until(d.at)
		if wait <= 0 {
			return errno.ETIMEDOUT
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return errno.ECANCELED
	case <-timeout:
		return errno.ETIMEDOUT
	}
}

// notifier is a broadcast channel guarded by its owner's mutex.
type notifier struct {
	ch chan struct{}
}

func (n *notifier) wait() <-chan struct{} {
	if n.ch == nil {
		n.ch = make(chan struct{})
	}
	return n.ch
}

func (n *notifier) broadcast() {
	if n.ch != nil {
		close(n.ch)
		n.ch = nil
	}
}
