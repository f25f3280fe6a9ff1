package pool

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidArgument is returned by New for a non-positive size or a
	// malformed option.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPoolClosed is returned by Submit once Dispose has started.
	ErrPoolClosed = errors.New("worker pool is not active")

	// ErrNilJob is returned by Submit for a nil job.
	ErrNilJob = errors.New("nil job")

	errAlreadyJoined = errors.New("thread already joined")
)

// thread is the join handle of one goroutine.
type thread struct {
	done chan struct{}
}

func spawn(fn func()) *thread {
	t := &thread{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		fn()
	}()
	return t
}

// join waits for the goroutine behind *t to return and consumes the handle,
// so a second join reports errAlreadyJoined instead of waiting again.
func join(t **thread) error {
	if *t == nil {
		return errAlreadyJoined
	}
	<-(*t).done
	*t = nil
	return nil
}

// liveness counts the goroutines of a pool that have not returned yet.
type liveness struct {
	workers   atomic.Int32
	executors atomic.Int32
}
