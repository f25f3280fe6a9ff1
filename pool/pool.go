// Package pool runs fire-and-forget jobs on a fixed tree of goroutines.
//
// A Pool owns one shared channel. In the default hierarchical topology,
// size workers receive from it, and every worker forwards its jobs to a
// private sub-pool of executors that run them. Terminate messages travel
// the same path as jobs, one per receiving goroutine, so Dispose drains
// every job submitted before it and then joins the whole tree top-down.
//
// A job that panics takes its executor down with it under the default
// ExitOnPanic policy. The executor is not replaced and nothing is reported
// back to the submitter; observe the pool to see such failures. A worker
// left without executors stops taking jobs, so later jobs run on whatever
// capacity remains. Jobs only get dropped once none is left.
package pool

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

// Pool is a fixed-size worker pool.
type Pool struct {
	size     int
	topology Topology

	// channel from which workers, or flat executors, consume work
	inbox *channel

	workers []*worker

	// only set in the flat topology
	executors []*executor

	alive liveness

	// ensure the pool can only be disposed once
	dispose sync.Once

	log      *slog.Logger
	observer Observer
}

// New builds a pool of size workers, each owning its own executors, and
// starts every goroutine before returning. size must be positive.
func New(size int, opts ...Option) (*Pool, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "pool size must be positive, got %d", size)
	}

	o := defaultOptions(size)
	for _, opt := range opts {
		opt(&o)
	}

	if o.fanOut <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "executors per worker must be positive, got %d", o.fanOut)
	}
	if o.capacity < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "queue capacity must not be negative, got %d", o.capacity)
	}
	if o.topology != Hierarchical && o.topology != Flat {
		return nil, errors.Wrapf(ErrInvalidArgument, "unknown topology %d", o.topology)
	}

	p := &Pool{
		size:     size,
		topology: o.topology,
		inbox:    newChannel(o.capacity),
		log:      o.log,
		observer: o.observer,
	}

	switch o.topology {
	case Flat:
		p.executors = make([]*executor, size)
		for i := range p.executors {
			p.alive.executors.Add(1)
			p.executors[i] = newExecutor(ID{Worker: NoWorker, Executor: i}, p.inbox, &o, func() {
				p.alive.executors.Add(-1)
			})
		}
	default:
		p.workers = make([]*worker, size)
		for i := range p.workers {
			p.workers[i] = newWorker(i, p.inbox, &o, &p.alive)
		}
	}

	p.log.Info(fmt.Sprintf("started %s worker pool", o.topology),
		"size", size, "executors", p.Executors())

	return p, nil
}

// Submit enqueues job and returns without waiting for it to run. It blocks
// only while a bounded queue is full, and fails with ErrPoolClosed once
// Dispose has started.
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return ErrNilJob
	}

	m := jobMessage(job)
	if err := p.inbox.send(m); err != nil {
		return err
	}

	p.observer.OnJobSubmit(m.id)
	return nil
}

// Dispose waits for every job submitted so far to run, then stops and joins
// every goroutine of the pool. Calls after the first return immediately.
func (p *Pool) Dispose() {
	p.dispose.Do(func() {
		p.log.Info("stopping worker pool")

		switch p.topology {
		case Flat:
			p.inbox.seal(len(p.executors))
			for _, e := range p.executors {
				if err := e.join(); err != nil {
					p.log.Error(fmt.Sprintf("joining %s: %v", e.id, err))
				}
			}
		default:
			p.inbox.seal(len(p.workers))
			for _, w := range p.workers {
				if err := w.join(); err != nil {
					p.log.Error(fmt.Sprintf("joining %s: %v", w.id, err))
				}
			}
		}

		// only non-empty when every executor that could have run these
		// jobs died after a panic
		stranded := p.inbox.drain()
		for _, m := range stranded {
			p.observer.OnJobDropped(ID{Worker: NoWorker, Executor: NoExecutor}, m.id)
		}
		if len(stranded) > 0 {
			p.log.Warn(fmt.Sprintf("dropped %d jobs with no executor left to run them", len(stranded)))
		}

		p.log.Info("worker pool has been stopped")
	})
}

// Size returns the size the pool was built with.
func (p *Pool) Size() int { return p.size }

// Topology returns the shape of the dispatch tree.
func (p *Pool) Topology() Topology { return p.topology }

// Executors returns the number of leaf executors the pool was built with.
func (p *Pool) Executors() int {
	if p.topology == Flat {
		return len(p.executors)
	}

	n := 0
	for _, w := range p.workers {
		n += len(w.executors)
	}
	return n
}

// Workers returns the number of worker goroutines still running.
func (p *Pool) Workers() int { return int(p.alive.workers.Load()) }

// Alive returns the number of executor goroutines still running.
func (p *Pool) Alive() int { return int(p.alive.executors.Load()) }

// Pending returns the number of messages waiting on the shared channel.
func (p *Pool) Pending() int { return p.inbox.len() }
