package pool

import (
	"io"
	"log/slog"
)

// Topology selects the shape of the dispatch tree.
type Topology int

const (
	// Hierarchical gives every worker a private sub-pool of executors.
	Hierarchical Topology = iota
	// Flat lets the executors receive straight from the shared channel.
	Flat
)

func (t Topology) String() string {
	switch t {
	case Hierarchical:
		return "hierarchical"
	case Flat:
		return "flat"
	default:
		return "unknown"
	}
}

// PanicPolicy decides what an executor does after one of its jobs panics.
type PanicPolicy int

const (
	// ExitOnPanic stops the executor. It is not replaced, so the pool keeps
	// running with one executor less.
	ExitOnPanic PanicPolicy = iota
	// RecoverOnPanic logs the panic and keeps the executor running.
	RecoverOnPanic
)

func (p PanicPolicy) String() string {
	switch p {
	case ExitOnPanic:
		return "exit"
	case RecoverOnPanic:
		return "recover"
	default:
		return "unknown"
	}
}

type options struct {
	log         *slog.Logger
	observer    Observer
	topology    Topology
	panicPolicy PanicPolicy
	fanOut      int
	capacity    int
}

// Option configures a Pool.
type Option func(*options)

// WithLogger sets the logger. The pool is silent by default.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithObserver sets the observer notified of job and shutdown events.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithTopology selects a flat or hierarchical dispatch tree.
func WithTopology(t Topology) Option {
	return func(o *options) { o.topology = t }
}

// WithPanicPolicy decides whether a panicking job stops its executor.
func WithPanicPolicy(p PanicPolicy) Option {
	return func(o *options) { o.panicPolicy = p }
}

// WithExecutorsPerWorker sets how many executors each worker owns. By default
// it equals the pool size. Ignored by the flat topology.
func WithExecutorsPerWorker(k int) Option {
	return func(o *options) { o.fanOut = k }
}

// WithQueueCapacity bounds the shared submission queue. Submit blocks while
// the queue is full. 0, the default, leaves it unbounded.
func WithQueueCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

func defaultOptions(size int) options {
	return options{
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer: NopObserver{},
		fanOut:   size,
	}
}
