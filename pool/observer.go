package pool

import (
	"fmt"
	"time"
)

// NoWorker and NoExecutor mark the missing half of an ID: executors of a
// flat pool have no worker, and a worker's dispatcher is not an executor.
const (
	NoWorker   = -1
	NoExecutor = -1
)

// ID addresses one goroutine in the dispatch tree by index.
type ID struct {
	Worker   int
	Executor int
}

func (id ID) String() string {
	switch {
	case id.Worker == NoWorker && id.Executor == NoExecutor:
		return "pool"
	case id.Worker == NoWorker:
		return fmt.Sprintf("executor_%d", id.Executor+1)
	case id.Executor == NoExecutor:
		return fmt.Sprintf("worker_%d", id.Worker+1)
	default:
		return fmt.Sprintf("worker_%d/executor_%d", id.Worker+1, id.Executor+1)
	}
}

// IsWorker reports whether id names a worker dispatcher.
func (id ID) IsWorker() bool { return id.Worker != NoWorker && id.Executor == NoExecutor }

// Observer receives the lifecycle events of a pool. Callbacks run on the
// goroutine that produced the event, so they must be safe for concurrent use
// and should return quickly.
type Observer interface {
	OnJobSubmit(jobID string)
	OnJobStart(id ID, jobID string)
	OnJobFinish(id ID, jobID string, elapsed time.Duration)
	OnJobPanic(id ID, jobID string, recovered any)
	// OnJobDropped is called for an accepted job that will never run
	// because no executor was left to take it. Dispose reports these jobs
	// with the pool ID, found on the shared channel once every goroutine
	// has been joined. A worker reports a job it failed to forward with its
	// own ID.
	OnJobDropped(id ID, jobID string)
	OnTerminate(id ID)
}

// NopObserver ignores every event. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) OnJobSubmit(string) {}
func (NopObserver) OnJobStart(ID, string) {}
func (NopObserver) OnJobFinish(ID, string, time.Duration) {}
func (NopObserver) OnJobPanic(ID, string, any) {}
func (NopObserver) OnJobDropped(ID, string) {}
func (NopObserver) OnTerminate(ID) {}

type multiObserver []Observer

// Observers fans every event out to each of obs in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

func (m multiObserver) OnJobSubmit(jobID string) {
	for _, o := range m {
		o.OnJobSubmit(jobID)
	}
}

func (m multiObserver) OnJobStart(id ID, jobID string) {
	for _, o := range m {
		o.OnJobStart(id, jobID)
	}
}

func (m multiObserver) OnJobFinish(id ID, jobID string, elapsed time.Duration) {
	for _, o := range m {
		o.OnJobFinish(id, jobID, elapsed)
	}
}

func (m multiObserver) OnJobPanic(id ID, jobID string, recovered any) {
	for _, o := range m {
		o.OnJobPanic(id, jobID, recovered)
	}
}

func (m multiObserver) OnJobDropped(id ID, jobID string) {
	for _, o := range m {
		o.OnJobDropped(id, jobID)
	}
}

func (m multiObserver) OnTerminate(id ID) {
	for _, o := range m {
		o.OnTerminate(id)
	}
}
