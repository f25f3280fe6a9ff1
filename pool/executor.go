package pool

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// executor is a leaf goroutine: it takes one message at a time from its
// inbox and runs jobs synchronously until told to terminate.
type executor struct {
	id ID

	// shared with the sibling executors of the same worker
	inbox *channel

	thread *thread

	log      *slog.Logger
	observer Observer
	policy   PanicPolicy

	// called once when the executor returns
	onExit func()
}

func newExecutor(id ID, inbox *channel, o *options, onExit func()) *executor {
	e := &executor{
		id:       id,
		inbox:    inbox,
		log:      o.log,
		observer: o.observer,
		policy:   o.panicPolicy,
		onExit:   onExit,
	}
	e.thread = spawn(e.run)
	return e
}

func (e *executor) run() {
	e.log.Debug(fmt.Sprintf("starting executor %s", e.id))

	defer func() {
		if e.onExit != nil {
			e.onExit()
		}
		e.log.Debug(fmt.Sprintf("executor %s has been stopped", e.id))
	}()

	for {
		m, ok := e.inbox.recv()
		if !ok {
			// every receiver gets its own terminate before the channel runs dry
			e.log.Error(fmt.Sprintf("executor %s: channel drained without a terminate message", e.id))
			return
		}

		switch m.kind {
		case newJob:
			if !e.execute(m) && e.policy == ExitOnPanic {
				e.log.Warn(fmt.Sprintf("executor %s is exiting after a job panic and will not be replaced", e.id))
				return
			}
		case terminate:
			e.log.Debug(fmt.Sprintf("executor %s was told to terminate", e.id))
			e.observer.OnTerminate(e.id)
			return
		}
	}
}

// execute runs the job of m on the calling goroutine and reports whether it
// returned normally.
func (e *executor) execute(m message) bool {
	e.log.Debug(fmt.Sprintf("executor %s got job %s; executing", e.id, m.id))
	e.observer.OnJobStart(e.id, m.id)

	start := time.Now()
	recovered, stack := invoke(m.job)
	if stack != nil {
		e.log.Error(fmt.Sprintf("executor %s: job %s panicked: %v", e.id, m.id, recovered),
			"stack", string(stack))
		e.observer.OnJobPanic(e.id, m.id, recovered)
		return false
	}

	e.observer.OnJobFinish(e.id, m.id, time.Since(start))
	return true
}

func (e *executor) join() error {
	return join(&e.thread)
}

// invoke calls job, converting a panic into a return value. stack is the
// trace of the panicking goroutine, taken before it unwinds, and is nil when
// job returned normally. A job that calls runtime.Goexit never returns here;
// the deferred exit path of run still executes in that case.
func invoke(job Job) (recovered any, stack []byte) {
	defer func() {
		if r := recover(); r != nil {
			recovered, stack = r, debug.Stack()
		}
	}()

	job()
	return nil, nil
}
