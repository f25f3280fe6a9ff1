package pool

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// worker is a dispatcher. It takes jobs from the channel it shares with its
// sibling workers and forwards them to a private sub-pool of executors.
type worker struct {
	id ID

	// shared with every other worker of the pool
	inbox *channel

	// private channel feeding this worker's executors
	outbox    *channel
	executors []*executor

	// held while forwarding a job and while an executor exits, so that a
	// job never lands in the outbox after the last executor is gone
	mu sync.Mutex

	// executors of this worker that have not returned yet
	live atomic.Int32

	thread *thread

	log      *slog.Logger
	observer Observer
}

func newWorker(index int, inbox *channel, o *options, alive *liveness) *worker {
	w := &worker{
		id:        ID{Worker: index, Executor: NoExecutor},
		inbox:     inbox,
		outbox:    newChannel(0),
		executors: make([]*executor, o.fanOut),
		log:       o.log,
		observer:  o.observer,
	}

	for i := range w.executors {
		w.live.Add(1)
		alive.executors.Add(1)
		w.executors[i] = newExecutor(ID{Worker: index, Executor: i}, w.outbox, o, func() {
			w.executorExited()
			alive.executors.Add(-1)
		})
	}

	alive.workers.Add(1)
	w.thread = spawn(func() {
		defer alive.workers.Add(-1)
		w.run()
	})

	return w
}

func (w *worker) run() {
	w.log.Info(fmt.Sprintf("starting %s with %d executors", w.id, len(w.executors)))

	defer func() {
		w.log.Info(fmt.Sprintf("%s has been stopped", w.id))
	}()

	for {
		m, ok := w.inbox.recv()
		if !ok {
			w.log.Error(fmt.Sprintf("%s: channel drained without a terminate message", w.id))
			w.shutdown()
			return
		}

		switch m.kind {
		case newJob:
			if !w.dispatch(m) {
				w.retire()
				return
			}
		case terminate:
			w.log.Info(fmt.Sprintf("%s was told to terminate", w.id))
			w.shutdown()
			w.observer.OnTerminate(w.id)
			return
		}
	}
}

// dispatch forwards m to the executors of w. It reports false, after
// handing m back to the shared channel, once no executor of w is alive.
func (w *worker) dispatch(m message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.live.Load() == 0 {
		w.inbox.requeue(m)
		return false
	}

	w.log.Debug(fmt.Sprintf("%s got job %s; sending", w.id, m.id))
	if err := w.outbox.send(m.forward()); err != nil {
		// only shutdown seals the outbox, and shutdown runs on this goroutine
		w.log.Error(fmt.Sprintf("%s: forwarding job %s: %v", w.id, m.id, err))
		w.observer.OnJobDropped(w.id, m.id)
	}
	return true
}

// retire stops w from taking jobs off the shared channel. It still consumes
// exactly one terminate, so the other receivers get theirs.
func (w *worker) retire() {
	w.log.Warn(fmt.Sprintf("%s has no live executors left and stops taking jobs", w.id))

	w.inbox.awaitTerminate()
	w.log.Info(fmt.Sprintf("%s was told to terminate", w.id))
	w.shutdown()
	w.observer.OnTerminate(w.id)
}

// executorExited runs when an executor of w returns. The last one out hands
// the jobs still waiting in the outbox back to the shared channel.
func (w *worker) executorExited() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.live.Add(-1) > 0 {
		return
	}

	stranded := w.outbox.drain()
	if len(stranded) == 0 {
		return
	}

	w.log.Warn(fmt.Sprintf("%s lost its last executor, handing %d jobs back to the pool", w.id, len(stranded)))
	w.inbox.requeue(stranded...)
}

// shutdown stops the executors of w: one terminate each, queued behind any
// job already forwarded, then a join of every executor in order. Jobs left
// by executors that died are handed back by executorExited.
func (w *worker) shutdown() {
	w.outbox.seal(len(w.executors))

	for _, e := range w.executors {
		if err := e.join(); err != nil {
			w.log.Error(fmt.Sprintf("%s: joining %s: %v", w.id, e.id, err))
			continue
		}
		w.log.Debug(fmt.Sprintf("%s: %s joined", w.id, e.id))
	}
}

func (w *worker) join() error {
	return join(&w.thread)
}
