package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jirevwe/jerry/pool"
	"github.com/oklog/ulid/v2"
)

const (
	appendTries = 3
	appendDelay = 10 * time.Millisecond
)

// Recorder is a pool.Observer that writes every event to a Store.
//
// Writes happen in order on a single-executor pool of the Recorder's own, so
// the observed pool never waits on the database. Close the Recorder after
// disposing the pool it observes.
type Recorder struct {
	ctx    context.Context
	store  Store
	writer *pool.Pool
	log    *slog.Logger
}

var _ pool.Observer = (*Recorder)(nil)

func NewRecorder(ctx context.Context, store Store, log *slog.Logger) (*Recorder, error) {
	writer, err := pool.New(1, pool.WithTopology(pool.Flat), pool.WithLogger(log))
	if err != nil {
		return nil, err
	}

	return &Recorder{
		ctx:    ctx,
		store:  store,
		writer: writer,
		log:    log,
	}, nil
}

// Close waits for every pending write. It does not close the Store.
func (r *Recorder) Close() {
	r.writer.Dispose()
}

func (r *Recorder) record(e *Event) {
	e.Id = ulid.Make().String()
	e.CreatedAt = time.Now().UTC()

	err := r.writer.Submit(func() {
		err := NewRetry(appendTries, appendDelay, func() error {
			return r.store.Append(r.ctx, e)
		}).Do()
		if err != nil {
			r.log.Error(fmt.Sprintf("journal: writing %s event for job %q: %v", e.Kind, e.JobId, err))
		}
	})
	if err != nil {
		r.log.Warn(fmt.Sprintf("journal: recorder closed, discarding %s event for job %q", e.Kind, e.JobId))
	}
}

func (r *Recorder) OnJobSubmit(jobID string) {
	r.record(&Event{Kind: KindSubmitted, JobId: jobID, Worker: pool.NoWorker, Executor: pool.NoExecutor})
}

func (r *Recorder) OnJobStart(id pool.ID, jobID string) {
	r.record(&Event{Kind: KindStarted, JobId: jobID, Worker: id.Worker, Executor: id.Executor})
}

func (r *Recorder) OnJobFinish(id pool.ID, jobID string, elapsed time.Duration) {
	r.record(&Event{Kind: KindFinished, JobId: jobID, Worker: id.Worker, Executor: id.Executor, Elapsed: elapsed})
}

func (r *Recorder) OnJobPanic(id pool.ID, jobID string, recovered any) {
	r.record(&Event{
		Kind:     KindPanicked,
		JobId:    jobID,
		Worker:   id.Worker,
		Executor: id.Executor,
		Detail:   fmt.Sprint(recovered),
	})
}

func (r *Recorder) OnJobDropped(id pool.ID, jobID string) {
	r.record(&Event{Kind: KindDropped, JobId: jobID, Worker: id.Worker, Executor: id.Executor})
}

func (r *Recorder) OnTerminate(id pool.ID) {
	r.record(&Event{Kind: KindTerminated, Worker: id.Worker, Executor: id.Executor, Detail: id.String()})
}
