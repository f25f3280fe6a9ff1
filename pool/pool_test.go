package pool

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var slogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

type counterTest struct {
	count int
	mu    *sync.Mutex
}

func NewCounterTest() *counterTest {
	return &counterTest{
		count: 0,
		mu:    &sync.Mutex{},
	}
}

func (c *counterTest) Inc() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func (c *counterTest) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// recordingObserver counts every event it sees.
type recordingObserver struct {
	mu         sync.Mutex
	submitted  []string
	started    map[string]ID
	finished   []string
	panicked   []string
	dropped    []string
	terminated []ID
	panics     chan ID
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		started: make(map[string]ID),
		panics:  make(chan ID, 64),
	}
}

func (r *recordingObserver) OnJobSubmit(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, jobID)
}

func (r *recordingObserver) OnJobStart(id ID, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started[jobID] = id
}

func (r *recordingObserver) OnJobFinish(_ ID, jobID string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, jobID)
}

func (r *recordingObserver) OnJobPanic(id ID, jobID string, _ any) {
	r.mu.Lock()
	r.panicked = append(r.panicked, jobID)
	r.mu.Unlock()
	r.panics <- id
}

func (r *recordingObserver) OnJobDropped(_ ID, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, jobID)
}

func (r *recordingObserver) OnTerminate(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = append(r.terminated, id)
}

func disposeWithin(t *testing.T, p *Pool, d time.Duration) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		p.Dispose()
		close(done)
	}()

	select {
	case <-time.After(d):
		t.Fatal("failed because still hanging on Dispose")
	case <-done:
	}
}

func TestPool_NewRejectsInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		p, err := New(size)
		require.ErrorIs(t, err, ErrInvalidArgument)
		require.Nil(t, p)
	}

	p, err := New(2, WithExecutorsPerWorker(0))
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Nil(t, p)

	p, err = New(2, WithQueueCapacity(-1))
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Nil(t, p)
}

func TestPool_NewStartsTheWholeTree(t *testing.T) {
	p, err := New(3, WithLogger(slogger))
	require.NoError(t, err)

	require.Equal(t, 3, p.Size())
	require.Equal(t, Hierarchical, p.Topology())
	require.Equal(t, 3, p.Workers())
	require.Equal(t, 9, p.Executors())
	require.Equal(t, 9, p.Alive())

	disposeWithin(t, p, 5*time.Second)

	require.Equal(t, 0, p.Workers())
	require.Equal(t, 0, p.Alive())
}

func TestPool_ExecutorsPerWorker(t *testing.T) {
	p, err := New(2, WithExecutorsPerWorker(3))
	require.NoError(t, err)
	defer p.Dispose()

	require.Equal(t, 2, p.Workers())
	require.Equal(t, 6, p.Executors())
}

func TestPool_Work(t *testing.T) {
	p, err := New(2, WithLogger(slogger))
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		log []int
	)

	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, p.Submit(func() {
			mu.Lock()
			defer mu.Unlock()
			log = append(log, i)
		}))
	}

	disposeWithin(t, p, 5*time.Second)

	require.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, log)
}

func TestPool_EveryJobRunsExactlyOnce(t *testing.T) {
	const jobs = 1000

	for _, topology := range []Topology{Hierarchical, Flat} {
		t.Run(topology.String(), func(t *testing.T) {
			p, err := New(3, WithTopology(topology))
			require.NoError(t, err)

			runs := make([]atomic.Int32, jobs)
			for i := 0; i < jobs; i++ {
				i := i
				require.NoError(t, p.Submit(func() { runs[i].Add(1) }))
			}

			disposeWithin(t, p, 10*time.Second)

			for i := range runs {
				require.Equal(t, int32(1), runs[i].Load(), "job %d", i)
			}
		})
	}
}

func TestPool_DisposeImmediately(t *testing.T) {
	p, err := New(3)
	require.NoError(t, err)

	disposeWithin(t, p, 5*time.Second)

	require.Equal(t, 0, p.Workers())
	require.Equal(t, 0, p.Alive())
	require.Equal(t, 0, p.Pending())
}

func TestPool_MultipleDisposeDontPanic(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)

	p.Dispose()
	p.Dispose()
}

func TestPool_SubmitAfterDispose(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)

	p.Dispose()

	require.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}

func TestPool_SubmitNilJob(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)
	defer p.Dispose()

	require.ErrorIs(t, p.Submit(nil), ErrNilJob)
}

func TestPool_ProcessRemainingTasksOnDispose(t *testing.T) {
	p, err := New(1, WithLogger(slogger))
	require.NoError(t, err)

	c := NewCounterTest()
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
		c.Inc()
	}))
	<-started

	// queued behind the blocked job
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(c.Inc))
	}

	done := make(chan struct{})
	go func() {
		p.Dispose()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Dispose returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-time.After(5 * time.Second):
		t.Fatal("failed because still hanging on Dispose")
	case <-done:
	}

	require.Equal(t, 21, c.Count())
}

func TestPool_RaceConditionOnDispose(t *testing.T) {
	p, err := New(4)
	require.NoError(t, err)

	var accepted, ran atomic.Int64
	wg := &sync.WaitGroup{}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if p.Submit(func() { ran.Add(1) }) == nil {
					accepted.Add(1)
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	disposeWithin(t, p, 10*time.Second)
	wg.Wait()

	// anything accepted before the seal has run, anything after was refused
	require.Equal(t, accepted.Load(), ran.Load())
}

func TestPool_IdleExecutorPicksUpQueuedJob(t *testing.T) {
	for _, topology := range []Topology{Hierarchical, Flat} {
		t.Run(topology.String(), func(t *testing.T) {
			// one worker with two executors, or two flat executors
			size := 2
			if topology == Hierarchical {
				size = 1
			}
			p, err := New(size, WithTopology(topology), WithExecutorsPerWorker(2))
			require.NoError(t, err)

			release := make(chan struct{})
			wg := &sync.WaitGroup{}
			wg.Add(2)

			for i := 0; i < 2; i++ {
				require.NoError(t, p.Submit(func() {
					wg.Done()
					<-release
				}))
			}

			both := make(chan struct{})
			go func() {
				wg.Wait()
				close(both)
			}()

			select {
			case <-time.After(5 * time.Second):
				t.Fatal("second job never started while an executor was idle")
			case <-both:
			}

			close(release)
			disposeWithin(t, p, 5*time.Second)
		})
	}
}

func TestPool_BoundedQueueBlocksSubmit(t *testing.T) {
	p, err := New(1, WithTopology(Flat), WithQueueCapacity(1))
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	// fills the queue
	require.NoError(t, p.Submit(func() {}))

	submitted := make(chan error)
	go func() {
		submitted <- p.Submit(func() {})
	}()

	select {
	case <-submitted:
		t.Fatal("Submit returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-time.After(5 * time.Second):
		t.Fatal("Submit never returned after the queue drained")
	case err := <-submitted:
		require.NoError(t, err)
	}

	disposeWithin(t, p, 5*time.Second)
}

func TestPool_PanicReducesCapacity(t *testing.T) {
	obs := newRecordingObserver()
	p, err := New(2, WithObserver(obs), WithLogger(slogger))
	require.NoError(t, err)

	require.NoError(t, p.Submit(func() { panic("boom") }))

	select {
	case <-time.After(5 * time.Second):
		t.Fatal("panic was never observed")
	case id := <-obs.panics:
		require.False(t, id.IsWorker())
	}

	require.Eventually(t, func() bool { return p.Alive() == 3 }, 5*time.Second, time.Millisecond)

	c := NewCounterTest()
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(c.Inc))
	}

	disposeWithin(t, p, 5*time.Second)

	require.Equal(t, 10, c.Count())
	require.Len(t, obs.panicked, 1)
	require.Empty(t, obs.dropped)
}

func TestPool_DeadWorkerLeavesJobsToLiveWorkers(t *testing.T) {
	obs := newRecordingObserver()
	p, err := New(2, WithExecutorsPerWorker(1), WithObserver(obs), WithLogger(slogger))
	require.NoError(t, err)

	require.NoError(t, p.Submit(func() { panic("boom") }))
	<-obs.panics
	require.Eventually(t, func() bool { return p.Alive() == 1 }, 5*time.Second, time.Millisecond)

	c := NewCounterTest()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(c.Inc))
	}

	disposeWithin(t, p, 5*time.Second)

	require.Equal(t, 100, c.Count())
	require.Empty(t, obs.dropped)
	require.Equal(t, 0, p.Workers())

	// both workers still get exactly one terminate each
	workers := 0
	for _, id := range obs.terminated {
		if id.IsWorker() {
			workers++
		}
	}
	require.Equal(t, 2, workers)
}

func TestPool_RecoverOnPanicKeepsExecutor(t *testing.T) {
	obs := newRecordingObserver()
	p, err := New(1, WithObserver(obs), WithPanicPolicy(RecoverOnPanic))
	require.NoError(t, err)

	require.NoError(t, p.Submit(func() { panic("boom") }))
	<-obs.panics

	c := NewCounterTest()
	require.NoError(t, p.Submit(c.Inc))

	require.Equal(t, 1, p.Alive())

	disposeWithin(t, p, 5*time.Second)
	require.Equal(t, 1, c.Count())
}

func TestPool_JobsDroppedOnceNoExecutorIsLeft(t *testing.T) {
	obs := newRecordingObserver()
	p, err := New(1, WithObserver(obs))
	require.NoError(t, err)

	require.NoError(t, p.Submit(func() { panic("boom") }))
	<-obs.panics
	require.Eventually(t, func() bool { return p.Alive() == 0 }, 5*time.Second, time.Millisecond)

	c := NewCounterTest()
	require.NoError(t, p.Submit(c.Inc))

	disposeWithin(t, p, 5*time.Second)

	require.Equal(t, 0, c.Count())
	require.Len(t, obs.dropped, 1)
}

func TestPool_FlatStrandedJobsDroppedOnDispose(t *testing.T) {
	obs := newRecordingObserver()
	p, err := New(1, WithObserver(obs), WithTopology(Flat))
	require.NoError(t, err)

	require.NoError(t, p.Submit(func() { panic("boom") }))
	<-obs.panics
	require.Eventually(t, func() bool { return p.Alive() == 0 }, 5*time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(func() {}))
	}

	disposeWithin(t, p, 5*time.Second)

	require.Len(t, obs.dropped, 3)
}

func TestPool_ObserverSeesEveryEvent(t *testing.T) {
	obs := newRecordingObserver()
	p, err := New(2, WithObserver(obs))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(func() {}))
	}

	disposeWithin(t, p, 5*time.Second)

	require.Len(t, obs.submitted, 5)
	require.Len(t, obs.started, 5)
	require.Len(t, obs.finished, 5)
	require.ElementsMatch(t, obs.submitted, obs.finished)

	// two workers and four executors
	require.Len(t, obs.terminated, 6)

	workers := 0
	for _, id := range obs.terminated {
		if id.IsWorker() {
			workers++
		}
	}
	require.Equal(t, 2, workers)
}

func TestObservers_FanOut(t *testing.T) {
	a, b := newRecordingObserver(), newRecordingObserver()
	obs := Observers(a, nil, b)

	obs.OnJobSubmit("job")
	obs.OnTerminate(ID{Worker: 0, Executor: NoExecutor})

	require.Equal(t, []string{"job"}, a.submitted)
	require.Equal(t, []string{"job"}, b.submitted)
	require.Len(t, a.terminated, 1)
	require.Len(t, b.terminated, 1)

	require.Same(t, a, Observers(a))
}

func TestID_String(t *testing.T) {
	require.Equal(t, "worker_1", ID{Worker: 0, Executor: NoExecutor}.String())
	require.Equal(t, "worker_2/executor_3", ID{Worker: 1, Executor: 2}.String())
	require.Equal(t, "executor_1", ID{Worker: NoWorker, Executor: 0}.String())
	require.Equal(t, "pool", ID{Worker: NoWorker, Executor: NoExecutor}.String())
}
