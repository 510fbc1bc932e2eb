package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/sanity/engine/core"
)

// Task is one unit of work for the pool.
type Task struct {
	Name string
	// Run is required. A non-nil error routes the task to OnFailure.
	Run        func(ctx context.Context) error
	OnComplete func()
	OnFailure  func(err error)
	// Always called last, whatever the outcome.
	OnCompletionCallback func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan Task
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	// guards jobQueue against a send after close
	mu     sync.RWMutex
	closed bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrShutdown = errors.New("job system is shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan Task, channelSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	js.start()
	core.LogDebug("job system started with %d workers", numWorkers)

	return js, nil
}

// NewJobSystemFromSettings sizes the pool from the [jobs] table.
func NewJobSystemFromSettings(s *core.Settings) (*JobSystem, error) {
	return NewJobSystem(s.Jobs.Workers, s.Jobs.QueueSize)
}

func (js *JobSystem) NumWorkers() int { return js.numWorkers }

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job Task) {
	defer func() {
		if job.OnCompletionCallback != nil {
			job.OnCompletionCallback()
		}
	}()

	err := js.protect(job)
	if err != nil {
		core.LogError("job %q failed: %s", job.Name, err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return
	}
	if job.OnComplete != nil {
		job.OnComplete()
	}
}

// protect keeps a panicking task from taking a worker down with it.
func (js *JobSystem) protect(job Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if job.Run == nil {
		return fmt.Errorf("job has no Run function")
	}
	return job.Run(js.ctx)
}

// Shutdown stops accepting work, lets the queued tasks drain and waits for
// the workers to exit. Calling it twice is a no-op.
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()

	js.wg.Wait()
	js.cancel()
	return nil
}

// Submit queues a task, blocking while the queue is full.
func (js *JobSystem) Submit(jt Task) error {
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.closed {
		return ErrShutdown
	}
	js.jobQueue <- jt
	return nil
}

// AddWorkNonBlocking queues a task from its own goroutine and returns immediately.
func (js *JobSystem) AddWorkNonBlocking(jt Task) {
	go func() {
		if err := js.Submit(jt); err != nil {
			core.LogWarn("job %q dropped: %s", jt.Name, err)
		}
	}()
}

// ParallelFor runs fn(0..n-1) on the pool and waits for all of them. Every
// failure is returned, joined in index order.
func (js *JobSystem) ParallelFor(ctx context.Context, name string, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		err := js.Submit(Task{
			Name: fmt.Sprintf("%s[%d]", name, i),
			Run: func(context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return fn(ctx, i)
			},
			OnFailure:            func(err error) { errs[i] = err },
			OnCompletionCallback: wg.Done,
		})
		if err != nil {
			// the remaining tasks will never run
			for j := i; j < n; j++ {
				errs[j] = err
				wg.Done()
			}
			break
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}
