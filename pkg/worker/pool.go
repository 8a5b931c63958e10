package worker

import (
	"context"
	"sync"
)

// Job is a unit of work submitted to the Pool.
type Job func(ctx context.Context) error

// Pool runs jobs using a fixed number of goroutines. With one worker jobs run
// in submission order, which the learned-state synchronizer relies on.
type Pool struct {
	jobs    chan Job
	wg      sync.WaitGroup
	workers int
	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}
	once    sync.Once

	// OnError receives every non-nil job error. It must be safe for concurrent use.
	OnError func(error)
}

// New creates a new pool with the specified number of workers and job queue
// capacity.
func New(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * 2
	}
	return &Pool{
		jobs:    make(chan Job, queue),
		workers: workers,
		done:    make(chan struct{}),
	}
}

// Start begins the worker goroutines and runs jobs until ctx is done or Close is called.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					if err := job(ctx); err != nil && p.OnError != nil {
						p.OnError(err)
					}
				}
			}
		}()
	}
}

// Submit enqueues a job for processing. It blocks while the queue is full and
// returns ErrPoolClosed if the pool is, or becomes, closed.
func (p *Pool) Submit(job Job) error {
	return p.SubmitCtx(context.Background(), job)
}

// SubmitCtx is Submit that gives up when ctx is done.
func (p *Pool) SubmitCtx(ctx context.Context, job Job) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new jobs, lets queued jobs drain and waits for
// workers to finish.
func (p *Pool) Close() {
	p.closeMu.RLock()
	already := p.closed
	p.closeMu.RUnlock()
	if already {
		return
	}
	// Wake submitters blocked on a full queue before taking the write lock.
	p.once.Do(func() { close(p.done) })
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()
	p.wg.Wait()
}

// ErrPoolClosed is returned if a Submit is attempted after Close.
var ErrPoolClosed = &PoolError{"worker pool closed"}

// PoolError provides a simple typed error for pool operations.
type PoolError struct{ msg string }

func (e *PoolError) Error() string { return e.msg }
