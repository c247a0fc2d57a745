package scheduler

import (
	"context"
	"sync"
)

// Executor runs a task's work. The three strategies share one contract:
// run the work, return its result, surface its error. Cancellation flows
// through ctx and is cooperative; work that ignores ctx and never blocks
// can only be reaped once it returns.
type Executor interface {
	Run(ctx context.Context, work WorkFunc) (any, error)
}

// SequentialExecutor runs work inline on the dispatching goroutine.
// Fully synchronous and deterministic; meant for tests and low-volume use.
type SequentialExecutor struct{}

func (SequentialExecutor) Run(ctx context.Context, work WorkFunc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return work(ctx)
}

// ConcurrentExecutor runs work in its own goroutine and detaches from it as
// soon as ctx is done. Suited to I/O-bound work that suspends at network
// boundaries; this is the default strategy. Detached work keeps its goroutine
// until it next observes ctx.
type ConcurrentExecutor struct{}

func (ConcurrentExecutor) Run(ctx context.Context, work WorkFunc) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	out := make(chan outcome, 1)

	go func() {
		result, err := work(ctx)
		out <- outcome{result: result, err: err}
	}()

	select {
	case o := <-out:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WorkerPoolExecutor dispatches work to a fixed set of pre-started workers.
// Submissions block while every worker is busy. CPU-heavy or genuinely
// blocking work belongs here rather than on the concurrent strategy, where it
// would hold a slot without ever yielding.
type WorkerPoolExecutor struct {
	jobs      chan poolJob
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type poolJob struct {
	ctx  context.Context
	work WorkFunc
	out  chan poolResult
}

type poolResult struct {
	result any
	err    error
}

// NewWorkerPoolExecutor starts size workers. Size defaults to 1 if not
// positive.
func NewWorkerPoolExecutor(size int) *WorkerPoolExecutor {
	if size <= 0 {
		size = 1
	}

	p := &WorkerPoolExecutor{
		jobs: make(chan poolJob),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *WorkerPoolExecutor) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := job.ctx.Err(); err != nil {
			job.out <- poolResult{err: err}
			continue
		}
		result, err := job.work(job.ctx)
		job.out <- poolResult{result: result, err: err}
	}
}

// Run submits work to the pool and waits for it. If ctx ends before a worker
// picks the job up, or while the job runs, Run returns ctx's error; a running
// job finishes on its worker regardless.
func (p *WorkerPoolExecutor) Run(ctx context.Context, work WorkFunc) (any, error) {
	job := poolJob{ctx: ctx, work: work, out: make(chan poolResult, 1)}

	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-job.out:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close drains the pool. Pending submissions after Close will panic, so the
// manager only calls this during shutdown, after the dispatcher has stopped.
func (p *WorkerPoolExecutor) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}
