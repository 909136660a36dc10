package worker

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
)

// Job is a unit of background work. It should honor ctx cancellation.
type Job func(ctx context.Context) error

// ResultCallback is invoked with the job's error (from a worker goroutine).
type ResultCallback func(err error)

// Pool is a fixed-size worker pool with a bounded input queue (1 slot by default).
type Pool struct {
	name string
	jobs chan job
	wg   sync.WaitGroup
}

type job struct {
	ctx context.Context
	run Job
	cb  ResultCallback
}

// New creates a worker pool. Size defaults to NumCPU when size<=0. Queue is 1 slot.
func New(name string, size int) *Pool {
	return NewWithQueue(name, size, 1)
}

// NewWithQueue creates a worker pool whose queue holds up to queue pending jobs.
// A queue below 1 is treated as 1.
func NewWithQueue(name string, size, queue int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if queue < 1 {
		queue = 1
	}
	p := &Pool{name: name, jobs: make(chan job, queue)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				err := runJob(j.ctx, j.run)
				if err != nil {
					log.Printf("%s worker: job failed: %v", p.name, err)
				}
				if j.cb != nil {
					j.cb(err)
				}
			}
		}()
	}
}

// Submit enqueues a job if the queue has room. Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, run Job, cb ResultCallback) bool {
	select {
	case p.jobs <- job{ctx: ctx, run: run, cb: cb}:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

// runJob runs fn, converting a panic into an error so one bad job cannot take the
// worker down. A job whose context is already done is not started.
func runJob(ctx context.Context, fn Job) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

