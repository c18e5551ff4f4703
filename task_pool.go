package poingest

import (
	"context"

	"github.com/panjf2000/ants/v2"
)

// Future get result of a task submitted to taskPool
type Future interface {
	Get() (interface{}, error)
}

type futureResult struct {
	value interface{}
	err   error
}

type chanFuture struct {
	ch chan futureResult
}

func (f *chanFuture) Get() (interface{}, error) {
	r := <-f.ch
	return r.value, r.err
}

type taskPool struct {
	pool *ants.Pool
}

func newTaskPool(size int) *taskPool {
	pool, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		panic(err)
	}
	return &taskPool{pool: pool}
}

func (p *taskPool) SetMaxSize(size int) {
	p.pool.Tune(size)
}

// Submit run task in the pool, returning a Future for its result. If the pool
// rejects the task the error is surfaced through the Future.
func (p *taskPool) Submit(ctx context.Context, task func() (interface{}, error)) Future {
	f := &chanFuture{ch: make(chan futureResult, 1)}
	err := p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				f.ch <- futureResult{nil, NewIngestError(ErrCodeConcurrent, "panic in pool task:%v", r)}
			}
		}()
		v, e := task()
		f.ch <- futureResult{v, e}
	})
	if err != nil {
		f.ch <- futureResult{nil, NewIngestError(ErrCodeConcurrent, "submit task to pool failed", err)}
	}
	return f
}
