package web

import (
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// workerPool runs broadcast writes concurrently across peers
type workerPool struct {
	pool       *ants.Pool
	wg         sync.WaitGroup
	isShutdown atomic.Bool

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	errors    atomic.Int64
}

// PoolStats holds broadcast pool statistics
type PoolStats struct {
	Running   int   `json:"running"`
	Capacity  int   `json:"capacity"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Errors    int64 `json:"errors"`
}

func newWorkerPool(size int) (*workerPool, error) {
	if size <= 0 {
		size = 64
	}

	pool, err := ants.NewPool(
		size,
		ants.WithPreAlloc(true),
		ants.WithMaxBlockingTasks(size*16),
	)
	if err != nil {
		return nil, err
	}

	return &workerPool{pool: pool}, nil
}

// Submit adds a task to the pool. done, when not nil, is released after the
// task ran or when submission failed.
func (wp *workerPool) Submit(task func() error, done *sync.WaitGroup) error {
	if wp.isShutdown.Load() {
		if done != nil {
			done.Done()
		}
		return ants.ErrPoolClosed
	}

	wp.submitted.Add(1)
	wp.wg.Add(1)

	err := wp.pool.Submit(func() {
		defer wp.wg.Done()
		defer wp.completed.Add(1)
		if done != nil {
			defer done.Done()
		}
		if err := task(); err != nil {
			wp.errors.Add(1)
		}
	})
	if err != nil {
		wp.wg.Done()
		wp.errors.Add(1)
		if done != nil {
			done.Done()
		}
	}
	return err
}

// Shutdown waits for running tasks and releases the pool
func (wp *workerPool) Shutdown() {
	wp.isShutdown.Store(true)
	wp.wg.Wait()
	wp.pool.Release()
}

// Stats returns current pool statistics
func (wp *workerPool) Stats() PoolStats {
	return PoolStats{
		Running:   wp.pool.Running(),
		Capacity:  wp.pool.Cap(),
		Submitted: wp.submitted.Load(),
		Completed: wp.completed.Load(),
		Errors:    wp.errors.Load(),
	}
}
