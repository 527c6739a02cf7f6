package router

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var poolDroppedTasks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "photonix_background_tasks_dropped_total",
	Help: "Background tasks dropped because the worker pool queue was full",
})

// Pool runs detached background tasks (cache writes, revalidations,
// eviction passes) on a bounded set of workers. Callers never wait on a
// submitted task.
type Pool struct {
	tasks  chan func()
	logger zerolog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool starts a worker pool with the given number of workers and queue
// capacity.
func NewPool(workers, queueSize int, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	p := &Pool{
		tasks:  make(chan func(), queueSize),
		logger: logger,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}

	return p
}

// Submit enqueues a task for execution without blocking. Returns false if
// the queue is full; cache maintenance is best effort, a dropped task only
// delays a refresh or an eviction pass.
func (p *Pool) Submit(task func()) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		poolDroppedTasks.Inc()
		p.logger.Warn().Msg("Background task queue full, dropping task")
		return false
	}
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
