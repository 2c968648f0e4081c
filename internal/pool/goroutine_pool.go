// Package pool provides a goroutine pool for controlled concurrency.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/planflow/config"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// GoroutinePool manages a bounded set of worker goroutines.
type GoroutinePool struct {
	maxWorkers  int
	taskQueue   chan taskWrapper
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	closeMu     sync.RWMutex
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
}

type taskWrapper struct {
	task   Task
	ctx    context.Context
	result chan error
}

// GoroutinePoolConfig configures the pool.
type GoroutinePoolConfig struct {
	MaxWorkers   int           `json:"max_workers"`
	QueueSize    int           `json:"queue_size"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	PanicHandler func(any)     `json:"-"`
}

// DefaultGoroutinePoolConfig returns sensible defaults.
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{
		MaxWorkers:  4,
		QueueSize:   256,
		IdleTimeout: 30 * time.Second,
	}
}

// ConfigFrom derives a pool configuration from the engine section.
func ConfigFrom(cfg config.EngineConfig) GoroutinePoolConfig {
	pc := DefaultGoroutinePoolConfig()
	if cfg.LoopWorkers > 0 {
		pc.MaxWorkers = cfg.LoopWorkers
	}
	if cfg.QueueSize > 0 {
		pc.QueueSize = cfg.QueueSize
	}
	return pc
}

// NewGoroutinePool creates a new goroutine pool. Workers start lazily.
func NewGoroutinePool(cfg GoroutinePoolConfig) *GoroutinePool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultGoroutinePoolConfig().IdleTimeout
	}
	return &GoroutinePool{
		maxWorkers:   cfg.MaxWorkers,
		taskQueue:    make(chan taskWrapper, cfg.QueueSize),
		idleTimeout:  cfg.IdleTimeout,
		panicHandler: cfg.PanicHandler,
	}
}

// Submit enqueues a task without waiting for it.
func (p *GoroutinePool) Submit(ctx context.Context, task Task) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	wrapper := taskWrapper{task: task, ctx: ctx}

	select {
	case p.taskQueue <- wrapper:
		p.ensureWorker()
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// SubmitWait enqueues a task and waits for its result.
func (p *GoroutinePool) SubmitWait(ctx context.Context, task Task) error {
	wrapper := taskWrapper{task: task, ctx: ctx, result: make(chan error, 1)}

	if err := p.enqueue(ctx, wrapper); err != nil {
		return err
	}

	select {
	case err := <-wrapper.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *GoroutinePool) enqueue(ctx context.Context, wrapper taskWrapper) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	p.ensureWorker()
	select {
	case p.taskQueue <- wrapper:
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

// RunAll runs every task on the pool and waits for all of them. Failures do
// not stop the remaining tasks; they are joined in task order.
func (p *GoroutinePool) RunAll(ctx context.Context, tasks []Task) error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			errs[i] = p.SubmitWait(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (p *GoroutinePool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *GoroutinePool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *GoroutinePool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case wrapper, ok := <-p.taskQueue:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			err := p.executeTask(wrapper)
			p.activeCount.Add(-1)

			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			if wrapper.result != nil {
				wrapper.result <- err
				close(wrapper.result)
			}

			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// keep one worker around while the pool is open
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *GoroutinePool) executeTask(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if err := wrapper.ctx.Err(); err != nil {
		return err
	}
	return wrapper.task(wrapper.ctx)
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *GoroutinePool) Close() {
	p.closeMu.Lock()
	if p.closed.Swap(true) {
		p.closeMu.Unlock()
		return
	}
	close(p.taskQueue)
	p.closeMu.Unlock()
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// GoroutinePoolStats contains pool statistics.
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
