package pool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/raven-go"
	"lib.kevinlin.info/aperture/lib"

	"dnscash/internal/log"
	"dnscash/internal/metrics"
)

// Task is a unit of work executed by a pool worker.
type Task interface {
	Run() error
}

// TaskFunc adapts an ordinary function to the Task interface.
type TaskFunc func() error

// Run calls f.
func (f TaskFunc) Run() error {
	return f()
}

// Opts formalizes worker pool sizing and placement options.
type Opts struct {
	// Multiplier scales the machine's parallelism when the pool size is derived.
	Multiplier int
	// LogicalThreadsPerCore divides the scaled parallelism when the pool size is derived.
	LogicalThreadsPerCore int
	// Affinity pins worker i to core i modulo the number of cores.
	Affinity bool
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// WorkerPool executes enqueued tasks on a fixed number of workers. Enqueue never blocks. Tasks are
// started in FIFO order, but nothing is guaranteed about the order in which they complete.
type WorkerPool struct {
	queue   []queuedTask
	stopped bool
	mutex   sync.Mutex
	cond    *sync.Cond
	wg      sync.WaitGroup

	size     int
	cores    int
	affinity bool

	hook   metrics.PoolHook
	logger log.Logger

	completed atomic.Uint64
	failed    atomic.Uint64
}

type queuedTask struct {
	task     Task
	enqueued time.Time
}

// New creates a pool and starts its workers. A non-positive size derives the worker count from
// runtime.NumCPU and the multiplier and logical-threads-per-core options.
func New(size int, hook metrics.PoolHook, logger log.Logger, opts Opts) *WorkerPool {
	cores := runtime.NumCPU()

	if size <= 0 {
		size = DesiredWorkers(cores, opts.Multiplier, opts.LogicalThreadsPerCore)
	}

	p := &WorkerPool{
		size:     size,
		cores:    cores,
		affinity: opts.Affinity,
		hook:     hook,
		logger:   logger,
	}
	p.cond = sync.NewCond(&p.mutex)

	logger.Info("pool: starting workers: size=%d cores=%d affinity=%t", size, cores, opts.Affinity)

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work(i)
	}

	return p
}

// Enqueue submits a task for execution and wakes one idle worker. It reports false, discarding
// the task, once the pool has been shut down.
func (p *WorkerPool) Enqueue(task Task) bool {
	p.mutex.Lock()

	if p.stopped {
		p.mutex.Unlock()
		return false
	}

	p.queue = append(p.queue, queuedTask{task: task, enqueued: time.Now()})
	depth := len(p.queue)

	p.mutex.Unlock()
	p.cond.Signal()

	p.hook.EmitQueueDepth(depth)

	return true
}

// Shutdown stops all workers and waits for any in-flight tasks to return. Tasks still waiting in
// the queue are discarded without running; their count is returned. Subsequent calls are noops.
func (p *WorkerPool) Shutdown() int {
	p.mutex.Lock()

	if p.stopped {
		p.mutex.Unlock()
		return 0
	}

	p.stopped = true
	discarded := len(p.queue)
	p.queue = nil

	p.mutex.Unlock()
	p.cond.Broadcast()

	p.wg.Wait()

	p.logger.Info("pool: workers stopped: discarded=%d", discarded)

	return discarded
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return p.size
}

// Queued returns the number of tasks waiting for a worker.
func (p *WorkerPool) Queued() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.queue)
}

// Stats returns a snapshot of the pool counters.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   p.size,
		Queued:    p.Queued(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// work is the main loop of a single worker. Stop requests take precedence over pending tasks.
func (p *WorkerPool) work(id int) {
	defer p.wg.Done()

	if p.affinity {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		core := id % p.cores
		if err := setAffinity(core); err != nil {
			p.logger.Warn("pool: error pinning worker to core: worker=%d core=%d err=%v", id, core, err)
		}
	}

	for {
		p.mutex.Lock()

		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}

		if p.stopped {
			p.mutex.Unlock()
			return
		}

		item := p.queue[0]
		p.queue[0] = queuedTask{}
		p.queue = p.queue[1:]

		p.mutex.Unlock()

		p.execute(id, item)
	}
}

// execute runs a single task, isolating the worker from the task's errors and panics.
func (p *WorkerPool) execute(worker int, item queuedTask) {
	wait := time.Since(item.enqueued)
	runTimer := lib.NewStopwatch()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pool: task panicked: worker=%d panic=%v", worker, r)

			p.logger.Error("%v", err)
			raven.CaptureError(err, map[string]string{"worker": fmt.Sprint(worker)})

			p.failed.Add(1)
			p.hook.EmitTaskError(true)
		}

		p.hook.EmitTaskLatency(wait, runTimer.Elapsed())
	}()

	if err := item.task.Run(); err != nil {
		p.logger.Error("pool: task failed: worker=%d err=%v", worker, err)
		raven.CaptureError(err, map[string]string{"worker": fmt.Sprint(worker)})

		p.failed.Add(1)
		p.hook.EmitTaskError(false)

		return
	}

	p.completed.Add(1)
}
