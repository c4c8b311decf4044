package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/arrowhead-lite/orchestrator/internal/app/metrics"
	"github.com/arrowhead-lite/orchestrator/internal/app/system"
	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

// pushTask is one queued push orchestration pass. The ledger row already
// exists in PENDING state when the task enters the queue.
type pushTask struct {
	jobID          string
	subscriptionID string
}

// Dispatcher runs push orchestration passes on a bounded worker pool.
// Tasks are processed in FIFO order across the pool.
type Dispatcher struct {
	process func(ctx context.Context, task pushTask)
	queue   chan pushTask
	workers int
	log     *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Dispatcher)(nil)

func newDispatcher(workers, queueSize int, process func(ctx context.Context, task pushTask), log *logger.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if log == nil {
		log = logger.NewDefault("push-dispatcher")
	}
	return &Dispatcher{
		process: process,
		queue:   make(chan pushTask, queueSize),
		workers: workers,
		log:     log,
	}
}

func (d *Dispatcher) Name() string { return "push-dispatcher" }

// Start launches the worker pool.
func (d *Dispatcher) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("push dispatcher already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.log.WithField("workers", d.workers).Info("push dispatcher started")
	return nil
}

// Stop drains the workers. Queued tasks that no worker picked up before
// shutdown stay PENDING in the ledger.
func (d *Dispatcher) Stop(context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("push dispatcher stopped")
	return nil
}

// enqueue offers a task to the pool without blocking. It reports false
// when the dispatcher is stopped or the queue is full.
func (d *Dispatcher) enqueue(task pushTask) bool {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return false
	}

	select {
	case d.queue <- task:
		metrics.SetPushQueueDepth(len(d.queue))
		return true
	default:
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-d.queue:
			metrics.SetPushQueueDepth(len(d.queue))
			d.process(ctx, task)
		}
	}
}
