package async

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCache/lib/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("async")

var (
	// ErrProcessorStopped is returned when a task is enqueued after Stop.
	ErrProcessorStopped = errors.New("processor is stopped")

	// ErrStopTimeout is returned by Stop when workers did not finish in time.
	ErrStopTimeout = errors.New("processor workers did not stop in time")
)

// Task is a unit of background work.
type Task interface {
	Process() error
}

// TaskFunc adapts a function to Task.
type TaskFunc func() error

func (f TaskFunc) Process() error { return f() }

// Processor executes tasks on a fixed pool of worker goroutines.
//
// Thread-safety: Enqueue may be called concurrently from any goroutine.
type Processor struct {
	name    string
	workers int
	queue   *util.MPSCQueue[Task]
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
	pending atomic.Int64

	processed *metrics.Counter
	failed    *metrics.Counter
}

// NewProcessor creates a processor with the given number of workers (at least one).
// Workers are started with Start.
func NewProcessor(name string, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		name:      name,
		workers:   workers,
		queue:     util.NewMPSCQueue[Task](),
		processed: metrics.GetOrCreateCounter(fmt.Sprintf(`dcache_async_tasks_total{processor=%q}`, name)),
		failed:    metrics.GetOrCreateCounter(fmt.Sprintf(`dcache_async_task_errors_total{processor=%q}`, name)),
	}
}

// Name returns the processor name.
func (p *Processor) Name() string { return p.name }

// Start launches the workers. Calling Start more than once has no effect.
func (p *Processor) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	log.Debugf("processor %s started with %d worker(s)", p.name, p.workers)
}

func (p *Processor) work(id int) {
	defer p.wg.Done()
	for task := range p.queue.Recv() {
		p.run(id, *task)
		p.pending.Add(-1)
	}
}

func (p *Processor) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Inc()
			log.Errorf("processor %s worker %d: task panicked: %v", p.name, id, r)
		}
	}()
	if err := task.Process(); err != nil {
		p.failed.Inc()
		log.Errorf("processor %s worker %d: task failed: %v", p.name, id, err)
	}
	p.processed.Inc()
}

// Enqueue adds a task to the queue.
func (p *Processor) Enqueue(task Task) error {
	if task == nil {
		return nil
	}
	if p.stopped.Load() {
		return ErrProcessorStopped
	}
	p.pending.Add(1)
	if !p.queue.Push(&task) {
		p.pending.Add(-1)
		return ErrProcessorStopped
	}
	return nil
}

// Len returns the number of queued and running tasks.
func (p *Processor) Len() int {
	return int(p.pending.Load())
}

// Stop closes the queue, lets the workers drain it and waits up to timeout for them to
// finish. A zero timeout waits forever. Workers that do not finish in time are left
// running and ErrStopTimeout is returned.
func (p *Processor) Stop(timeout time.Duration) error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	p.queue.Close()

	if !p.started.Load() {
		// drain without running so the pump goroutine can exit
		go func() {
			for range p.queue.Recv() {
			}
		}()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return nil
	}

	select {
	case <-done:
		log.Debugf("processor %s stopped", p.name)
		return nil
	case <-time.After(timeout):
		log.Warningf("processor %s: workers still busy after %s, %d task(s) pending", p.name, timeout, p.Len())
		return ErrStopTimeout
	}
}

// Flush blocks until every task enqueued before the call has finished or timeout elapses.
// It reports whether the queue was drained.
func (p *Processor) Flush(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for p.Len() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}
