package gcs

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dCache/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("gcs")

// Task is a recurring unit of work run by a TimeScheduler.
type Task interface {
	// NextInterval returns the delay until the next run.
	NextInterval() time.Duration

	// Cancelled reports whether the task should be dropped.
	Cancelled() bool

	// Run executes the task.
	Run()
}

// TimeScheduler runs tasks after their interval and re-schedules them until they are
// cancelled. All tasks run on a single goroutine in due order.
//
// Thread-safety: all methods are safe for concurrent use.
type TimeScheduler struct {
	mu      sync.Mutex
	due     *util.DueQueue
	tasks   map[uint64]Task
	nextID  uint64
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewTimeScheduler creates a stopped scheduler. Tasks may be scheduled before Start.
func NewTimeScheduler() *TimeScheduler {
	return &TimeScheduler{
		due:   util.NewDueQueue(),
		tasks: make(map[uint64]Task),
		wake:  make(chan struct{}, 1),
	}
}

// Start launches the scheduler goroutine. Calling Start on a running scheduler has no
// effect.
func (s *TimeScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.done)
}

// Stop halts the scheduler goroutine and drops all tasks.
func (s *TimeScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.due = util.NewDueQueue()
	s.tasks = make(map[uint64]Task)
}

// Schedule adds a task, first run after its next interval.
func (s *TimeScheduler) Schedule(t Task) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.tasks[id] = t
	s.due.Schedule(id, dueAt(t.NextInterval()))
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of scheduled tasks.
func (s *TimeScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func dueAt(d time.Duration) uint64 {
	return uint64(time.Now().Add(d).UnixNano())
}

func (s *TimeScheduler) loop(done <-chan struct{}) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		for _, id := range s.popDue() {
			s.runTask(id)
		}

		wait := time.Hour
		s.mu.Lock()
		if next, ok := s.due.Peek(); ok {
			wait = time.Duration(int64(next.Due) - time.Now().UnixNano())
		}
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-done:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *TimeScheduler) popDue() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due.PopDue(uint64(time.Now().UnixNano()))
}

func (s *TimeScheduler) runTask(id uint64) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	if !t.Cancelled() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("scheduled task panicked: %v", r)
				}
			}()
			t.Run()
		}()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Cancelled() || !s.running {
		delete(s.tasks, id)
		return
	}
	s.due.Schedule(id, dueAt(t.NextInterval()))
}
