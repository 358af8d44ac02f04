package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
)

// ErrQueueStopped is returned when enqueueing into a stopped queue
var ErrQueueStopped = errors.New("job queue stopped")

// Runner processes a single job id
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// JobQueue interface defines the methods for scheduling job runs
type JobQueue interface {
	Start()
	Stop()
	Enqueue(ctx context.Context, jobID string) error
	Cancel(jobID string) bool
	Running() int
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// jobQueue feeds job ids to a fixed pool of workers
type jobQueue struct {
	queue      chan string
	runner     Runner
	maxWorkers int

	mu      sync.Mutex
	running map[string]*activeRun

	ctx      context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewJobQueue creates a new job queue with maxWorkers workers and room for
// buffer pending ids
func NewJobQueue(maxWorkers, buffer int, runner Runner) JobQueue {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if buffer <= 0 {
		buffer = 100
	}
	ctx, stop := context.WithCancel(context.Background())
	return &jobQueue{
		queue:      make(chan string, buffer),
		runner:     runner,
		maxWorkers: maxWorkers,
		running:    make(map[string]*activeRun),
		ctx:        ctx,
		stop:       stop,
	}
}

// Enqueue schedules jobID, blocking while the buffer is full
func (jq *jobQueue) Enqueue(ctx context.Context, jobID string) error {
	if jq.ctx.Err() != nil {
		return ErrQueueStopped
	}
	select {
	case jq.queue <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-jq.ctx.Done():
		return ErrQueueStopped
	}
}

// Cancel stops the in-flight run of jobID. It reports whether one existed.
func (jq *jobQueue) Cancel(jobID string) bool {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	run, ok := jq.running[jobID]
	if !ok {
		return false
	}
	run.cancel()
	return true
}

// Running returns the number of jobs being processed
func (jq *jobQueue) Running() int {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	return len(jq.running)
}

// Start begins processing jobs
func (jq *jobQueue) Start() {
	for i := 0; i < jq.maxWorkers; i++ {
		jq.wg.Add(1)
		go jq.worker(i)
	}
	log.Printf("Job queue started with %d workers", jq.maxWorkers)
}

// Stop cancels in-flight runs and waits for the workers to exit
func (jq *jobQueue) Stop() {
	jq.stopOnce.Do(func() {
		jq.stop()
		jq.wg.Wait()
		log.Println("Job queue stopped")
	})
}

// worker processes ids from the queue
func (jq *jobQueue) worker(id int) {
	defer jq.wg.Done()
	for {
		select {
		case <-jq.ctx.Done():
			return
		case jobID := <-jq.queue:
			jq.process(id, jobID)
		}
	}
}

func (jq *jobQueue) process(worker int, jobID string) {
	ctx, run, ok := jq.claim(jobID)
	if !ok {
		return
	}

	defer func() {
		run.cancel()
		jq.mu.Lock()
		delete(jq.running, jobID)
		jq.mu.Unlock()
		close(run.done)
	}()

	if err := jq.safeRun(ctx, jobID); err != nil {
		log.Printf("Worker %d: job %s ended with error: %v", worker, jobID, err)
	}
}

// claim registers a run for jobID. A retried job can be queued while its
// previous run is still unwinding, so wait for that run first.
func (jq *jobQueue) claim(jobID string) (context.Context, *activeRun, bool) {
	for {
		jq.mu.Lock()
		prev, busy := jq.running[jobID]
		if !busy {
			ctx, cancel := context.WithCancel(jq.ctx)
			run := &activeRun{cancel: cancel, done: make(chan struct{})}
			jq.running[jobID] = run
			jq.mu.Unlock()
			return ctx, run, true
		}
		jq.mu.Unlock()

		select {
		case <-prev.done:
		case <-jq.ctx.Done():
			return nil, nil, false
		}
	}
}

func (jq *jobQueue) safeRun(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered panic in job %s: %v\n%s", jobID, r, debug.Stack())
			err = fmt.Errorf("job %s panicked: %v", jobID, r)
		}
	}()
	return jq.runner.Run(ctx, jobID)
}
