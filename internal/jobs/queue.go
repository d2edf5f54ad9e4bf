// Package jobs provides the in-process job queue the sync engine enqueues
// account-level and event-level work onto. Workers run jobs concurrently;
// duplicate suppression and pending-only cancellation are the only ordering
// safeguards, matching what the engine expects from its queue collaborator.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/macjediwizard/crmcalsync/internal/sync"
)

var (
	ErrQueueStopped = errors.New("job queue stopped")
	ErrInvalidJob   = errors.New("invalid job")
)

// Kind distinguishes account-level from event-level jobs.
type Kind string

const (
	KindAccount Kind = "account"
	KindMeeting Kind = "meeting"
)

// State tracks a job through its lifecycle. Only pending jobs can be
// cancelled.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Job is one queued unit of work.
type Job struct {
	ID        string
	Kind      Kind
	AccountID string // account jobs
	Key       string // meeting jobs: (account, location, event) key
	Payload   []byte // meeting jobs: serialized operation
	State     State
	CreatedAt time.Time
}

// Executor runs the work a job represents. Implemented by the orchestrator.
type Executor interface {
	RunAccountJob(ctx context.Context, accountID string) error
	RunMeetingJob(ctx context.Context, payload []byte) bool
}

// Queue is an in-memory job queue with a fixed worker pool.
type Queue struct {
	executor Executor
	workers  int

	mu      gosync.Mutex
	jobs    map[string]*Job // all pending + running jobs by ID
	pending []*Job          // FIFO order
	notify  chan struct{}

	wg      gosync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a job queue with the given worker count.
func New(executor Executor, workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		executor: executor,
		workers:  workers,
		jobs:     make(map[string]*Job),
		notify:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker pool.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	log.Printf("jobs: queue started with %d workers", q.workers)
}

// Stop shuts the queue down and waits for running jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	log.Println("jobs: queue stopped")
}

// IsAccountJobActive reports whether an account job is queued or running for
// the account.
func (q *Queue) IsAccountJobActive(accountID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.Kind == KindAccount && job.AccountID == accountID {
			return true
		}
	}
	return false
}

// IsMeetingJobActive reports whether a meeting job is queued or running for
// the operation key.
func (q *Queue) IsMeetingJobActive(operationKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.Kind == KindMeeting && job.Key == operationKey {
			return true
		}
	}
	return false
}

// EnqueueAccountJob queues a full sync cycle for one account.
func (q *Queue) EnqueueAccountJob(accountID string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("%w: missing account ID", ErrInvalidJob)
	}
	return q.enqueue(&Job{
		Kind:      KindAccount,
		AccountID: accountID,
	})
}

// EnqueueMeetingJob queues a single serialized operation. The payload is
// validated up front so a malformed operation is rejected at enqueue time,
// not discovered by a worker.
func (q *Queue) EnqueueMeetingJob(payload []byte) (string, error) {
	op, err := sync.DeserializeOperation(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	return q.enqueue(&Job{
		Kind:      KindMeeting,
		AccountID: op.CalendarAccountID,
		Key:       op.Key(),
		Payload:   payload,
	})
}

// CancelPendingMeetingJobs cancels queued-but-not-started meeting jobs for
// the operation key and returns how many were cancelled. Running jobs are
// not touched.
func (q *Queue) CancelPendingMeetingJobs(operationKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cancelled := 0
	remaining := q.pending[:0]
	for _, job := range q.pending {
		if job.Kind == KindMeeting && job.Key == operationKey && job.State == StatePending {
			job.State = StateCancelled
			delete(q.jobs, job.ID)
			cancelled++
			continue
		}
		remaining = append(remaining, job)
	}
	q.pending = remaining

	return cancelled
}

// PendingCount returns the number of queued-but-not-started jobs.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) enqueue(job *Job) (string, error) {
	q.mu.Lock()
	if q.ctx.Err() != nil {
		q.mu.Unlock()
		return "", ErrQueueStopped
	}
	job.ID = uuid.New().String()
	job.State = StatePending
	job.CreatedAt = time.Now().UTC()
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return job.ID, nil
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		job := q.next()
		if job != nil {
			q.run(job)
			continue
		}

		select {
		case <-q.ctx.Done():
			return
		case <-q.notify:
		}
	}
}

// next pops the oldest pending job and marks it running.
func (q *Queue) next() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	job.State = StateRunning
	return job
}

func (q *Queue) run(job *Job) {
	defer func() {
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
	}()

	switch job.Kind {
	case KindAccount:
		if err := q.executor.RunAccountJob(q.ctx, job.AccountID); err != nil {
			job.State = StateFailed
			log.Printf("jobs: account job %s failed: %v", job.ID, err)
			return
		}
		job.State = StateDone
	case KindMeeting:
		if !q.executor.RunMeetingJob(q.ctx, job.Payload) {
			job.State = StateFailed
			log.Printf("jobs: meeting job %s failed (key %s)", job.ID, job.Key)
			return
		}
		job.State = StateDone
	}
}
