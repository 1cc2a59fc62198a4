// Package jobqueue implements the Job Queue Actor: a single-slot FIFO
// scheduler that runs at most one job at a time, ported from the
// queue/runner actor split in gateway/src/jobs/queue.rs.
package jobqueue

import (
	"container/list"
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/panoptikon-gw/internal/continuousscan"
)

// JobKind names the job types the queue schedules, ported from JobType.
type JobKind string

const (
	KindDataExtraction  JobKind = "data_extraction"
	KindDataDeletion    JobKind = "data_deletion"
	KindFolderRescan    JobKind = "folder_rescan"
	KindFolderUpdate    JobKind = "folder_update"
	KindJobDataDeletion JobKind = "job_data_deletion"
)

// JobParams carries the per-kind arguments a Runner needs, deliberately
// loose (a map) since each kind interprets a different subset, mirroring
// the original's per-variant metadata field.
type JobParams struct {
	DBKey    string
	Metadata map[string]string
}

// Job is one queued or running unit of work.
type Job struct {
	ID     string
	Kind   JobKind
	Params JobParams
}

// JobState is a job's position in the state machine: queued and running are
// transient, the other three are terminal. A terminal job stays reportable
// through ListStatus instead of simply vanishing once it stops running.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// JobStatus is the API-facing view of a Job, adding whether it is currently
// running — the Go rendering of JobModel in the original.
type JobStatus struct {
	ID      string
	Kind    JobKind
	DBKey   string
	Running bool
	State   JobState
}

// maxFinishedJobs bounds the in-memory record of terminal jobs ListStatus
// still reports, so a long-running process doesn't accumulate history
// forever.
const maxFinishedJobs = 200

// Runner executes one job at a time. Implementations live outside this
// package (e.g. wiring filescan.Scan for FolderRescan); the queue only
// needs to start and cancel them.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// Queue is the Job Queue Actor. One background goroutine drains the FIFO,
// running jobs one at a time and coordinating with the Continuous-Scan
// Supervisor's pause/resume contract around FolderRescan/FolderUpdate jobs.
type Queue struct {
	runner  Runner
	scanSup *continuousscan.Supervisor
	logger  *log.Logger

	mu        sync.Mutex
	fifo      *list.List // of *Job
	byID      map[string]*list.Element
	running   *Job
	runCancel context.CancelFunc
	finished  *list.List // of JobStatus, most recent last, bounded to maxFinishedJobs

	work chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New constructs a Queue and starts its runner goroutine.
func New(runner Runner, scanSup *continuousscan.Supervisor, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.Default()
	}
	q := &Queue{
		runner:   runner,
		scanSup:  scanSup,
		logger:   logger,
		fifo:     list.New(),
		byID:     make(map[string]*list.Element),
		finished: list.New(),
		work:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go q.loop()
	return q
}

// Enqueue appends a job to the FIFO and returns its id. If the runner is
// idle, it starts immediately.
func (q *Queue) Enqueue(kind JobKind, params JobParams) string {
	q.mu.Lock()
	job := &Job{ID: uuid.NewString(), Kind: kind, Params: params}
	elem := q.fifo.PushBack(job)
	q.byID[job.ID] = elem
	q.mu.Unlock()

	q.nudge()
	return job.ID
}

// CancelQueued removes a queued job, or cancels it if it is currently
// running. Returns false if no job with that id exists.
func (q *Queue) CancelQueued(id string) bool {
	q.mu.Lock()
	if q.running != nil && q.running.ID == id {
		cancel := q.runCancel
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return true
	}

	elem, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	job := elem.Value.(*Job)
	q.fifo.Remove(elem)
	delete(q.byID, id)
	q.recordFinishedLocked(JobStatus{ID: job.ID, Kind: job.Kind, DBKey: job.Params.DBKey, State: StateCancelled})
	q.mu.Unlock()
	return true
}

// ListStatus returns the running job first (if any), then queued jobs in
// FIFO order, then terminal jobs most-recent-last, matching GetQueueStatus
// in the original plus the bounded completed-jobs record.
func (q *Queue) ListStatus() []JobStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []JobStatus
	if q.running != nil {
		out = append(out, JobStatus{ID: q.running.ID, Kind: q.running.Kind, DBKey: q.running.Params.DBKey, Running: true, State: StateRunning})
	}
	for e := q.fifo.Front(); e != nil; e = e.Next() {
		j := e.Value.(*Job)
		out = append(out, JobStatus{ID: j.ID, Kind: j.Kind, DBKey: j.Params.DBKey, Running: false, State: StateQueued})
	}
	for e := q.finished.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(JobStatus))
	}
	return out
}

// recordFinishedLocked appends a terminal job status, trimming the oldest
// entry once the bound is exceeded. Callers must hold q.mu.
func (q *Queue) recordFinishedLocked(s JobStatus) {
	q.finished.PushBack(s)
	for q.finished.Len() > maxFinishedJobs {
		q.finished.Remove(q.finished.Front())
	}
}

// Stop cancels any running job and stops the runner goroutine.
func (q *Queue) Stop() {
	// The loop goroutine is busy inside runNext while a job runs, so the
	// running job is cancelled here rather than by the loop's stop case.
	q.mu.Lock()
	if q.runCancel != nil {
		q.runCancel()
	}
	q.mu.Unlock()
	close(q.stop)
	<-q.done
}

func (q *Queue) nudge() {
	select {
	case q.work <- struct{}{}:
	default:
	}
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			q.mu.Lock()
			if q.runCancel != nil {
				q.runCancel()
			}
			q.mu.Unlock()
			return
		case <-q.work:
			q.runNext()
		}
	}
}

func (q *Queue) runNext() {
	q.mu.Lock()
	if q.running != nil {
		q.mu.Unlock()
		return
	}
	elem := q.fifo.Front()
	if elem == nil {
		q.mu.Unlock()
		return
	}
	job := elem.Value.(*Job)
	q.fifo.Remove(elem)
	delete(q.byID, job.ID)
	q.running = job
	ctx, cancel := context.WithCancel(context.Background())
	q.runCancel = cancel
	q.mu.Unlock()

	pausesScan := job.Kind == KindFolderRescan || job.Kind == KindFolderUpdate
	if pausesScan && q.scanSup != nil {
		if err := q.scanSup.PauseForJob(ctx, job.Params.DBKey); err != nil {
			q.logger.Printf("jobqueue: pause for job %s failed: %v", job.ID, err)
		}
	}

	err := q.runner.Run(ctx, *job)
	state := StateCompleted
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		state = StateCancelled
	case err != nil:
		state = StateFailed
		q.logger.Printf("jobqueue: job %s (%s) failed: %v", job.ID, job.Kind, err)
	}

	if pausesScan && q.scanSup != nil {
		q.scanSup.ResumeAfterJob(job.Params.DBKey)
	}

	q.mu.Lock()
	q.running = nil
	q.runCancel = nil
	q.recordFinishedLocked(JobStatus{ID: job.ID, Kind: job.Kind, DBKey: job.Params.DBKey, State: state})
	hasMore := q.fifo.Len() > 0
	q.mu.Unlock()

	if hasMore {
		q.nudge()
	}
}
