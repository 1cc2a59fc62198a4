package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	mu      sync.Mutex
	ran     []string
	block   chan struct{}
	failIDs map[string]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{failIDs: make(map[string]bool)}
}

func (r *fakeRunner) Run(ctx context.Context, job Job) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.ran = append(r.ran, job.ID)
	fail := r.failIDs[job.ID]
	r.mu.Unlock()
	if fail {
		return context.DeadlineExceeded
	}
	return nil
}

func (r *fakeRunner) ranIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ran))
	copy(out, r.ran)
	return out
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEnqueueRunsJobsInFIFOOrder(t *testing.T) {
	runner := newFakeRunner()
	q := New(runner, nil, nil)
	defer q.Stop()

	id1 := q.Enqueue(KindDataExtraction, JobParams{DBKey: "lib"})
	id2 := q.Enqueue(KindDataDeletion, JobParams{DBKey: "lib"})

	waitUntil(t, time.Second, func() bool { return len(runner.ranIDs()) == 2 })

	ran := runner.ranIDs()
	if ran[0] != id1 || ran[1] != id2 {
		t.Fatalf("expected FIFO order %v/%v, got %v", id1, id2, ran)
	}
}

func statusByID(statuses []JobStatus, id string) (JobStatus, bool) {
	for _, s := range statuses {
		if s.ID == id {
			return s, true
		}
	}
	return JobStatus{}, false
}

func TestCompletedJobRemainsQueryableInATerminalState(t *testing.T) {
	runner := newFakeRunner()
	q := New(runner, nil, nil)
	defer q.Stop()

	id := q.Enqueue(KindDataExtraction, JobParams{DBKey: "lib"})
	waitUntil(t, time.Second, func() bool {
		s, ok := statusByID(q.ListStatus(), id)
		return ok && s.State == StateCompleted
	})

	s, ok := statusByID(q.ListStatus(), id)
	if !ok {
		t.Fatal("expected a completed job to still be reported by ListStatus")
	}
	if s.Running {
		t.Fatalf("expected a completed job to no longer be marked running, got %+v", s)
	}
}

func TestFailedJobIsReportedWithFailedState(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	q := New(runner, nil, nil)
	defer q.Stop()

	id := q.Enqueue(KindDataExtraction, JobParams{DBKey: "lib"})
	runner.mu.Lock()
	runner.failIDs[id] = true
	runner.mu.Unlock()
	close(runner.block)

	waitUntil(t, time.Second, func() bool {
		s, ok := statusByID(q.ListStatus(), id)
		return ok && s.State == StateFailed
	})
}

func TestListStatusReportsRunningJobFirst(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	q := New(runner, nil, nil)
	defer q.Stop()

	runningID := q.Enqueue(KindFolderRescan, JobParams{DBKey: "lib"})
	queuedID := q.Enqueue(KindDataExtraction, JobParams{DBKey: "lib"})

	waitUntil(t, time.Second, func() bool {
		statuses := q.ListStatus()
		return len(statuses) == 2 && statuses[0].Running
	})

	statuses := q.ListStatus()
	if statuses[0].ID != runningID || statuses[0].Running != true {
		t.Fatalf("expected running job first, got %+v", statuses)
	}
	if statuses[1].ID != queuedID || statuses[1].Running {
		t.Fatalf("expected queued job second, got %+v", statuses)
	}

	close(runner.block)
}

func TestCancelQueuedRemovesJobBeforeItRuns(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	q := New(runner, nil, nil)
	defer q.Stop()

	q.Enqueue(KindFolderRescan, JobParams{DBKey: "lib"})
	queuedID := q.Enqueue(KindDataExtraction, JobParams{DBKey: "lib"})

	if !q.CancelQueued(queuedID) {
		t.Fatal("expected cancel of a queued job to succeed")
	}

	s, ok := statusByID(q.ListStatus(), queuedID)
	if !ok {
		t.Fatal("expected a cancelled job to remain queryable in a terminal state, not vanish")
	}
	if s.State != StateCancelled || s.Running {
		t.Fatalf("expected cancelled terminal state, got %+v", s)
	}

	close(runner.block)
}

func TestCancelRunningJobCancelsItsContext(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	q := New(runner, nil, nil)
	defer q.Stop()

	id := q.Enqueue(KindDataExtraction, JobParams{DBKey: "lib"})
	waitUntil(t, time.Second, func() bool {
		statuses := q.ListStatus()
		return len(statuses) == 1 && statuses[0].Running
	})

	if !q.CancelQueued(id) {
		t.Fatal("expected cancel of the running job to succeed")
	}

	waitUntil(t, time.Second, func() bool {
		s, ok := statusByID(q.ListStatus(), id)
		return ok && !s.Running && s.State == StateCancelled
	})
}
