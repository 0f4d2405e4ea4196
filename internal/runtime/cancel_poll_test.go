package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/training-core/pkg/types"
)

// fakeStatusReader lets pollForCancellation be driven without a live
// JobStore/Postgres connection: Status returns the next queued value on
// each call, repeating the last one once the queue is drained.
type fakeStatusReader struct {
	mu       sync.Mutex
	statuses []types.JobStatus
	calls    int
}

func (f *fakeStatusReader) Status(ctx context.Context, jobID string) (types.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.calls++
	return f.statuses[idx], nil
}

func TestPollForCancellationFiresOnCancelledStatus(t *testing.T) {
	reader := &fakeStatusReader{statuses: []types.JobStatus{
		types.JobRunning, types.JobRunning, types.JobCancelled,
	}}

	var mu sync.Mutex
	fired := 0
	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	go pollForCancellation(ctx, reader, "job-1", 5*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pollForCancellation never observed CANCELLED")
	}

	if elapsed := time.Since(start); elapsed > 30*time.Second {
		t.Fatalf("cancellation liveness exceeded 30s bound: %s", elapsed)
	}
	mu.Lock()
	got := fired
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected onCancelled to fire exactly once, got %d", got)
	}
}

func TestPollForCancellationStopsOnContextDone(t *testing.T) {
	reader := &fakeStatusReader{statuses: []types.JobStatus{types.JobRunning}}

	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{}, 1)
	returned := make(chan struct{})
	go func() {
		pollForCancellation(ctx, reader, "job-1", 5*time.Millisecond, func() {
			fired <- struct{}{}
		})
		close(returned)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-returned:
	case <-time.After(1 * time.Second):
		t.Fatal("pollForCancellation did not return after ctx cancellation")
	}
	select {
	case <-fired:
		t.Fatal("onCancelled should never fire when the job was never CANCELLED")
	default:
	}
}

func TestPollForCancellationIgnoresTransientStatusErrors(t *testing.T) {
	reader := &erroringThenCancelledReader{failCount: 2}

	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go pollForCancellation(ctx, reader, "job-1", 5*time.Millisecond, func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("pollForCancellation gave up after a transient Status error")
	}
}

type erroringThenCancelledReader struct {
	mu        sync.Mutex
	failCount int
	calls     int
}

func (r *erroringThenCancelledReader) Status(ctx context.Context, jobID string) (types.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failCount {
		return "", context.DeadlineExceeded
	}
	return types.JobCancelled, nil
}
