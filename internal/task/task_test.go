package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPipelineRunsInSubmissionOrder(t *testing.T) {
	p := New()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		p.SubmitAsync(func() error { order = append(order, i); return nil }, nil)
	}
	if n := p.Run(); n != 5 {
		t.Fatalf("Run() = %d, want 5", n)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestRunHonorsBatchBudget(t *testing.T) {
	p := New()
	p.Budget = 2
	var ran int
	for i := 0; i < 5; i++ {
		p.SubmitAsync(func() error { ran++; return nil }, nil)
	}
	if n := p.Run(); n != 2 {
		t.Fatalf("first Run() = %d, want 2", n)
	}
	if p.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", p.Pending())
	}
	p.Run()
	p.Run()
	if ran != 5 {
		t.Fatalf("ran = %d, want 5 after three budgeted batches", ran)
	}
}

func TestSubmitSyncBlocksUntilComplete(t *testing.T) {
	p := New()
	var ran bool
	resultCh := make(chan error, 1)

	go func() {
		resultCh <- p.SubmitSync(context.Background(), func() error {
			ran = true
			return nil
		})
	}()

	// give the submitting goroutine a moment to enqueue
	time.Sleep(10 * time.Millisecond)
	if p.Run() != 1 {
		t.Fatal("expected exactly one queued task")
	}
	if err := <-resultCh; err != nil {
		t.Fatalf("SubmitSync returned error: %v", err)
	}
	if !ran {
		t.Fatal("task should have run before SubmitSync returned")
	}
}

func TestSubmitSyncTimesOut(t *testing.T) {
	p := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.SubmitSync(ctx, func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if p.Pending() != 1 {
		t.Fatal("a timed-out task should remain scheduled, not be removed")
	}
}

func TestFailedTaskDoesNotBlockSubsequent(t *testing.T) {
	p := New()
	wantErr := errors.New("boom")
	var secondRan bool

	p.SubmitAsync(func() error { return wantErr }, nil)
	p.SubmitAsync(func() error { secondRan = true; return nil }, nil)

	p.Run()
	if !secondRan {
		t.Fatal("second task should run even though the first failed")
	}
}

func TestSubmitAsyncInvokesCompletionHandler(t *testing.T) {
	p := New()
	var mu sync.Mutex
	var gotErr error
	var called bool

	wantErr := errors.New("nope")
	p.SubmitAsync(func() error { return wantErr }, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		called = true
		gotErr = err
	})
	p.Run()

	mu.Lock()
	defer mu.Unlock()
	if !called {
		t.Fatal("completion handler should have been invoked")
	}
	if !errors.Is(gotErr, wantErr) {
		t.Fatalf("completion handler got %v, want %v", gotErr, wantErr)
	}
}

func TestInlineSchedulerTickRunsPending(t *testing.T) {
	p := New()
	s := NewInlineScheduler()
	s.Start(p)
	defer s.Stop()

	var ran bool
	p.SubmitAsync(func() error { ran = true; return nil }, nil)
	if ran {
		t.Fatal("task should not run before Tick")
	}
	s.Tick()
	if !ran {
		t.Fatal("Tick should have run the pending task")
	}
}

func TestTimerSchedulerRunsOnTicker(t *testing.T) {
	p := New()
	s := NewTimerScheduler(5 * time.Millisecond)
	s.Start(p)
	defer s.Stop()

	done := make(chan struct{})
	p.SubmitAsync(func() error { close(done); return nil }, nil)

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timer scheduler never ran the pending task")
	}
}
