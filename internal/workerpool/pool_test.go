package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitAndDrain(t *testing.T) {
	p := New(2, 10)
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		ok := p.Submit(func() {
			count.Add(1)
		})
		if !ok {
			t.Fatalf("Submit %d failed", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
}

func TestSubmitAfterShutdownReturnsFalse(t *testing.T) {
	p := New(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if p.Submit(func() {}) {
		t.Fatal("Submit after Shutdown should return false")
	}
}

func TestQueueFullReturnsFalse(t *testing.T) {
	p := New(1, 1)
	// Block the worker
	blocker := make(chan struct{})
	p.Submit(func() { <-blocker })

	// Fill the queue
	time.Sleep(10 * time.Millisecond) // let worker pick up first task
	p.Submit(func() {})               // fills the queue (size 1)

	// Queue is full, so this is rejected
	if p.Submit(func() {}) {
		t.Fatal("Submit should return false when queue is full")
	}

	close(blocker)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}

func TestDrainWithoutStopAcceptingAutoStops(t *testing.T) {
	p := New(1, 10)
	p.Submit(func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Drain without StopAccepting stops accepting on its own
	p.Drain(ctx)

	if p.Submit(func() {}) {
		t.Fatal("Submit should return false after auto-stopped Drain")
	}
}

func TestDrainRespectsContextDeadline(t *testing.T) {
	p := New(1, 10)
	blocker := make(chan struct{})
	p.Submit(func() { <-blocker })

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.Shutdown(ctx)
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("Drain should have timed out in ~100ms, took %v", elapsed)
	}

	close(blocker) // cleanup
}

func TestSingleWorkerDrainDoesNotDeadlock(t *testing.T) {
	p := New(1, 10)
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		p.Submit(func() {
			time.Sleep(1 * time.Millisecond)
			count.Add(1)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := count.Load(); got != 5 {
		t.Fatalf("single-worker drain: count = %d, want 5", got)
	}
}

func TestPanicRecovery(t *testing.T) {
	p := New(1, 10)
	var count atomic.Int32

	// Submit a panicking task
	p.Submit(func() {
		panic("test panic")
	})
	// Submit a normal task after
	p.Submit(func() {
		count.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := count.Load(); got != 1 {
		t.Fatalf("task after panic: count = %d, want 1", got)
	}
}

func TestRunWaitsForAllTasks(t *testing.T) {
	p := New(2, 1)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Shutdown(ctx)
	}()

	var count atomic.Int32
	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = func() {
			time.Sleep(5 * time.Millisecond)
			count.Add(1)
		}
	}
	p.Run(tasks...)

	if got := count.Load(); got != 6 {
		t.Fatalf("count = %d, want 6 (rejected tasks run inline)", got)
	}
}

func TestRunAfterShutdownRunsInline(t *testing.T) {
	p := New(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	ran := false
	p.Run(func() { ran = true })
	if !ran {
		t.Fatal("task should run on the caller after shutdown")
	}
}
