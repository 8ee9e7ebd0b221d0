package ioloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrelio/ioflow/iotask"
)

func TestLoopRunsImmediateTask(t *testing.T) {
	l := New(Options{})
	go l.Run()
	defer func() {
		l.Stop()
		l.Join()
		l.Close()
	}()

	done := make(chan iotask.Status, 1)
	task := iotask.NewTask(func(status iotask.Status) {
		done <- status
	}, nil)
	if !l.Post(task) {
		t.Fatal("Post failed")
	}

	select {
	case status := <-done:
		if status != iotask.StatusRunReady {
			t.Fatalf("expected StatusRunReady, got %v", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestLoopCrossThreadFIFO(t *testing.T) {
	l := New(Options{})
	go l.Run()
	defer func() {
		l.Stop()
		l.Join()
		l.Close()
	}()

	const n = 200
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		i := i
		task := iotask.NewTask(func(iotask.Status) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}, nil)
		if !l.Post(task) {
			t.Fatalf("Post failed at %d", i)
		}
	}

	waitOrTimeout(t, &wg, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != n {
		t.Fatalf("expected %d tasks run, got %d", n, len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("FIFO order violated at position %d: got %d", i, v)
		}
	}
}

func TestLoopScheduleFutureRunsAfterDelay(t *testing.T) {
	l := New(Options{})
	go l.Run()
	defer func() {
		l.Stop()
		l.Join()
		l.Close()
	}()

	var ran atomic.Bool
	done := make(chan struct{})
	task := iotask.NewTask(func(status iotask.Status) {
		ran.Store(true)
		close(done)
	}, nil)

	onThread := iotask.NewTask(func(iotask.Status) {
		l.ScheduleFuture(task, l.Clock().NowNanos()+int64(30*time.Millisecond))
	}, nil)
	l.Post(onThread)

	select {
	case <-done:
		if !ran.Load() {
			t.Fatal("task reported done but did not mark ran")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("future task never ran")
	}
}

func TestLoopStopDrainsPendingTasksFirst(t *testing.T) {
	l := New(Options{})
	go l.Run()

	var ran atomic.Bool
	task := iotask.NewTask(func(iotask.Status) {
		ran.Store(true)
	}, nil)
	l.Post(task)
	l.Stop()
	l.Join()
	l.Close()

	if !ran.Load() {
		t.Fatal("pending task should have run before the loop exited")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for tasks")
	}
}
