package iotask

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInboxMPMC(t *testing.T) {
	ib := NewInbox(1024)
	producers := 10
	itemsPerProducer := 2000
	var wg sync.WaitGroup
	var sentSum int64
	var receivedSum int64
	var receivedCount int64
	total := int64(producers * itemsPerProducer)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				task := NewTask(nil, nil)
				task.RunAtNanos = 1
				task.UserData = val
				for !ib.Push(task) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		for atomic.LoadInt64(&receivedCount) < total {
			task, ok := ib.Pop()
			if !ok {
				runtime.Gosched()
				continue
			}
			atomic.AddInt64(&receivedSum, int64(task.UserData.(int)))
			atomic.AddInt64(&receivedCount, 1)
		}
		close(done)
	}()

	select {
	case <-done:
		wg.Wait()
		if sentSum != receivedSum {
			t.Fatalf("checksum mismatch: sent %d received %d", sentSum, receivedSum)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout draining inbox, got %d/%d", atomic.LoadInt64(&receivedCount), total)
	}
}

func TestInboxPushFalseWhenFull(t *testing.T) {
	ib := NewInbox(2)
	if !ib.Push(NewTask(nil, nil)) {
		t.Fatal("first push should succeed")
	}
	if !ib.Push(NewTask(nil, nil)) {
		t.Fatal("second push should succeed")
	}
	if ib.Push(NewTask(nil, nil)) {
		t.Fatal("inbox should report full, caller retains ownership")
	}
}

func TestInboxDrainIntoPreservesOrder(t *testing.T) {
	ib := NewInbox(16)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		task := NewTask(func(Status) { order = append(order, i) }, nil)
		ib.Push(task)
	}
	sched := NewScheduler()
	ib.DrainInto(sched)
	sched.RunDue(0)
	for i, v := range order {
		if v != i {
			t.Fatalf("drain did not preserve fifo order: %v", order)
		}
	}
}
