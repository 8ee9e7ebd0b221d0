package iotask

import "testing"

func TestSchedulerImmediateTasksRunFIFO(t *testing.T) {
	s := NewScheduler()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.ScheduleNow(NewTask(func(Status) { order = append(order, i) }, nil))
	}
	s.RunDue(0)
	for i, v := range order {
		if v != i {
			t.Fatalf("fifo order violated: %v", order)
		}
	}
}

func TestSchedulerImmediatePrecedesTimer(t *testing.T) {
	s := NewScheduler()
	var order []string
	s.ScheduleFuture(NewTask(func(Status) { order = append(order, "timer") }, nil), 0)
	s.ScheduleNow(NewTask(func(Status) { order = append(order, "now") }, nil))
	s.RunDue(0)
	if len(order) != 2 || order[0] != "now" || order[1] != "timer" {
		t.Fatalf("expected now before timer, got %v", order)
	}
}

func TestSchedulerPastTimerRunsOnNextTurn(t *testing.T) {
	s := NewScheduler()
	ran := false
	s.ScheduleFuture(NewTask(func(Status) { ran = true }, nil), -1000)
	s.RunDue(100)
	if !ran {
		t.Fatal("task scheduled into the past should run")
	}
}

func TestSchedulerCancelStillDispatches(t *testing.T) {
	s := NewScheduler()
	task := NewTask(nil, nil)
	var gotStatus Status
	task.Callback = func(st Status) { gotStatus = st }
	s.ScheduleFuture(task, 1_000_000)
	s.Cancel(task)
	s.RunDue(2_000_000)
	if gotStatus != StatusCanceled {
		t.Fatalf("expected canceled status, got %v", gotStatus)
	}
}

func TestSchedulerHeapOrdersByTime(t *testing.T) {
	s := NewScheduler()
	var order []int64
	times := []int64{300, 100, 200}
	for _, ts := range times {
		ts := ts
		s.ScheduleFuture(NewTask(func(Status) { order = append(order, ts) }, nil), ts)
	}
	s.RunDue(1000)
	want := []int64{100, 200, 300}
	for i, v := range order {
		if v != want[i] {
			t.Fatalf("expected time order %v, got %v", want, order)
		}
	}
}

func TestSchedulerNextDueNanos(t *testing.T) {
	s := NewScheduler()
	if s.NextDueNanos() != MaxDueNanos {
		t.Fatal("empty scheduler should report no due time")
	}
	s.ScheduleFuture(NewTask(func(Status) {}, nil), 500)
	if s.NextDueNanos() != 500 {
		t.Fatalf("expected 500, got %d", s.NextDueNanos())
	}
	s.ScheduleNow(NewTask(func(Status) {}, nil))
	if s.NextDueNanos() != 0 {
		t.Fatal("an immediate task pending should report 0")
	}
}
