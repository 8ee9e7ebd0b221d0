// File: iotask/scheduler.go
//
// Grounded on internal/concurrency/scheduler.go's intent (a min-heap of
// timer tasks) generalized into a working implementation, plus an
// eapache/queue ring buffer for the immediate (RunAtNanos == 0) FIFO
// lane per §3's "tasks with run_at_ns=0 run before any timer, FIFO
// among themselves".
package iotask

import (
	"container/heap"
	"math"

	"github.com/eapache/queue"
)

// Scheduler is a single-threaded (loop-affine) min-heap of timer tasks
// plus a FIFO ring buffer for immediate tasks. It is not safe for
// concurrent use; the event loop is the only caller, always from its own
// thread. Cross-thread submission goes through the Inbox instead.
type Scheduler struct {
	heap    taskHeap
	fifo    *queue.Queue
	nextSeq uint64
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{fifo: queue.New()}
}

// ScheduleNow enqueues t to run on the next turn, before any timer task,
// in FIFO order relative to other immediate tasks submitted this turn.
func (s *Scheduler) ScheduleNow(t *Task) {
	t.RunAtNanos = 0
	t.seq = s.nextSeq
	s.nextSeq++
	s.fifo.Add(t)
}

// ScheduleFuture enqueues t to run at runAtNanos. A runAtNanos at or
// before the scheduler's notion of "now" still waits for the next
// RunDue call, which treats it as due immediately.
func (s *Scheduler) ScheduleFuture(t *Task, runAtNanos int64) {
	t.RunAtNanos = runAtNanos
	t.seq = s.nextSeq
	s.nextSeq++
	heap.Push(&s.heap, t)
}

// Cancel marks t canceled. It is idempotent. The task still dispatches
// with StatusCanceled the next time the scheduler would have reached it
// — callers must not assume resources are released synchronously.
func (s *Scheduler) Cancel(t *Task) {
	t.canceled = true
}

// NextDueNanos returns 0 while an immediate task is pending, otherwise
// the soonest timer deadline, or MaxDueNanos if no task is pending at
// all (the event loop treats that as "poll with no timeout / idle").
func (s *Scheduler) NextDueNanos() int64 {
	if s.fifo.Length() > 0 {
		return 0
	}
	if s.heap.Len() == 0 {
		return MaxDueNanos
	}
	return s.heap[0].RunAtNanos
}

// MaxDueNanos is the sentinel NextDueNanos returns when no timer task is
// pending.
const MaxDueNanos = int64(math.MaxInt64)

// RunDue dispatches every task whose time has arrived: first all pending
// immediate tasks (FIFO), then every heap task with RunAtNanos <= now, in
// (time, insertion-order) order, matching §4.1.
func (s *Scheduler) RunDue(now int64) {
	for s.fifo.Length() > 0 {
		t := s.fifo.Peek().(*Task)
		s.fifo.Remove()
		s.dispatchOne(t)
	}
	for s.heap.Len() > 0 && s.heap[0].RunAtNanos <= now {
		t := heap.Pop(&s.heap).(*Task)
		s.dispatchOne(t)
	}
}

// Pending reports whether any task (immediate or timer) is outstanding;
// used by the event loop to decide whether it may exit while stopping.
func (s *Scheduler) Pending() bool {
	return s.fifo.Length() > 0 || s.heap.Len() > 0
}

func (s *Scheduler) dispatchOne(t *Task) {
	if t.canceled {
		t.dispatch(StatusCanceled)
		return
	}
	t.dispatch(StatusRunReady)
}

// taskHeap implements container/heap.Interface ordered by (RunAtNanos, seq).
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].RunAtNanos != h[j].RunAtNanos {
		return h[i].RunAtNanos < h[j].RunAtNanos
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	t.heapIndex = -1
	return t
}
