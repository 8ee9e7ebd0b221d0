// File: ioloop/loop.go
//
// Grounded on the teacher's core/concurrency/eventloop.go (single owned
// goroutine, Run/Stop lifecycle, atomic running flag) generalized from a
// generic Event-batching loop into the single-threaded cooperative
// reactor of the spec: a Reactor poll step plus an iotask.Scheduler,
// joined by a cross-thread iotask.Inbox, per the six-step turn
// algorithm ("drain inbox, compute timeout, poll, dispatch fds, run due
// tasks, check stop").
package ioloop

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelio/ioflow/internal/iolog"
	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/iotask"
	"github.com/kestrelio/ioflow/reactor"
)

var log = iolog.New("ioloop")

var (
	errEventLoopNoReactor         = fmt.Errorf("ioloop: %w", ioerr.EventLoopSubscribeFailed)
	errEventLoopAlreadySubscribed = fmt.Errorf("ioloop: %w", ioerr.EventLoopAlreadySubscribed)
)

// sleepCapped is the no-reactor fallback's wait primitive; it never
// blocks longer than the computed timeout, preserving the same "check
// inbox/stop promptly" behavior a Wake-backed Poll gives the platform
// reactors.
func sleepCapped(timeoutMs int) {
	time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
}

// Options configures a Loop at construction time.
type Options struct {
	Clock Clock
	// InboxCapacity bounds the cross-thread task ring buffer; rounded up
	// to the next power of two by iotask.NewInbox.
	InboxCapacity int
}

// subscription tracks one fd's interest so Loop can own callback
// dispatch above the raw reactor.Callback signature (the reactor layer
// knows nothing about channels or active-count bookkeeping).
type subscription struct {
	cb func(events reactor.EventType)
}

// Loop is a single-threaded cooperative event loop: one owned goroutine
// runs Reactor.Poll, fd callback dispatch, and iotask.Scheduler.RunDue in
// a tight turn, exactly as described by the Thread model in §4.2. Post,
// Stop, Join and IncrementActiveChannels may be called from any
// goroutine; ScheduleNow, ScheduleFuture, Cancel, Subscribe,
// ModifySubscription and Unsubscribe are only valid on-thread.
type Loop struct {
	clock Clock
	rx    reactor.Reactor // nil if no platform reactor is available
	sched *iotask.Scheduler
	inbox *iotask.Inbox

	mu   sync.Mutex
	subs map[uintptr]*subscription

	activeChannels atomic.Int64

	onThreadFlag atomic.Bool

	stopRequested atomic.Bool
	running       atomic.Bool
	doneCh        chan struct{}
}

// New constructs a Loop. It does not start a thread; call Run for that.
// If the platform has no Reactor implementation (reactor.New fails), the
// Loop still runs — Subscribe always fails with
// ioerr.EventLoopSubscribeFailed — so callers needing fd-driven I/O
// should check SupportsIO and fall back to an off-loop transport.
func New(opts Options) *Loop {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	capacity := opts.InboxCapacity
	if capacity <= 0 {
		capacity = 1024
	}
	rx, err := reactor.New()
	if err != nil {
		log.Printf("no platform reactor available, fd subscriptions disabled: %v", err)
		rx = nil
	}
	return &Loop{
		clock:  opts.Clock,
		rx:     rx,
		sched:  iotask.NewScheduler(),
		inbox:  iotask.NewInbox(capacity),
		subs:   make(map[uintptr]*subscription),
		doneCh: make(chan struct{}),
	}
}

// SupportsIO reports whether this Loop has a working platform reactor.
// A Loop without one can still run tasks; it just cannot Subscribe to fds.
func (l *Loop) SupportsIO() bool { return l.rx != nil }

// Clock exposes the loop's time source, e.g. for computing negotiation
// timeout deadlines relative to NowNanos().
func (l *Loop) Clock() Clock { return l.clock }

// OnThread reports whether the calling goroutine is the loop's own.
// Handlers use this to decide whether to enqueue a task directly
// (ScheduleNow/ScheduleFuture would be unsafe off-thread) or submit it
// through the cross-thread inbox (Post).
func (l *Loop) OnThread() bool { return l.onThreadFlag.Load() }

// ScheduleNow enqueues t to run on this turn's immediate (FIFO) lane.
// Must be called on-thread; off-thread callers must use Post.
func (l *Loop) ScheduleNow(t *iotask.Task) { l.sched.ScheduleNow(t) }

// ScheduleFuture enqueues t to run at runAtNanos. Must be called
// on-thread.
func (l *Loop) ScheduleFuture(t *iotask.Task, runAtNanos int64) {
	l.sched.ScheduleFuture(t, runAtNanos)
}

// Cancel marks t canceled; safe only on-thread, matching the scheduler's
// own contract.
func (l *Loop) Cancel(t *iotask.Task) { l.sched.Cancel(t) }

// Post submits t for execution on this loop from any thread. If called
// on-thread it takes the fast path directly into the scheduler,
// matching §4.2 ("if the caller is already on-thread, the task is
// enqueued into the local scheduler directly"); otherwise it goes
// through the cross-thread inbox and the loop is woken.
func (l *Loop) Post(t *iotask.Task) bool {
	if l.OnThread() {
		if t.RunAtNanos == 0 {
			l.sched.ScheduleNow(t)
		} else {
			l.sched.ScheduleFuture(t, t.RunAtNanos)
		}
		return true
	}
	if !l.inbox.Push(t) {
		return false
	}
	if l.rx != nil {
		_ = l.rx.Wake()
	}
	return true
}

// IncrementActiveChannels adjusts the loop's notion of how many channels
// still depend on it, used by the stop condition in step 6 of the turn
// algorithm ("if stopping and no channels remain active, exit").
func (l *Loop) IncrementActiveChannels(delta int64) {
	l.activeChannels.Add(delta)
}

// Subscribe registers fd for the given readiness mask; cb is invoked
// on-thread whenever the reactor reports one of those events. Subscribe
// itself must be called on-thread (channel setup always runs there).
func (l *Loop) Subscribe(fd uintptr, events reactor.EventType, cb func(reactor.EventType)) error {
	if l.rx == nil {
		return errEventLoopNoReactor
	}
	l.mu.Lock()
	if _, exists := l.subs[fd]; exists {
		l.mu.Unlock()
		return errEventLoopAlreadySubscribed
	}
	sub := &subscription{cb: cb}
	l.subs[fd] = sub
	l.mu.Unlock()

	err := l.rx.Register(fd, events, func(firedFd uintptr, ev reactor.EventType) {
		l.mu.Lock()
		s, ok := l.subs[firedFd]
		l.mu.Unlock()
		if ok {
			s.cb(ev)
		}
	})
	if err != nil {
		l.mu.Lock()
		delete(l.subs, fd)
		l.mu.Unlock()
		return err
	}
	return nil
}

// ModifySubscription changes the watched mask for an already-subscribed fd.
func (l *Loop) ModifySubscription(fd uintptr, events reactor.EventType) error {
	if l.rx == nil {
		return errEventLoopNoReactor
	}
	return l.rx.Modify(fd, events)
}

// Unsubscribe removes fd's subscription. Idempotent, matching §4.2.
func (l *Loop) Unsubscribe(fd uintptr) error {
	l.mu.Lock()
	delete(l.subs, fd)
	l.mu.Unlock()
	if l.rx == nil {
		return nil
	}
	return l.rx.Unregister(fd)
}

// Run runs the loop on the calling goroutine, which becomes the loop's
// own, and returns once Stop completes it — callers that want a
// fire-and-forget loop should invoke Run in its own goroutine and Join
// separately.
func (l *Loop) Run() {
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	l.onThreadFlag.Store(true)
	defer func() {
		l.onThreadFlag.Store(false)
		close(l.doneCh)
	}()

	for {
		l.inbox.DrainInto(l.sched)

		if l.stopRequested.Load() && l.activeChannels.Load() == 0 && !l.sched.Pending() {
			return
		}

		timeoutMs := l.computeTimeoutMs()
		if l.rx != nil {
			if _, err := l.rx.Poll(timeoutMs); err != nil {
				log.Printf("reactor poll error: %v", err)
			}
		} else if timeoutMs != 0 {
			// No platform reactor: sleep-and-retry is the only way to
			// avoid busy-spinning while still observing new tasks
			// promptly via the inbox's own wakeup-free polling. Nothing
			// can cut the sleep short, so it is capped at 1ms.
			if timeoutMs < 0 || timeoutMs > 1 {
				timeoutMs = 1
			}
			sleepCapped(timeoutMs)
		}

		l.sched.RunDue(l.clock.NowNanos())
	}
}

// computeTimeoutMs implements step 2 of the turn algorithm.
func (l *Loop) computeTimeoutMs() int {
	if l.inbox.HasPending() {
		return 0
	}
	due := l.sched.NextDueNanos()
	if due == iotask.MaxDueNanos {
		if l.stopRequested.Load() {
			return 0
		}
		return -1 // block indefinitely
	}
	now := l.clock.NowNanos()
	if due <= now {
		return 0
	}
	ms := (due - now) / 1_000_000
	if ms <= 0 {
		return 0
	}
	const maxPollMs = 1000
	if ms > maxPollMs {
		ms = maxPollMs // re-check stop/inbox periodically even with a far timer
	}
	return int(ms)
}

// Stop requests termination; thread-safe, matching §4.2. It does not
// block — call Join to wait for the owned goroutine to exit.
func (l *Loop) Stop() {
	l.stopRequested.Store(true)
	if l.rx != nil {
		_ = l.rx.Wake()
	}
}

// Join blocks until the owned goroutine started by Run has exited,
// including a Run launched with go that has not started yet.
func (l *Loop) Join() {
	<-l.doneCh
}

// Close releases the underlying reactor, if any. Call after Join.
func (l *Loop) Close() error {
	if l.rx == nil {
		return nil
	}
	return l.rx.Close()
}
