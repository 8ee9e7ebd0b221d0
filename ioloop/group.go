// File: ioloop/group.go
//
// Grounded on the teacher's internal/concurrency/executor.go round-robin
// index ("idx := totalTasks % numWorkers") generalized from a
// task-executor's worker pool to an event-loop-group: a fixed set of
// Loop instances, each with its own goroutine, selected round-robin by
// the bootstrap layer when it needs to place a new channel.
package ioloop

import (
	"runtime"
	"sync/atomic"
)

// Group owns a fixed-size pool of Loops, each running on its own
// goroutine, and hands them out round-robin to callers (the bootstrap
// layer, per §4.6 "pick an event loop (round-robin from the group)").
type Group struct {
	loops   []*Loop
	nextIdx atomic.Uint64
}

// NewGroup constructs and starts n loops. If n <= 0, it defaults to
// runtime.NumCPU(), mirroring the teacher's NewExecutor default.
func NewGroup(n int, opts Options) *Group {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	g := &Group{loops: make([]*Loop, n)}
	for i := 0; i < n; i++ {
		l := New(opts)
		g.loops[i] = l
		go l.Run()
	}
	return g
}

// Next returns the next Loop in round-robin order.
func (g *Group) Next() *Loop {
	idx := g.nextIdx.Add(1) - 1
	return g.loops[idx%uint64(len(g.loops))]
}

// Loops returns the group's loops in a fresh slice; callers must not
// mutate the returned slice's backing loops outside their own thread.
func (g *Group) Loops() []*Loop {
	out := make([]*Loop, len(g.loops))
	copy(out, g.loops)
	return out
}

// Len reports how many loops the group owns.
func (g *Group) Len() int { return len(g.loops) }

// Stop requests every loop to stop; it does not block.
func (g *Group) Stop() {
	for _, l := range g.loops {
		l.Stop()
	}
}

// Join blocks until every loop's goroutine has exited.
func (g *Group) Join() {
	for _, l := range g.loops {
		l.Join()
	}
}

// Close closes every loop's reactor. Call after Join.
func (g *Group) Close() error {
	var firstErr error
	for _, l := range g.loops {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
