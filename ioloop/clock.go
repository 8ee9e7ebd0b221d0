// File: ioloop/clock.go
//
// Grounded on the teacher's api.Scheduler.Now() naming; generalized into
// a standalone seam so tests can inject a fake clock instead of racing
// wall time.
package ioloop

import "time"

// Clock abstracts the passage of time for a Loop. NowNanos must be
// monotonic; it is read once per turn to compute the poll timeout and to
// decide which timer tasks are due.
type Clock interface {
	NowNanos() int64
}

// SystemClock is the default Clock, backed by the monotonic reading
// time.Now() carries internally.
type SystemClock struct{}

func (SystemClock) NowNanos() int64 { return time.Now().UnixNano() }
