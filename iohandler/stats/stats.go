// File: iohandler/stats/stats.go
//
// The §4.7 statistics observer: cumulative byte counters and TLS
// negotiation status for one channel, flushed to a caller-supplied
// callback on a recurring task scheduled on the channel's own loop.
// Grounded on control/metrics.go's MetricsRegistry (a mutex-guarded
// map with Set/GetSnapshot), narrowed from an arbitrary string-keyed
// map into the three fixed fields §4.7 names and given a scheduled
// flush instead of an on-demand GetSnapshot-only API.
package stats

import (
	"sync"
	"time"

	"github.com/kestrelio/ioflow/ioloop"
	"github.com/kestrelio/ioflow/iotask"
)

// TLSNegotiationStatus mirrors §4.7's TLS negotiation status enum.
type TLSNegotiationStatus int

const (
	TLSStatusNone TLSNegotiationStatus = iota
	TLSStatusNegotiating
	TLSStatusSuccess
	TLSStatusFailure
)

func (s TLSNegotiationStatus) String() string {
	switch s {
	case TLSStatusNegotiating:
		return "negotiating"
	case TLSStatusSuccess:
		return "success"
	case TLSStatusFailure:
		return "failure"
	default:
		return "none"
	}
}

// Snapshot is the periodic flush payload §4.7 specifies.
type Snapshot struct {
	BytesRead    uint64
	BytesWritten uint64
	TLSState     TLSNegotiationStatus
}

// Recorder is the write side other handlers in the channel's slot chain
// report through. iohandler/socket reports bytes actually moved across
// the OS socket; iohandler/tls reports its own negotiation phase — the
// plaintext/ciphertext size asymmetry means only one of them should own
// byte counting, and the socket handler is the one actually touching
// the wire.
type Recorder interface {
	RecordBytesRead(n int)
	RecordBytesWritten(n int)
	RecordTLSStatus(status TLSNegotiationStatus)
}

// Handler owns one channel's cumulative counters and periodic flush.
// It is not itself an iochannel.Handler — §4.7 describes it as "a
// handler-side observer attached per channel", not a slot in the
// pipeline, so other handlers hold a Recorder reference to it instead
// of messages flowing through it.
type Handler struct {
	loop     *ioloop.Loop
	interval time.Duration
	onFlush  func(Snapshot)

	mu           sync.Mutex
	bytesRead    uint64
	bytesWritten uint64
	tlsState     TLSNegotiationStatus
	task         *iotask.Task
	stopped      bool
}

// New constructs a Handler and schedules its first flush. Per §4.7
// ("settable only from the channel's loop before first I/O"), New must
// be called on the channel's loop thread — the natural place is inside
// the channel's creation_callback, before any handler that will call
// SetRecorder on it is attached.
func New(loop *ioloop.Loop, interval time.Duration, onFlush func(Snapshot)) *Handler {
	h := &Handler{loop: loop, interval: interval, onFlush: onFlush}
	h.scheduleNext()
	return h
}

func (h *Handler) scheduleNext() {
	task := iotask.NewTask(func(status iotask.Status) {
		if status == iotask.StatusCanceled {
			return
		}
		h.flush()
		h.mu.Lock()
		stopped := h.stopped
		h.mu.Unlock()
		if !stopped {
			h.scheduleNext()
		}
	}, nil)
	h.mu.Lock()
	h.task = task
	h.mu.Unlock()
	h.loop.ScheduleFuture(task, h.loop.Clock().NowNanos()+int64(h.interval))
}

func (h *Handler) flush() {
	snap := h.Snapshot()
	if h.onFlush != nil {
		h.onFlush(snap)
	}
}

// Snapshot returns the current cumulative counters without waiting for
// the next scheduled flush.
func (h *Handler) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{BytesRead: h.bytesRead, BytesWritten: h.bytesWritten, TLSState: h.tlsState}
}

func (h *Handler) RecordBytesRead(n int) {
	h.mu.Lock()
	h.bytesRead += uint64(n)
	h.mu.Unlock()
}

func (h *Handler) RecordBytesWritten(n int) {
	h.mu.Lock()
	h.bytesWritten += uint64(n)
	h.mu.Unlock()
}

func (h *Handler) RecordTLSStatus(status TLSNegotiationStatus) {
	h.mu.Lock()
	h.tlsState = status
	h.mu.Unlock()
}

// Stop cancels the periodic flush task. Idempotent; call it from the
// channel's OnShutdownComplete callback once the channel is done.
func (h *Handler) Stop() {
	h.mu.Lock()
	h.stopped = true
	task := h.task
	h.mu.Unlock()
	if task != nil {
		h.loop.Cancel(task)
	}
}
