// File: iohandler/socket/socket.go
//
// Grounded on the teacher's examples/reactor_echo/main.go: extract a raw
// fd via net.Conn.SyscallConn, register it with the platform reactor,
// and read/write straight through the fd on each readiness callback.
// Generalized from a one-shot echo loop into the terminal iochannel.Handler
// of §4.4: windowed reads, buffered writes with re-arming for writable,
// and a half-close-aware shutdown sequence. Where the loop has no
// platform reactor (reactor.New failed), this handler instead runs the
// goroutine pump in pump.go, which blocks on net.Conn.Read/Write and
// marshals results back onto the loop as tasks.
package socket

import (
	"net"
	"sync"
	"syscall"

	"github.com/kestrelio/ioflow/internal/iolog"
	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/iobuf"
	"github.com/kestrelio/ioflow/iochannel"
	"github.com/kestrelio/ioflow/iohandler/stats"
	"github.com/kestrelio/ioflow/reactor"
)

var log = iolog.New("iohandler/socket")

const defaultWindow = 64 * 1024

// Handler is the terminal handler of a channel's slot chain: it owns
// the OS socket and is the only handler with no upstream neighbor
// (§4.4).
type Handler struct {
	conn net.Conn
	pool *iobuf.Pool

	mu sync.Mutex

	fd           uintptr
	usingReactor bool

	readWindow int
	readPaused bool
	readClosed bool

	writeClosed bool
	writeBuf    []byte // residual bytes the kernel hasn't accepted yet

	stopPump chan struct{}
	writeCh  chan *iochannel.Message // pump mode only
	resumeCh chan struct{}           // pump mode only: signals the reader after a window increment

	recorder stats.Recorder // optional §4.7 observer; nil unless SetRecorder was called
}

// SetRecorder attaches a statistics observer. Per §4.7 it must be set
// only from the channel's loop before the handler is attached (so
// before any I/O has occurred) — the natural call site is the
// channel's creation_callback, before AppendHandler.
func (h *Handler) SetRecorder(r stats.Recorder) {
	h.mu.Lock()
	h.recorder = r
	h.mu.Unlock()
}

// New constructs a socket Handler over conn. pool allocates read
// buffers; pass iobuf.NewPool() unless the caller needs a shared pool
// across multiple channels.
func New(conn net.Conn, pool *iobuf.Pool) *Handler {
	return &Handler{conn: conn, pool: pool, readWindow: defaultWindow}
}

func (h *Handler) InitialWindowSize() int { return defaultWindow }
func (h *Handler) MessageOverhead() int   { return 0 }

func (h *Handler) OnAttached(s *iochannel.Slot) {
	loop := s.LoopFor()
	if loop.SupportsIO() {
		if fd, ok := extractFD(h.conn); ok {
			h.fd = fd
			h.usingReactor = true
			if err := loop.Subscribe(fd, reactor.EventReadable, func(ev reactor.EventType) {
				h.onReadiness(s, ev)
			}); err != nil {
				log.Printf("subscribe failed, falling back to goroutine pump: %v", err)
				h.usingReactor = false
			}
		}
	}
	if !h.usingReactor {
		h.startPump(s)
	}
}

func (h *Handler) OnDetached(s *iochannel.Slot) {
	h.mu.Lock()
	stop := h.stopPump
	h.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if h.usingReactor {
		_ = s.LoopFor().Unsubscribe(h.fd)
		_ = rawClose(h.fd)
	} else {
		_ = h.conn.Close()
	}
}

// extractFD mirrors the teacher's getFD helper: it works for any
// net.Conn implementing syscall.Conn, not just *net.TCPConn.
func extractFD(conn net.Conn) (uintptr, bool) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd uintptr
	if err := raw.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, false
	}
	return fd, true
}

// onReadiness is invoked on-thread by the loop whenever the reactor
// reports readability or a hangup/error on this socket.
func (h *Handler) onReadiness(s *iochannel.Slot, ev reactor.EventType) {
	if ev&(reactor.EventHangup|reactor.EventError) != 0 {
		h.failAndShutdown(s, ioerr.SocketClosed)
		return
	}
	if ev&reactor.EventReadable != 0 {
		h.drainReadable(s)
	}
	if ev&reactor.EventWritable != 0 {
		h.flushWriteBuf(s)
	}
}

// drainReadable reads up to the current window, emits messages upstream,
// and pauses further reads once the window is exhausted — §4.4.
func (h *Handler) drainReadable(s *iochannel.Slot) {
	h.mu.Lock()
	window := h.readWindow
	closed := h.readClosed
	h.mu.Unlock()
	if closed || window <= 0 {
		return
	}

	buf := h.pool.Get(minInt(window, 64*1024))
	n, err := rawRead(h.fd, buf.Bytes())
	if err != nil {
		buf.Release()
		h.failAndShutdown(s, ioerr.SocketClosed)
		return
	}
	if n == 0 {
		buf.Release()
		h.failAndShutdown(s, ioerr.SocketClosed)
		return
	}

	h.mu.Lock()
	h.readWindow -= n
	remaining := h.readWindow
	recorder := h.recorder
	if remaining <= 0 {
		h.readPaused = true
	}
	h.mu.Unlock()
	if recorder != nil {
		recorder.RecordBytesRead(n)
	}

	msg := &iochannel.Message{Buffer: buf.Slice(0, n), Type: iochannel.ApplicationData}
	s.SendRead(msg)
}

// flushWriteBuf retries the buffered write residual after a writable
// event; it drops back to readable-only interest once drained.
func (h *Handler) flushWriteBuf(s *iochannel.Slot) {
	h.mu.Lock()
	buf := h.writeBuf
	h.mu.Unlock()
	if len(buf) == 0 {
		return
	}
	n, err := rawWrite(h.fd, buf)
	if err != nil {
		h.failAndShutdown(s, ioerr.SocketClosed)
		return
	}
	h.mu.Lock()
	h.writeBuf = h.writeBuf[n:]
	drained := len(h.writeBuf) == 0
	pendingShutdown := drained && h.writeClosed
	recorder := h.recorder
	h.mu.Unlock()
	if recorder != nil {
		recorder.RecordBytesWritten(n)
	}
	if drained {
		_ = s.LoopFor().ModifySubscription(h.fd, reactor.EventReadable)
		if pendingShutdown {
			_ = rawCloseWrite(h.fd)
			s.ShutdownComplete(iochannel.DirectionWrite)
		}
	}
}

// OnWriteMessage accepts a message moving toward the socket: write as
// much as the kernel accepts immediately, buffer the rest, and arm
// writable interest while anything remains buffered (§4.4).
func (h *Handler) OnWriteMessage(s *iochannel.Slot, msg *iochannel.Message) {
	h.mu.Lock()
	if h.writeClosed {
		h.mu.Unlock()
		msg.Release(ioerr.ChannelShuttingDown)
		return
	}
	h.mu.Unlock()

	data := msg.Buffer.Bytes()
	if h.usingReactor {
		n, err := rawWrite(h.fd, data)
		if err != nil {
			msg.Release(ioerr.SocketClosed)
			h.failAndShutdown(s, ioerr.SocketClosed)
			return
		}
		h.mu.Lock()
		recorder := h.recorder
		if n < len(data) {
			h.writeBuf = append(h.writeBuf, data[n:]...)
		}
		h.mu.Unlock()
		if recorder != nil {
			recorder.RecordBytesWritten(n)
		}
		if n < len(data) {
			_ = s.LoopFor().ModifySubscription(h.fd, reactor.EventReadable|reactor.EventWritable)
		}
		msg.Release(ioerr.OK)
		return
	}

	h.writeCh <- msg
}

// OnReadMessage is never called on the terminal slot — there is no
// upstream neighbor feeding it read messages.
func (h *Handler) OnReadMessage(s *iochannel.Slot, msg *iochannel.Message) {
	log.Printf("OnReadMessage called on terminal socket handler, dropping")
	msg.Release(ioerr.ChannelUnknown)
}

// IncrementReadWindow grows how many more bytes may be read from the
// socket before pausing again, and resumes draining if it had paused.
func (h *Handler) IncrementReadWindow(s *iochannel.Slot, delta int) {
	h.mu.Lock()
	h.readWindow += delta
	wasPaused := h.readPaused && h.readWindow > 0
	if wasPaused {
		h.readPaused = false
	}
	resumeCh := h.resumeCh
	h.mu.Unlock()
	if !wasPaused {
		return
	}
	if h.usingReactor {
		h.drainReadable(s)
		return
	}
	if resumeCh != nil {
		select {
		case resumeCh <- struct{}{}:
		default:
		}
	}
}

// Shutdown implements the read/write half-close sequence of §4.4:
// shutdown(read) disables further reads; shutdown(write) flushes any
// buffered write residual then closes the write side; once both
// complete, the socket itself is closed (in OnDetached).
func (h *Handler) Shutdown(s *iochannel.Slot, direction iochannel.Direction, cause ioerr.Code) {
	switch direction {
	case iochannel.DirectionRead:
		h.mu.Lock()
		h.readClosed = true
		h.mu.Unlock()
		if h.usingReactor {
			_ = s.LoopFor().Unsubscribe(h.fd)
		} else if closer, ok := h.conn.(interface{ CloseRead() error }); ok {
			_ = closer.CloseRead()
		}
		s.ShutdownComplete(iochannel.DirectionRead)
	case iochannel.DirectionWrite:
		h.mu.Lock()
		h.writeClosed = true
		pending := len(h.writeBuf) > 0
		h.mu.Unlock()
		if !h.usingReactor {
			close(h.writeCh)
			s.ShutdownComplete(iochannel.DirectionWrite)
			return
		}
		if pending {
			_ = s.LoopFor().ModifySubscription(h.fd, reactor.EventWritable)
			return
		}
		_ = rawCloseWrite(h.fd)
		s.ShutdownComplete(iochannel.DirectionWrite)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (h *Handler) failAndShutdown(s *iochannel.Slot, cause ioerr.Code) {
	s.ChannelFor().Shutdown(cause)
}
