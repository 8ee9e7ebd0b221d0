// File: iohandler/socket/pump.go
//
// Goroutine-pump fallback transport for platforms with no reactor
// implementation (reactor.New returns an error there, per
// reactor/stub_other.go). Reads and writes block in their own
// goroutines and marshal results back onto the channel's loop as
// tasks, preserving the invariant that handler callbacks only ever run
// on the loop thread.
package socket

import (
	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/iochannel"
	"github.com/kestrelio/ioflow/iotask"
)

func (h *Handler) startPump(s *iochannel.Slot) {
	h.mu.Lock()
	h.stopPump = make(chan struct{})
	h.writeCh = make(chan *iochannel.Message, 64)
	h.resumeCh = make(chan struct{}, 1)
	h.mu.Unlock()

	go h.readerPump(s)
	go h.writerPump(s)
}

func (h *Handler) readerPump(s *iochannel.Slot) {
	loop := s.LoopFor()
	for {
		select {
		case <-h.stopPump:
			return
		default:
		}

		h.mu.Lock()
		window := h.readWindow
		if window <= 0 {
			h.readPaused = true
		}
		h.mu.Unlock()
		if window <= 0 {
			select {
			case <-h.stopPump:
				return
			case <-h.resumeCh:
				continue
			}
		}

		buf := h.pool.Get(minInt(maxInt(window, 4096), 64*1024))
		n, err := h.conn.Read(buf.Bytes())
		if err != nil {
			buf.Release()
			loop.Post(iotask.NewTask(func(iotask.Status) {
				h.failAndShutdown(s, ioerr.SocketClosed)
			}, nil))
			return
		}
		view := buf.Slice(0, n)
		h.mu.Lock()
		recorder := h.recorder
		h.mu.Unlock()
		if recorder != nil {
			recorder.RecordBytesRead(n)
		}
		loop.Post(iotask.NewTask(func(status iotask.Status) {
			if status == iotask.StatusCanceled {
				view.Release()
				return
			}
			h.mu.Lock()
			h.readWindow -= n
			h.mu.Unlock()
			s.SendRead(&iochannel.Message{Buffer: view, Type: iochannel.ApplicationData})
		}, nil))
	}
}

func (h *Handler) writerPump(s *iochannel.Slot) {
	loop := s.LoopFor()
	for msg := range h.writeCh {
		n, err := h.conn.Write(msg.Buffer.Bytes())
		if err != nil {
			msg.Release(ioerr.SocketClosed)
			loop.Post(iotask.NewTask(func(iotask.Status) {
				h.failAndShutdown(s, ioerr.SocketClosed)
			}, nil))
			continue
		}
		h.mu.Lock()
		recorder := h.recorder
		h.mu.Unlock()
		if recorder != nil {
			recorder.RecordBytesWritten(n)
		}
		msg.Release(ioerr.OK)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
