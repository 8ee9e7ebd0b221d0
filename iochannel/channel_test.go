package iochannel

import (
	"sync"
	"testing"
	"time"

	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/ioloop"
)

// recordingHandler buffers every message it sees and calls
// ShutdownComplete immediately for both directions, for tests that only
// care about message flow.
type recordingHandler struct {
	name string

	mu       sync.Mutex
	reads    []*Message
	writes   []*Message
	attached bool
	detached bool

	onRead  func(s *Slot, msg *Message)
	onWrite func(s *Slot, msg *Message)
}

func (h *recordingHandler) OnReadMessage(s *Slot, msg *Message) {
	h.mu.Lock()
	h.reads = append(h.reads, msg)
	h.mu.Unlock()
	if h.onRead != nil {
		h.onRead(s, msg)
	}
}

func (h *recordingHandler) OnWriteMessage(s *Slot, msg *Message) {
	h.mu.Lock()
	h.writes = append(h.writes, msg)
	h.mu.Unlock()
	if h.onWrite != nil {
		h.onWrite(s, msg)
	}
}

func (h *recordingHandler) IncrementReadWindow(s *Slot, delta int) {}
func (h *recordingHandler) Shutdown(s *Slot, direction Direction, cause ioerr.Code) {
	s.ShutdownComplete(direction)
}
func (h *recordingHandler) InitialWindowSize() int { return 65536 }
func (h *recordingHandler) MessageOverhead() int   { return 0 }
func (h *recordingHandler) OnAttached(s *Slot)     { h.attached = true }
func (h *recordingHandler) OnDetached(s *Slot)     { h.detached = true }

func newTestChannel(t *testing.T) (*ioloop.Loop, *Channel) {
	t.Helper()
	loop := ioloop.New(ioloop.Options{})
	go loop.Run()
	t.Cleanup(func() {
		loop.Stop()
		loop.Join()
		loop.Close()
	})
	return loop, New(loop)
}

func TestChannelSetupRunsBeforeShutdown(t *testing.T) {
	_, ch := newTestChannel(t)

	setupDone := make(chan ioerr.Code, 1)
	ch.CompleteSetup(func(err ioerr.Code) {
		ch.AppendHandler(&recordingHandler{name: "terminal"})
		ch.AppendHandler(&recordingHandler{name: "user"})
		setupDone <- err
	})

	select {
	case err := <-setupDone:
		if err != ioerr.OK {
			t.Fatalf("expected OK, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("setup never completed")
	}

	if ch.Len() != 2 {
		t.Fatalf("expected 2 slots, got %d", ch.Len())
	}
}

func TestChannelReadFlowsTerminalToUser(t *testing.T) {
	_, ch := newTestChannel(t)

	terminal := &recordingHandler{name: "terminal"}
	user := &recordingHandler{name: "user"}

	setupDone := make(chan struct{})
	ch.CompleteSetup(func(err ioerr.Code) {
		ch.AppendHandler(terminal)
		ch.AppendHandler(user)
		close(setupDone)
	})
	<-setupDone

	msg := NewMessage(nil)
	ch.SlotAt(0).SendRead(msg)

	deadline := time.After(time.Second)
	for {
		user.mu.Lock()
		n := len(user.reads)
		user.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("message never reached the user-facing slot")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestChannelShutdownCascadesBothDirections(t *testing.T) {
	_, ch := newTestChannel(t)

	terminal := &recordingHandler{name: "terminal"}
	middle := &recordingHandler{name: "middle"}
	user := &recordingHandler{name: "user"}

	var readOrder, writeOrder []string
	var mu sync.Mutex
	record := func(name string, direction Direction) {
		mu.Lock()
		if direction == DirectionRead {
			readOrder = append(readOrder, name)
		} else {
			writeOrder = append(writeOrder, name)
		}
		mu.Unlock()
	}

	// override Shutdown via closures capturing name for ordering
	terminalShutdown := func(s *Slot, d Direction, cause ioerr.Code) {
		record("terminal", d)
		s.ShutdownComplete(d)
	}
	middleShutdown := func(s *Slot, d Direction, cause ioerr.Code) {
		record("middle", d)
		s.ShutdownComplete(d)
	}
	userShutdown := func(s *Slot, d Direction, cause ioerr.Code) {
		record("user", d)
		s.ShutdownComplete(d)
	}

	setupDone := make(chan struct{})
	ch.CompleteSetup(func(err ioerr.Code) {
		ch.AppendHandler(&shutdownOverrideHandler{recordingHandler: terminal, shutdown: terminalShutdown})
		ch.AppendHandler(&shutdownOverrideHandler{recordingHandler: middle, shutdown: middleShutdown})
		ch.AppendHandler(&shutdownOverrideHandler{recordingHandler: user, shutdown: userShutdown})
		close(setupDone)
	})
	<-setupDone

	shutdownDone := make(chan ioerr.Code, 1)
	ch.OnShutdownComplete(func(err ioerr.Code) {
		shutdownDone <- err
	})
	ch.Shutdown(ioerr.SocketClosed)

	select {
	case err := <-shutdownDone:
		if err != ioerr.SocketClosed {
			t.Fatalf("expected SocketClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("shutdown never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	wantRead := []string{"terminal", "middle", "user"}
	wantWrite := []string{"user", "middle", "terminal"}
	if !equalStrings(readOrder, wantRead) {
		t.Fatalf("read shutdown order = %v, want %v", readOrder, wantRead)
	}
	if !equalStrings(writeOrder, wantWrite) {
		t.Fatalf("write shutdown order = %v, want %v", writeOrder, wantWrite)
	}
	if ch.State() != StateShutdownComplete {
		t.Fatalf("expected shutdown_complete, got %v", ch.State())
	}
}

type shutdownOverrideHandler struct {
	*recordingHandler
	shutdown func(s *Slot, direction Direction, cause ioerr.Code)
}

func (h *shutdownOverrideHandler) Shutdown(s *Slot, direction Direction, cause ioerr.Code) {
	h.shutdown(s, direction, cause)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
