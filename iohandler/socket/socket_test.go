package socket

import (
	"net"
	"testing"
	"time"

	"github.com/kestrelio/ioflow/iobuf"
	"github.com/kestrelio/ioflow/iochannel"
	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/ioloop"
)

func TestSocketHandlerEchoesBytesThroughLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		serverConnCh <- c
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	var serverConn net.Conn
	select {
	case serverConn = <-serverConnCh:
	case <-time.After(time.Second):
		t.Fatal("accept never completed")
	}
	defer serverConn.Close()

	loop := ioloop.New(ioloop.Options{})
	go loop.Run()
	defer func() {
		loop.Stop()
		loop.Join()
		loop.Close()
	}()

	pool := iobuf.NewPool()
	ch := iochannel.New(loop)

	received := make(chan []byte, 1)
	echoHandler := &echoUpstreamHandler{received: received}

	setupDone := make(chan struct{})
	ch.CompleteSetup(func(err ioerr.Code) {
		ch.AppendHandler(New(serverConn, pool))
		ch.AppendHandler(echoHandler)
		close(setupDone)
	})
	<-setupDone

	if _, err := clientConn.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "ping" {
			t.Fatalf("expected %q, got %q", "ping", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server channel never received the client's bytes")
	}
}

// echoUpstreamHandler is the user-facing slot: it records what it
// reads and writes it straight back toward the socket.
type echoUpstreamHandler struct {
	received chan []byte
}

func (h *echoUpstreamHandler) OnReadMessage(s *iochannel.Slot, msg *iochannel.Message) {
	h.received <- msg.Buffer.Copy()
	s.SendWrite(msg)
}
func (h *echoUpstreamHandler) OnWriteMessage(s *iochannel.Slot, msg *iochannel.Message) {
	msg.Release(ioerr.ChannelUnknown)
}
func (h *echoUpstreamHandler) IncrementReadWindow(s *iochannel.Slot, delta int) {}
func (h *echoUpstreamHandler) Shutdown(s *iochannel.Slot, direction iochannel.Direction, cause ioerr.Code) {
	s.ShutdownComplete(direction)
}
func (h *echoUpstreamHandler) InitialWindowSize() int { return 65536 }
func (h *echoUpstreamHandler) MessageOverhead() int   { return 0 }
func (h *echoUpstreamHandler) OnAttached(s *iochannel.Slot) {}
func (h *echoUpstreamHandler) OnDetached(s *iochannel.Slot) {}
