// File: iohandler/tls/pipeconn.go
//
// crypto/tls.Conn only speaks net.Conn: blocking Read/Write against a
// "wire". pipeConn is that wire, except Write never blocks (it just
// appends to an outbound queue the provider drains) and Read blocks
// only until PushCiphertext feeds more bytes in. This is what lets a
// pull-based library stand in for the push-based provider interface
// §4.5 specifies: the handshake and record layer run unmodified inside
// crypto/tls, talking to a wire we fully control.
package tls

import (
	"io"
	"net"
	"sync"
	"time"
)

type pipeConn struct {
	mu   sync.Mutex
	cond *sync.Cond

	inbound    [][]byte
	inboundOff int
	outbound   []byte
	closed     bool

	// onWrite fires synchronously after every Write appends to outbound,
	// including writes crypto/tls makes mid-Handshake — this is how the
	// handler learns a ClientHello or flight is ready to go out before
	// the call that produced it (Handshake, Read) has returned.
	onWrite func()
}

func newPipeConn() *pipeConn {
	p := &pipeConn{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipeConn) feed(b []byte) {
	if len(b) == 0 {
		return
	}
	p.mu.Lock()
	p.inbound = append(p.inbound, append([]byte(nil), b...))
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *pipeConn) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.inbound) == 0 {
		if p.closed {
			return 0, io.EOF
		}
		p.cond.Wait()
	}
	chunk := p.inbound[0]
	n := copy(b, chunk[p.inboundOff:])
	p.inboundOff += n
	if p.inboundOff >= len(chunk) {
		p.inbound = p.inbound[1:]
		p.inboundOff = 0
	}
	return n, nil
}

func (p *pipeConn) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.outbound = append(p.outbound, b...)
	p.mu.Unlock()
	if p.onWrite != nil {
		p.onWrite()
	}
	return len(b), nil
}

func (p *pipeConn) drainOutbound() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.outbound) == 0 {
		return nil
	}
	out := p.outbound
	p.outbound = nil
	return out
}

func (p *pipeConn) Close() error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

func (p *pipeConn) LocalAddr() net.Addr                { return pipeAddr{} }
func (p *pipeConn) RemoteAddr() net.Addr               { return pipeAddr{} }
func (p *pipeConn) SetDeadline(t time.Time) error      { return nil }
func (p *pipeConn) SetReadDeadline(t time.Time) error  { return nil }
func (p *pipeConn) SetWriteDeadline(t time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "tls-provider-wire" }
