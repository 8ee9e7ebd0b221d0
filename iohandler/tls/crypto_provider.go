// File: iohandler/tls/crypto_provider.go
//
// cryptoTLSProvider is the one concrete Provider, wrapping crypto/tls's
// pull-based Conn behind the push-based interface §4.5 specifies.
// crypto/tls has no BIO-style API, so the handshake and the post-
// handshake decrypt loop run on an internal goroutine blocked against
// pipeConn; that goroutine is entirely this file's implementation
// detail and never touches the channel, so it does not violate the
// "handler callbacks run on the loop thread" invariant of §4.2/§5.
package tls

import (
	"crypto/tls"
	"sync"
	"sync/atomic"

	"github.com/kestrelio/ioflow/ioerr"
)

type role int

const (
	roleClient role = iota
	roleServer
)

type cryptoTLSProvider struct {
	conn *tls.Conn
	wire *pipeConn

	mu           sync.Mutex
	plaintextOut []byte

	state        atomic.Int32
	failureCause atomic.Int64
}

// notify is called (possibly from the provider's own background
// goroutine, possibly from whatever goroutine calls PushPlaintext) any
// time new ciphertext or plaintext may be waiting to be drained, or the
// handshake has just resolved. The handler supplies one that posts a
// task back onto its own loop.
func newProvider(r role, opts Options, notify func()) (*cryptoTLSProvider, error) {
	wire := newPipeConn()
	wire.onWrite = notify

	var conn *tls.Conn
	switch r {
	case roleClient:
		cfg, err := opts.clientConfig()
		if err != nil {
			return nil, err
		}
		conn = tls.Client(wire, cfg)
	case roleServer:
		cfg, err := opts.serverConfig()
		if err != nil {
			return nil, err
		}
		conn = tls.Server(wire, cfg)
	}

	p := &cryptoTLSProvider{conn: conn, wire: wire}
	go p.run(notify)
	return p, nil
}

// run drives the handshake to completion, then loops decrypting
// application data for as long as the peer keeps sending it.
func (p *cryptoTLSProvider) run(notify func()) {
	if err := p.conn.Handshake(); err != nil {
		p.fail(ioerr.TLSErrorNegotiationFailure)
		if notify != nil {
			notify()
		}
		return
	}
	p.state.Store(int32(ProviderSucceeded))
	if notify != nil {
		notify()
	}

	buf := make([]byte, 16*1024)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.plaintextOut = append(p.plaintextOut, buf[:n]...)
			p.mu.Unlock()
		}
		if err != nil {
			p.failIfStillSucceeded(ioerr.TLSErrorReadFailure)
			if notify != nil {
				notify()
			}
			return
		}
		if n > 0 && notify != nil {
			notify()
		}
	}
}

func (p *cryptoTLSProvider) fail(code ioerr.Code) {
	p.state.Store(int32(ProviderFailed))
	p.failureCause.Store(int64(code))
}

func (p *cryptoTLSProvider) failIfStillSucceeded(code ioerr.Code) {
	if p.state.CompareAndSwap(int32(ProviderSucceeded), int32(ProviderFailed)) {
		p.failureCause.Store(int64(code))
	}
}

func (p *cryptoTLSProvider) takePlaintext() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.plaintextOut) == 0 {
		return nil
	}
	out := p.plaintextOut
	p.plaintextOut = nil
	return out
}

func (p *cryptoTLSProvider) PushCiphertext(buf []byte) (PushCiphertextResult, error) {
	p.wire.feed(buf)
	return PushCiphertextResult{
		Consumed:   len(buf),
		Plaintext:  p.takePlaintext(),
		Ciphertext: p.wire.drainOutbound(),
		State:      ProviderState(p.state.Load()),
	}, nil
}

func (p *cryptoTLSProvider) PushPlaintext(buf []byte) ([]byte, error) {
	if ProviderState(p.state.Load()) != ProviderSucceeded {
		return nil, errNotNegotiated
	}
	if _, err := p.conn.Write(buf); err != nil {
		p.fail(ioerr.TLSErrorWriteFailure)
		return p.wire.drainOutbound(), err
	}
	return p.wire.drainOutbound(), nil
}

func (p *cryptoTLSProvider) Drain() DrainResult {
	return DrainResult{
		Plaintext:  p.takePlaintext(),
		Ciphertext: p.wire.drainOutbound(),
		State:      ProviderState(p.state.Load()),
	}
}

func (p *cryptoTLSProvider) State() ProviderState { return ProviderState(p.state.Load()) }

func (p *cryptoTLSProvider) FailureCause() ioerr.Code { return ioerr.Code(p.failureCause.Load()) }

func (p *cryptoTLSProvider) ALPNSelected() string {
	return p.conn.ConnectionState().NegotiatedProtocol
}

func (p *cryptoTLSProvider) ServerName() string {
	return p.conn.ConnectionState().ServerName
}

// Shutdown sends close_notify (a no-op write if the handshake never
// completed) and returns whatever ciphertext that produced.
func (p *cryptoTLSProvider) Shutdown() []byte {
	_ = p.conn.Close()
	return p.wire.drainOutbound()
}

var errNotNegotiated = tlsError("push_plaintext called before negotiation succeeded")

type tlsError string

func (e tlsError) Error() string { return string(e) }
