// File: bootstrap/server.go
//
// Grounded on server/server.go's Serve accept loop (goroutine-per-
// connection handoff) and transport/tcp/listener.go's accept-loop idiom
// of continuing past a transient Accept error instead of crashing the
// listener; generalized from "accept, upgrade, hand to an api.Handler"
// into §4.6's "accept, place on a loop, run the symmetric server-side
// channel flow, invoke incoming_callback".
package bootstrap

import (
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/kestrelio/ioflow/internal/iolog"
	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/iobuf"
	"github.com/kestrelio/ioflow/iochannel"
	"github.com/kestrelio/ioflow/iohandler/socket"
	"github.com/kestrelio/ioflow/iohandler/stats"
	"github.com/kestrelio/ioflow/iohandler/tls"
	"github.com/kestrelio/ioflow/ioloop"
	"github.com/kestrelio/ioflow/iotask"
)

var log = iolog.New("bootstrap")

// ServerBootstrap places inbound channels on loops drawn round-robin
// from a group, per §6 server_bootstrap_new({group}).
type ServerBootstrap struct {
	group *ioloop.Group
}

func NewServer(group *ioloop.Group) *ServerBootstrap {
	return &ServerBootstrap{group: group}
}

// ListenOptions mirrors §6's server_bootstrap_new_socket_listener.
type ListenOptions struct {
	Host string
	Port int

	SocketPool *iobuf.Pool
	TLSOptions *tls.Options
	TLSPool    *iobuf.Pool

	CreationCallback func(ch *iochannel.Channel)
	IncomingCallback func(ch *iochannel.Channel, err ioerr.Code)
	ShutdownCallback func(err ioerr.Code)
	DestroyCallback  func()

	Stats *StatsOptions
}

// Listener is a running socket listener: its accept loop runs on its
// own goroutine, placing each accepted connection's channel on a loop
// from the bootstrap's group.
type Listener struct {
	ln         net.Listener
	group      *ioloop.Group
	opts       ListenOptions
	acceptDone chan struct{}
	closeOnce  sync.Once
}

// Listen binds and starts accepting, per §4.6's "Server listener".
func (b *ServerBootstrap) Listen(opts ListenOptions) (*Listener, error) {
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{ln: ln, group: b.group, opts: opts, acceptDone: make(chan struct{})}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	defer close(l.acceptDone)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("accept error, continuing: %v", err)
			continue
		}
		loop := l.group.Next()
		loop.Post(iotask.NewTask(func(status iotask.Status) {
			if status == iotask.StatusCanceled {
				_ = conn.Close()
				return
			}
			l.setupIncoming(loop, conn)
		}, nil))
	}
}

// setupIncoming runs the symmetric server-side flow: create the
// channel, let the caller attach statistics (step 4), install the
// socket handler and, if requested, a server-role TLS handler —
// negotiation there starts on its own once the peer's ClientHello
// arrives, so unlike the client side nothing needs to arm it explicitly.
func (l *Listener) setupIncoming(loop *ioloop.Loop, conn net.Conn) {
	ch := iochannel.New(loop)
	ch.CompleteSetup(func(ioerr.Code) {
		if l.opts.CreationCallback != nil {
			l.opts.CreationCallback(ch)
		}

		var recorder *stats.Handler
		if l.opts.Stats != nil {
			recorder = stats.New(loop, l.opts.Stats.interval(), l.opts.Stats.OnFlush)
		}

		socketPool := l.opts.SocketPool
		if socketPool == nil {
			socketPool = iobuf.NewPool()
		}
		sockHandler := socket.New(conn, socketPool)
		if recorder != nil {
			sockHandler.SetRecorder(recorder)
		}
		ch.AppendHandler(sockHandler)

		// setupSucceeded gates ShutdownCallback the same way the client
		// side does: a TLS negotiation failure still runs the channel's
		// Shutdown, which must not surface as a second callback once
		// IncomingCallback has already reported the error.
		setupSucceeded := false
		ch.OnShutdownComplete(func(err ioerr.Code) {
			if recorder != nil {
				recorder.Stop()
			}
			if setupSucceeded && l.opts.ShutdownCallback != nil {
				l.opts.ShutdownCallback(err)
			}
		})

		if l.opts.TLSOptions == nil {
			setupSucceeded = true
			if l.opts.IncomingCallback != nil {
				l.opts.IncomingCallback(ch, ioerr.OK)
			}
			return
		}

		tlsPool := l.opts.TLSPool
		if tlsPool == nil {
			tlsPool = socketPool
		}
		tlsHandler := tls.NewServer(*l.opts.TLSOptions, tlsPool, func(code ioerr.Code) {
			if code == ioerr.OK {
				setupSucceeded = true
			}
			if l.opts.IncomingCallback != nil {
				l.opts.IncomingCallback(ch, code)
			}
		})
		if recorder != nil {
			tlsHandler.SetRecorder(recorder)
		}
		ch.AppendHandler(tlsHandler)
	})
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections. Per §4.6, destruction is
// asynchronous: DestroyCallback fires once the accept loop has drained,
// not before Close returns.
func (l *Listener) Close() error {
	err := l.ln.Close()
	l.closeOnce.Do(func() {
		go func() {
			<-l.acceptDone
			if l.opts.DestroyCallback != nil {
				l.opts.DestroyCallback()
			}
		}()
	})
	return err
}
