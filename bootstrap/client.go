// File: bootstrap/client.go
//
// Grounded on client/facade.go's NewClient: resolve/dial then assemble
// the connection's layers, generalized from a fixed WebSocket transport
// stack into the channel's socket/TLS slot chain, and from a single
// synchronous dial into the resolve -> pick-loop -> connect -> install
// pipeline of §4.6.
package bootstrap

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/kestrelio/ioflow/hostresolver"
	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/iobuf"
	"github.com/kestrelio/ioflow/iochannel"
	"github.com/kestrelio/ioflow/iohandler/socket"
	"github.com/kestrelio/ioflow/iohandler/stats"
	"github.com/kestrelio/ioflow/iohandler/tls"
	"github.com/kestrelio/ioflow/ioloop"
	"github.com/kestrelio/ioflow/iotask"
)

// ClientBootstrap places outbound channels on loops drawn round-robin
// from a group and resolves hosts through a Resolver, per §6
// client_bootstrap_new({group, resolver}).
type ClientBootstrap struct {
	group    *ioloop.Group
	resolver hostresolver.Resolver
}

// NewClient constructs a ClientBootstrap. resolver defaults to
// hostresolver.SystemResolver{} if nil.
func NewClient(group *ioloop.Group, resolver hostresolver.Resolver) *ClientBootstrap {
	if resolver == nil {
		resolver = hostresolver.SystemResolver{}
	}
	return &ClientBootstrap{group: group, resolver: resolver}
}

// ConnectOptions mirrors §6's client_bootstrap_new_socket_channel.
type ConnectOptions struct {
	Host string
	Port int

	SocketPool *iobuf.Pool
	TLSOptions *tls.Options
	TLSPool    *iobuf.Pool

	DialTimeout time.Duration

	// CreationCallback fires once the channel exists and is bound to a
	// loop, before any handler is installed — §4.6 step 4.
	CreationCallback func(ch *iochannel.Channel)
	// SetupCallback fires once with the result of steps 1-6: a non-nil
	// channel and ioerr.OK on success (after TLS negotiation, if any,
	// succeeds); a nil channel and the failing code otherwise. Per §4.6,
	// no ShutdownCallback follows a failed setup.
	SetupCallback func(ch *iochannel.Channel, err ioerr.Code)
	// ShutdownCallback fires once the channel reaches shutdown_complete,
	// only if SetupCallback already reported success.
	ShutdownCallback func(err ioerr.Code)

	Stats *StatsOptions
}

func (o *ConnectOptions) dialTimeout() time.Duration {
	if o.DialTimeout <= 0 {
		return 10 * time.Second
	}
	return o.DialTimeout
}

// Connect runs §4.6's client socket channel steps 1-6 asynchronously;
// it returns immediately, all results arrive through opts' callbacks.
func (b *ClientBootstrap) Connect(opts ConnectOptions) {
	b.resolver.Resolve(context.Background(), opts.Host, func(addrs []net.IPAddr, err error) {
		if err != nil || len(addrs) == 0 {
			if opts.SetupCallback != nil {
				opts.SetupCallback(nil, ioerr.HostResolutionFailed)
			}
			return
		}
		loop := b.group.Next()
		b.connectOnLoop(loop, addrs[0], opts)
	})
}

// connectOnLoop implements §4.6 steps 2-6. The dial itself blocks, so it
// runs on a fresh goroutine; everything after it is marshaled back onto
// loop via Post, matching the "handler callbacks run on loop thread"
// invariant every other package in this module keeps.
func (b *ClientBootstrap) connectOnLoop(loop *ioloop.Loop, addr net.IPAddr, opts ConnectOptions) {
	address := net.JoinHostPort(addr.IP.String(), strconv.Itoa(opts.Port))
	go func() {
		conn, err := net.DialTimeout("tcp", address, opts.dialTimeout())
		loop.Post(iotask.NewTask(func(status iotask.Status) {
			if status == iotask.StatusCanceled {
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
			if err != nil {
				if opts.SetupCallback != nil {
					opts.SetupCallback(nil, ioerr.SocketConnectAborted)
				}
				return
			}
			b.setupChannel(loop, conn, opts)
		}, nil))
	}()
}

// setupChannel implements §4.6 steps 4-6: create the channel, give the
// caller a chance to attach statistics (step 4), then install the
// socket handler and, if requested, the TLS handler, arming negotiation
// explicitly since a client speaks first.
func (b *ClientBootstrap) setupChannel(loop *ioloop.Loop, conn net.Conn, opts ConnectOptions) {
	ch := iochannel.New(loop)
	ch.CompleteSetup(func(ioerr.Code) {
		if opts.CreationCallback != nil {
			opts.CreationCallback(ch)
		}

		var recorder *stats.Handler
		if opts.Stats != nil {
			recorder = stats.New(loop, opts.Stats.interval(), opts.Stats.OnFlush)
		}

		socketPool := opts.SocketPool
		if socketPool == nil {
			socketPool = iobuf.NewPool()
		}
		sockHandler := socket.New(conn, socketPool)
		if recorder != nil {
			sockHandler.SetRecorder(recorder)
		}
		ch.AppendHandler(sockHandler)

		// setupSucceeded gates ShutdownCallback: per §4.6, a failure in
		// steps 1-5 (including TLS negotiation) reports only through
		// SetupCallback, and on_shutdown_completed never fires for a
		// channel whose setup never reported success. A TLS failure
		// still runs the channel's Shutdown, which would otherwise
		// surface here as a second, spec-violating callback.
		setupSucceeded := false
		ch.OnShutdownComplete(func(err ioerr.Code) {
			if recorder != nil {
				recorder.Stop()
			}
			if setupSucceeded && opts.ShutdownCallback != nil {
				opts.ShutdownCallback(err)
			}
		})

		if opts.TLSOptions == nil {
			setupSucceeded = true
			if opts.SetupCallback != nil {
				opts.SetupCallback(ch, ioerr.OK)
			}
			return
		}

		tlsPool := opts.TLSPool
		if tlsPool == nil {
			tlsPool = socketPool
		}
		tlsHandler := tls.NewClient(*opts.TLSOptions, tlsPool, func(code ioerr.Code) {
			if code != ioerr.OK {
				if opts.SetupCallback != nil {
					opts.SetupCallback(nil, code)
				}
				return
			}
			setupSucceeded = true
			if opts.SetupCallback != nil {
				opts.SetupCallback(ch, ioerr.OK)
			}
		})
		if recorder != nil {
			tlsHandler.SetRecorder(recorder)
		}
		tlsSlot := ch.AppendHandler(tlsHandler)
		tlsHandler.StartNegotiation(tlsSlot)
	})
}
