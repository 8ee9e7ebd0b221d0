// Package bootstrap implements §4.6: client and server socket-channel
// orchestration on top of iochannel, iohandler/socket, and
// iohandler/tls, picking loops round-robin from an ioloop.Group and
// resolving hosts through a hostresolver.Resolver. Grounded on
// client/facade.go's dial-then-wire-up shape and server/server.go's
// accept-loop Serve, both stripped of the WebSocket-specific protocol
// layer neither one needs here.
package bootstrap

import (
	"time"

	"github.com/kestrelio/ioflow/iohandler/stats"
)

// StatsOptions, when set on Connect/Listen options, has the bootstrap
// construct a stats.Handler per channel during creation_callback (before
// socket/TLS handlers are installed, per §4.7) and wire it into whichever
// handlers get installed.
type StatsOptions struct {
	Interval time.Duration
	OnFlush  func(stats.Snapshot)
}

func (o *StatsOptions) interval() time.Duration {
	if o == nil || o.Interval <= 0 {
		return time.Second
	}
	return o.Interval
}
