// File: iochannel/slot.go
//
// Grounded on design notes §9's resolution of the channel/slot cyclic
// reference problem: "model as an arena of slot records owned by the
// channel, with intra-channel links as indices; the channel owns the
// arena and frees it on shutdown_complete". Slot therefore never holds
// a pointer to its neighbors — only their indices, resolved through the
// slot arena of the Channel it points back to.
package iochannel

import (
	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/ioloop"
)

// Slot occupies one position in a Channel's arena. index is this
// slot's own arena index; prev/next are neighbor indices, -1 if none
// (the terminal slot has prev == -1, the user-facing slot has
// next == -1).
type Slot struct {
	channel *Channel
	index   int
	prev    int
	next    int

	handler Handler

	ownWindow int // read bytes granted to this slot's handler to emit: its initial window plus increments from the next slot

	readShutdown  bool
	writeShutdown bool
}

// Index returns this slot's arena position.
func (s *Slot) Index() int { return s.index }

// LoopFor returns the event loop the owning channel is bound to, for
// handlers (e.g. the socket handler) that need to Subscribe/Post
// directly.
func (s *Slot) LoopFor() *ioloop.Loop { return s.channel.Loop() }

// ChannelFor returns the owning Channel, for handlers that need to
// initiate a channel-wide Shutdown (e.g. on a socket error).
func (s *Slot) ChannelFor() *Channel { return s.channel }

// SendRead forwards msg one step toward the user (to s.next). If this
// is the last slot, the message is logged and released with
// ioerr.ChannelUnknown.
func (s *Slot) SendRead(msg *Message) {
	s.channel.deliverRead(s.index, msg)
}

// SendWrite forwards msg one step toward the terminal slot (to s.prev).
// If this is the terminal slot, the message is logged and released with
// ioerr.ChannelUnknown.
func (s *Slot) SendWrite(msg *Message) {
	s.channel.deliverWrite(s.index, msg)
}

// OwnWindow returns how many read bytes this slot's handler has been
// granted to emit toward the user (initial window plus increments; it is
// not reduced on emission) — informational; handlers enforce their own
// accounting via IncrementReadWindow/InitialWindowSize.
func (s *Slot) OwnWindow() int { return s.ownWindow }

// ShutdownComplete must be called by this slot's handler exactly once
// per direction, when it has finished emitting everything it will ever
// emit for that direction; it advances the channel's shutdown state
// machine (§4.3).
func (s *Slot) ShutdownComplete(direction Direction) {
	s.channel.onHandlerShutdownComplete(s.index, direction)
}

// IncrementReadWindowUpstream is how a slot tells the neighbor that
// emits read data to it (s.prev) that it can accept delta more bytes; a
// user's off-thread Channel.IncrementReadWindow call reaches that
// handler through the same on-thread path.
func (s *Slot) IncrementReadWindowUpstream(delta int) {
	s.channel.incrementReadWindow(s.index, delta)
}

// ShutdownCause exposes the channel's recorded shutdown error to a
// handler that needs it while winding down (e.g. to report a
// completion callback with the real cause rather than ioerr.OK).
func (s *Slot) ShutdownCause() ioerr.Code {
	return s.channel.getShutdownErr()
}
