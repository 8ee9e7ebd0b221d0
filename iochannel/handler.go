// File: iochannel/handler.go
//
// Grounded on design notes §9's handler capability set
// ("process_read, process_write, increment_read_window, shutdown,
// initial_window_size, message_overhead, destroy") and api.Handler's
// single-method style, generalized to the full set the spec's slot
// chain requires. A Go interface plays the role the notes suggest a
// tagged variant or vtable could — idiomatic for this codebase, which
// already expresses every other collaborator (api.Handler,
// api.BufferPool) as an interface rather than a closure bundle.
package iochannel

import "github.com/kestrelio/ioflow/ioerr"

// Direction names which half of a bidirectional slot a Shutdown call
// concerns.
type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

func (d Direction) String() string {
	if d == DirectionWrite {
		return "write"
	}
	return "read"
}

// Handler is the capability set a slot's occupant exposes to its
// Channel. Exactly one Handler is installed per Slot; every call
// arrives on the channel's own event-loop thread.
type Handler interface {
	// OnReadMessage delivers a message moving toward the user (from the
	// terminal slot outward). The handler either forwards it upstream
	// via Slot.SendRead, buffers it if the upstream window is
	// exhausted, or releases it.
	OnReadMessage(s *Slot, msg *Message)
	// OnWriteMessage delivers a message moving toward the terminal slot
	// (from the user inward).
	OnWriteMessage(s *Slot, msg *Message)
	// IncrementReadWindow grows by delta how many more read bytes this
	// handler itself may now emit to its downstream (toward-user)
	// neighbor, and triggers a resume attempt if it had buffered
	// residual data waiting on that window.
	IncrementReadWindow(s *Slot, delta int)
	// Shutdown begins this handler's shutdown for direction with the
	// given cause. The handler must call s.ShutdownComplete(direction)
	// exactly once, synchronously or later, when it has nothing further
	// to emit in that direction.
	Shutdown(s *Slot, direction Direction, cause ioerr.Code)
	// InitialWindowSize is the window this handler starts with on
	// attachment, before any IncrementReadWindow call.
	InitialWindowSize() int
	// MessageOverhead estimates the per-message bytes this handler adds
	// (e.g. a TLS record header), used by neighbors sizing reads.
	MessageOverhead() int
	// OnAttached is called once, synchronously, when the slot is
	// spliced into the channel.
	OnAttached(s *Slot)
	// OnDetached is called once the slot's arena entry is about to be
	// freed, after both shutdown directions have completed. Handlers
	// release any handler-owned resources here.
	OnDetached(s *Slot)
}
