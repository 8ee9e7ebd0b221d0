// File: iochannel/channel.go
//
// Grounded on lowlevel/server/handler_chain.go's Middleware-chain idiom
// (apply handlers in declared order, outermost first) generalized from
// a one-shot request middleware chain into a live, bidirectional,
// shutdown-aware pipeline per spec §4.3 — and on design notes §9's
// slot-arena resolution of the channel/slot cyclic reference.
package iochannel

import (
	"sync"

	"github.com/kestrelio/ioflow/internal/iolog"
	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/ioloop"
	"github.com/kestrelio/ioflow/iotask"
)

var log = iolog.New("iochannel")

// State is the channel-wide shutdown state machine (§4.3).
type State int

const (
	StateActive State = iota
	StateShuttingDownRead
	StateShuttingDownWrite
	StateShutdownComplete
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateShuttingDownRead:
		return "shutting_down_read"
	case StateShuttingDownWrite:
		return "shutting_down_write"
	case StateShutdownComplete:
		return "shutdown_complete"
	default:
		return "unknown"
	}
}

// Channel is an ordered arena of Slots pinned to one ioloop.Loop. After
// construction completes it is only ever mutated on that loop's thread,
// per the Channel invariant in §3 — the exceptions are Shutdown and
// IncrementReadWindow, which off-thread callers may call directly
// because they marshal themselves onto the loop.
type Channel struct {
	loop *ioloop.Loop

	mu          sync.Mutex // guards state/shutdownErr read from off-thread IncrementReadWindow
	state       State
	shutdownErr ioerr.Code

	slots []*Slot

	onSetupCompleted   func(err ioerr.Code)
	onShutdownComplete func(err ioerr.Code)
}

// New constructs a Channel bound to loop. No handlers are installed
// yet; call CompleteSetup with a callback that builds the slot chain
// through AppendHandler, on-thread.
func New(loop *ioloop.Loop) *Channel {
	return &Channel{loop: loop}
}

// AppendHandler adds h as the next slot toward the user end of the
// chain. The first call establishes the terminal (socket) slot; each
// subsequent call appends further toward the user.
func (c *Channel) AppendHandler(h Handler) *Slot {
	idx := len(c.slots)
	s := &Slot{
		channel:   c,
		index:     idx,
		prev:      idx - 1,
		next:      -1,
		handler:   h,
		ownWindow: h.InitialWindowSize(),
	}
	if idx > 0 {
		c.slots[idx-1].next = idx
	}
	c.slots = append(c.slots, s)
	h.OnAttached(s)
	return s
}

// CompleteSetup runs onSetupCompleted(ioerr.OK) on-thread, per §4.3's
// "the channel runs on_setup_completed(err=0) after construction is
// bound to its loop but before any handler is installed, allowing the
// user to append handlers synchronously from on-thread". Callers that
// need handlers attached before setup completes should call
// AppendHandler from within cb itself.
func (c *Channel) CompleteSetup(cb func(err ioerr.Code)) {
	c.onSetupCompleted = cb
	c.loop.IncrementActiveChannels(1)
	task := iotask.NewTask(func(status iotask.Status) {
		if status == iotask.StatusCanceled {
			return
		}
		if cb != nil {
			cb(ioerr.OK)
		}
	}, nil)
	c.loop.Post(task)
}

// OnShutdownComplete registers the callback fired once both shutdown
// directions have drained.
func (c *Channel) OnShutdownComplete(cb func(err ioerr.Code)) {
	c.onShutdownComplete = cb
}

// FailSetup runs onSetupCompleted(err) with err != ioerr.OK; per §4.3 no
// shutdown callback follows a failed setup.
func (c *Channel) FailSetup(err ioerr.Code) {
	c.loop.IncrementActiveChannels(1)
	task := iotask.NewTask(func(status iotask.Status) {
		if status == iotask.StatusCanceled {
			return
		}
		c.loop.IncrementActiveChannels(-1)
		if c.onSetupCompleted != nil {
			c.onSetupCompleted(err)
		}
	}, nil)
	c.loop.Post(task)
}

// Shutdown begins (or upgrades) channel shutdown with cause. It is safe
// to call from any thread; it posts a task to the channel's loop. A
// second call with a non-OK cause upgrades the stored error only if the
// one already recorded is ioerr.OK, matching §4.3's idempotency rule.
func (c *Channel) Shutdown(cause ioerr.Code) {
	task := iotask.NewTask(func(status iotask.Status) {
		if status == iotask.StatusCanceled {
			return
		}
		c.beginShutdown(cause)
	}, nil)
	c.loop.Post(task)
}

func (c *Channel) beginShutdown(cause ioerr.Code) {
	c.mu.Lock()
	if c.state != StateActive {
		if c.shutdownErr == ioerr.OK && cause != ioerr.OK {
			c.shutdownErr = cause
		}
		c.mu.Unlock()
		return
	}
	c.state = StateShuttingDownRead
	c.shutdownErr = cause
	c.mu.Unlock()

	if len(c.slots) == 0 {
		c.advanceToWriteShutdown()
		return
	}
	c.slots[0].handler.Shutdown(c.slots[0], DirectionRead, cause)
}

// onHandlerShutdownComplete advances the state machine per §4.3: each
// handler finishing read-shutdown moves the cursor toward the user end;
// once the last slot finishes, write-shutdown begins from the other end.
func (c *Channel) onHandlerShutdownComplete(index int, direction Direction) {
	switch direction {
	case DirectionRead:
		c.slots[index].readShutdown = true
		next := index + 1
		if next < len(c.slots) {
			c.slots[next].handler.Shutdown(c.slots[next], DirectionRead, c.getShutdownErr())
			return
		}
		c.advanceToWriteShutdown()
	case DirectionWrite:
		c.slots[index].writeShutdown = true
		prev := index - 1
		if prev >= 0 {
			c.slots[prev].handler.Shutdown(c.slots[prev], DirectionWrite, c.getShutdownErr())
			return
		}
		c.completeShutdown()
	}
}

func (c *Channel) advanceToWriteShutdown() {
	c.mu.Lock()
	c.state = StateShuttingDownWrite
	c.mu.Unlock()

	if len(c.slots) == 0 {
		c.completeShutdown()
		return
	}
	last := len(c.slots) - 1
	c.slots[last].handler.Shutdown(c.slots[last], DirectionWrite, c.getShutdownErr())
}

func (c *Channel) completeShutdown() {
	c.mu.Lock()
	c.state = StateShutdownComplete
	err := c.shutdownErr
	slots := c.slots
	c.slots = nil // free the arena
	c.mu.Unlock()

	for _, s := range slots {
		s.handler.OnDetached(s)
	}
	c.loop.IncrementActiveChannels(-1)
	if c.onShutdownComplete != nil {
		c.onShutdownComplete(err)
	}
}

func (c *Channel) getShutdownErr() ioerr.Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownErr
}

// State returns the channel's current shutdown-machine state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// deliverRead moves msg from slot fromIndex to fromIndex+1's handler.
// If there is no next slot (fromIndex is already the user-facing slot),
// the message is released — a correctly-built chain's last handler
// never calls SendRead.
func (c *Channel) deliverRead(fromIndex int, msg *Message) {
	next := fromIndex + 1
	if next >= len(c.slots) {
		log.Printf("SendRead called from the user-facing slot %d, dropping message", fromIndex)
		msg.Release(ioerr.ChannelUnknown)
		return
	}
	c.slots[next].handler.OnReadMessage(c.slots[next], msg)
}

// deliverWrite moves msg from slot fromIndex to fromIndex-1's handler.
// If there is no previous slot, the message is released — a correctly
// built chain's terminal handler never calls SendWrite.
func (c *Channel) deliverWrite(fromIndex int, msg *Message) {
	prev := fromIndex - 1
	if prev < 0 {
		log.Printf("SendWrite called from the terminal slot, dropping message")
		msg.Release(ioerr.ChannelUnknown)
		return
	}
	c.slots[prev].handler.OnWriteMessage(c.slots[prev], msg)
}

// incrementReadWindow grants delta more read-emission window to the
// slot upstream of consumerIndex (consumerIndex's prev neighbor), the
// handler that actually emits data to consumerIndex. off-thread callers
// reach this only through IncrementReadWindow below, which marshals
// onto the loop first.
func (c *Channel) incrementReadWindow(consumerIndex int, delta int) {
	prev := c.slots[consumerIndex].prev
	if prev < 0 {
		return
	}
	target := c.slots[prev]
	target.ownWindow += delta
	target.handler.IncrementReadWindow(target, delta)
}

// IncrementReadWindow is the public, cross-thread-safe entry point for
// growing consumerIndex's upstream emitter's window. The increment runs
// as a task on the channel's loop, serialized with the steps of the
// shutdown cascade, never concurrently with them. An increment that runs
// once the channel has reached shutdown_complete is dropped, so a
// handler holding buffered read data flushes it during its own read
// shutdown (iohandler/tls does).
func (c *Channel) IncrementReadWindow(consumerIndex int, delta int) {
	task := iotask.NewTask(func(status iotask.Status) {
		if status == iotask.StatusCanceled {
			return
		}
		c.mu.Lock()
		complete := c.state == StateShutdownComplete
		c.mu.Unlock()
		if complete || consumerIndex >= len(c.slots) {
			return
		}
		c.incrementReadWindow(consumerIndex, delta)
	}, nil)
	c.loop.Post(task)
}

// SlotAt returns the slot at index, primarily for tests and for
// bootstrap code wiring up statistics on a freshly appended slot.
func (c *Channel) SlotAt(index int) *Slot {
	if index < 0 || index >= len(c.slots) {
		return nil
	}
	return c.slots[index]
}

// Len returns the number of slots currently in the chain.
func (c *Channel) Len() int { return len(c.slots) }

// Loop returns the event loop this channel is bound to.
func (c *Channel) Loop() *ioloop.Loop { return c.loop }
