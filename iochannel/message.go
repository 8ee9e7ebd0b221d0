// File: iochannel/message.go
//
// Grounded on the Message data model in spec.md §3, adapted to Go by
// dropping the explicit allocator field (ownership of the backing
// iobuf.Buffer already carries that) and representing on_completion as
// a Go closure, matching the teacher's own preference for callback
// fields (api/handler.go, client/facade.go) over interface objects for
// single-method collaborators.
package iochannel

import (
	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/iobuf"
)

// MessageType classifies a Message's payload.
type MessageType int

const (
	ApplicationData MessageType = iota
	Handshake
)

func (t MessageType) String() string {
	if t == Handshake {
		return "handshake"
	}
	return "application_data"
}

// Message is the unit of payload flowing along a Channel's slot chain.
// Ownership transfers with the value: whoever holds a *Message must
// either forward it to the next slot or call Release.
type Message struct {
	Buffer  iobuf.Buffer
	Type    MessageType
	// OnCompletion, if non-nil, is invoked exactly once when the final
	// holder releases the message, with ioerr.OK on a clean release and
	// any other code if the message was dropped due to shutdown.
	OnCompletion func(ioerr.Code)
}

// NewMessage wraps buf as an application-data message with no
// completion callback.
func NewMessage(buf iobuf.Buffer) *Message {
	return &Message{Buffer: buf, Type: ApplicationData}
}

// Release returns the message's buffer to its pool and fires
// OnCompletion, if set, with code.
func (m *Message) Release(code ioerr.Code) {
	if m.Buffer != nil {
		m.Buffer.Release()
		m.Buffer = nil
	}
	if m.OnCompletion != nil {
		m.OnCompletion(code)
		m.OnCompletion = nil
	}
}
