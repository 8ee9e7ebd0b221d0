// Package ioerr defines the flat, stable error-code namespace shared by
// every layer of the runtime: event loop, channel, socket handler, TLS
// handler, and bootstrap. Callbacks never return a Go error; they report
// a Code so that the zero value reliably means success and so that codes
// survive a trip across the cross-thread task boundary.
package ioerr

import "fmt"

// Code is a stable, flat integer error namespace.
type Code int

// OK is the zero value, meaning success. It must never be assigned any
// other meaning so that a freshly zeroed Code always reads as success.
const OK Code = 0

const (
	// Socket/transport codes.
	SocketClosed Code = 1000 + iota
	SocketTimeout
	SocketConnectAborted
	SocketInvalidOption

	// Event loop codes.
	EventLoopShutdown
	EventLoopAlreadySubscribed
	EventLoopSubscribeFailed

	// Channel codes.
	ChannelShuttingDown
	ChannelUnknown

	// Host resolution.
	HostResolutionFailed
)

// TLS-origin codes occupy their own sub-range so IsTLS can classify a
// code without a lookup table.
const tlsBase Code = 2000

const (
	TLSErrorNegotiationFailure Code = tlsBase + iota
	TLSErrorWriteFailure
	TLSErrorReadFailure
	TLSErrorCertificateError
	TLSNegotiationTimeout
	TLSErrorClosed
)

// IsTLS classifies any TLS-origin failure, per spec requirement that the
// runtime must expose a classifier rather than let callers special-case
// individual codes.
func IsTLS(c Code) bool {
	return c >= tlsBase && c < tlsBase+1000
}

// String renders a human-readable name for logging; unknown codes still
// print their numeric value so nothing is silently swallowed.
func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case SocketClosed:
		return "socket_closed"
	case SocketTimeout:
		return "socket_timeout"
	case SocketConnectAborted:
		return "socket_connect_aborted"
	case SocketInvalidOption:
		return "socket_invalid_option"
	case EventLoopShutdown:
		return "io_event_loop_shutdown"
	case EventLoopAlreadySubscribed:
		return "event_loop_already_subscribed"
	case EventLoopSubscribeFailed:
		return "event_loop_subscribe_failed"
	case ChannelShuttingDown:
		return "channel_shutting_down"
	case ChannelUnknown:
		return "channel_unknown_error"
	case HostResolutionFailed:
		return "host_resolution_failed"
	case TLSErrorNegotiationFailure:
		return "tls_negotiation_failure"
	case TLSErrorWriteFailure:
		return "tls_write_failure"
	case TLSErrorReadFailure:
		return "tls_read_failure"
	case TLSErrorCertificateError:
		return "tls_certificate_error"
	case TLSNegotiationTimeout:
		return "tls_negotiation_timeout"
	case TLSErrorClosed:
		return "tls_closed"
	default:
		return fmt.Sprintf("error_code(%d)", int(c))
	}
}

// Error adapts Code to the error interface so it can be threaded through
// APIs (e.g. context cancellation causes) that expect one.
func (c Code) Error() string { return c.String() }

// FromError maps a generic Go error produced by a collaborator (net,
// crypto/tls) onto a Code: nil becomes OK and every non-nil error
// becomes ChannelUnknown, so it never returns OK for a non-nil error.
func FromError(err error) Code {
	if err == nil {
		return OK
	}
	return ChannelUnknown
}
