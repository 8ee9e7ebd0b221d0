// File: iohandler/tls/provider.go
//
// Provider abstraction exactly as specified in §4.5: an opaque session
// offering push_ciphertext/push_plaintext/state/alpn_selected/shutdown.
// The channel handler in handler.go never touches crypto/tls directly;
// it only sees this interface, so a future provider backed by a
// different TLS stack would need no change above this file.
package tls

import "github.com/kestrelio/ioflow/ioerr"

// ProviderState mirrors the provider's own state() result from §4.5.
type ProviderState int

const (
	ProviderNegotiating ProviderState = iota
	ProviderSucceeded
	ProviderFailed
)

func (s ProviderState) String() string {
	switch s {
	case ProviderSucceeded:
		return "succeeded"
	case ProviderFailed:
		return "failed"
	default:
		return "negotiating"
	}
}

// PushCiphertextResult is push_ciphertext's return value: how much of
// the input was consumed, any plaintext it yielded, any ciphertext it
// wants written back (handshake flights or pending records), and the
// state after processing.
type PushCiphertextResult struct {
	Consumed   int
	Plaintext  []byte
	Ciphertext []byte
	State      ProviderState
}

// DrainResult is the same shape as PushCiphertextResult but for Drain,
// which supplies no new input — it only collects whatever the provider
// produced on its own (handshake flights, decrypted records arriving
// after the call that triggered them returned).
type DrainResult struct {
	Plaintext  []byte
	Ciphertext []byte
	State      ProviderState
}

// Provider is the opaque TLS session object of §4.5. Implementations
// must be safe to drive from a single goroutine (the owning channel's
// loop thread) even though they may run background work internally.
type Provider interface {
	PushCiphertext(buf []byte) (PushCiphertextResult, error)
	PushPlaintext(buf []byte) ([]byte, error)
	Drain() DrainResult
	State() ProviderState
	FailureCause() ioerr.Code
	ALPNSelected() string
	ServerName() string
	Shutdown() []byte
}
